package postgres

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfig_WithDefaults(t *testing.T) {
	got := Config{URL: "postgres://x"}.withDefaults()
	assert.Equal(t, Config{
		URL:             "postgres://x",
		MaxConns:        defaultMaxConns,
		MinConns:        defaultMinConns,
		ConnMaxLifetime: defaultConnMaxLifetime,
		ConnMaxIdleTime: defaultConnMaxIdleTime,
		MetricsInterval: defaultMetricsInterval,
	}, got)

	got = Config{MaxConns: 3, MinConns: 8, MetricsInterval: time.Second}.withDefaults()
	assert.Equal(t, 3, got.MaxConns)
	assert.Equal(t, 3, got.MinConns)
	assert.Equal(t, time.Second, got.MetricsInterval)
}

func TestPoolUsage(t *testing.T) {
	usage, ok := poolUsage(sql.DBStats{MaxOpenConnections: 10, InUse: 4, OpenConnections: 6})
	assert.True(t, ok)
	assert.InDelta(t, 40.0, usage, 0.001)

	_, ok = poolUsage(sql.DBStats{MaxOpenConnections: 0, InUse: 4})
	assert.False(t, ok)
}
