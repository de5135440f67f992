package cli

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/scrapeguard/internal/control"
	"github.com/vietddude/scrapeguard/internal/core/config"
)

var breakerCmd = &cobra.Command{
	Use:   "breaker",
	Short: "Inspect or reset circuit breaker state",
}

var breakerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tracked domains and their failure counts",
	Args:  cobra.NoArgs,
	RunE:  runBreakerStatus,
}

var breakerResetCmd = &cobra.Command{
	Use:   "reset [domain]",
	Short: "Reset one domain, or every domain when none is given",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBreakerReset,
}

func init() {
	breakerCmd.AddCommand(breakerStatusCmd, breakerResetCmd)
	rootCmd.AddCommand(breakerCmd)
}

func openApp(cfg *config.AppConfig) (*control.App, error) {
	if cfg.Breaker.Store == "memory" {
		slog.Warn("Breaker store is memory; state is local to this process")
	}
	return control.New(context.Background(), cfg)
}

func runBreakerStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	app, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	st, err := app.Handler().CircuitBreakerStatus(cmd.Context())
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(st.Failures))
	for k := range st.Failures {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	open := make(map[string]bool)
	for _, k := range st.Open(time.Now()) {
		open[k] = true
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "DOMAIN\tFAILURES\tLAST FAILURE\tSTATE")
	for _, k := range keys {
		state := "closed"
		if open[k] {
			state = "open"
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", k, st.Failures[k], st.LastFailures[k].Format(time.RFC3339), state)
	}
	_ = w.Flush()

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "\nthreshold=%d timeout=%s\n", st.Threshold, st.Timeout)
	return nil
}

func runBreakerReset(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	app, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	name := ""
	if len(args) == 1 {
		name = args[0]
	}
	if err := app.Handler().ResetCircuitBreaker(cmd.Context(), name); err != nil {
		return err
	}

	if name == "" {
		name = "all domains"
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Successfully reset circuit breaker for %s\n", name)
	return nil
}
