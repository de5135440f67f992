package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/scrapeguard/internal/core/domain"
)

var (
	failureDomain string
	failureLimit  int
	failureSince  time.Duration
)

var failuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "List journaled scrape failures",
	Args:  cobra.NoArgs,
	RunE:  runFailures,
}

func init() {
	failuresCmd.Flags().StringVar(&failureDomain, "domain", "", "only show this domain")
	failuresCmd.Flags().IntVar(&failureLimit, "limit", 20, "maximum records to show")
	failuresCmd.Flags().DurationVar(&failureSince, "since", 24*time.Hour, "window for the per-kind counts")
	rootCmd.AddCommand(failuresCmd)
}

func runFailures(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("failures requires database.url; the memory journal does not outlive a process")
	}

	app, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx := cmd.Context()
	recs, err := app.Journal().Recent(ctx, failureDomain, failureLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "TIME\tKIND\tDOMAIN\tATTEMPTS\tMESSAGE")
	for _, r := range recs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			r.OccurredAt.Format(time.RFC3339), r.Kind, r.Domain, r.Attempts, r.Message)
	}
	_ = w.Flush()

	counts, err := app.Journal().CountByKind(ctx, time.Now().Add(-failureSince))
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "\nlast %s:", failureSince)
	for _, k := range domain.AllKinds {
		if n := counts[k]; n > 0 {
			_, _ = fmt.Fprintf(out, " %s=%d", k, n)
		}
	}
	_, _ = fmt.Fprintln(out)
	return nil
}
