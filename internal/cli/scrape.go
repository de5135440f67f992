package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/scrapeguard/internal/control"
	"github.com/vietddude/scrapeguard/internal/infra/fetch"
	"github.com/vietddude/scrapeguard/internal/resilience"
)

var (
	urlFile     string
	concurrency int
	stopOnError bool
	jsonOutput  bool
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape [urls...]",
	Short: "Fetch URLs through the resilience handler and print a summary",
	RunE:  runScrape,
}

func init() {
	scrapeCmd.Flags().StringVarP(&urlFile, "file", "f", "", "read URLs from a file, one per line (- for stdin)")
	scrapeCmd.Flags().IntVar(&concurrency, "concurrency", 0, "URLs per group (default from config)")
	scrapeCmd.Flags().BoolVar(&stopOnError, "stop-on-error", false, "stop after the first group with a failure")
	scrapeCmd.Flags().BoolVar(&jsonOutput, "json", false, "print the batch result as JSON")
	rootCmd.AddCommand(scrapeCmd)
}

func runScrape(cmd *cobra.Command, args []string) error {
	urls := append([]string{}, args...)
	if urlFile != "" {
		more, err := readURLs(cmd.InOrStdin(), urlFile)
		if err != nil {
			return err
		}
		urls = append(urls, more...)
	}
	if len(urls) == 0 {
		return errors.New("no urls given")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	app, err := control.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	opts := app.BatchOptions()
	if concurrency > 0 {
		opts.Concurrency = concurrency
	}
	if cmd.Flags().Changed("stop-on-error") {
		opts.StopOnError = stopOnError
	}

	items := make([]resilience.BatchItem, 0, len(urls))
	for _, u := range urls {
		items = append(items, resilience.BatchItem{URL: u, Operation: app.Fetcher().Operation(u)})
	}

	res, batchErr := app.Handler().WrapBatch(ctx, items, opts)
	if batchErr != nil && !errors.Is(batchErr, resilience.ErrBatchAborted) {
		return batchErr
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		printBatch(out, res)
	}

	if batchErr != nil {
		return batchErr
	}
	if !res.Success {
		return fmt.Errorf("%d of %d urls failed", res.Summary.Failed, res.Summary.Total)
	}
	return nil
}

func printBatch(out io.Writer, res resilience.BatchResult) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "URL\tRESULT\tATTEMPTS\tDETAIL")

	for _, env := range res.Results {
		detail := ""
		if p, ok := env.Data.(*fetch.Page); ok {
			detail = p.Title
		}
		_, _ = fmt.Fprintf(w, "%s\tok\t%d\t%s\n", env.Metadata.URL, env.Metadata.Attempts, detail)
	}
	for _, env := range res.Errors {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", env.Metadata.URL, env.Kind(), env.Metadata.Attempts, env.Error.Message)
	}
	_ = w.Flush()

	s := res.Summary
	_, _ = fmt.Fprintf(out, "\ntotal=%d succeeded=%d failed=%d success_rate=%.2f\n",
		s.Total, s.Succeeded, s.Failed, s.SuccessRate)
}

func readURLs(stdin io.Reader, path string) ([]string, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open url file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var urls []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read urls: %w", err)
	}
	return urls, nil
}
