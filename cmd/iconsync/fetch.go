package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ligustah/iconsync/internal/config"
	"github.com/ligustah/iconsync/internal/fetcher"
	iconhttp "github.com/ligustah/iconsync/internal/http"
	"github.com/ligustah/iconsync/internal/progress"
	"github.com/ligustah/iconsync/internal/store"
)

// runFetch downloads every catalog icon into the output location, retrying
// transient failures once.
func runFetch(args []string) int {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)

	cf := addCatalogFlags(fs)
	output := fs.String("output", "", "Output directory or bucket URL (default \"output\")")
	capacity := fs.Int("capacity", 0, "Maximum concurrent downloads (default 10)")
	extension := fs.String("extension", "", "File extension for stored icons (default \"svg\")")
	maxBody := fs.String("max-body", "", "Reject icons larger than this, e.g. 256KiB")
	showProgress := fs.Bool("progress", false, "Show progress output")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: iconsync fetch [options]

Discover the icon catalog (or load it with -catalog) and download every icon
to a local directory or a bucket URL (s3://, gs://, file://, mem://).
Icons that fail with anything but 404 are retried once after the first pass.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	override := cf.override()
	override.Output = *output
	override.Capacity = *capacity
	override.Extension = *extension
	override.Progress = *showProgress
	if *maxBody != "" {
		size, err := progress.ParseBytes(*maxBody)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid max body: %v\n", err)
			return ExitInvalidArgs
		}
		override.MaxBytes = size
	}

	cfg, err := loadConfig(*cf.config, override)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	ctx, cancel := signalContext()
	defer cancel()

	logger := newLogger()

	items, code, err := loadItems(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading catalog: %v\n", err)
		return code
	}

	dst, err := store.Open(ctx, cfg.Output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening output: %v\n", err)
		return ExitStorageError
	}
	defer dst.Close()

	var reporter *progress.Reporter
	if cfg.Progress {
		reporter = progress.NewReporter(progress.Options{
			TotalItems:     len(items),
			Capacity:       cfg.Capacity,
			UpdateInterval: time.Second,
			Destination:    cfg.Output,
		})
		reporter.Start()
	}

	report, code := fetch(ctx, cfg, items, dst, reporter)
	if reporter != nil {
		reporter.Stop()
	}
	if code != ExitSuccess {
		return code
	}

	summarize(report)

	if ctx.Err() != nil {
		fmt.Fprintln(os.Stderr, "[iconsync] Fetch interrupted, run again to resume")
		return ExitGeneralError
	}
	if len(report.Unresolved) > 0 {
		return ExitUnresolved
	}
	return ExitSuccess
}

func fetch(ctx context.Context, cfg config.Config, items []fetcher.Item, dst store.Writer, reporter *progress.Reporter) (*fetcher.Report, int) {
	httpOpts := cfg.HTTPOptions()
	httpOpts.MaxIdleConnsPerHost = cfg.Capacity * 2

	s, err := fetcher.New(iconhttp.NewClient(httpOpts), dst, fetcher.Options{
		Capacity: cfg.Capacity,
		Resolver: fetcher.ExtensionResolver(cfg.Extension),
		MaxBytes: cfg.MaxBytes,
		Logger:   newLogger(),
		Progress: reporter,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return nil, ExitInvalidArgs
	}

	return s.Run(ctx, items), ExitSuccess
}

func summarize(report *fetcher.Report) {
	fmt.Fprintf(os.Stderr, "[iconsync] Run %s: stored %d/%d icons (%s) in %s\n",
		report.RunID,
		report.Succeeded,
		report.Items,
		progress.FormatBytes(report.Bytes),
		report.Duration.Round(time.Millisecond),
	)
	if len(report.NotFound) > 0 {
		fmt.Fprintf(os.Stderr, "[iconsync] Not found (%d): %s\n", len(report.NotFound), strings.Join(report.NotFound, ", "))
	}
	if len(report.Unresolved) > 0 {
		fmt.Fprintf(os.Stderr, "[iconsync] Unresolved (%d): %s\n", len(report.Unresolved), strings.Join(report.Unresolved, ", "))
	}
}
