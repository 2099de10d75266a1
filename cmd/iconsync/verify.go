package main

import (
	"flag"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/ligustah/iconsync/internal/fetcher"
	"github.com/ligustah/iconsync/internal/store"
)

// runVerify checks that every catalog icon exists in the output. Reports
// status without downloading icon data.
func runVerify(args []string) int {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)

	cf := addCatalogFlags(fs)
	output := fs.String("output", "", "Output directory or bucket URL (default \"output\")")
	extension := fs.String("extension", "", "File extension for stored icons (default \"svg\")")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: iconsync verify [options]

Check that every icon in the catalog exists in the output location.
Does not download icon data - only checks for presence.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	override := cf.override()
	override.Output = *output
	override.Extension = *extension

	cfg, err := loadConfig(*cf.config, override)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	ctx, cancel := signalContext()
	defer cancel()

	items, code, err := loadItems(ctx, cfg, newLogger())
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

	resolve := fetcher.ExtensionResolver(cfg.Extension)
	present := make([]bool, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Capacity)
	for i, item := range items {
		g.Go(func() error {
			ok, err := dst.Exists(gctx, resolve(item.ID))
			if err != nil {
				return fmt.Errorf("check %s: %w", item.ID, err)
			}
			present[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}

	var missing []string
	for i, ok := range present {
		if !ok {
			missing = append(missing, items[i].ID)
		}
	}

	fmt.Fprintf(stdout, "Output: %s\n", cfg.Output)
	fmt.Fprintf(stdout, "Icons: %d\n", len(items))

	if len(missing) == 0 {
		fmt.Fprintln(stdout, "Status: COMPLETE")
		return ExitSuccess
	}

	fmt.Fprintln(stdout, "Status: INCOMPLETE")
	fmt.Fprintf(stdout, "Missing icons: %d\n", len(missing))
	for _, id := range missing {
		fmt.Fprintf(stdout, "  - %s\n", id)
	}
	return ExitVerifyFailed
}
