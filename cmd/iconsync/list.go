package main

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/ligustah/iconsync/internal/catalog"
)

// runList prints the catalog without downloading anything.
func runList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ExitOnError)

	cf := addCatalogFlags(fs)
	format := fs.String("format", "text", "Output format: text or yaml")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: iconsync list [options]

Print the icon catalog. The yaml format can be fed back to fetch -catalog.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	if *format != "text" && *format != "yaml" {
		fmt.Fprintf(os.Stderr, "Error: unknown format %q\n", *format)
		fs.Usage()
		return ExitInvalidArgs
	}

	cfg, err := loadConfig(*cf.config, cf.override())
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

	if *format == "yaml" {
		if err := catalog.Encode(stdout, items); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitGeneralError
		}
		return ExitSuccess
	}

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	for _, item := range items {
		fmt.Fprintf(tw, "%s\t%s\n", item.ID, item.URL)
	}
	if err := tw.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralError
	}
	fmt.Fprintf(os.Stderr, "[iconsync] %d icons\n", len(items))
	return ExitSuccess
}
