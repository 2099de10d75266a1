package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/ligustah/iconsync/internal/catalog"
	"github.com/ligustah/iconsync/internal/config"
	"github.com/ligustah/iconsync/internal/fetcher"
	iconhttp "github.com/ligustah/iconsync/internal/http"
)

// catalogFlags are shared by every command that needs the icon list.
type catalogFlags struct {
	config   *string
	catalog  *string
	page     *string
	template *string
}

func addCatalogFlags(fs *flag.FlagSet) catalogFlags {
	return catalogFlags{
		config:   fs.String("config", "", "Config file (.yaml or .toml)"),
		catalog:  fs.String("catalog", "", "Load the catalog from a name: url file instead of discovering it"),
		page:     fs.String("page", "", "Icon index page to discover names from"),
		template: fs.String("template", "", "Asset URL template containing {name}"),
	}
}

func (f catalogFlags) override() config.Config {
	return config.Config{
		Catalog:          *f.catalog,
		PageURL:          *f.page,
		AssetURLTemplate: *f.template,
	}
}

// loadConfig layers the config file, the environment and flag overrides, in
// that order.
func loadConfig(path string, override config.Config) (config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		cfg, err = config.LoadFromFile(path)
		if err != nil {
			return config.Config{}, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}
	cfg = cfg.Merge(override)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// loadItems reads the catalog file when one is configured and discovers the
// catalog otherwise. The returned code is the exit code to use on error.
func loadItems(ctx context.Context, cfg config.Config, logger *log.Logger) ([]fetcher.Item, int, error) {
	if cfg.Catalog != "" {
		items, err := catalog.FromFile(cfg.Catalog)
		if err != nil {
			return nil, ExitInvalidArgs, err
		}
		return items, ExitSuccess, nil
	}

	client := iconhttp.NewClient(cfg.HTTPOptions())
	opts := cfg.CatalogOptions()
	opts.Logger = logger
	items, err := catalog.Discover(ctx, client, opts)
	if err != nil {
		return nil, ExitCatalogUnreachable, err
	}
	return items, ExitSuccess, nil
}

func newLogger() *log.Logger {
	return log.New(os.Stderr, "[iconsync] ", log.LstdFlags)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\n[iconsync] Received interrupt, shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}
