// whbridge moves data between a warehouse and CSV files from the command line.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/ruslano69/whbridge/internal/app"
	"github.com/ruslano69/whbridge/internal/config"
	"github.com/ruslano69/whbridge/pkg/artifact"
)

const version = "0.3.0"

func main() {
	flags, err := ParseFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		os.Exit(2)
	}
	if *flags.Version {
		fmt.Printf("whbridge %s\n", version)
		return
	}
	if *flags.Help || flags.commandCount() == 0 {
		PrintHelp()
		if *flags.Help {
			return
		}
		os.Exit(1)
	}
	if flags.commandCount() > 1 {
		fatal("choose one of --tables, --describe, --export, --import")
	}

	cfg, err := config.Load(*flags.Config)
	if err != nil {
		fatal("Failed to load config: %v", err)
	}
	if err := applyFlags(cfg, flags); err != nil {
		fatal("%v", err)
	}
	logger := cfg.Logger()
	if cfg.Log.Level == "info" {
		// keep stderr for progress unless asked otherwise
		logger = logger.Level(zerolog.WarnLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Setup(ctx, cfg, logger, false)
	if err != nil {
		fatal("Setup failed: %v", err)
	}
	defer a.Close(context.Background())

	if _, err := a.Engine.Connect(ctx, cfg.Warehouse); err != nil {
		fatal("Connect failed: %v", err)
	}

	c := &cli{engine: a.Engine, out: os.Stdout, errOut: os.Stderr}
	switch {
	case *flags.Tables:
		err = c.tables(ctx, *flags.Refresh)
	case *flags.Describe != "":
		err = c.describe(ctx, *flags.Describe, *flags.Refresh)
	case *flags.Export != "":
		err = c.export(ctx, flags)
	case *flags.Import != "":
		err = c.importFile(ctx, flags)
	}
	if err != nil {
		a.Close(context.Background())
		fatal("Command failed: %v", err)
	}
}

// applyFlags lets command-line options override the configuration.
func applyFlags(cfg *config.Config, f *Flags) error {
	if *f.Output != "" {
		cfg.Engine.ArtifactDir = *f.Output
	}
	if *f.Format != "" {
		if _, err := artifact.ParseFormat(*f.Format); err != nil {
			return err
		}
		cfg.Engine.ArtifactFormat = *f.Format
	}
	if *f.Compress {
		cfg.Engine.Compression = string(artifact.CompressionZstd)
	}
	if *f.Limit > 0 {
		cfg.Engine.PreviewCap = *f.Limit
	}
	return nil
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// PrintHelp prints usage
func PrintHelp() {
	fmt.Print(`whbridge - warehouse <-> CSV transfers

Usage:
  whbridge --tables [--refresh]
  whbridge --describe TABLE
  whbridge --export TABLE --columns a,b [--join T2 --join-kind left --on a=b] [--preview] [--output DIR] [--format csv|xlsx] [--compress]
  whbridge --import FILE [--table NAME] [--preview]

Common:
  --config FILE   configuration (default: built-in defaults + WHBRIDGE_* env)
  --limit N       preview row cap
  --version       show version

Environment:
  WHBRIDGE_WAREHOUSE_PASSWORD, WHBRIDGE_WAREHOUSE_TOKEN
`)
}
