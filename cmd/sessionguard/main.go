package main

import (
	"fmt"
	"log/slog"
	"os"

	"sessionguard/internal/checkpoint"
	"sessionguard/internal/config"
	"sessionguard/internal/guard"
	"sessionguard/internal/store"
)

// Version is set at build time.
var Version = "dev"

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("SESSIONGUARD_HOME"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	codec, err := checkpoint.NewCodec(cfg.Compression, cfg.CompressionLevel)
	if err != nil {
		return fmt.Errorf("create codec: %w", err)
	}

	st, err := store.Open(cfg.DatabasePath, codec)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	g := guard.New(cfg, st, codec, logger)
	defer g.Close()

	return newCLIApp(g, st, cfg).Run(args)
}
