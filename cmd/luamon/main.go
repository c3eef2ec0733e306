package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/feather-lang/luabind/internal/config"
	"github.com/feather-lang/luabind/internal/logs"
)

func main() {
	configPath := flag.String("config", "luamon.yaml", "path to the configuration file")
	once := flag.Bool("once", false, "print one update and exit")
	reference := flag.Bool("config-reference", false, "print the configuration keys as markdown and exit")
	flag.Parse()

	if *reference {
		config.Reference(os.Stdout)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := logs.ParseLevel(cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger := logs.New(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := newHost(ctx, cfg, logger, os.Stdout)
	if err := h.load(); err != nil {
		logger.Error("loading script failed", "script", cfg.Script, "error", err)
		os.Exit(1)
	}
	defer h.close()

	if *once {
		if err := h.update(); err != nil {
			logger.Error("update failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := h.run(); err != nil {
		logger.Error("luamon stopped", "error", err)
		os.Exit(1)
	}
}
