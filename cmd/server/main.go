package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/Tyrowin/relaychat/internal/bridge"
	"github.com/Tyrowin/relaychat/internal/server"
	gfshutdown "github.com/gelmium/graceful-shutdown"
)

func main() {
	cfg := server.NewConfigFromEnv()

	flag.StringVar(&cfg.HTTPAddr, "http", cfg.HTTPAddr, "HTTP listen address for health, stats and /ws (empty disables)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [-http addr] [port]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if port := flag.Arg(0); port != "" {
		cfg.Addr = ":" + port
	}

	*cfg = cfg.Sanitize()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	logger.Info("starting relaychat server", "addr", cfg.Addr, "http", cfg.HTTPAddr)

	opts := []server.Option{server.WithLogger(logger)}

	var relay *bridge.NATS
	if cfg.NATSURL != "" {
		var err error
		relay, err = bridge.Connect(cfg.NATSURL, cfg.NATSSubject, logger)
		if err != nil {
			logger.Error("failed to connect relay", "error", err)
			os.Exit(1)
		}
		opts = append(opts, server.WithRelay(relay))
	}

	srv := server.New(*cfg, opts...)
	if err := srv.Listen(); err != nil {
		logger.Error("failed to start server", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := srv.Start(context.Background()); err != nil {
			logger.Error("server stopped", "error", err)
			os.Exit(1)
		}
	}()

	operations := map[string]gfshutdown.Operation{
		"server": func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	}
	if relay != nil {
		operations["relay"] = func(context.Context) error {
			return relay.Close()
		}
	}

	exitCode := <-gfshutdown.GracefulShutdown(context.Background(), cfg.ShutdownTimeout, operations)
	if exitCode != 0 {
		logger.Warn("shutdown completed with errors", "exit_code", exitCode)
		os.Exit(exitCode)
	}
	logger.Info("shutdown completed")
}
