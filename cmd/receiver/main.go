package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Tyrowin/relaychat/internal/client"
	"github.com/Tyrowin/relaychat/internal/protocol"
	"github.com/Tyrowin/relaychat/internal/transport"
)

const dialTimeout = 5 * time.Second

func main() {
	if len(os.Args) != 5 {
		fmt.Fprintf(os.Stderr, "Usage: %s host port username room\n", os.Args[0])
		os.Exit(2)
	}
	host, port, username, room := os.Args[1], os.Args[2], os.Args[3], os.Args[4]

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	c, err := client.Dial(ctx, host, port)
	cancel()
	if err != nil {
		logger.Error("failed to connect", "host", host, "port", port, "error", err)
		os.Exit(1)
	}
	if err := c.LoginReceiver(username, room); err != nil {
		logger.Error("login failed", "user", username, "room", room, "error", err)
		_ = c.Close()
		os.Exit(1)
	}
	logger.Info("listening", "room", room)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		if err := c.QuitAsync(); err != nil {
			_ = c.Close()
		}
	}()

	code := receive(c, os.Stdout, logger)
	_ = c.Close()
	if code != 0 {
		os.Exit(code)
	}
}

// receive prints deliveries to out until the stream ends and returns the
// process exit code. Server errors and malformed deliveries are logged
// and skipped.
func receive(c *client.Client, out io.Writer, logger *slog.Logger) int {
	for {
		d, err := c.NextDelivery()
		if err == nil {
			fmt.Fprintf(out, "%s: %s\n", d.Sender, d.Text)
			continue
		}

		var rejected *client.RejectedError
		if errors.As(err, &rejected) {
			logger.Warn("server reported an error", "reason", rejected.Reason)
			continue
		}
		if errors.Is(err, protocol.ErrBadDelivery) {
			logger.Warn("skipping malformed delivery", "error", err)
			continue
		}
		if !transport.IsExpectedClose(err) {
			logger.Error("connection lost", "error", err)
			return 1
		}
		return 0
	}
}
