package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Tyrowin/relaychat/internal/client"
	"github.com/Tyrowin/relaychat/internal/protocol"
)

const dialTimeout = 5 * time.Second

func main() {
	if len(os.Args) != 4 {
		fmt.Fprintf(os.Stderr, "Usage: %s host port username\n", os.Args[0])
		os.Exit(2)
	}
	host, port, username := os.Args[1], os.Args[2], os.Args[3]

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	c, err := client.Dial(ctx, host, port)
	cancel()
	if err != nil {
		logger.Error("failed to connect", "host", host, "port", port, "error", err)
		os.Exit(1)
	}
	defer c.Close()

	if err := c.LoginSender(username); err != nil {
		logger.Error("login failed", "user", username, "error", err)
		os.Exit(1)
	}

	fmt.Println("Logged in. Commands: /join <room>, /leave, /quit; anything else is sent to the room.")

	if err := run(c, bufio.NewScanner(os.Stdin)); err != nil {
		logger.Error("session ended", "error", err)
		os.Exit(1)
	}
}

// run reads commands until /quit, end of input or a connection failure.
// Rejected requests and lines that do not fit a record are reported and
// the loop continues.
func run(c *client.Client, in *bufio.Scanner) error {
	for in.Scan() {
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}

		var err error
		switch {
		case line == "/quit":
			return c.Quit()
		case line == "/leave":
			err = c.Leave()
		case strings.HasPrefix(line, "/join "):
			err = c.Join(strings.TrimSpace(strings.TrimPrefix(line, "/join ")))
		default:
			err = c.SendAll(line)
		}

		var rejected *client.RejectedError
		switch {
		case errors.As(err, &rejected):
			fmt.Fprintf(os.Stderr, "error: %s\n", rejected.Reason)
		case errors.Is(err, protocol.ErrInvalidMessage):
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		case err != nil:
			return err
		}
	}

	if err := in.Err(); err != nil {
		return err
	}
	return c.Quit()
}
