package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/tidegraph/tidegraph/internal/client"
	"github.com/tidegraph/tidegraph/internal/log"
	"github.com/tidegraph/tidegraph/internal/tui"
)

// defaultServerURL is where a local `tidegraph serve` listens.
const defaultServerURL = "http://127.0.0.1:8080"

// runChat starts the interactive terminal chat against a running API
// server. The chat command needs no database or API key of its own;
// everything goes through the server.
func runChat(logger log.Logger) error {
	serverURL, err := parseChatServer()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting chat", "server", serverURL)

	transport := client.NewSSETransport(serverURL, nil)
	return tui.Run(ctx, func() *client.Controller {
		return client.New(transport, logger)
	})
}

// parseChatServer resolves the server base URL: --server flag, then the
// TIDEGRAPH_SERVER environment variable, then the local default.
func parseChatServer() (string, error) {
	fallback := os.Getenv("TIDEGRAPH_SERVER")
	if fallback == "" {
		fallback = defaultServerURL
	}

	chatFlags := flag.NewFlagSet("chat", flag.ContinueOnError)
	chatFlags.SetOutput(os.Stderr)
	server := chatFlags.String("server", fallback, "Base URL of the tidegraph API server")

	args := []string{}
	if len(os.Args) > 2 {
		args = os.Args[2:]
	}
	if err := chatFlags.Parse(args); err != nil {
		return "", fmt.Errorf("parsing chat flags: %w", err)
	}

	url := strings.TrimRight(*server, "/")
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return "", fmt.Errorf("server URL must start with http:// or https://, got %q", *server)
	}
	return url, nil
}
