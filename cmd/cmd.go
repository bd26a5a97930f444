// Package cmd provides the tidegraph commands.
//
// Commands:
//   - serve: HTTP API server with SSE answer streaming
//   - worker: standalone ingestion worker on the Redis task bus
//   - chat: interactive terminal chat against a running server
//
// Every long-running command installs signal handlers and shuts down
// through context cancellation.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/tidegraph/tidegraph/internal/log"
)

// Execute is the entry point called from main.
func Execute() error {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	logger := log.New(log.Config{Level: level})
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "serve":
		return runServe(logger)
	case "worker":
		return runWorker(logger)
	case "chat":
		return runChat(logger)
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("tidegraph - Chat with your documents over a knowledge-graph RAG pipeline")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  tidegraph serve [addr]    Start the HTTP API server (default: :8080)")
	fmt.Println("  tidegraph worker          Start an ingestion worker (Redis broker)")
	fmt.Println("  tidegraph chat [--server] Chat with a running server from the terminal")
	fmt.Println("  tidegraph version         Show version information")
	fmt.Println("  tidegraph help            Show this help")
	fmt.Println()
	fmt.Println("Chat commands (in interactive mode):")
	fmt.Println("  /help                     Show available commands")
	fmt.Println("  /new, /clear              Start a new chat")
	fmt.Println("  /exit, /quit              Exit")
	fmt.Println()
	fmt.Println("Shortcuts:")
	fmt.Println("  Ctrl+D                    Exit")
	fmt.Println("  Ctrl+C                    Cancel the current answer or input")
	fmt.Println()
	fmt.Println("Environment variables:")
	fmt.Println("  GEMINI_API_KEY            Required for the googleai provider")
	fmt.Println("  DATABASE_URL              PostgreSQL connection URL")
	fmt.Println("  TIDEGRAPH_BROKER          Task bus: channel (default) or redis")
	fmt.Println("  TIDEGRAPH_SERVER          Server URL for the chat command")
	fmt.Println("  DEBUG                     Enable debug logging")
}
