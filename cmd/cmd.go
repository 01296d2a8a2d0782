// Package cmd provides the docquery CLI commands.
//
// Commands:
//   - ingest: chunk, embed and index documents from a file or directory
//   - ask: answer a single question against the indexed corpus
//   - serve: HTTP API server with SSE streaming
//
// Signal handling and graceful shutdown are implemented for all commands
// via context cancellation.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/finchlabs/docquery/internal/log"
)

// Execute is the main entry point for the docquery CLI.
func Execute() error {
	logger := initLogger()
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "ingest":
		return runIngest(logger)
	case "ask":
		return runAsk(logger)
	case "serve":
		return runServe(logger)
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

// initLogger builds the process logger. DEBUG in the environment enables
// debug level; logs go to stderr so stdout stays clean for answers.
func initLogger() log.Logger {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level})
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("docquery - Question answering over your documents")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  docquery ingest <path> [--recreate]        Index a file or directory")
	fmt.Println("  docquery ask [--stream] [--chunks N] <question>")
	fmt.Println("                                             Answer one question")
	fmt.Println("  docquery serve [addr]                      Start HTTP API server (default: 127.0.0.1:8080)")
	fmt.Println("  docquery --version                         Show version information")
	fmt.Println("  docquery --help                            Show this help")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  GEMINI_API_KEY     Gemini API key (default provider)")
	fmt.Println("  OPENAI_API_KEY     OpenAI API key (provider: openai)")
	fmt.Println("  DATABASE_URL       PostgreSQL connection URL (overrides postgres_* config)")
	fmt.Println("  DEBUG              Enable debug logging")
	fmt.Println()
	fmt.Println("Configuration is read from ~/.docquery/config.yaml or ./config.yaml.")
}
