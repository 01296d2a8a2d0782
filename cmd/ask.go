package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/finchlabs/docquery/internal/app"
	"github.com/finchlabs/docquery/internal/config"
	"github.com/finchlabs/docquery/internal/log"
)

// parseAskArgs parses the ask command line, supporting:
//   - docquery ask "how do I configure retries?"
//   - docquery ask --stream --chunks 10 how do I configure retries
func parseAskArgs(args []string) (question string, stream bool, chunks int, err error) {
	askFlags := flag.NewFlagSet("ask", flag.ContinueOnError)
	askFlags.SetOutput(os.Stderr)
	askFlags.BoolVar(&stream, "stream", false, "Stream the answer as it is generated")
	askFlags.IntVar(&chunks, "chunks", 0, "Number of context chunks to retrieve (0 uses the configured default)")

	if err := askFlags.Parse(args); err != nil {
		return "", false, 0, fmt.Errorf("parsing ask flags: %w", err)
	}
	if chunks < 0 {
		return "", false, 0, fmt.Errorf("chunks must be non-negative: %d", chunks)
	}

	question = strings.TrimSpace(strings.Join(askFlags.Args(), " "))
	if question == "" {
		return "", false, 0, errors.New("usage: docquery ask [--stream] [--chunks N] <question>")
	}

	return question, stream, chunks, nil
}

// runAsk answers a single question and prints the result to stdout.
func runAsk(logger log.Logger) error {
	question, stream, chunks, err := parseAskArgs(os.Args[2:])
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	if stream {
		return askStreaming(ctx, a, question, chunks)
	}

	result, err := a.Agent.Answer(ctx, question, chunks)
	if err != nil {
		return fmt.Errorf("answering question: %w", err)
	}

	if result.Answer == "" {
		fmt.Println("The model could not produce an answer. Try again later.")
		return nil
	}

	fmt.Println(result.Answer)
	printSources(result.Sources)
	return nil
}

// askStreaming prints answer chunks as they arrive.
func askStreaming(ctx context.Context, a *app.App, question string, chunks int) error {
	result, err := a.Agent.Stream(ctx, question, chunks)
	if err != nil {
		return fmt.Errorf("answering question: %w", err)
	}

	wrote := false
	for chunk, err := range result.Chunks {
		if err != nil {
			if wrote {
				fmt.Println()
			}
			return fmt.Errorf("streaming answer: %w", err)
		}
		fmt.Print(chunk)
		wrote = true
	}

	if !wrote {
		fmt.Println("The model could not produce an answer. Try again later.")
		return nil
	}

	fmt.Println()
	printSources(result.Sources)
	return nil
}

// printSources lists the documents the answer was grounded on. Sources carry
// one entry per retrieved chunk, so repeats are collapsed for display.
func printSources(sources []string) {
	if len(sources) == 0 {
		return
	}
	fmt.Println()
	fmt.Println("Sources:")
	seen := make(map[string]struct{}, len(sources))
	for _, s := range sources {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		fmt.Printf("  - %s\n", s)
	}
}
