// Package generate drives the LLM call: prompt assembly into Genkit
// messages, transient-failure retry, and streaming.
package generate

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/finchlabs/docquery/internal/log"
)

// RetryConfig configures retry for transient provider failures. Attempts
// are spaced by a fixed Interval; a request is tried MaxRetries+1 times in
// total before the Generator gives up and returns the empty answer.
type RetryConfig struct {
	MaxRetries int
	Interval   time.Duration
}

// Request is one fully assembled generation request. The Generator sends
// System as the system prompt, Context as a prior model turn, and Question
// as the user turn; empty parts are omitted.
type Request struct {
	System   string
	Context  string
	Question string
}

// Generator wraps Genkit text generation for a fixed model.
type Generator struct {
	g         *genkit.Genkit
	modelName string
	config    any // provider-specific generation config, passed verbatim
	retry     RetryConfig
	logger    log.Logger
}

// New creates a Generator bound to modelName. config is forwarded to the
// provider on every request and may be nil.
func New(g *genkit.Genkit, modelName string, config any, retry RetryConfig, logger log.Logger) (*Generator, error) {
	if g == nil {
		return nil, errors.New("genkit instance cannot be nil")
	}
	if modelName == "" {
		return nil, errors.New("model name cannot be empty")
	}
	if retry.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries cannot be negative: %d", retry.MaxRetries)
	}
	if retry.Interval <= 0 {
		retry.Interval = time.Second
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Generator{g: g, modelName: modelName, config: config, retry: retry, logger: logger}, nil
}

// Generate produces a complete answer for req.
//
// Transient provider failures are retried at a fixed interval; once retries
// are exhausted the Generator logs the failure and returns the empty string
// with a nil error, so a flaky provider degrades to "no answer" instead of
// failing the request. Non-transient errors return immediately.
func (g *Generator) Generate(ctx context.Context, req Request) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= g.retry.MaxRetries; attempt++ {
		resp, err := genkit.Generate(ctx, g.g, g.options(req)...)
		if err == nil {
			return resp.Text(), nil
		}
		lastErr = err

		if !retryableError(err) {
			return "", fmt.Errorf("generate: %w", err)
		}
		if attempt == g.retry.MaxRetries {
			break
		}

		g.logger.Debug("retrying generation", "attempt", attempt+1, "interval", g.retry.Interval, "error", err)
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("generate canceled during retry: %w", ctx.Err())
		case <-time.After(g.retry.Interval):
		}
	}

	g.logger.Warn("generation failed after retries, returning empty answer",
		"attempts", g.retry.MaxRetries+1, "error", lastErr)
	return "", nil
}

// errStopStream signals that the consumer abandoned the stream. It never
// escapes this package.
var errStopStream = errors.New("stream consumer stopped")

// Stream produces the answer incrementally. Chunks arrive in order; a
// non-nil error terminates the sequence. Abandoning the iterator stops
// generation.
//
// Transient failures are retried only while nothing has been emitted yet;
// once the first chunk is out, a mid-stream failure surfaces as an error.
// Exhausted retries yield nothing, mirroring Generate's empty answer.
func (g *Generator) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		var lastErr error
		for attempt := 0; attempt <= g.retry.MaxRetries; attempt++ {
			emitted := false
			stopped := false
			opts := append(g.options(req), ai.WithStreaming(func(_ context.Context, chunk *ai.ModelResponseChunk) error {
				emitted = true
				if !yield(chunk.Text(), nil) {
					stopped = true
					return errStopStream
				}
				return nil
			}))

			_, err := genkit.Generate(ctx, g.g, opts...)
			if err == nil || stopped {
				return
			}
			lastErr = err

			if !retryableError(err) || emitted {
				yield("", fmt.Errorf("generate: %w", err))
				return
			}
			if attempt == g.retry.MaxRetries {
				break
			}

			g.logger.Debug("retrying streamed generation", "attempt", attempt+1, "interval", g.retry.Interval, "error", err)
			select {
			case <-ctx.Done():
				yield("", fmt.Errorf("generate canceled during retry: %w", ctx.Err()))
				return
			case <-time.After(g.retry.Interval):
			}
		}

		g.logger.Warn("streamed generation failed after retries, ending stream empty",
			"attempts", g.retry.MaxRetries+1, "error", lastErr)
	}
}

// options assembles the Genkit call for req. Message order is fixed:
// system prompt, grounding context as a model turn, then the user question.
func (g *Generator) options(req Request) []ai.GenerateOption {
	opts := []ai.GenerateOption{ai.WithModelName(g.modelName)}
	if req.System != "" {
		opts = append(opts, ai.WithSystem(req.System))
	}

	var messages []*ai.Message
	if req.Context != "" {
		messages = append(messages, ai.NewModelMessage(ai.NewTextPart(req.Context)))
	}
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(req.Question)))
	opts = append(opts, ai.WithMessages(messages...))

	if g.config != nil {
		opts = append(opts, ai.WithConfig(g.config))
	}
	return opts
}
