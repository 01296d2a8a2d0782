// Package agent orchestrates question answering: retrieve relevant chunks,
// fit them into the token budget, and generate a grounded answer.
package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/finchlabs/docquery/internal/budget"
	"github.com/finchlabs/docquery/internal/generate"
	"github.com/finchlabs/docquery/internal/index"
	"github.com/finchlabs/docquery/internal/log"
)

var (
	// ErrEmptyQuestion indicates a blank question.
	ErrEmptyQuestion = errors.New("question cannot be empty")
)

// Retriever resolves a question to its nearest indexed chunks.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]index.Hit, error)
}

// Generator produces answers from an assembled request.
type Generator interface {
	Generate(ctx context.Context, req generate.Request) (string, error)
	Stream(ctx context.Context, req generate.Request) iter.Seq2[string, error]
}

// Config fixes the agent's prompting and retrieval behavior.
type Config struct {
	// ModelName is reported in results so clients know what answered.
	ModelName string
	// SystemPrompt frames every generation.
	SystemPrompt string
	// AssistantPrompt is a fixed preamble prepended to retrieved context.
	AssistantPrompt string
	// TopK chunks are retrieved per question.
	TopK int
	// MaxContextTokens is the model's total context window.
	MaxContextTokens int
}

// Agent answers questions against the indexed corpus.
type Agent struct {
	retriever Retriever
	generator Generator
	budgeter  *budget.Budgeter
	cfg       Config

	inputAllowance  int
	outputAllowance int
	logger          log.Logger
}

// Result is a complete answer with its provenance. Sources and DocumentIDs
// are parallel: one entry per retrieved chunk, in retrieval order, so a
// document contributing several chunks appears several times.
type Result struct {
	Question    string   `json:"question"`
	Answer      string   `json:"response"`
	Sources     []string `json:"sources"`
	DocumentIDs []int64  `json:"-"`
	LLM         string   `json:"llm"`
}

// StreamResult carries provenance up front and the answer as a lazy chunk
// sequence. Chunks is single-use.
type StreamResult struct {
	Question string
	Sources  []string
	LLM      string
	Chunks   iter.Seq2[string, error]
}

// New creates an Agent. The token budget is validated here: prompts that
// leave no room for retrieved context or the question fail construction
// rather than every later request.
func New(retriever Retriever, generator Generator, budgeter *budget.Budgeter, cfg Config, logger log.Logger) (*Agent, error) {
	if retriever == nil {
		return nil, errors.New("retriever cannot be nil")
	}
	if generator == nil {
		return nil, errors.New("generator cannot be nil")
	}
	if budgeter == nil {
		budgeter = budget.New(nil)
	}
	if cfg.TopK <= 0 {
		return nil, fmt.Errorf("top-k must be positive: %d", cfg.TopK)
	}
	if logger == nil {
		logger = log.NewNop()
	}

	in, out, err := budgeter.Allocate(cfg.SystemPrompt, cfg.AssistantPrompt, cfg.MaxContextTokens)
	if err != nil {
		return nil, fmt.Errorf("token budget: %w", err)
	}

	return &Agent{
		retriever:       retriever,
		generator:       generator,
		budgeter:        budgeter,
		cfg:             cfg,
		inputAllowance:  in,
		outputAllowance: out,
		logger:          logger,
	}, nil
}

// OutputAllowance returns the token budget reserved for the model's answer.
func (a *Agent) OutputAllowance() int { return a.outputAllowance }

// Answer retrieves context for question and generates a grounded answer.
// numChunks overrides the configured retrieval depth when positive.
// Finding nothing relevant is not an error: generation proceeds without
// context and the result carries no sources.
func (a *Agent) Answer(ctx context.Context, question string, numChunks int) (*Result, error) {
	req, result, err := a.prepare(ctx, question, numChunks)
	if err != nil {
		return nil, err
	}

	answer, err := a.generator.Generate(ctx, *req)
	if err != nil {
		return nil, err
	}
	result.Answer = answer
	return result, nil
}

// Stream is Answer with incremental delivery. Provenance is resolved
// eagerly so callers can emit sources before the first chunk arrives.
func (a *Agent) Stream(ctx context.Context, question string, numChunks int) (*StreamResult, error) {
	req, result, err := a.prepare(ctx, question, numChunks)
	if err != nil {
		return nil, err
	}

	return &StreamResult{
		Question: result.Question,
		Sources:  result.Sources,
		LLM:      result.LLM,
		Chunks:   a.generator.Stream(ctx, *req),
	}, nil
}

// prepare runs retrieval and budget trimming, returning the generation
// request alongside a Result holding everything but the answer.
func (a *Agent) prepare(ctx context.Context, question string, numChunks int) (*generate.Request, *Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, nil, ErrEmptyQuestion
	}

	k := a.cfg.TopK
	if numChunks > 0 {
		k = numChunks
	}
	hits, err := a.retriever.Retrieve(ctx, question, k)
	if err != nil {
		return nil, nil, fmt.Errorf("retrieve context: %w", err)
	}
	if len(hits) == 0 {
		a.logger.Debug("no relevant chunks, generating without context", "question_len", len(question))
	}

	contextText := a.composeContext(hits, question)

	req := &generate.Request{
		System:   a.cfg.SystemPrompt,
		Context:  contextText,
		Question: question,
	}
	result := &Result{
		Question:    question,
		Sources:     hitSources(hits),
		DocumentIDs: hitIDs(hits),
		LLM:         a.cfg.ModelName,
	}
	return req, result, nil
}

// composeContext renders hits into the grounding passage, trimmed so that
// preamble, context, and question together stay inside the input allowance.
// Chunks are kept in rank order; the trim cuts from the tail.
func (a *Agent) composeContext(hits []index.Hit, question string) string {
	if len(hits) == 0 {
		return a.cfg.AssistantPrompt
	}

	var sb strings.Builder
	if a.cfg.AssistantPrompt != "" {
		sb.WriteString(a.cfg.AssistantPrompt)
		sb.WriteString("\n\n")
	}
	for i, hit := range hits {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "Source: %s\n%s", hit.Source, hit.Text)
	}

	allowance := a.inputAllowance - a.budgeter.Count(question)
	if allowance < 0 {
		allowance = 0
	}
	trimmed := a.budgeter.Trim(sb.String(), allowance)
	if len(trimmed) < sb.Len() {
		a.logger.Debug("trimmed retrieved context",
			"allowance_tokens", allowance, "original_bytes", sb.Len(), "trimmed_bytes", len(trimmed))
	}
	return trimmed
}

func hitSources(hits []index.Hit) []string {
	sources := make([]string, len(hits))
	for i, hit := range hits {
		sources[i] = hit.Source
	}
	return sources
}

func hitIDs(hits []index.Hit) []int64 {
	ids := make([]int64, len(hits))
	for i, hit := range hits {
		ids[i] = hit.ID
	}
	return ids
}
