package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/finchlabs/docquery/internal/agent"
	"github.com/finchlabs/docquery/internal/log"
)

// maxQueryBody bounds the request body for query endpoints.
const maxQueryBody = 64 * 1024

// maxNumChunks caps the per-request retrieval depth override.
const maxNumChunks = 100

// QueryAgent is what the HTTP layer needs from the question-answering core.
type QueryAgent interface {
	Answer(ctx context.Context, question string, numChunks int) (*agent.Result, error)
	Stream(ctx context.Context, question string, numChunks int) (*agent.StreamResult, error)
}

// queryHandler serves the question-answering endpoints.
//
// Endpoints:
//   - POST /api/v1/query        - synchronous answer (JSON)
//   - POST /api/v1/query/stream - incremental answer (SSE)
type queryHandler struct {
	agent  QueryAgent
	logger log.Logger
}

type queryRequest struct {
	Question string `json:"question"`
	// NumChunks overrides the configured retrieval depth when positive.
	NumChunks int `json:"num_chunks,omitempty"`
}

func (r queryRequest) validate() (code, message string) {
	if r.Question == "" {
		return "missing_question", "question is required"
	}
	if r.NumChunks < 0 || r.NumChunks > maxNumChunks {
		return "invalid_num_chunks", fmt.Sprintf("num_chunks must be between 0 and %d", maxNumChunks)
	}
	return "", ""
}

func (h *queryHandler) decode(w http.ResponseWriter, r *http.Request) (queryRequest, bool) {
	var req queryRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxQueryBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return queryRequest{}, false
	}
	if code, msg := req.validate(); code != "" {
		writeError(w, http.StatusBadRequest, code, msg, h.logger)
		return queryRequest{}, false
	}
	return req, true
}

// answer handles POST /api/v1/query.
func (h *queryHandler) answer(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	result, err := h.agent.Answer(r.Context(), req.Question, req.NumChunks)
	if err != nil {
		h.writeAgentError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result, h.logger)
}

func (h *queryHandler) writeAgentError(w http.ResponseWriter, err error) {
	if errors.Is(err, agent.ErrEmptyQuestion) {
		writeError(w, http.StatusBadRequest, "missing_question", "question is required", h.logger)
		return
	}
	h.logger.Error("answering query", "error", err)
	writeError(w, http.StatusInternalServerError, "query_failed", "failed to answer query", h.logger)
}

// SSE event types for query streaming.
const (
	eventChunk = "chunk" // partial answer text
	eventDone  = "done"  // stream completed, carries provenance
	eventError = "error" // terminal failure
)

type chunkPayload struct {
	Text string `json:"text"`
}

type donePayload struct {
	Question string   `json:"question"`
	Response string   `json:"response"`
	Sources  []string `json:"sources"`
	LLM      string   `json:"llm"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// stream handles POST /api/v1/query/stream, delivering the answer as SSE
// chunk events followed by a done event with sources and the full text.
func (h *queryHandler) stream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	var req queryRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxQueryBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = writeEvent(w, flusher, eventError, errorPayload{Code: "invalid_request", Message: "invalid request body"})
		return
	}
	if code, msg := req.validate(); code != "" {
		_ = writeEvent(w, flusher, eventError, errorPayload{Code: code, Message: msg})
		return
	}

	ctx := r.Context()
	sr, err := h.agent.Stream(ctx, req.Question, req.NumChunks)
	if err != nil {
		h.logger.Error("starting query stream", "error", err)
		_ = writeEvent(w, flusher, eventError, errorPayload{Code: "query_failed", Message: "failed to answer query"})
		return
	}

	var full string
	for chunk, err := range sr.Chunks {
		select {
		case <-ctx.Done():
			h.logger.Info("client disconnected mid-stream")
			return
		default:
		}

		if err != nil {
			h.logger.Error("query stream failed", "error", err)
			_ = writeEvent(w, flusher, eventError, errorPayload{Code: "stream_error", Message: "generation failed"})
			return
		}
		if chunk == "" {
			continue
		}

		full += chunk
		if err := writeEvent(w, flusher, eventChunk, chunkPayload{Text: chunk}); err != nil {
			// Write failure usually means the connection closed.
			h.logger.Debug("writing chunk", "error", err)
			return
		}
	}

	_ = writeEvent(w, flusher, eventDone, donePayload{
		Question: sr.Question,
		Response: full,
		Sources:  sr.Sources,
		LLM:      sr.LLM,
	})
}

// writeEvent writes a single SSE event: "event: <type>\ndata: <json>\n\n".
func writeEvent[T any](w io.Writer, flusher http.Flusher, event string, data T) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	flusher.Flush()
	return nil
}
