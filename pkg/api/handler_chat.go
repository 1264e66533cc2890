package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/subterminator/agents/pkg/errs"
)

// chatCompletionsHandler handles POST /v1/chat/completions, streaming and
// non-streaming.
func (s *Server) chatCompletionsHandler(c *echo.Context) error {
	var req ChatCompletionRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, errs.Wrap(errs.KindInputValidation, err, "malformed request body"))
	}

	if req.Model != ServedModel {
		return writeError(c, errs.New(errs.KindInputValidation,
			"unknown model %q, this gateway serves %q", req.Model, ServedModel))
	}

	// The length contract covers the whole conversation, not just the last
	// user turn.
	total := 0
	for _, m := range req.Messages {
		total += len(m.Content)
	}
	if limit := s.provider.InputMaxChars(); total > limit {
		return writeError(c, errs.New(errs.KindInputValidation,
			"messages total %d chars, limit is %d", total, limit))
	}

	question, err := extractQuestion(req.Messages)
	if err != nil {
		return writeError(c, err)
	}

	if req.Stream {
		return s.streamCompletion(c, question)
	}
	return s.completeOnce(c, question)
}

// extractQuestion turns the request messages into the analyst question.
// A single user message passes through as-is; a longer history is flattened
// into one "role: content" block per turn, system messages dropped.
func extractQuestion(messages []ChatMessage) (string, error) {
	var turns []ChatMessage
	hasUser := false
	for _, m := range messages {
		if m.Role == "system" || strings.TrimSpace(m.Content) == "" {
			continue
		}
		if m.Role == "user" {
			hasUser = true
		}
		turns = append(turns, m)
	}
	if !hasUser {
		return "", errs.New(errs.KindInputValidation, "no user message in request")
	}
	if len(turns) == 1 {
		return turns[0].Content, nil
	}

	var b strings.Builder
	for i, m := range turns {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s: %s", m.Role, m.Content)
	}
	return b.String(), nil
}

func (s *Server) completeOnce(c *echo.Context, question string) error {
	res, err := s.provider.Answer(c.Request().Context(), question, nil)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, &ChatCompletionResponse{
		ID:      completionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   ServedModel,
		Choices: []Choice{{
			Message:      ChatMessage{Role: "assistant", Content: res.Text},
			FinishReason: "stop",
		}},
		Usage: Usage{
			PromptTokens:     res.Usage.InputTokens,
			CompletionTokens: res.Usage.OutputTokens,
			TotalTokens:      res.Usage.InputTokens + res.Usage.OutputTokens,
		},
	})
}

// streamCompletion emits SSE chunks: a role delta, content deltas as the
// analyst produces them, a finish chunk carrying usage, then the [DONE]
// sentinel. Failures before the first delta map to a normal wire error;
// later ones can only be reported in-stream.
func (s *Server) streamCompletion(c *echo.Context, question string) error {
	id := completionID()
	created := time.Now().Unix()
	started := false

	w := c.Response()
	start := func() {
		if started {
			return
		}
		started = true
		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		s.writeChunk(w, &ChatCompletionChunk{
			ID: id, Object: "chat.completion.chunk", Created: created, Model: ServedModel,
			Choices: []ChunkChoice{{Delta: Delta{Role: "assistant"}}},
		})
	}

	res, err := s.provider.Answer(c.Request().Context(), question, func(text string) {
		start()
		s.writeChunk(w, &ChatCompletionChunk{
			ID: id, Object: "chat.completion.chunk", Created: created, Model: ServedModel,
			Choices: []ChunkChoice{{Delta: Delta{Content: text}}},
		})
	})
	if err != nil {
		if !started {
			return writeError(c, err)
		}
		// The stream is already live; surface the failure in-band.
		s.writeChunk(w, &ErrorResponse{Error: ErrorBody{
			Message: "stream interrupted",
			Type:    errs.KindOf(err).WireType(),
			Code:    errs.KindOf(err).Code(),
		}})
		fmt.Fprint(w, "data: [DONE]\n\n")
		flush(w)
		return nil
	}

	start() // answers with no text still produce a well-formed stream
	stop := "stop"
	s.writeChunk(w, &ChatCompletionChunk{
		ID: id, Object: "chat.completion.chunk", Created: created, Model: ServedModel,
		Choices: []ChunkChoice{{Delta: Delta{}, FinishReason: &stop}},
		Usage: &Usage{
			PromptTokens:     res.Usage.InputTokens,
			CompletionTokens: res.Usage.OutputTokens,
			TotalTokens:      res.Usage.InputTokens + res.Usage.OutputTokens,
		},
	})
	fmt.Fprint(w, "data: [DONE]\n\n")
	flush(w)
	return nil
}

func completionID() string {
	return "chatcmpl-" + uuid.NewString()
}

func (s *Server) writeChunk(w http.ResponseWriter, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("Failed to marshal SSE chunk", "error", err)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flush(w)
}

func flush(w http.ResponseWriter) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
