package llm

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/subterminator/agents/pkg/errs"
)

// sseEvent mirrors the Messages streaming event envelope. Only the fields
// the parser consumes are declared.
type sseEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`

	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`

	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`

	Usage *Usage `json:"usage"`

	Message *struct {
		Usage Usage `json:"usage"`
	} `json:"message"`

	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// pendingTool accumulates a tool_use block across input_json_delta events.
type pendingTool struct {
	id    string
	name  string
	input strings.Builder
}

// parseEventStream reads SSE lines and emits chunks. Tool calls are emitted
// whole at content_block_stop; the final UsageChunk carries the stop reason.
func parseEventStream(r io.Reader, chunks chan<- Chunk) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	tools := make(map[int]*pendingTool)
	var usage Usage
	var stopReason string

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}

		var ev sseEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			continue // malformed keep-alive or comment line
		}

		switch ev.Type {
		case "message_start":
			if ev.Message != nil {
				usage.InputTokens = ev.Message.Usage.InputTokens
			}

		case "content_block_start":
			if ev.ContentBlock != nil && ev.ContentBlock.Type == BlockToolUse {
				tools[ev.Index] = &pendingTool{id: ev.ContentBlock.ID, name: ev.ContentBlock.Name}
			}

		case "content_block_delta":
			if ev.Delta == nil {
				continue
			}
			switch ev.Delta.Type {
			case "text_delta":
				if ev.Delta.Text != "" {
					chunks <- TextChunk{Text: ev.Delta.Text}
				}
			case "input_json_delta":
				if t, ok := tools[ev.Index]; ok {
					t.input.WriteString(ev.Delta.PartialJSON)
				}
			}

		case "content_block_stop":
			if t, ok := tools[ev.Index]; ok {
				input := t.input.String()
				if input == "" {
					input = "{}"
				}
				chunks <- ToolUseChunk{ID: t.id, Name: t.name, Input: json.RawMessage(input)}
				delete(tools, ev.Index)
			}

		case "message_delta":
			if ev.Delta != nil && ev.Delta.StopReason != "" {
				stopReason = ev.Delta.StopReason
			}
			if ev.Usage != nil {
				usage.OutputTokens = ev.Usage.OutputTokens
			}

		case "message_stop":
			chunks <- UsageChunk{Usage: usage, StopReason: stopReason}
			return

		case "error":
			msg := "stream error"
			if ev.Error != nil {
				msg = ev.Error.Message
			}
			chunks <- ErrorChunk{Err: errs.New(errs.KindTransient, "LM stream error: %s", msg)}
			return
		}
	}

	if err := scanner.Err(); err != nil {
		chunks <- ErrorChunk{Err: errs.Wrap(errs.KindTransient, err, "LM stream read failed")}
		return
	}
	// Stream ended without message_stop; still deliver what we know.
	chunks <- UsageChunk{Usage: usage, StopReason: stopReason}
}
