// Package audit writes one structured JSON-lines record per analyst request.
// Writes are fire-and-forget: the request path schedules them on a background
// goroutine and never blocks on, or fails because of, audit I/O.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/subterminator/agents/pkg/config"
)

// Metadata is the per-request accounting sub-record.
type Metadata struct {
	Model            string   `json:"model"`
	PromptTokens     int      `json:"prompt_tokens"`
	CompletionTokens int      `json:"completion_tokens"`
	CostEstimateUSD  *float64 `json:"cost_estimate_usd"` // null when the upstream omits cost
	DurationSeconds  float64  `json:"duration_seconds"`
	ToolCallCount    int      `json:"tool_call_count"`
}

// Entry is one audit record. SQLQueriesExecuted preserves tool-call emission
// order; QueryResultsSummary is present only in verbose mode.
type Entry struct {
	SessionID           string   `json:"session_id"`
	Timestamp           string   `json:"timestamp"`
	UserQuestion        string   `json:"user_question"`
	SQLQueriesExecuted  []string `json:"sql_queries_executed"`
	QueryResultsSummary []string `json:"query_results_summary,omitempty"`
	FinalResponse       string   `json:"final_response"`
	Error               string   `json:"error,omitempty"`
	Metadata            Metadata `json:"metadata"`
}

// Logger appends entries to the configured sinks. Internally synchronized;
// safe for concurrent requests.
type Logger struct {
	mu    sync.Mutex
	sinks []io.Writer
	file  *os.File
	wg    sync.WaitGroup
}

// NewLogger opens the sinks for the given output mode.
// File sinks are opened append-only and created if missing.
func NewLogger(output config.LogOutput, path string) (*Logger, error) {
	l := &Logger{}

	if output == config.LogOutputStdout || output == config.LogOutputBoth {
		l.sinks = append(l.sinks, os.Stdout)
	}
	if output == config.LogOutputFile || output == config.LogOutputBoth {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log %s: %w", path, err)
		}
		l.file = f
		l.sinks = append(l.sinks, f)
	}
	return l, nil
}

// NewWriterLogger builds a logger over arbitrary writers. Used by tests.
func NewWriterLogger(sinks ...io.Writer) *Logger {
	return &Logger{sinks: sinks}
}

// Write appends one entry as a single JSON line to every sink.
// Sets the timestamp if the caller left it empty.
func (l *Logger) Write(entry Entry) error {
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, sink := range l.sinks {
		if _, err := sink.Write(data); err != nil {
			return fmt.Errorf("failed to write audit entry: %w", err)
		}
	}
	return nil
}

// WriteAsync schedules the write on a background goroutine.
// Failures are reported on stderr and swallowed; the caller never observes them.
func (l *Logger) WriteAsync(entry Entry) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if err := l.Write(entry); err != nil {
			fmt.Fprintf(os.Stderr, "audit write failed: %v\n", err)
		}
	}()
}

// Flush waits for in-flight async writes. Used at shutdown and by tests.
func (l *Logger) Flush() {
	l.wg.Wait()
}

// Close flushes pending writes and closes the file sink, if any.
func (l *Logger) Close() error {
	l.Flush()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
