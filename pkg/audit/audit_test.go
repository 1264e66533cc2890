package audit

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subterminator/agents/pkg/config"
)

func sampleEntry() Entry {
	cost := 0.0123
	return Entry{
		SessionID:          "3b7e6a7e-9a64-4f3a-9d0a-6f6f8c2a1b10",
		Timestamp:          "2026-08-24T12:00:00Z",
		UserQuestion:       "How many customers are in each tier?",
		SQLQueriesExecuted: []string{"SELECT tier, COUNT(*) FROM customers GROUP BY tier"},
		FinalResponse:      "There are three tiers.",
		Metadata: Metadata{
			Model:            "claude-sonnet-4-5-20250929",
			PromptTokens:     812,
			CompletionTokens: 140,
			CostEstimateUSD:  &cost,
			DurationSeconds:  3.4,
			ToolCallCount:    1,
		},
	}
}

func TestWriteEmitsOneJSONLine(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf)

	require.NoError(t, l.Write(sampleEntry()))

	line := buf.String()
	assert.True(t, strings.HasSuffix(line, "\n"))
	assert.Equal(t, 1, strings.Count(line, "\n"))

	var decoded Entry
	require.NoError(t, json.Unmarshal([]byte(line), &decoded))
	assert.Equal(t, sampleEntry(), decoded)
}

func TestWriteSetsTimestampWhenEmpty(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf)

	entry := sampleEntry()
	entry.Timestamp = ""
	require.NoError(t, l.Write(entry))

	var decoded Entry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.NotEmpty(t, decoded.Timestamp)
}

func TestSummaryOmittedWhenNotVerbose(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf)

	entry := sampleEntry()
	entry.QueryResultsSummary = nil
	require.NoError(t, l.Write(entry))
	assert.NotContains(t, buf.String(), "query_results_summary")

	buf.Reset()
	entry.QueryResultsSummary = []string{"3 rows, columns: tier, count"}
	require.NoError(t, l.Write(entry))
	assert.Contains(t, buf.String(), "query_results_summary")
}

func TestWriteAsyncNeverPropagatesFailure(t *testing.T) {
	// A closed file makes every write fail; WriteAsync must swallow it.
	f, err := os.CreateTemp(t.TempDir(), "audit")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	l := NewWriterLogger(f)
	l.WriteAsync(sampleEntry())
	l.Flush()
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l, err := NewLogger(config.LogOutputFile, path)
	require.NoError(t, err)

	require.NoError(t, l.Write(sampleEntry()))
	require.NoError(t, l.Write(sampleEntry()))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 2)
}

func TestConcurrentWritesStayLineAtomic(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf)

	for i := 0; i < 20; i++ {
		l.WriteAsync(sampleEntry())
	}
	l.Flush()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 20)
	for _, line := range lines {
		var decoded Entry
		assert.NoError(t, json.Unmarshal([]byte(line), &decoded))
	}
}
