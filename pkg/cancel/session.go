package cancel

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/subterminator/agents/pkg/errs"
)

// TransitionRecord is one edge taken during a session. Method names what
// decided the landing state: heuristic, agent, operator or policy.
type TransitionRecord struct {
	From       State     `json:"from"`
	To         State     `json:"to"`
	URL        string    `json:"url,omitempty"`
	Method     string    `json:"method,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Screenshot string    `json:"screenshot,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// AICallRecord is one planner invocation made on behalf of a state.
type AICallRecord struct {
	State     State     `json:"state"`
	Goal      string    `json:"goal,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionLog is the persisted record of one cancellation run, written as
// session.json in the session directory.
type SessionLog struct {
	SessionID   string             `json:"session_id"`
	Service     string             `json:"service"`
	DryRun      bool               `json:"dry_run"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  time.Time          `json:"finished_at,omitempty"`
	FinalState  State              `json:"final_state,omitempty"`
	Error       string             `json:"error,omitempty"`
	Transitions []TransitionRecord `json:"transitions"`
	AICalls     []AICallRecord     `json:"ai_calls"`
	Actions     []ActionRecord     `json:"actions,omitempty"`
	Failures    []ErrorRecord      `json:"failures,omitempty"`
}

// SessionRecorder owns the per-run evidence directory:
//
//	<output>/<service>_<yyyyMMdd_HHmmss>/
//	  NN_<state>.png
//	  session.json
//
// Not safe for concurrent use; the orchestrator is single-threaded.
type SessionRecorder struct {
	dir   string
	log   SessionLog
	shots int
}

// NewSessionRecorder creates the session directory under outputDir.
func NewSessionRecorder(outputDir, service string, dryRun bool) (*SessionRecorder, error) {
	now := time.Now()
	dir := filepath.Join(outputDir, fmt.Sprintf("%s_%s", service, now.Format("20060102_150405")))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, err, "cannot create session directory %s", dir)
	}
	return &SessionRecorder{
		dir: dir,
		log: SessionLog{
			SessionID:   uuid.NewString(),
			Service:     service,
			DryRun:      dryRun,
			StartedAt:   now,
			Transitions: []TransitionRecord{},
			AICalls:     []AICallRecord{},
		},
	}, nil
}

// Dir returns the session directory path.
func (r *SessionRecorder) Dir() string { return r.dir }

// SessionID returns the run identifier.
func (r *SessionRecorder) SessionID() string { return r.log.SessionID }

// Screenshot persists png as the next numbered evidence file and returns the
// file name. Failure to write evidence never aborts the run.
func (r *SessionRecorder) Screenshot(state State, png []byte) string {
	if len(png) == 0 {
		return ""
	}
	r.shots++
	name := fmt.Sprintf("%02d_%s.png", r.shots, strings.ToLower(string(state)))
	if err := os.WriteFile(filepath.Join(r.dir, name), png, 0o644); err != nil {
		return ""
	}
	return name
}

// Transition appends one taken edge.
func (r *SessionRecorder) Transition(rec TransitionRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	r.log.Transitions = append(r.log.Transitions, rec)
}

// AICall appends one planner invocation record.
func (r *SessionRecorder) AICall(state State, goal string) {
	r.log.AICalls = append(r.log.AICalls, AICallRecord{
		State:     state,
		Goal:      goal,
		Timestamp: time.Now(),
	})
}

// Finalize writes session.json. Called exactly once, on every exit path.
func (r *SessionRecorder) Finalize(final State, actions []ActionRecord, failures []ErrorRecord, runErr error) error {
	r.log.FinishedAt = time.Now()
	r.log.FinalState = final
	r.log.Actions = actions
	r.log.Failures = failures
	if runErr != nil {
		r.log.Error = runErr.Error()
	}

	data, err := json.MarshalIndent(r.log, "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "cannot marshal session log")
	}
	if err := os.WriteFile(filepath.Join(r.dir, "session.json"), data, 0o644); err != nil {
		return errs.Wrap(errs.KindInternal, err, "cannot write session log")
	}
	return nil
}
