package store

import (
	"context"
	"errors"
	"time"

	"github.com/Aryanpatel2001/voiceflow/internal/flow"
)

// ErrNotFound is returned when no published flow exists under the given id.
var ErrNotFound = errors.New("store: flow not found")

// TranscriptEntry is one line of a finished call's transcript.
type TranscriptEntry struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Summary is the persisted record of a finished call.
type Summary struct {
	CallID     string            `json:"call_id"`
	FlowID     string            `json:"flow_id"`
	StartedAt  time.Time         `json:"started_at"`
	EndedAt    time.Time         `json:"ended_at"`
	EndReason  string            `json:"end_reason"`
	Transcript []TranscriptEntry `json:"transcript"`
	Variables  map[string]any    `json:"variables"`
}

// Store loads published flow definitions and records call summaries.
// Summary save failures are logged by callers, never surfaced to the caller
// of the call itself.
type Store interface {
	PublishedFlow(ctx context.Context, flowID string) (*flow.Flow, error)
	SaveSummary(ctx context.Context, s *Summary) error
}
