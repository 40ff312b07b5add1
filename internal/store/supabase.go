package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/supabase-community/supabase-go"

	"github.com/Aryanpatel2001/voiceflow/internal/flow"
)

const (
	flowsTable     = "flows"
	summariesTable = "call_summaries"
)

// Supabase persists flows and call summaries in Postgres via the Supabase
// REST API. Flow definitions live as a jsonb column on the flows table.
type Supabase struct {
	client *supabase.Client
}

type Config struct {
	URL            string
	ServiceRoleKey string
}

func NewSupabase(cfg Config) (*Supabase, error) {
	client, err := supabase.NewClient(cfg.URL, cfg.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("supabase: create client: %w", err)
	}
	return &Supabase{client: client}, nil
}

type flowRow struct {
	ID         string          `json:"id"`
	Definition json.RawMessage `json:"definition"`
}

func (s *Supabase) PublishedFlow(_ context.Context, flowID string) (*flow.Flow, error) {
	data, _, err := s.client.From(flowsTable).
		Select("id,definition", "", false).
		Eq("id", flowID).
		Eq("published", "true").
		Execute()
	if err != nil {
		return nil, fmt.Errorf("supabase: load flow %s: %w", flowID, err)
	}

	var rows []flowRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("supabase: decode flow %s: %w", flowID, err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}

	var f flow.Flow
	if err := json.Unmarshal(rows[0].Definition, &f); err != nil {
		return nil, fmt.Errorf("supabase: decode flow definition %s: %w", flowID, err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("supabase: flow %s: %w", flowID, err)
	}
	return &f, nil
}

func (s *Supabase) SaveSummary(_ context.Context, sum *Summary) error {
	_, _, err := s.client.From(summariesTable).
		Insert(sum, false, "", "", "").
		Execute()
	if err != nil {
		return fmt.Errorf("supabase: save summary for call %s: %w", sum.CallID, err)
	}
	return nil
}
