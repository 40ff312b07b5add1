package store

import (
	"context"
	"testing"
	"time"

	"github.com/Aryanpatel2001/voiceflow/internal/flow"
)

func minimalFlow() *flow.Flow {
	return &flow.Flow{
		Nodes: []flow.Node{
			{ID: "start", Kind: flow.NodeStart},
			{ID: "bye", Kind: flow.NodeEnd},
		},
		Edges: []flow.Edge{{ID: "e1", Source: "start", Target: "bye"}},
	}
}

func TestMemory_RegisterAndLoad(t *testing.T) {
	m := NewMemory()
	if err := m.RegisterFlow("f1", minimalFlow()); err != nil {
		t.Fatalf("register: %v", err)
	}

	f, err := m.PublishedFlow(context.Background(), "f1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(f.Nodes) != 2 {
		t.Fatalf("got %d nodes, want 2", len(f.Nodes))
	}

	if _, err := m.PublishedFlow(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestMemory_RegisterRejectsInvalidFlow(t *testing.T) {
	m := NewMemory()
	bad := &flow.Flow{Nodes: []flow.Node{{ID: "only", Kind: flow.NodeEnd}}}
	if err := m.RegisterFlow("bad", bad); err == nil {
		t.Fatal("expected validation error for flow without start node")
	}
}

func TestMemory_SaveSummary(t *testing.T) {
	m := NewMemory()
	sum := &Summary{
		CallID:    "call-1",
		FlowID:    "f1",
		StartedAt: time.Now().Add(-time.Minute),
		EndedAt:   time.Now(),
		EndReason: "completed",
		Transcript: []TranscriptEntry{
			{Role: "assistant", Text: "Hi!"},
			{Role: "user", Text: "Hello."},
		},
	}
	if err := m.SaveSummary(context.Background(), sum); err != nil {
		t.Fatalf("save: %v", err)
	}
	got := m.Summaries()
	if len(got) != 1 || got[0].CallID != "call-1" {
		t.Fatalf("unexpected summaries: %+v", got)
	}
}
