package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aryanpatel2001/voiceflow/internal/flow"
)

func mustConfig(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

// bookingFlow is a small flow exercising every node kind: greet, ask intent,
// branch on an equation then a prompt, set a counter, and say goodbye.
func bookingFlow(t *testing.T) *flow.Flow {
	t.Helper()
	f := &flow.Flow{
		Nodes: []flow.Node{
			{ID: "start", Kind: flow.NodeStart, Config: mustConfig(t, flow.StartConfig{
				SpeaksFirst: true,
				Greeting:    &flow.Content{Mode: flow.ContentStatic, Text: "Hi, this is {{agent_name}}."},
			})},
			{ID: "ask", Kind: flow.NodeConversation, Config: mustConfig(t, flow.ConversationConfig{
				Content: flow.Content{Mode: flow.ContentStatic, Text: "How can I help you today?"},
				Transitions: []flow.Transition{
					{ID: "t1", Type: flow.TransitionEquation, Condition: `{{caller_name}} exists`, OutputHandle: "known"},
					{ID: "t2", Type: flow.TransitionPrompt, Condition: "user wants to book an appointment", OutputHandle: "book"},
				},
			})},
			{ID: "bump", Kind: flow.NodeSetVariable, Config: mustConfig(t, flow.SetVariableConfig{
				Assignments: []flow.Assignment{
					{Variable: "attempts", Operation: flow.OpIncrement, Value: "1"},
					{Variable: "caller_name", Operation: flow.OpSet, Value: "Dana"},
				},
			})},
			{ID: "bye", Kind: flow.NodeEnd, Config: mustConfig(t, flow.EndConfig{
				SpeakDuringExecution: &flow.Content{Mode: flow.ContentStatic, Text: "Goodbye, {{caller_name}}!"},
				Reason:               "completed",
			})},
		},
		Edges: []flow.Edge{
			{ID: "e1", Source: "start", Target: "ask"},
			{ID: "e2", Source: "ask", Target: "bye", SourceHandle: "known"},
			{ID: "e3", Source: "ask", Target: "bump", SourceHandle: "book"},
			{ID: "e4", Source: "bump", Target: "bye"},
		},
		Variables: []flow.VariableDef{
			{Name: "agent_name", Type: "string", Default: "Morgan"},
		},
	}
	require.NoError(t, f.Validate())
	return f
}

func newState(f *flow.Flow) *State {
	start, _ := f.StartNode()
	return &State{CurrentNodeID: start.ID, Vars: f.SeedVariables()}
}

func TestStepStartSpeaksGreetingAndAdvances(t *testing.T) {
	f := bookingFlow(t)
	st := newState(f)
	eng := New(SimulatedReasoner{})

	res, err := eng.Step(context.Background(), f, st, "")
	require.NoError(t, err)
	assert.Equal(t, "Hi, this is Morgan.", res.Output)
	assert.Equal(t, "ask", res.NextNodeID)
	assert.Equal(t, ActionContinue, res.Action)
}

func TestStepConversationFirstVisitGathers(t *testing.T) {
	f := bookingFlow(t)
	st := newState(f)
	st.CurrentNodeID = "ask"
	eng := New(SimulatedReasoner{})

	res, err := eng.Step(context.Background(), f, st, "")
	require.NoError(t, err)
	assert.Equal(t, "How can I help you today?", res.Output)
	assert.Equal(t, "ask", res.NextNodeID)
	assert.Equal(t, ActionGather, res.Action)
}

func TestStepConversationEquationBeatsPrompt(t *testing.T) {
	f := bookingFlow(t)
	st := newState(f)
	st.CurrentNodeID = "ask"
	st.Vars["caller_name"] = "Dana"
	eng := New(SimulatedReasoner{})

	// the utterance would also satisfy the prompt transition, but the
	// equation is evaluated first
	res, err := eng.Step(context.Background(), f, st, "I want to book an appointment")
	require.NoError(t, err)
	assert.Equal(t, "bye", res.NextNodeID)
	assert.Equal(t, ActionContinue, res.Action)
	assert.Empty(t, res.Output)
}

func TestStepConversationPromptTransition(t *testing.T) {
	f := bookingFlow(t)
	st := newState(f)
	st.CurrentNodeID = "ask"
	eng := New(SimulatedReasoner{})

	res, err := eng.Step(context.Background(), f, st, "I'd like to book an appointment please")
	require.NoError(t, err)
	assert.Equal(t, "bump", res.NextNodeID)
	assert.Equal(t, ActionContinue, res.Action)
}

func TestStepConversationNoMatchSelfTransitions(t *testing.T) {
	f := bookingFlow(t)
	st := newState(f)
	st.CurrentNodeID = "ask"
	eng := New(SimulatedReasoner{})

	res, err := eng.Step(context.Background(), f, st, "the weather is nice")
	require.NoError(t, err)
	assert.Equal(t, "ask", res.NextNodeID, "unmatched turn stays on the node")
	assert.Equal(t, ActionGather, res.Action)
	assert.NotEmpty(t, res.Output, "follow-up keeps the caller engaged")
}

func TestStepSetVariableIncrementFromUndefined(t *testing.T) {
	f := bookingFlow(t)
	st := newState(f)
	st.CurrentNodeID = "bump"
	eng := New(SimulatedReasoner{})

	res, err := eng.Step(context.Background(), f, st, "")
	require.NoError(t, err)
	assert.Equal(t, float64(1), st.Vars["attempts"], "undefined counter starts from zero")
	assert.Equal(t, "Dana", st.Vars["caller_name"])
	assert.Equal(t, "bye", res.NextNodeID)
	assert.Equal(t, ActionContinue, res.Action)
}

func TestStepEndSpeaksFarewell(t *testing.T) {
	f := bookingFlow(t)
	st := newState(f)
	st.CurrentNodeID = "bye"
	st.Vars["caller_name"] = "Dana"
	eng := New(SimulatedReasoner{})

	res, err := eng.Step(context.Background(), f, st, "")
	require.NoError(t, err)
	assert.Equal(t, "Goodbye, Dana!", res.Output)
	assert.Equal(t, ActionEnd, res.Action)
	assert.Equal(t, "completed", res.EndReason)
}

func TestStepTransferResolvesDestination(t *testing.T) {
	f := &flow.Flow{
		Nodes: []flow.Node{
			{ID: "start", Kind: flow.NodeStart},
			{ID: "xfer", Kind: flow.NodeCallTransfer, Config: mustConfig(t, flow.TransferConfig{
				Destination:  "{{support_line}}",
				TransferType: flow.TransferWarm,
				Warm:         &flow.WarmOptions{Announcement: "Connecting you to {{department}}."},
			})},
		},
		Edges: []flow.Edge{{ID: "e1", Source: "start", Target: "xfer"}},
	}
	require.NoError(t, f.Validate())

	st := &State{CurrentNodeID: "xfer", Vars: map[string]any{
		"support_line": "+15550100",
		"department":   "billing",
	}}
	eng := New(SimulatedReasoner{})

	res, err := eng.Step(context.Background(), f, st, "")
	require.NoError(t, err)
	assert.Equal(t, ActionTransfer, res.Action)
	require.NotNil(t, res.Transfer)
	assert.Equal(t, "+15550100", res.Transfer.Destination)
	assert.Equal(t, flow.TransferWarm, res.Transfer.Type)
	assert.Equal(t, "Connecting you to billing.", res.Output)
}

func TestStepUnknownNodeIsFatal(t *testing.T) {
	f := bookingFlow(t)
	st := newState(f)
	st.CurrentNodeID = "nope"
	eng := New(SimulatedReasoner{})

	_, err := eng.Step(context.Background(), f, st, "")
	require.Error(t, err)
}

func TestStepSkipResponseSpeaksAndAdvances(t *testing.T) {
	f := &flow.Flow{
		Nodes: []flow.Node{
			{ID: "start", Kind: flow.NodeStart},
			{ID: "notice", Kind: flow.NodeConversation, Config: mustConfig(t, flow.ConversationConfig{
				Content:      flow.Content{Mode: flow.ContentStatic, Text: "This call may be recorded."},
				SkipResponse: true,
			})},
			{ID: "bye", Kind: flow.NodeEnd},
		},
		Edges: []flow.Edge{
			{ID: "e1", Source: "start", Target: "notice"},
			{ID: "e2", Source: "notice", Target: "bye"},
		},
	}
	require.NoError(t, f.Validate())

	st := &State{CurrentNodeID: "notice", Vars: map[string]any{}}
	eng := New(SimulatedReasoner{})

	res, err := eng.Step(context.Background(), f, st, "")
	require.NoError(t, err)
	assert.Equal(t, "This call may be recorded.", res.Output)
	assert.Equal(t, "bye", res.NextNodeID)
	assert.Equal(t, ActionContinue, res.Action)
}

func TestApplyAssignmentOps(t *testing.T) {
	vars := map[string]any{"greeting": "Hello", "count": float64(4)}

	tests := []struct {
		name string
		a    flow.Assignment
		want any
	}{
		{"set string", flow.Assignment{Variable: "x", Operation: flow.OpSet, Value: "hi"}, "hi"},
		{"set number coerces", flow.Assignment{Variable: "x", Operation: flow.OpSet, Value: "42"}, float64(42)},
		{"set bool coerces", flow.Assignment{Variable: "x", Operation: flow.OpSet, Value: "true"}, true},
		{"set from template", flow.Assignment{Variable: "x", Operation: flow.OpSet, Value: "{{greeting}} there"}, "Hello there"},
		{"append", flow.Assignment{Variable: "greeting", Operation: flow.OpAppend, Value: ", Dana"}, "Hello, Dana"},
		{"increment", flow.Assignment{Variable: "count", Operation: flow.OpIncrement, Value: "2"}, float64(6)},
		{"decrement", flow.Assignment{Variable: "count", Operation: flow.OpDecrement, Value: "1"}, float64(3)},
		{"decrement undefined", flow.Assignment{Variable: "missing", Operation: flow.OpDecrement, Value: "3"}, float64(-3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, applyAssignment(tt.a, vars))
		})
	}
}

type recordingReasoner struct {
	SimulatedReasoner
	params ReplyParams
}

func (r *recordingReasoner) Reply(_ context.Context, _ string, _ []Turn, _ string, p ReplyParams) string {
	r.params = p
	return "noted"
}

func TestStepConversationUsesFlowSettingsAsDefaults(t *testing.T) {
	f := bookingFlow(t)
	f.Settings = flow.Settings{Model: "flow-default", Temperature: 0.4}

	r := &recordingReasoner{}
	e := New(r)
	st := newState(f)
	st.CurrentNodeID = "ask"

	// no transition matches, so the follow-up path carries the params
	_, err := e.Step(context.Background(), f, st, "mumble")
	require.NoError(t, err)
	assert.Equal(t, "flow-default", r.params.Model)
	assert.Equal(t, 0.4, r.params.Temperature)
}

func TestStepConversationNodeParamsBeatFlowSettings(t *testing.T) {
	f := bookingFlow(t)
	f.Settings = flow.Settings{Model: "flow-default", Temperature: 0.4}
	for i := range f.Nodes {
		if f.Nodes[i].ID != "ask" {
			continue
		}
		f.Nodes[i].Config = mustConfig(t, flow.ConversationConfig{
			Content:     flow.Content{Mode: flow.ContentStatic, Text: "How can I help you today?"},
			Model:       "node-model",
			Temperature: 0.9,
		})
	}

	r := &recordingReasoner{}
	e := New(r)
	st := newState(f)
	st.CurrentNodeID = "ask"

	_, err := e.Step(context.Background(), f, st, "mumble")
	require.NoError(t, err)
	assert.Equal(t, "node-model", r.params.Model)
	assert.Equal(t, 0.9, r.params.Temperature)
}
