package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Aryanpatel2001/voiceflow/internal/flow"
)

// VarFunctionStatus records the outcome of the most recent function node so
// flow authors can branch on it with an equation transition.
const VarFunctionStatus = "_function_status"

// Turn is one entry of a session's conversation history.
type Turn struct {
	Role string
	Text string
	At   time.Time
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// State is the mutable per-call execution state the controller owns. Step
// mutates Vars and reads History; the controller appends to History around
// each turn.
type State struct {
	CurrentNodeID string
	Vars          map[string]any
	History       []Turn
	TurnCount     int
}

// Action tells the controller what to do after a step.
type Action string

const (
	// ActionContinue advances to NextNodeID and steps again immediately.
	ActionContinue Action = "continue"
	// ActionGather waits for the next user utterance on NextNodeID.
	ActionGather Action = "gather"
	// ActionEnd terminates the session normally.
	ActionEnd Action = "end"
	// ActionTransfer hands the call to the telephony layer and terminates
	// this engine's involvement.
	ActionTransfer Action = "transfer"
)

// Transfer describes a call_transfer outcome.
type Transfer struct {
	Destination  string
	Type         string
	Announcement string
}

// StepResult is the outcome of executing one node.
type StepResult struct {
	Output             string
	NextNodeID         string
	Action             Action
	Transfer           *Transfer
	EndReason          string
	VarUpdates         map[string]any
	BlockInterruptions bool
}

// Engine executes flow nodes one step at a time. The injected Reasoner is the
// only difference between simulation and live mode; the state machine below
// is shared.
type Engine struct {
	Reasoner Reasoner
	HTTP     *HTTPExecutor
	Code     *CodeExecutor
}

// New constructs an Engine around the given reasoning strategy.
func New(r Reasoner) *Engine {
	return &Engine{
		Reasoner: r,
		HTTP:     NewHTTPExecutor(),
		Code:     NewCodeExecutor(),
	}
}

// Step executes the current node. userInput is empty on silent advances and
// first visits; it carries the buffered utterance on turn-driven steps.
// An unknown current node is fatal to the session.
func (e *Engine) Step(ctx context.Context, f *flow.Flow, st *State, userInput string) (StepResult, error) {
	node := f.NodeByID(st.CurrentNodeID)
	if node == nil {
		return StepResult{}, &flow.DefinitionError{NodeID: st.CurrentNodeID, Reason: "current node does not exist"}
	}

	switch node.Kind {
	case flow.NodeStart:
		return e.stepStart(ctx, f, node, st)
	case flow.NodeConversation:
		return e.stepConversation(ctx, f, node, st, userInput)
	case flow.NodeFunction:
		return e.stepFunction(ctx, f, node, st, userInput)
	case flow.NodeCallTransfer:
		return e.stepTransfer(node, st)
	case flow.NodeSetVariable:
		return e.stepSetVariable(f, node, st)
	case flow.NodeEnd:
		return e.stepEnd(ctx, node, st)
	default:
		return StepResult{}, &flow.DefinitionError{NodeID: node.ID, Reason: fmt.Sprintf("unknown node kind %q", node.Kind)}
	}
}

func (e *Engine) stepStart(ctx context.Context, f *flow.Flow, node *flow.Node, st *State) (StepResult, error) {
	cfg, err := node.StartConfig()
	if err != nil {
		return StepResult{}, err
	}
	res := StepResult{Action: ActionContinue}
	if cfg.SpeaksFirst && cfg.Greeting != nil {
		res.Output = e.renderContent(ctx, cfg.Greeting, st, ReplyParams{})
	}
	res.NextNodeID = f.NextNode(node.ID, "")
	if res.NextNodeID == "" {
		// start with no outgoing edge: nothing to run, park and wait
		res.NextNodeID = node.ID
		res.Action = ActionGather
	}
	return res, nil
}

func (e *Engine) stepConversation(ctx context.Context, f *flow.Flow, node *flow.Node, st *State, userInput string) (StepResult, error) {
	cfg, err := node.ConversationConfig()
	if err != nil {
		return StepResult{}, err
	}
	params := replyParams(f, cfg)

	if cfg.SkipResponse {
		res := StepResult{
			Output: e.renderContent(ctx, &cfg.Content, st, params),
			Action: ActionContinue,
		}
		handle, _ := flow.EvaluateTransitions(cfg.Transitions, st.Vars, userInput, e.judge(ctx))
		res.NextNodeID = f.NextNode(node.ID, handle)
		if res.NextNodeID == "" {
			res.NextNodeID = node.ID
			res.Action = ActionGather
		}
		return res, nil
	}

	if userInput == "" {
		// first visit: speak the content and wait on this node
		return StepResult{
			Output:             e.renderContent(ctx, &cfg.Content, st, params),
			NextNodeID:         node.ID,
			Action:             ActionGather,
			BlockInterruptions: cfg.BlockInterruptions,
		}, nil
	}

	if handle, ok := flow.EvaluateTransitions(cfg.Transitions, st.Vars, userInput, e.judge(ctx)); ok {
		if next := f.NextNode(node.ID, handle); next != "" {
			return StepResult{NextNodeID: next, Action: ActionContinue}, nil
		}
	}

	// no transition matched: contextual follow-up, explicit self-transition
	return StepResult{
		Output:             e.Reasoner.Reply(ctx, followUpInstructions(cfg, st.Vars), st.History, userInput, params),
		NextNodeID:         node.ID,
		Action:             ActionGather,
		BlockInterruptions: cfg.BlockInterruptions,
	}, nil
}

// replyParams merges node model params over the flow-level defaults.
func replyParams(f *flow.Flow, cfg *flow.ConversationConfig) ReplyParams {
	p := ReplyParams{Model: cfg.Model, Temperature: cfg.Temperature, MaxTokens: cfg.MaxTokens}
	if p.Model == "" {
		p.Model = f.Settings.Model
	}
	if p.Temperature == 0 {
		p.Temperature = f.Settings.Temperature
	}
	return p
}

func (e *Engine) stepFunction(ctx context.Context, f *flow.Flow, node *flow.Node, st *State, userInput string) (StepResult, error) {
	cfg, err := node.FunctionConfig()
	if err != nil {
		return StepResult{}, err
	}
	res := StepResult{Action: ActionContinue}
	if cfg.SpeakDuringExecution != nil {
		res.Output = e.renderContent(ctx, cfg.SpeakDuringExecution, st, ReplyParams{})
	}

	var updates map[string]any
	var execErr error
	switch cfg.ExecutionType {
	case flow.ExecutionHTTP:
		updates, execErr = e.HTTP.Execute(ctx, cfg.HTTP, st.Vars)
	case flow.ExecutionCode:
		updates, execErr = e.Code.Execute(ctx, cfg.Code, st.Vars)
	default:
		execErr = fmt.Errorf("node %s: unknown execution type %q", node.ID, cfg.ExecutionType)
	}

	status := "success"
	if execErr != nil {
		// non-fatal: authors branch on _function_status
		status = "error"
		log.Printf("engine: function node %s failed: %v", node.ID, execErr)
	}
	res.VarUpdates = make(map[string]any, len(updates)+1)
	for k, v := range updates {
		st.Vars[k] = v
		res.VarUpdates[k] = v
	}
	st.Vars[VarFunctionStatus] = status
	res.VarUpdates[VarFunctionStatus] = status

	handle, _ := flow.EvaluateTransitions(cfg.Transitions, st.Vars, userInput, e.judge(ctx))
	res.NextNodeID = f.NextNode(node.ID, handle)
	if res.NextNodeID == "" {
		res.NextNodeID = node.ID
		res.Action = ActionGather
	}
	return res, nil
}

func (e *Engine) stepTransfer(node *flow.Node, st *State) (StepResult, error) {
	cfg, err := node.TransferConfig()
	if err != nil {
		return StepResult{}, err
	}
	notice := "Transferring you now, one moment please."
	var announcement string
	if cfg.TransferType == flow.TransferWarm && cfg.Warm != nil && cfg.Warm.Announcement != "" {
		announcement = flow.Resolve(cfg.Warm.Announcement, st.Vars)
		notice = announcement
	}
	return StepResult{
		Output: notice,
		Action: ActionTransfer,
		Transfer: &Transfer{
			Destination:  flow.Resolve(cfg.Destination, st.Vars),
			Type:         cfg.TransferType,
			Announcement: announcement,
		},
	}, nil
}

func (e *Engine) stepSetVariable(f *flow.Flow, node *flow.Node, st *State) (StepResult, error) {
	cfg, err := node.SetVariableConfig()
	if err != nil {
		return StepResult{}, err
	}
	res := StepResult{Action: ActionContinue, VarUpdates: make(map[string]any, len(cfg.Assignments))}
	for _, a := range cfg.Assignments {
		v := applyAssignment(a, st.Vars)
		st.Vars[a.Variable] = v
		res.VarUpdates[a.Variable] = v
	}
	res.NextNodeID = f.NextNode(node.ID, "")
	if res.NextNodeID == "" {
		res.NextNodeID = node.ID
		res.Action = ActionGather
	}
	return res, nil
}

func (e *Engine) stepEnd(ctx context.Context, node *flow.Node, st *State) (StepResult, error) {
	cfg, err := node.EndConfig()
	if err != nil {
		return StepResult{}, err
	}
	res := StepResult{Action: ActionEnd, EndReason: cfg.Reason}
	if cfg.SpeakDuringExecution != nil {
		res.Output = e.renderContent(ctx, cfg.SpeakDuringExecution, st, ReplyParams{})
	}
	return res, nil
}

// applyAssignment computes the new value for one assignment. Missing or
// non-numeric current values count as zero for the arithmetic operations.
func applyAssignment(a flow.Assignment, vars map[string]any) any {
	resolved := flow.Resolve(a.Value, vars)
	switch a.Operation {
	case flow.OpAppend:
		cur := ""
		if v, ok := vars[a.Variable]; ok {
			cur = flow.Stringify(v)
		}
		return cur + resolved
	case flow.OpIncrement, flow.OpDecrement:
		cur := toNumber(vars[a.Variable])
		delta := toNumber(resolved)
		if a.Operation == flow.OpDecrement {
			return cur - delta
		}
		return cur + delta
	default: // set
		return coerceValue(resolved)
	}
}

func (e *Engine) renderContent(ctx context.Context, c *flow.Content, st *State, p ReplyParams) string {
	text := flow.Resolve(c.Text, st.Vars)
	if c.Mode == flow.ContentPrompt {
		return e.Reasoner.Reply(ctx, text, st.History, lastUserText(st.History), p)
	}
	return text
}

func (e *Engine) judge(ctx context.Context) flow.PromptJudge {
	return func(condition, utterance string) bool {
		if utterance == "" {
			return false
		}
		return e.Reasoner.Judge(ctx, condition, utterance)
	}
}

func followUpInstructions(cfg *flow.ConversationConfig, vars map[string]any) string {
	goal := flow.Resolve(cfg.Content.Text, vars)
	if cfg.Content.Mode == flow.ContentPrompt {
		return goal
	}
	return "You are a voice agent on a live call. Your current goal: " + goal +
		" The caller's last reply did not settle it. Ask one brief follow-up question."
}

func lastUserText(history []Turn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleUser {
			return history[i].Text
		}
	}
	return ""
}
