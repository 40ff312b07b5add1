package flow

import (
	"encoding/json"
	"fmt"
)

// NodeKind enumerates the node types a flow may contain.
type NodeKind string

const (
	NodeStart        NodeKind = "start"
	NodeConversation NodeKind = "conversation"
	NodeFunction     NodeKind = "function"
	NodeCallTransfer NodeKind = "call_transfer"
	NodeSetVariable  NodeKind = "set_variable"
	NodeEnd          NodeKind = "end"
)

// Flow is the published conversational graph driving one agent. It is loaded
// once per call and treated as immutable; sessions never write back into it.
type Flow struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Nodes     []Node        `json:"nodes"`
	Edges     []Edge        `json:"edges"`
	Variables []VariableDef `json:"variables"`
	Settings  Settings      `json:"settings"`
}

// Settings carries flow-level defaults: the model params a conversation node
// falls back to when it does not override them, and an upper bound on user
// turns before the session ends the call.
type Settings struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTurns    int     `json:"maxTurns"`
}

// Node is one typed step in the graph. Config is decoded lazily per kind.
type Node struct {
	ID     string          `json:"id"`
	Kind   NodeKind        `json:"kind"`
	Config json.RawMessage `json:"config"`
}

// Edge connects a node's output handle to a target node. An empty
// SourceHandle marks the node's single unlabeled default edge.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle"`
}

// Content is text an agent emits: static is spoken verbatim after variable
// substitution, prompt is handed to the LLM as instructions.
type Content struct {
	Mode string `json:"mode"`
	Text string `json:"text"`
}

const (
	ContentStatic = "static"
	ContentPrompt = "prompt"
)

// Transition guards an outgoing edge. Equation conditions are deterministic;
// prompt conditions are judged against the latest user utterance.
type Transition struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Condition    string `json:"condition"`
	OutputHandle string `json:"outputHandle"`
	Label        string `json:"label"`
}

const (
	TransitionEquation = "equation"
	TransitionPrompt   = "prompt"
)

// Assignment mutates one variable in a set_variable node.
type Assignment struct {
	Variable  string `json:"variable"`
	Value     string `json:"value"`
	Operation string `json:"operation"`
}

const (
	OpSet       = "set"
	OpAppend    = "append"
	OpIncrement = "increment"
	OpDecrement = "decrement"
)

// VariableDef declares a flow variable and its typed default.
type VariableDef struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Default any    `json:"default"`
}

// StartConfig configures the start node.
type StartConfig struct {
	SpeaksFirst bool     `json:"speaksFirst"`
	Greeting    *Content `json:"greeting"`
}

// ConversationConfig configures a speak-and-wait node.
type ConversationConfig struct {
	Content            Content      `json:"content"`
	Transitions        []Transition `json:"transitions"`
	SkipResponse       bool         `json:"skipResponse"`
	BlockInterruptions bool         `json:"blockInterruptions"`
	Model              string       `json:"model"`
	Temperature        float64      `json:"temperature"`
	MaxTokens          int          `json:"maxTokens"`
}

// HTTPParams configures an http-mode function node. All fields are template
// strings resolved against the variable table at execution time.
type HTTPParams struct {
	Method           string            `json:"method"`
	URL              string            `json:"url"`
	Headers          map[string]string `json:"headers"`
	Body             string            `json:"body"`
	TimeoutSeconds   int               `json:"timeoutSeconds"`
	ResponseMappings map[string]string `json:"responseMappings"`
}

// CodeParams configures a code-mode function node: a list of `name = expr`
// assignment lines evaluated in a sandbox over the variable table.
type CodeParams struct {
	Source         string `json:"source"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

// FunctionConfig configures a function node.
type FunctionConfig struct {
	ExecutionType        string       `json:"executionType"`
	HTTP                 *HTTPParams  `json:"http"`
	Code                 *CodeParams  `json:"code"`
	SpeakDuringExecution *Content     `json:"speakDuringExecution"`
	Transitions          []Transition `json:"transitions"`
}

const (
	ExecutionHTTP = "http"
	ExecutionCode = "code"
)

// WarmOptions configures an announced transfer.
type WarmOptions struct {
	Announcement string `json:"announcement"`
	HoldMusicURL string `json:"holdMusicUrl"`
}

// TransferConfig configures a call_transfer node.
type TransferConfig struct {
	Destination  string       `json:"destination"`
	TransferType string       `json:"transferType"`
	Warm         *WarmOptions `json:"warmOptions"`
}

const (
	TransferCold = "cold"
	TransferWarm = "warm"
)

// SetVariableConfig configures a set_variable node.
type SetVariableConfig struct {
	Assignments []Assignment `json:"assignments"`
}

// EndConfig configures an end node.
type EndConfig struct {
	SpeakDuringExecution *Content `json:"speakDuringExecution"`
	Reason               string   `json:"reason"`
}

func decodeConfig(n *Node, want NodeKind, v any) error {
	if n.Kind != want {
		return fmt.Errorf("node %s: kind %s is not %s", n.ID, n.Kind, want)
	}
	if len(n.Config) == 0 {
		return nil
	}
	if err := json.Unmarshal(n.Config, v); err != nil {
		return fmt.Errorf("node %s: decode %s config: %w", n.ID, want, err)
	}
	return nil
}

// StartConfig decodes the node config as a start node.
func (n *Node) StartConfig() (*StartConfig, error) {
	c := &StartConfig{}
	return c, decodeConfig(n, NodeStart, c)
}

// ConversationConfig decodes the node config as a conversation node.
func (n *Node) ConversationConfig() (*ConversationConfig, error) {
	c := &ConversationConfig{}
	return c, decodeConfig(n, NodeConversation, c)
}

// FunctionConfig decodes the node config as a function node.
func (n *Node) FunctionConfig() (*FunctionConfig, error) {
	c := &FunctionConfig{}
	return c, decodeConfig(n, NodeFunction, c)
}

// TransferConfig decodes the node config as a call_transfer node.
func (n *Node) TransferConfig() (*TransferConfig, error) {
	c := &TransferConfig{}
	return c, decodeConfig(n, NodeCallTransfer, c)
}

// SetVariableConfig decodes the node config as a set_variable node.
func (n *Node) SetVariableConfig() (*SetVariableConfig, error) {
	c := &SetVariableConfig{}
	return c, decodeConfig(n, NodeSetVariable, c)
}

// EndConfig decodes the node config as an end node.
func (n *Node) EndConfig() (*EndConfig, error) {
	c := &EndConfig{}
	return c, decodeConfig(n, NodeEnd, c)
}

// NodeByID returns the node with the given id, or nil.
func (f *Flow) NodeByID(id string) *Node {
	for i := range f.Nodes {
		if f.Nodes[i].ID == id {
			return &f.Nodes[i]
		}
	}
	return nil
}

// StartNode returns the flow's single start node.
func (f *Flow) StartNode() (*Node, error) {
	var start *Node
	for i := range f.Nodes {
		if f.Nodes[i].Kind != NodeStart {
			continue
		}
		if start != nil {
			return nil, &DefinitionError{Reason: "multiple start nodes"}
		}
		start = &f.Nodes[i]
	}
	if start == nil {
		return nil, &DefinitionError{Reason: "missing start node"}
	}
	return start, nil
}

// FindEdge returns the edge leaving nodeID on the given handle, or nil.
func (f *Flow) FindEdge(nodeID, handle string) *Edge {
	for i := range f.Edges {
		if f.Edges[i].Source == nodeID && f.Edges[i].SourceHandle == handle {
			return &f.Edges[i]
		}
	}
	return nil
}

// DefaultEdge returns the single unlabeled edge leaving nodeID, or nil.
func (f *Flow) DefaultEdge(nodeID string) *Edge {
	return f.FindEdge(nodeID, "")
}

// NextNode resolves the target for nodeID's handle, falling back to the
// default edge when the handle has no dedicated edge. Empty result means the
// node has no way out on that handle.
func (f *Flow) NextNode(nodeID, handle string) string {
	if handle != "" {
		if e := f.FindEdge(nodeID, handle); e != nil {
			return e.Target
		}
	}
	if e := f.DefaultEdge(nodeID); e != nil {
		return e.Target
	}
	return ""
}

// SeedVariables builds the initial variable table from declared defaults.
func (f *Flow) SeedVariables() map[string]any {
	vars := make(map[string]any, len(f.Variables))
	for _, v := range f.Variables {
		if v.Default != nil {
			vars[v.Name] = v.Default
			continue
		}
		switch v.Type {
		case "number":
			vars[v.Name] = float64(0)
		case "boolean":
			vars[v.Name] = false
		case "array":
			vars[v.Name] = []any{}
		case "object":
			vars[v.Name] = map[string]any{}
		default:
			vars[v.Name] = ""
		}
	}
	return vars
}
