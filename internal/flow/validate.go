package flow

import "fmt"

// DefinitionError reports a structural problem in a flow definition. These
// are fatal to a session: a broken graph cannot be driven safely mid-call.
type DefinitionError struct {
	NodeID string
	Reason string
}

func (e *DefinitionError) Error() string {
	if e.NodeID == "" {
		return "flow definition: " + e.Reason
	}
	return fmt.Sprintf("flow definition: node %s: %s", e.NodeID, e.Reason)
}

// Validate checks the structural invariants a flow must satisfy before a
// call may run against it: exactly one start node, resolvable edge endpoints,
// at most one edge per output handle, decodable node configs, parseable
// equation conditions, and reachability of every node from start.
func (f *Flow) Validate() error {
	if _, err := f.StartNode(); err != nil {
		return err
	}

	ids := make(map[string]struct{}, len(f.Nodes))
	for i := range f.Nodes {
		n := &f.Nodes[i]
		if n.ID == "" {
			return &DefinitionError{Reason: "node with empty id"}
		}
		if _, dup := ids[n.ID]; dup {
			return &DefinitionError{NodeID: n.ID, Reason: "duplicate node id"}
		}
		ids[n.ID] = struct{}{}
		if err := validateNode(n); err != nil {
			return err
		}
	}

	handles := make(map[string]struct{}, len(f.Edges))
	for i := range f.Edges {
		e := &f.Edges[i]
		if _, ok := ids[e.Source]; !ok {
			return &DefinitionError{NodeID: e.Source, Reason: "edge source does not exist"}
		}
		if _, ok := ids[e.Target]; !ok {
			return &DefinitionError{NodeID: e.Target, Reason: "edge target does not exist"}
		}
		key := e.Source + "\x00" + e.SourceHandle
		if _, dup := handles[key]; dup {
			return &DefinitionError{NodeID: e.Source, Reason: fmt.Sprintf("multiple edges for handle %q", e.SourceHandle)}
		}
		handles[key] = struct{}{}
	}

	return checkReachability(f)
}

func validateNode(n *Node) error {
	var err error
	switch n.Kind {
	case NodeStart:
		_, err = n.StartConfig()
	case NodeConversation:
		var c *ConversationConfig
		c, err = n.ConversationConfig()
		if err == nil {
			if terr := validateTransitions(n.ID, c.Transitions); terr != nil {
				return terr
			}
		}
	case NodeFunction:
		var c *FunctionConfig
		c, err = n.FunctionConfig()
		if err == nil {
			if terr := validateTransitions(n.ID, c.Transitions); terr != nil {
				return terr
			}
			if c.ExecutionType != ExecutionHTTP && c.ExecutionType != ExecutionCode {
				return &DefinitionError{NodeID: n.ID, Reason: fmt.Sprintf("unknown execution type %q", c.ExecutionType)}
			}
		}
	case NodeCallTransfer:
		var c *TransferConfig
		c, err = n.TransferConfig()
		if err == nil && c.Destination == "" {
			return &DefinitionError{NodeID: n.ID, Reason: "transfer without destination"}
		}
	case NodeSetVariable:
		var c *SetVariableConfig
		c, err = n.SetVariableConfig()
		if err == nil {
			for _, a := range c.Assignments {
				switch a.Operation {
				case OpSet, OpAppend, OpIncrement, OpDecrement:
				default:
					return &DefinitionError{NodeID: n.ID, Reason: fmt.Sprintf("unknown assignment operation %q", a.Operation)}
				}
			}
		}
	case NodeEnd:
		_, err = n.EndConfig()
	default:
		return &DefinitionError{NodeID: n.ID, Reason: fmt.Sprintf("unknown node kind %q", n.Kind)}
	}
	if err != nil {
		return &DefinitionError{NodeID: n.ID, Reason: err.Error()}
	}
	return nil
}

func validateTransitions(nodeID string, ts []Transition) error {
	for _, t := range ts {
		switch t.Type {
		case TransitionEquation:
			if _, err := ParseEquation(t.Condition); err != nil {
				return &DefinitionError{NodeID: nodeID, Reason: err.Error()}
			}
		case TransitionPrompt:
			if t.Condition == "" {
				return &DefinitionError{NodeID: nodeID, Reason: "prompt transition with empty condition"}
			}
		default:
			return &DefinitionError{NodeID: nodeID, Reason: fmt.Sprintf("unknown transition type %q", t.Type)}
		}
	}
	return nil
}

func checkReachability(f *Flow) error {
	start, err := f.StartNode()
	if err != nil {
		return err
	}
	reached := map[string]struct{}{start.ID: {}}
	queue := []string{start.ID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for i := range f.Edges {
			e := &f.Edges[i]
			if e.Source != cur {
				continue
			}
			if _, ok := reached[e.Target]; ok {
				continue
			}
			reached[e.Target] = struct{}{}
			queue = append(queue, e.Target)
		}
	}
	for i := range f.Nodes {
		if _, ok := reached[f.Nodes[i].ID]; !ok {
			return &DefinitionError{NodeID: f.Nodes[i].ID, Reason: "unreachable from start"}
		}
	}
	return nil
}
