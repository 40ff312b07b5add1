package httpserver

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Aryanpatel2001/voiceflow/internal/engine"
	"github.com/Aryanpatel2001/voiceflow/internal/store"
)

const maxSimSteps = 25

type simulateRequest struct {
	FlowID   string   `json:"flow_id"`
	Messages []string `json:"messages"`
}

type simulateTurn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type simulateResponse struct {
	Turns     []simulateTurn `json:"turns"`
	EndReason string         `json:"end_reason,omitempty"`
	Transfer  string         `json:"transfer,omitempty"`
	Variables map[string]any `json:"variables"`
}

// handleSimulate runs a flow as a text chat with the deterministic reasoner.
// No audio, no providers; flow authors use it to check transitions before
// going live.
func handleSimulate(st store.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req simulateRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
		}
		ctx := c.Request().Context()

		f, err := st.PublishedFlow(ctx, req.FlowID)
		if err != nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
		}
		startNode, err := f.StartNode()
		if err != nil {
			return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		}

		sim := engine.New(engine.SimulatedReasoner{})
		state := &engine.State{CurrentNodeID: startNode.ID, Vars: f.SeedVariables()}
		resp := simulateResponse{Turns: []simulateTurn{}}

		// The empty leading input drives the greeting turn.
		inputs := append([]string{""}, req.Messages...)
	conversation:
		for _, utterance := range inputs {
			if utterance != "" {
				state.History = append(state.History, engine.Turn{Role: engine.RoleUser, Text: utterance, At: time.Now()})
				state.TurnCount++
				resp.Turns = append(resp.Turns, simulateTurn{Role: engine.RoleUser, Text: utterance})
			}
			input := utterance
			for steps := 0; ; steps++ {
				if steps > maxSimSteps {
					return c.JSON(http.StatusUnprocessableEntity, map[string]string{
						"error": "flow cycled without gathering input",
					})
				}
				res, err := sim.Step(ctx, f, state, input)
				if err != nil {
					return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
				}
				input = ""

				if res.Output != "" {
					state.History = append(state.History, engine.Turn{Role: engine.RoleAssistant, Text: res.Output, At: time.Now()})
					resp.Turns = append(resp.Turns, simulateTurn{Role: engine.RoleAssistant, Text: res.Output})
				}

				switch res.Action {
				case engine.ActionContinue:
					state.CurrentNodeID = res.NextNodeID
				case engine.ActionGather:
					state.CurrentNodeID = res.NextNodeID
					continue conversation
				case engine.ActionEnd:
					resp.EndReason = res.EndReason
					if resp.EndReason == "" {
						resp.EndReason = "completed"
					}
					break conversation
				case engine.ActionTransfer:
					resp.Transfer = res.Transfer.Destination
					resp.EndReason = "transferred"
					break conversation
				}
			}
		}
		resp.Variables = state.Vars
		return c.JSON(http.StatusOK, resp)
	}
}
