package telephony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/Aryanpatel2001/voiceflow/internal/audio"
	"github.com/Aryanpatel2001/voiceflow/internal/engine"
	"github.com/Aryanpatel2001/voiceflow/internal/session"
	"github.com/Aryanpatel2001/voiceflow/internal/store"
	"github.com/Aryanpatel2001/voiceflow/internal/transcript"
	"github.com/Aryanpatel2001/voiceflow/internal/tts"
)

// Handler serves the Twilio side of the house: the voice webhook and the
// media stream websocket.
type Handler struct {
	Store         store.Store
	Registry      *session.Registry
	Engine        *engine.Engine
	Synthesizer   tts.Synthesizer
	AssemblyAIKey string
	DefaultFlowID string
	PublicHost    string
	// Dialer is optional; without it transfers are logged but not dialed.
	Dialer *Dialer
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// streamMessage covers every inbound Media Streams frame we care about.
type streamMessage struct {
	Event string `json:"event"`
	Start *struct {
		StreamSID        string            `json:"streamSid"`
		CallSID          string            `json:"callSid"`
		CustomParameters map[string]string `json:"customParameters"`
	} `json:"start,omitempty"`
	Media *struct {
		Payload string `json:"payload"`
	} `json:"media,omitempty"`
	Mark *struct {
		Name string `json:"name"`
	} `json:"mark,omitempty"`
}

// HandleStream runs one Twilio media stream connection for its whole life.
func (h *Handler) HandleStream(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("upgrade stream: %w", err)
	}

	var (
		ctrl   *session.Controller
		callID string
	)
	defer func() {
		if ctrl != nil {
			ctrl.Shutdown("connection lost")
			h.Registry.Remove(callID)
		}
		_ = conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctrl != nil {
				log.Printf("[%s] stream read: %v", callID, err)
			}
			return nil
		}
		var msg streamMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("stream: bad message: %v", err)
			continue
		}

		switch msg.Event {
		case "connected":
			// handshake frame, nothing to do until start

		case "start":
			if msg.Start == nil {
				continue
			}
			ctrl, err = h.startCall(c.Request().Context(), conn, msg)
			if err != nil {
				log.Printf("stream: start call %s: %v", msg.Start.CallSID, err)
				return nil
			}
			callID = msg.Start.CallSID

		case "media":
			if ctrl == nil || msg.Media == nil {
				continue
			}
			mulaw, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
			if err != nil {
				continue
			}
			ctrl.FeedAudio(audio.DecodeMulaw(mulaw))

		case "mark":
			if ctrl != nil && msg.Mark != nil {
				ctrl.HandleMark(msg.Mark.Name)
			}

		case "stop":
			if ctrl != nil {
				ctrl.Shutdown("caller hung up")
				h.Registry.Remove(callID)
				ctrl = nil
			}
			return nil
		}
	}
}

func (h *Handler) startCall(ctx context.Context, conn *websocket.Conn, msg streamMessage) (*session.Controller, error) {
	flowID := msg.Start.CustomParameters["flow_id"]
	if flowID == "" {
		flowID = h.DefaultFlowID
	}
	loadCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	f, err := h.Store.PublishedFlow(loadCtx, flowID)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("load flow %s: %w", flowID, err)
	}

	callID := msg.Start.CallSID
	tr := &streamTransport{conn: conn, streamSID: msg.Start.StreamSID}
	ctrl := session.NewController(session.Config{
		CallID:      callID,
		FlowID:      flowID,
		Flow:        f,
		Engine:      h.Engine,
		Transport:   tr,
		Recognizer:  transcript.NewService(h.AssemblyAIKey, audio.Format{SampleRate: 8000, Encoding: audio.EncodingLinear16}),
		Synthesizer: h.Synthesizer,
		Store:       h.Store,
	})
	h.Registry.Add(callID, ctrl)
	go h.drainEvents(ctrl)

	if err := ctrl.Start(context.Background()); err != nil {
		h.Registry.Remove(callID)
		return nil, err
	}
	log.Printf("[%s] stream started, flow %s", callID, flowID)
	return ctrl, nil
}

// drainEvents keeps the controller's event channel moving and logs the call
// trace. Transfers are executed here since they are a telephony concern.
func (h *Handler) drainEvents(ctrl *session.Controller) {
	for ev := range ctrl.Events() {
		switch ev.Type {
		case session.EventTransfer:
			log.Printf("[%s] transfer requested to %s", ev.CallID, ev.Text)
			if h.Dialer != nil {
				if err := h.Dialer.Transfer(ev.CallID, ev.Text); err != nil {
					log.Printf("[%s] transfer failed: %v", ev.CallID, err)
				}
			}
		case session.EventCallError:
			log.Printf("[%s] error: %v", ev.CallID, ev.Err)
		case session.EventCallEnded:
			log.Printf("[%s] ended: %s", ev.CallID, ev.Text)
		}
	}
}

// streamTransport writes Media Streams frames back over the call websocket.
// Twilio expects outbound media as base64 mulaw in 20ms chunks, marks echoed
// back when playback reaches them, and clear to flush its jitter buffer.
type streamTransport struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	streamSID string
	closed    bool
}

func (t *streamTransport) send(v any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("stream transport closed")
	}
	return t.conn.WriteJSON(v)
}

func (t *streamTransport) SendAudio(frame []byte) error {
	return t.send(map[string]any{
		"event":     "media",
		"streamSid": t.streamSID,
		"media": map[string]string{
			"payload": base64.StdEncoding.EncodeToString(frame),
		},
	})
}

func (t *streamTransport) SendMark(name string) error {
	return t.send(map[string]any{
		"event":     "mark",
		"streamSid": t.streamSID,
		"mark":      map[string]string{"name": name},
	})
}

func (t *streamTransport) Clear() error {
	return t.send(map[string]any{
		"event":     "clear",
		"streamSid": t.streamSID,
	})
}

func (t *streamTransport) Format() audio.Format { return audio.Telephony8k }

func (t *streamTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
