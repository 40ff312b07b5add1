package session

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Aryanpatel2001/voiceflow/internal/audio"
	"github.com/Aryanpatel2001/voiceflow/internal/engine"
	"github.com/Aryanpatel2001/voiceflow/internal/flow"
	"github.com/Aryanpatel2001/voiceflow/internal/store"
	"github.com/Aryanpatel2001/voiceflow/internal/transcript"
	"github.com/Aryanpatel2001/voiceflow/internal/tts"
)

// State is the controller's lifecycle phase.
type State string

const (
	StateInitializing State = "initializing"
	StateConnected    State = "connected"
	StateGreeting     State = "greeting"
	StateListening    State = "listening"
	StateProcessing   State = "processing"
	StateSpeaking     State = "speaking"
	StateTransferring State = "transferring"
	StateEnding       State = "ending"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

// Transport is the audio wire a controller speaks through. SendAudio takes
// one 20ms frame in the transport's native format; SendMark requests a
// playback acknowledgment delivered back via HandleMark; Clear drops any
// audio the far end has buffered but not yet played.
type Transport interface {
	SendAudio(frame []byte) error
	SendMark(name string) error
	Clear() error
	Format() audio.Format
	Close() error
}

// Recognizer is the STT stream the controller listens on.
// transcript.Service satisfies it.
type Recognizer interface {
	Connect(ctx context.Context) error
	SendAudio(pcm []byte) error
	Fragments() <-chan transcript.Fragment
	Close() error
}

const (
	defaultSilenceWindow = 1000 * time.Millisecond
	defaultMarkTimeout   = 30 * time.Second
	// silent node hops allowed within one turn before the flow is declared
	// cyclic and the call is torn down
	maxSilentSteps = 25
)

// Config assembles a controller. CallID, Flow, Engine and Transport are
// required; zero durations take the defaults.
type Config struct {
	CallID        string
	FlowID        string
	Flow          *flow.Flow
	Engine        *engine.Engine
	Transport     Transport
	Recognizer    Recognizer
	Synthesizer   tts.Synthesizer
	Store         store.Store
	SilenceWindow time.Duration
	MarkTimeout   time.Duration
}

// Controller runs one call: it owns the engine state, turn-taking, barge-in
// and teardown. All transport and recognizer callbacks funnel through it.
type Controller struct {
	callID      string
	flowID      string
	flow        *flow.Flow
	engine      *engine.Engine
	transport   Transport
	stt         Recognizer
	tts         tts.Synthesizer
	store       store.Store
	silenceWin  time.Duration
	markTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	events chan Event

	mu                 sync.Mutex
	state              State
	engineState        *engine.State
	pending            []string
	processing         bool
	speakCancel        context.CancelFunc
	barged             bool
	blockInterruptions bool
	silenceTimer       *time.Timer
	marks              map[string]chan struct{}
	closed             bool
	eventsClosed       bool

	startedAt time.Time
	closeOnce sync.Once
}

// NewController builds a controller in StateInitializing. Call Start to
// bring the call up.
func NewController(cfg Config) *Controller {
	c := &Controller{
		callID:      cfg.CallID,
		flowID:      cfg.FlowID,
		flow:        cfg.Flow,
		engine:      cfg.Engine,
		transport:   cfg.Transport,
		stt:         cfg.Recognizer,
		tts:         cfg.Synthesizer,
		store:       cfg.Store,
		silenceWin:  cfg.SilenceWindow,
		markTimeout: cfg.MarkTimeout,
		events:      make(chan Event, 64),
		state:       StateInitializing,
		marks:       make(map[string]chan struct{}),
		startedAt:   time.Now(),
	}
	if c.silenceWin <= 0 {
		c.silenceWin = defaultSilenceWindow
	}
	if c.markTimeout <= 0 {
		c.markTimeout = defaultMarkTimeout
	}
	return c
}

// Events returns the per-call ordered event stream. Closed after the
// terminal event.
func (c *Controller) Events() <-chan Event { return c.events }

// State returns the current lifecycle phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start connects the recognizer, seeds the engine state at the start node
// and kicks off the first (possibly greeting) turn.
func (c *Controller) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	start, err := c.flow.StartNode()
	if err != nil {
		c.shutdown("", fmt.Errorf("start call: %w", err))
		return err
	}
	c.engineState = &engine.State{CurrentNodeID: start.ID, Vars: c.flow.SeedVariables()}

	if err := c.stt.Connect(c.ctx); err != nil {
		err = fmt.Errorf("connect recognizer: %w", err)
		c.shutdown("", err)
		return err
	}
	c.setState(StateConnected)

	go c.consumeFragments()

	c.mu.Lock()
	c.processing = true
	c.mu.Unlock()
	go c.processTurn("")
	return nil
}

// FeedAudio relays caller audio (PCM16 at the recognizer's rate) to STT.
func (c *Controller) FeedAudio(pcm []byte) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	if err := c.stt.SendAudio(pcm); err != nil {
		log.Printf("[%s] feed audio: %v", c.callID, err)
	}
}

// HandleMark acknowledges a playback mark echoed back by the transport.
func (c *Controller) HandleMark(name string) {
	c.mu.Lock()
	ch, ok := c.marks[name]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// HandleTranscript ingests one recognition fragment. Finals during speech
// trigger barge-in (unless the current utterance blocks interruptions) and
// are buffered so no caller words are lost; the silence timer restarts on
// every final.
func (c *Controller) HandleTranscript(frag transcript.Fragment) {
	text := strings.TrimSpace(frag.Text)
	if text == "" {
		return
	}
	if !frag.IsFinal {
		return
	}

	c.Interrupt()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.pending = append(c.pending, text)
	if c.silenceTimer == nil {
		c.silenceTimer = time.AfterFunc(c.silenceWin, c.onSilence)
	} else {
		c.silenceTimer.Stop()
		c.silenceTimer.Reset(c.silenceWin)
	}
	c.mu.Unlock()

	c.emit(Event{Type: EventUserTranscript, Text: text})
}

// Interrupt cancels in-progress speech and clears the transport's buffered
// audio. Called on a final transcript during speech, or directly by
// transports that detect voice energy themselves. No-op when the current
// utterance blocks interruptions or nothing is playing.
func (c *Controller) Interrupt() {
	c.mu.Lock()
	if c.closed || c.blockInterruptions || (c.state != StateSpeaking && c.state != StateGreeting) {
		c.mu.Unlock()
		return
	}
	c.barged = true
	cancel := c.speakCancel
	c.mu.Unlock()

	log.Printf("[%s] barge-in", c.callID)
	if err := c.transport.Clear(); err != nil {
		log.Printf("[%s] clear: %v", c.callID, err)
	}
	if cancel != nil {
		cancel()
	}
}

// Shutdown ends the call from outside (transport disconnect, admin stop).
func (c *Controller) Shutdown(reason string) {
	c.shutdown(reason, nil)
}

func (c *Controller) consumeFragments() {
	for frag := range c.stt.Fragments() {
		c.HandleTranscript(frag)
	}
}

// onSilence fires when the caller has been quiet long enough after their
// last final fragment. One fire is one user turn.
func (c *Controller) onSilence() {
	c.mu.Lock()
	if c.closed || c.processing || len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	utterance := strings.Join(c.pending, " ")
	c.pending = nil
	c.processing = true
	c.mu.Unlock()
	go c.processTurn(utterance)
}

// processTurn drives the engine from the current node until it gathers,
// ends or transfers. Runs on its own goroutine; the processing flag keeps
// turns serialized.
func (c *Controller) processTurn(utterance string) {
	if utterance != "" {
		log.Printf("[%s] user: %s", c.callID, utterance)
		c.appendHistory(engine.RoleUser, utterance)
		c.mu.Lock()
		c.engineState.TurnCount++
		c.mu.Unlock()
	}
	c.mu.Lock()
	turns := c.engineState.TurnCount
	c.mu.Unlock()
	if max := c.flow.Settings.MaxTurns; max > 0 && turns > max {
		c.setState(StateEnding)
		c.shutdown("max turns reached", nil)
		return
	}
	c.setState(StateProcessing)

	input := utterance
	for steps := 0; ; steps++ {
		if c.ctx.Err() != nil {
			return
		}
		if steps > maxSilentSteps {
			c.shutdown("", fmt.Errorf("flow cycled through %d nodes without gathering", steps))
			return
		}

		res, err := c.engine.Step(c.ctx, c.flow, c.engineState, input)
		if err != nil {
			c.shutdown("", err)
			return
		}
		input = ""

		if res.Output != "" {
			spoken := c.speak(res.Output, res.BlockInterruptions)
			if spoken != "" {
				c.appendHistory(engine.RoleAssistant, spoken)
				c.emit(Event{Type: EventAgentSpeech, Text: spoken})
			}
			if c.ctx.Err() != nil {
				return
			}
		}

		switch res.Action {
		case engine.ActionContinue:
			c.mu.Lock()
			c.engineState.CurrentNodeID = res.NextNodeID
			c.mu.Unlock()

		case engine.ActionGather:
			c.mu.Lock()
			c.engineState.CurrentNodeID = res.NextNodeID
			c.mu.Unlock()
			c.setState(StateListening)
			c.finishProcessing()
			return

		case engine.ActionEnd:
			c.setState(StateEnding)
			reason := res.EndReason
			if reason == "" {
				reason = "completed"
			}
			c.shutdown(reason, nil)
			return

		case engine.ActionTransfer:
			c.setState(StateTransferring)
			c.emit(Event{Type: EventTransfer, Text: res.Transfer.Destination})
			c.shutdown("transferred", nil)
			return
		}
	}
}

// finishProcessing releases the turn lock, immediately consuming any finals
// that arrived while the last turn was being handled.
func (c *Controller) finishProcessing() {
	c.mu.Lock()
	if len(c.pending) > 0 && !c.closed {
		utterance := strings.Join(c.pending, " ")
		c.pending = nil
		c.mu.Unlock()
		c.processTurn(utterance)
		return
	}
	c.processing = false
	c.mu.Unlock()
}

// speak synthesizes text chunk by chunk, paces 20ms frames onto the
// transport and waits for the playback mark. Returns the text actually
// delivered, which is a prefix of the input when barged.
func (c *Controller) speak(text string, block bool) string {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ""
	}
	speakCtx, cancel := context.WithCancel(c.ctx)
	c.speakCancel = cancel
	c.barged = false
	c.blockInterruptions = block
	st := StateSpeaking
	if c.engineState.TurnCount == 0 {
		st = StateGreeting
	}
	c.mu.Unlock()
	c.setState(st)

	defer func() {
		cancel()
		c.mu.Lock()
		c.speakCancel = nil
		c.blockInterruptions = false
		c.mu.Unlock()
	}()

	format := c.transport.Format()
	frameBytes := format.FrameBytes()

	var spoken strings.Builder
	completed := true
	for _, chunk := range chunkReply(text) {
		if c.isBarged() || speakCtx.Err() != nil {
			completed = false
			break
		}
		buf, err := c.tts.Synthesize(speakCtx, chunk, format)
		if err != nil {
			log.Printf("[%s] tts: %v", c.callID, err)
			completed = false
			break
		}
		aborted := false
		for _, frame := range audio.SliceFrames(buf, frameBytes) {
			if c.isBarged() || speakCtx.Err() != nil {
				aborted = true
				break
			}
			if err := c.transport.SendAudio(frame); err != nil {
				log.Printf("[%s] send audio: %v", c.callID, err)
				aborted = true
				break
			}
		}
		if aborted {
			completed = false
			break
		}
		if spoken.Len() > 0 {
			spoken.WriteString(" ")
		}
		spoken.WriteString(chunk)
	}

	if completed && spoken.Len() > 0 {
		c.waitForMark(speakCtx)
	}
	return spoken.String()
}

func (c *Controller) waitForMark(ctx context.Context) {
	name := uuid.NewString()
	ch := make(chan struct{}, 1)
	c.mu.Lock()
	c.marks[name] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.marks, name)
		c.mu.Unlock()
	}()

	if err := c.transport.SendMark(name); err != nil {
		log.Printf("[%s] send mark: %v", c.callID, err)
		return
	}
	select {
	case <-ch:
	case <-time.After(c.markTimeout):
		log.Printf("[%s] mark %s not acknowledged within %s", c.callID, name, c.markTimeout)
	case <-ctx.Done():
	}
}

func (c *Controller) isBarged() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.barged
}

func (c *Controller) appendHistory(role, text string) {
	c.mu.Lock()
	c.engineState.History = append(c.engineState.History, engine.Turn{Role: role, Text: text, At: time.Now()})
	c.mu.Unlock()
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	if c.closed && s != StateDisconnected && s != StateError {
		c.mu.Unlock()
		return
	}
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	c.emit(Event{Type: EventStateChanged, State: s})
}

// emit delivers an event without ever blocking the call path; the channel
// is buffered and drops on a stuck consumer.
func (c *Controller) emit(ev Event) {
	ev.CallID = c.callID
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eventsClosed {
		return
	}
	select {
	case c.events <- ev:
	default:
		log.Printf("[%s] event buffer full, dropping %s", c.callID, ev.Type)
	}
}

// shutdown is the single teardown path. Exactly one summary is persisted no
// matter how many times it is reached.
func (c *Controller) shutdown(reason string, failure error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		cancelSpeak := c.speakCancel
		if c.silenceTimer != nil {
			c.silenceTimer.Stop()
		}
		c.mu.Unlock()

		if cancelSpeak != nil {
			cancelSpeak()
		}
		if c.cancel != nil {
			c.cancel()
		}
		if c.stt != nil {
			_ = c.stt.Close()
		}
		if c.transport != nil {
			_ = c.transport.Close()
		}

		c.persistSummary(reason, failure)

		if failure != nil {
			log.Printf("[%s] call failed: %v", c.callID, failure)
			c.setState(StateError)
			c.emit(Event{Type: EventCallError, State: StateError, Err: failure})
		} else {
			log.Printf("[%s] call ended: %s", c.callID, reason)
			c.setState(StateDisconnected)
			c.emit(Event{Type: EventCallEnded, State: StateDisconnected, Text: reason})
		}

		c.mu.Lock()
		c.eventsClosed = true
		close(c.events)
		c.mu.Unlock()
	})
}

func (c *Controller) persistSummary(reason string, failure error) {
	if c.store == nil {
		return
	}
	if failure != nil {
		reason = "error"
	}

	c.mu.Lock()
	sum := &store.Summary{
		CallID:    c.callID,
		FlowID:    c.flowID,
		StartedAt: c.startedAt,
		EndedAt:   time.Now(),
		EndReason: reason,
	}
	if c.engineState != nil {
		sum.Variables = make(map[string]any, len(c.engineState.Vars))
		for k, v := range c.engineState.Vars {
			sum.Variables[k] = v
		}
		sum.Transcript = make([]store.TranscriptEntry, 0, len(c.engineState.History))
		for _, t := range c.engineState.History {
			sum.Transcript = append(sum.Transcript, store.TranscriptEntry{Role: t.Role, Text: t.Text, At: t.At})
		}
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.store.SaveSummary(ctx, sum); err != nil {
		log.Printf("[%s] save summary: %v", c.callID, err)
	}
}
