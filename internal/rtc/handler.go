package rtc

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"

	"github.com/Aryanpatel2001/voiceflow/internal/audio"
	"github.com/Aryanpatel2001/voiceflow/internal/engine"
	"github.com/Aryanpatel2001/voiceflow/internal/session"
	"github.com/Aryanpatel2001/voiceflow/internal/store"
	"github.com/Aryanpatel2001/voiceflow/internal/transcript"
	"github.com/Aryanpatel2001/voiceflow/internal/tts"
)

// SessionDescription is a small DTO to avoid exposing webrtc types in transport.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Handler answers browser SDP offers and runs each peer connection as one
// call session.
type Handler struct {
	Store         store.Store
	Registry      *session.Registry
	Engine        *engine.Engine
	Synthesizer   tts.Synthesizer
	AssemblyAIKey string
	DefaultFlowID string
}

const (
	micChunkBytes = 3200 // 100ms of 16kHz PCM16
	vadThreshold  = 250.0
	vadWindow     = 150 * time.Millisecond
)

// HandleOffer accepts an SDP offer and returns an SDP answer. The call itself
// starts once the remote audio track arrives.
func (h *Handler) HandleOffer(ctx context.Context, offer SessionDescription) (SessionDescription, error) {
	if offer.Type != "offer" || offer.SDP == "" {
		return SessionDescription{}, errors.New("invalid offer")
	}
	flowID := h.DefaultFlowID

	loadCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	f, err := h.Store.PublishedFlow(loadCtx, flowID)
	cancel()
	if err != nil {
		return SessionDescription{}, fmt.Errorf("load flow %s: %w", flowID, err)
	}

	callID := generateCallID()

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return SessionDescription{}, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, ir); err != nil {
		return SessionDescription{}, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(ir))

	peerConnection, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}})
	if err != nil {
		return SessionDescription{}, err
	}

	outTrack, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 1}, "agent-audio", "agent")
	if err != nil {
		_ = peerConnection.Close()
		return SessionDescription{}, err
	}
	if _, err := peerConnection.AddTrack(outTrack); err != nil {
		_ = peerConnection.Close()
		return SessionDescription{}, err
	}

	var (
		ctrlMu sync.Mutex
		ctrl   *session.Controller
	)
	teardown := func(reason string) {
		ctrlMu.Lock()
		c := ctrl
		ctrl = nil
		ctrlMu.Unlock()
		if c != nil {
			c.Shutdown(reason)
			h.Registry.Remove(callID)
		}
		_ = peerConnection.Close()
	}

	peerConnection.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("[%s] PeerConnection state: %s", callID, state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			teardown("connection lost")
		}
	})
	peerConnection.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		log.Printf("[%s] ICE state: %s", callID, state.String())
	})

	peerConnection.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		log.Printf("[%s] Remote audio track received: codec=%s", callID, remote.Codec().MimeType)

		// Marks are acknowledged by the pacer, which exists before the
		// controller does; route them through the guarded pointer.
		tr, err := NewTransport(outTrack, func(name string) {
			ctrlMu.Lock()
			c := ctrl
			ctrlMu.Unlock()
			if c != nil {
				c.HandleMark(name)
			}
		})
		if err != nil {
			log.Printf("[%s] transport: %v", callID, err)
			teardown("connection lost")
			return
		}
		c := session.NewController(session.Config{
			CallID:      callID,
			FlowID:      flowID,
			Flow:        f,
			Engine:      h.Engine,
			Transport:   tr,
			Recognizer:  transcript.NewService(h.AssemblyAIKey, audio.Wideband16k),
			Synthesizer: h.Synthesizer,
			Store:       h.Store,
		})
		ctrlMu.Lock()
		ctrl = c
		ctrlMu.Unlock()
		h.Registry.Add(callID, c)
		go h.drainEvents(c)

		if err := c.Start(context.Background()); err != nil {
			log.Printf("[%s] start: %v", callID, err)
			teardown("connection lost")
			return
		}

		detector := audio.NewDetector(vadThreshold)
		go h.readMic(callID, remote, c, detector)
		go h.watchBargeIn(c, detector)
	})

	remoteOffer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}
	if err := peerConnection.SetRemoteDescription(remoteOffer); err != nil {
		_ = peerConnection.Close()
		return SessionDescription{}, err
	}
	answer, err := peerConnection.CreateAnswer(nil)
	if err != nil {
		_ = peerConnection.Close()
		return SessionDescription{}, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(peerConnection)
	if err := peerConnection.SetLocalDescription(answer); err != nil {
		_ = peerConnection.Close()
		return SessionDescription{}, err
	}
	<-gatherComplete
	local := peerConnection.LocalDescription()
	if local == nil {
		_ = peerConnection.Close()
		return SessionDescription{}, errors.New("no local description")
	}
	return SessionDescription{Type: "answer", SDP: local.SDP}, nil
}

// readMic decodes remote opus to 16kHz PCM16 and relays it to the controller
// in 100ms chunks. The same PCM feeds the barge-in detector.
func (h *Handler) readMic(callID string, remote *webrtc.TrackRemote, c *session.Controller, detector *audio.Detector) {
	dec, err := opus.NewDecoder(16000, 1)
	if err != nil {
		log.Printf("[%s] opus decoder: %v", callID, err)
		return
	}
	pcmSamples := make([]int16, 1920)
	buf := make([]byte, 0, micChunkBytes*4)
	for {
		pkt, _, readErr := remote.ReadRTP()
		if readErr != nil {
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, decErr := dec.Decode(pkt.Payload, pcmSamples)
		if decErr != nil {
			log.Printf("[%s] opus decode: %v", callID, decErr)
			continue
		}
		start := len(buf)
		buf = append(buf, make([]byte, n*2)...)
		o := buf[start:]
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint16(o[i*2:(i+1)*2], uint16(pcmSamples[i]))
		}
		detector.Observe(o)
		for len(buf) >= micChunkBytes {
			chunk := make([]byte, micChunkBytes)
			copy(chunk, buf[:micChunkBytes])
			c.FeedAudio(chunk)
			copy(buf, buf[micChunkBytes:])
			buf = buf[:len(buf)-micChunkBytes]
		}
	}
}

// watchBargeIn samples the energy detector while the agent is speaking.
// Unlike the telephony leg there is no echo cancellation concern here, so
// voice activity alone is enough to cut the agent off.
func (h *Handler) watchBargeIn(c *session.Controller, detector *audio.Detector) {
	ticker := time.NewTicker(40 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		switch c.State() {
		case session.StateDisconnected, session.StateError:
			return
		case session.StateSpeaking, session.StateGreeting:
			if detector.RecentlyActive(vadWindow) {
				c.Interrupt()
			}
		}
	}
}

func (h *Handler) drainEvents(c *session.Controller) {
	for ev := range c.Events() {
		switch ev.Type {
		case session.EventTransfer:
			log.Printf("[%s] transfer requested to %s", ev.CallID, ev.Text)
		case session.EventCallError:
			log.Printf("[%s] error: %v", ev.CallID, ev.Err)
		case session.EventCallEnded:
			log.Printf("[%s] ended: %s", ev.CallID, ev.Text)
		}
	}
}

func generateCallID() string { return "room-" + time.Now().Format("0102150405.000") }
