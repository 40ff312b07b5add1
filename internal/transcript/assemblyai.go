package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Aryanpatel2001/voiceflow/internal/audio"
)

// Fragment is one recognition update. IsFinal marks an endpointed utterance;
// partials stream ahead of it and carry the running transcript so far. The
// session layer owns what happens next (barge-in, silence timers), this
// package only relays what the recognizer said.
type Fragment struct {
	Text       string
	Confidence float64
	IsFinal    bool
}

const (
	maxReconnects    = 3
	reconnectBackoff = 500 * time.Millisecond
)

// Service streams session audio to AssemblyAI's realtime websocket and emits
// Fragments. One Service per call; audio must be 16-bit little-endian PCM at
// the rate given to NewService.
type Service struct {
	apiKey string
	format audio.Format
	host   string

	fragments chan Fragment
	audioData chan []byte
	stopCh    chan struct{}
	closeOnce sync.Once

	// fragMu serializes delivery against Close so the read loop can never
	// send on the closed fragments channel.
	fragMu    sync.Mutex
	fragsDone bool

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
}

// AssemblyAI realtime message types.
type beginMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

type turnMessage struct {
	Type          string  `json:"type"`
	Transcript    string  `json:"transcript"`
	Confidence    float64 `json:"end_of_turn_confidence,omitempty"`
	EndOfTurn     bool    `json:"end_of_turn"`
	TurnFormatted bool    `json:"turn_is_formatted"`
}

type terminationMessage struct {
	Type                   string  `json:"type"`
	AudioDurationSeconds   float64 `json:"audio_duration_seconds"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// NewService creates a transcription service for audio in format f.
func NewService(apiKey string, f audio.Format) *Service {
	return &Service{
		apiKey:    apiKey,
		format:    f,
		host:      "streaming.assemblyai.com",
		fragments: make(chan Fragment, 100),
		audioData: make(chan []byte, 1000),
		stopCh:    make(chan struct{}),
	}
}

// Fragments returns the recognition stream. It is closed on Close.
func (s *Service) Fragments() <-chan Fragment { return s.fragments }

// Connect dials the realtime endpoint and starts the relay goroutines.
func (s *Service) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}
	if s.apiKey == "" {
		return fmt.Errorf("assemblyai: API key is empty")
	}
	if s.format.Encoding != audio.EncodingLinear16 {
		return fmt.Errorf("assemblyai: requires linear16 input, got %s", s.format.Encoding)
	}

	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}
	s.conn = conn
	s.connected = true

	go s.readLoop(ctx)
	go s.writeLoop()

	log.Printf("assemblyai: connected (%d Hz)", s.format.SampleRate)
	return nil
}

func (s *Service) dial(ctx context.Context) (*websocket.Conn, error) {
	params := url.Values{}
	params.Set("sample_rate", strconv.Itoa(s.format.SampleRate))
	params.Set("encoding", "pcm_s16le")
	params.Set("format_turns", "false")
	wsURL := fmt.Sprintf("wss://%s/v3/ws?%s", s.host, params.Encode())

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL, map[string][]string{
		"Authorization": {s.apiKey},
	})
	if err != nil {
		if resp != nil {
			log.Printf("assemblyai: connect failed with status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("assemblyai: connect: %w", err)
	}
	return conn, nil
}

// SendAudio queues one chunk of PCM for the recognizer. The queue drops under
// pressure rather than stalling the transport reader.
func (s *Service) SendAudio(pcm []byte) error {
	s.mu.RLock()
	connected := s.connected
	s.mu.RUnlock()
	if !connected {
		return fmt.Errorf("assemblyai: not connected")
	}
	select {
	case s.audioData <- pcm:
	default:
		log.Println("assemblyai: audio buffer full, dropping chunk")
	}
	return nil
}

// Close terminates the session. Safe to call more than once.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		s.mu.Lock()
		if s.conn != nil {
			_ = s.conn.WriteJSON(map[string]string{"type": "Terminate"})
			_ = s.conn.Close()
			s.conn = nil
		}
		s.connected = false
		s.mu.Unlock()
		s.fragMu.Lock()
		s.fragsDone = true
		close(s.fragments)
		s.fragMu.Unlock()
		log.Println("assemblyai: connection closed")
	})
	return nil
}

// readLoop consumes recognizer messages and redials with backoff on
// transient failures.
func (s *Service) readLoop(ctx context.Context) {
	attempts := 0
	for {
		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
			}
			attempts++
			if attempts > maxReconnects {
				log.Printf("assemblyai: read failed after %d reconnects: %v", maxReconnects, err)
				return
			}
			log.Printf("assemblyai: read error, reconnecting (%d/%d): %v", attempts, maxReconnects, err)
			time.Sleep(time.Duration(attempts) * reconnectBackoff)
			fresh, derr := s.dial(ctx)
			if derr != nil {
				log.Printf("assemblyai: reconnect failed: %v", derr)
				return
			}
			s.mu.Lock()
			s.conn = fresh
			s.mu.Unlock()
			continue
		}
		attempts = 0
		s.processMessage(message)
	}
}

func (s *Service) processMessage(message []byte) {
	var base struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &base); err != nil {
		log.Printf("assemblyai: bad message: %v", err)
		return
	}
	switch base.Type {
	case "Begin":
		var msg beginMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		log.Printf("assemblyai: session began id=%s expires=%s", msg.ID, time.Unix(msg.ExpiresAt, 0).Format(time.RFC3339))
	case "Turn":
		var msg turnMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("assemblyai: bad Turn message: %v", err)
			return
		}
		if msg.Transcript == "" {
			return
		}
		s.deliver(Fragment{Text: msg.Transcript, Confidence: msg.Confidence, IsFinal: msg.EndOfTurn})
	case "Termination":
		var msg terminationMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		log.Printf("assemblyai: session terminated audio=%.2fs session=%.2fs", msg.AudioDurationSeconds, msg.SessionDurationSeconds)
	case "Error":
		var msg errorMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		log.Printf("assemblyai: error: %s", msg.Error)
	default:
		log.Printf("assemblyai: unknown message type %q", base.Type)
	}
}

// deliver hands one fragment to the consumer. Partials drop under queue
// pressure; finals wait for room unless the service is shutting down.
func (s *Service) deliver(frag Fragment) {
	s.fragMu.Lock()
	defer s.fragMu.Unlock()
	if s.fragsDone {
		return
	}
	select {
	case s.fragments <- frag:
		return
	default:
	}
	if !frag.IsFinal {
		return
	}
	// Close signals stopCh before taking fragMu, so this cannot wedge.
	select {
	case s.fragments <- frag:
	case <-s.stopCh:
	}
}

func (s *Service) writeLoop() {
	for {
		select {
		case <-s.stopCh:
			return
		case pcm := <-s.audioData:
			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()
			if conn == nil {
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
				log.Printf("assemblyai: send audio: %v", err)
				return
			}
		}
	}
}
