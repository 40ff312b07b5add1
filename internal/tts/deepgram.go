package tts

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"

	"github.com/Aryanpatel2001/voiceflow/internal/audio"
)

// DeepgramClient synthesizes speech through the Deepgram speak websocket.
// The SDK delivers audio as binary frames; Synthesize collects them until
// the stream has been quiet for idleWindow, then returns the whole
// utterance.
type DeepgramClient struct {
	apiKey string
	model  string
}

const (
	dgIdleWindow  = 400 * time.Millisecond
	dgMaxDuration = 12 * time.Second
)

func NewDeepgramClient(apiKey, model string) *DeepgramClient {
	if model == "" {
		model = "aura-2-thalia-en"
	}
	return &DeepgramClient{apiKey: apiKey, model: model}
}

func (d *DeepgramClient) Synthesize(ctx context.Context, text string, f audio.Format) ([]byte, error) {
	if d.apiKey == "" {
		return nil, fmt.Errorf("deepgram: API key missing")
	}
	if text == "" {
		return nil, nil
	}
	encoding := "linear16"
	if f.Encoding == audio.EncodingMulaw {
		encoding = "mulaw"
	}
	options := &clientinterfaces.WSSpeakOptions{
		Model:      d.model,
		Encoding:   encoding,
		SampleRate: f.SampleRate,
	}

	var (
		mu       sync.Mutex
		buf      bytes.Buffer
		lastRecv time.Time
	)
	cb := &speakCallback{onBinary: func(data []byte) error {
		if len(data) == 0 {
			return nil
		}
		mu.Lock()
		buf.Write(data)
		lastRecv = time.Now()
		mu.Unlock()
		return nil
	}}

	dg, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
	if err != nil {
		return nil, fmt.Errorf("deepgram: create ws client: %w", err)
	}
	defer dg.Stop()

	if ok := dg.Connect(); !ok {
		return nil, fmt.Errorf("deepgram: connect failed")
	}
	if err := dg.SpeakWithText(text); err != nil {
		return nil, fmt.Errorf("deepgram: speak text: %w", err)
	}
	if err := dg.Flush(); err != nil {
		log.Printf("deepgram: flush error: %v", err)
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.Now().Add(dgMaxDuration)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			expired := time.Now().After(deadline)
			mu.Lock()
			got := buf.Len() > 0
			done := (got && time.Since(lastRecv) > dgIdleWindow) || expired
			var out []byte
			if done {
				out = append([]byte(nil), buf.Bytes()...)
			}
			mu.Unlock()
			if !done {
				continue
			}
			if len(out) == 0 {
				return nil, fmt.Errorf("deepgram: no audio within %s", dgMaxDuration)
			}
			return out, nil
		}
	}
}

type speakCallback struct{ onBinary func([]byte) error }

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakCallback) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (s *speakCallback) Error(*msginterfaces.ErrorResponse) error       { return nil }
func (s *speakCallback) UnhandledEvent([]byte) error                    { return nil }
func (s *speakCallback) Binary(byMsg []byte) error {
	if s.onBinary != nil {
		return s.onBinary(byMsg)
	}
	return nil
}
