package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Aryanpatel2001/voiceflow/internal/audio"
)

const elevenLabsHost = "https://api.elevenlabs.io"

// ElevenLabsClient synthesizes speech over the HTTP streaming endpoint and
// buffers the result. output_format is picked from the requested audio
// format, so telephony gets ulaw_8000 straight off the API with no local
// transcode.
type ElevenLabsClient struct {
	HTTPClient *http.Client
	APIKey     string
	VoiceID    string
	Model      string
	BaseURL    string
}

func NewElevenLabsClient(apiKey, voiceID string) *ElevenLabsClient {
	return &ElevenLabsClient{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		APIKey:     apiKey,
		VoiceID:    voiceID,
		Model:      "eleven_flash_v2_5",
		BaseURL:    elevenLabsHost,
	}
}

func (e *ElevenLabsClient) Synthesize(ctx context.Context, text string, f audio.Format) ([]byte, error) {
	if e.APIKey == "" || e.VoiceID == "" {
		return nil, fmt.Errorf("elevenlabs: api key or voice id missing")
	}
	format, err := outputFormat(f)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(e.BaseURL + "/v1/text-to-speech/" + e.VoiceID + "/stream")
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: bad base url: %w", err)
	}
	q := u.Query()
	q.Set("output_format", format)
	q.Set("optimize_streaming_latency", "2")
	u.RawQuery = q.Encode()

	payload := map[string]any{
		"model_id": e.Model,
		"text":     text,
		"voice_settings": map[string]any{
			"stability":         0.4,
			"similarity_boost":  0.7,
			"style":             0.0,
			"use_speaker_boost": true,
		},
	}
	buf, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", e.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("elevenlabs: status=%d body=%s", resp.StatusCode, string(b))
	}

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read stream: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("elevenlabs: empty audio for %q", text)
	}
	return out, nil
}

// outputFormat maps an audio format onto an ElevenLabs output_format value.
func outputFormat(f audio.Format) (string, error) {
	if f.Encoding == audio.EncodingMulaw {
		if f.SampleRate != 8000 {
			return "", fmt.Errorf("elevenlabs: mulaw only at 8000Hz, got %d", f.SampleRate)
		}
		return "ulaw_8000", nil
	}
	switch f.SampleRate {
	case 8000, 16000, 24000, 48000:
		return fmt.Sprintf("pcm_%d", f.SampleRate), nil
	default:
		return "", fmt.Errorf("elevenlabs: unsupported sample rate %d", f.SampleRate)
	}
}
