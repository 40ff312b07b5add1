package tts

import (
	"context"

	"github.com/Aryanpatel2001/voiceflow/internal/audio"
)

// Synthesizer turns a sentence of agent text into PCM (or mulaw) bytes in the
// transport's native format. Implementations buffer the full utterance; the
// session layer frames and paces it onto the wire, which keeps barge-in a
// pure transport concern (drop the buffer, clear the jitter queue).
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, f audio.Format) ([]byte, error)
}
