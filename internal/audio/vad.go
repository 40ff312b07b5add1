package audio

import (
	"encoding/binary"
	"math"
	"sync"
	"time"
)

// defaultVoiceRMS is tuned conservatively for near-field speech; adjust per leg.
const defaultVoiceRMS = 250.0

// Detector is a lightweight RMS energy voice activity detector. The room leg
// uses it for barge-in, where waiting for a transcript fragment would add too
// much latency; the telephony leg relies on transcript fragments instead.
type Detector struct {
	mu        sync.Mutex
	threshold float64
	lastVoice time.Time
}

// NewDetector constructs a Detector. threshold <= 0 selects the default.
func NewDetector(threshold float64) *Detector {
	if threshold <= 0 {
		threshold = defaultVoiceRMS
	}
	return &Detector{threshold: threshold}
}

// Observe scans a 16-bit little-endian PCM buffer and records the time of the
// most recent frame whose energy crossed the voice threshold. Returns whether
// this buffer contained voice energy.
func (d *Detector) Observe(pcm []byte) bool {
	const minSamples = 80 // 10ms at 8kHz; smaller buffers are noise
	if len(pcm) < minSamples*2 {
		return false
	}
	step := 2
	if len(pcm) > 3200 {
		step = 4
	}
	var sumSquares float64
	count := 0
	for i := 0; i+1 < len(pcm); i += 2 * step {
		v := int16(binary.LittleEndian.Uint16(pcm[i : i+2]))
		sumSquares += float64(v) * float64(v)
		count++
	}
	if count == 0 {
		return false
	}
	rms := math.Sqrt(sumSquares / float64(count))
	if rms < d.threshold {
		return false
	}
	d.mu.Lock()
	d.lastVoice = time.Now()
	d.mu.Unlock()
	return true
}

// RecentlyActive reports whether voice energy was observed within the window.
func (d *Detector) RecentlyActive(window time.Duration) bool {
	d.mu.Lock()
	last := d.lastVoice
	d.mu.Unlock()
	return !last.IsZero() && time.Since(last) <= window
}
