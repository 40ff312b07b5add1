package rtc

import (
	"fmt"
	"sync"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/webrtc/v3/pkg/media"

	"github.com/Aryanpatel2001/voiceflow/internal/audio"
)

const frameSamples = 960 // 20ms at 48kHz

// sampleWriter is the slice of TrackLocalStaticSample the transport needs;
// tests substitute a recorder.
type sampleWriter interface {
	WriteSample(s media.Sample) error
}

// pacerItem is either one encoded opus frame or a mark checkpoint. WebRTC
// has no playback acknowledgment, so marks are synthesized locally when the
// pacer dequeues them: everything ahead of the mark has been handed to the
// track at realtime pace by then.
type pacerItem struct {
	pkt  []byte
	mark string
}

// Transport delivers agent audio to a WebRTC track: 48kHz PCM16 frames in,
// opus frames out, paced at one frame per 20ms so barge-in can drop the
// unplayed backlog.
type Transport struct {
	track  sampleWriter
	queue  chan pacerItem
	stopCh chan struct{}
	onMark func(name string)

	mu      sync.Mutex
	enc     *opus.Encoder
	stopped bool
}

// NewTransport builds the paced opus writer. onMark receives synthesized
// playback acknowledgments; wire it to Controller.HandleMark.
func NewTransport(track sampleWriter, onMark func(string)) (*Transport, error) {
	enc, err := opus.NewEncoder(48000, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}
	t := &Transport{
		track:  track,
		enc:    enc,
		queue:  make(chan pacerItem, 512),
		stopCh: make(chan struct{}),
		onMark: onMark,
	}
	go t.pacer()
	return t, nil
}

// SendAudio encodes one 20ms 48kHz PCM16 frame and queues it for pacing.
func (t *Transport) SendAudio(frame []byte) error {
	if len(frame) < frameSamples*2 {
		return fmt.Errorf("rtc transport: short frame %d bytes", len(frame))
	}
	pcm := make([]int16, frameSamples)
	for i := range pcm {
		pcm[i] = int16(uint16(frame[2*i]) | uint16(frame[2*i+1])<<8)
	}

	opusBuf := make([]byte, 4000)
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return fmt.Errorf("rtc transport closed")
	}
	n, err := t.enc.Encode(pcm, opusBuf)
	t.mu.Unlock()
	if err != nil {
		return fmt.Errorf("opus encode: %w", err)
	}
	if n == 0 {
		return nil
	}
	pkt := make([]byte, n)
	copy(pkt, opusBuf[:n])
	return t.push(pacerItem{pkt: pkt})
}

func (t *Transport) SendMark(name string) error {
	return t.push(pacerItem{mark: name})
}

// Clear drops every queued frame and mark immediately.
func (t *Transport) Clear() error {
	for {
		select {
		case <-t.queue:
		default:
			return nil
		}
	}
}

func (t *Transport) Format() audio.Format { return audio.Room48k }

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.stopped {
		t.stopped = true
		close(t.stopCh)
	}
	return nil
}

func (t *Transport) push(item pacerItem) error {
	select {
	case <-t.stopCh:
		return fmt.Errorf("rtc transport closed")
	case t.queue <- item:
		return nil
	}
}

// pacer hands one frame to the track per tick. Marks fire immediately when
// reached; they cost no tick.
func (t *Transport) pacer() {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			for {
				select {
				case item := <-t.queue:
					if item.mark != "" {
						if t.onMark != nil {
							t.onMark(item.mark)
						}
						continue
					}
					_ = t.track.WriteSample(media.Sample{Data: item.pkt, Duration: 20 * time.Millisecond})
				default:
				}
				break
			}
		}
	}
}
