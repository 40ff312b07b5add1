package rtc

import (
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v3/pkg/media"

	"github.com/Aryanpatel2001/voiceflow/internal/audio"
)

type recordingWriter struct {
	mu      sync.Mutex
	samples []media.Sample
}

func (w *recordingWriter) WriteSample(s media.Sample) error {
	w.mu.Lock()
	w.samples = append(w.samples, s)
	w.mu.Unlock()
	return nil
}

func (w *recordingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.samples)
}

func silentFrame() []byte {
	return make([]byte, frameSamples*2)
}

func TestTransportPacesFramesThenAcksMark(t *testing.T) {
	w := &recordingWriter{}
	marked := make(chan string, 1)
	tr, err := NewTransport(w, func(name string) { marked <- name })
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	defer tr.Close()

	if got := tr.Format(); got != audio.Room48k {
		t.Fatalf("Format = %v, want %v", got, audio.Room48k)
	}

	for i := 0; i < 3; i++ {
		if err := tr.SendAudio(silentFrame()); err != nil {
			t.Fatalf("SendAudio: %v", err)
		}
	}
	if err := tr.SendMark("m1"); err != nil {
		t.Fatalf("SendMark: %v", err)
	}

	select {
	case name := <-marked:
		if name != "m1" {
			t.Fatalf("mark = %q, want m1", name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("mark never acknowledged")
	}
	if w.count() == 0 {
		t.Fatal("no samples written before mark ack")
	}
}

func TestTransportClearDropsBacklog(t *testing.T) {
	w := &recordingWriter{}
	tr, err := NewTransport(w, nil)
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	defer tr.Close()

	for i := 0; i < 10; i++ {
		if err := tr.SendAudio(silentFrame()); err != nil {
			t.Fatalf("SendAudio: %v", err)
		}
	}
	if err := tr.SendMark("late"); err != nil {
		t.Fatalf("SendMark: %v", err)
	}
	if err := tr.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if got := len(tr.queue); got != 0 {
		t.Fatalf("queue length after Clear = %d, want 0", got)
	}
}

func TestTransportSendAfterClose(t *testing.T) {
	w := &recordingWriter{}
	tr, err := NewTransport(w, nil)
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := tr.SendAudio(silentFrame()); err == nil {
		t.Fatal("SendAudio after Close should fail")
	}
	if err := tr.SendMark("m"); err == nil {
		t.Fatal("SendMark after Close should fail")
	}
}

func TestTransportRejectsShortFrame(t *testing.T) {
	w := &recordingWriter{}
	tr, err := NewTransport(w, nil)
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	defer tr.Close()
	if err := tr.SendAudio(make([]byte, 100)); err == nil {
		t.Fatal("short frame should be rejected")
	}
}
