package audio

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

func TestClipExtension(t *testing.T) {
	tests := []struct {
		mime string
		want string
	}{
		{"audio/webm;codecs=opus", "webm"},
		{"audio/ogg;codecs=opus", "ogg"},
		{"audio/ogg", "ogg"},
		{"audio/mp4", "mp4"},
		{"audio/wav", "wav"},
		{"audio/mpeg", "mp3"},
		{"", "webm"},
	}

	for _, tt := range tests {
		t.Run(tt.mime, func(t *testing.T) {
			c := Clip{MIMEType: tt.mime}
			if got := c.Extension(); got != tt.want {
				t.Errorf("Extension() = %q, want %q", got, tt.want)
			}
			if got := c.Filename(); got != "audio."+tt.want {
				t.Errorf("Filename() = %q", got)
			}
		})
	}
}

func TestRMS(t *testing.T) {
	tests := []struct {
		name    string
		samples []int16
		want    float64
	}{
		{"empty", nil, 0},
		{"silence", []int16{0, 0, 0, 0}, 0},
		{"full scale", []int16{-32768, -32768}, 1},
		{"half", []int16{16384, -16384}, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RMS(tt.samples); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("RMS() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStreamFanOut(t *testing.T) {
	s := NewStream(nil, log.New(&bytes.Buffer{}))
	a := s.Subscribe(4)
	b := s.Subscribe(4)

	s.Publish(Packet{Payload: []byte{1, 2, 3}, Samples: FrameSamples})
	s.SetMuted(true)
	s.Publish(Packet{Payload: []byte{4, 5, 6}, Samples: FrameSamples})

	for name, ch := range map[string]<-chan Packet{"a": a, "b": b} {
		first := <-ch
		if !bytes.Equal(first.Payload, []byte{1, 2, 3}) {
			t.Errorf("%s: first payload = %v", name, first.Payload)
		}
		second := <-ch
		if !bytes.Equal(second.Payload, SilentFrame) {
			t.Errorf("%s: muted payload = %v, want silent frame", name, second.Payload)
		}
	}
}

func TestStreamDropsWhenFull(t *testing.T) {
	s := NewStream(nil, log.New(&bytes.Buffer{}))
	ch := s.Subscribe(1)
	s.Publish(Packet{Payload: []byte{1}})
	s.Publish(Packet{Payload: []byte{2}})

	if got := <-ch; got.Payload[0] != 1 {
		t.Errorf("got payload %v", got.Payload)
	}
	select {
	case p := <-ch:
		t.Errorf("unexpected packet %v", p.Payload)
	default:
	}
}

func TestStreamCloseIsIdempotent(t *testing.T) {
	calls := 0
	s := NewStream(func() error { calls++; return nil }, log.New(&bytes.Buffer{}))
	ch := s.Subscribe(1)

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("closer called %d times", calls)
	}
	if _, ok := <-ch; ok {
		t.Errorf("subscription still open")
	}
	select {
	case <-s.Done():
	default:
		t.Errorf("Done not closed")
	}
	if _, ok := <-s.Subscribe(1); ok {
		t.Errorf("subscribe after close returned an open channel")
	}
}

func TestPacketDuration(t *testing.T) {
	if got := (Packet{Samples: FrameSamples}).Duration(); got != 20*time.Millisecond {
		t.Errorf("Duration() = %v", got)
	}
}

func TestOggOpusWriterFillsGaps(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewOggOpusWriter(&buf, log.New(&bytes.Buffer{}))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WritePacket([]byte{0xfc, 0x01}, 0); err != nil {
		t.Fatal(err)
	}
	// three frames later: two silent frames fill the gap
	if err := w.WritePacket([]byte{0xfc, 0x02}, 3*FrameSamples); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r, _, err := oggreader.NewWith(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	var pages int
	for {
		page, _, err := r.ParseNextPage()
		if err != nil {
			break
		}
		if bytes.HasPrefix(page, []byte("OpusTags")) {
			continue
		}
		pages++
	}
	if pages != 4 {
		t.Errorf("got %d audio pages, want 4", pages)
	}
}
