package session

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"node.town/hark/audio"
	"node.town/hark/capture"
	"node.town/hark/rtc"
)

// Conn is an open realtime connection as the session sees it.
type Conn interface {
	Opened() <-chan struct{}
	Lost() <-chan struct{}
	Messages() <-chan []byte
	Audio() *audio.Stream
	SendText(text string) error
	SetMuted(muted bool)
	Level() float64
	Close() error
}

type Transport interface {
	Open(ctx context.Context, voice string) (Conn, error)
}

type TransportFunc func(ctx context.Context, voice string) (Conn, error)

func (f TransportFunc) Open(ctx context.Context, voice string) (Conn, error) {
	return f(ctx, voice)
}

// Negotiated opens connections through n.
func Negotiated(n *rtc.Negotiator) Transport {
	return TransportFunc(func(ctx context.Context, voice string) (Conn, error) {
		c, err := n.Open(ctx, voice)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}

// RecorderFactory starts a recorder on the connection's microphone
// stream.
type RecorderFactory func(stream *audio.Stream) (capture.Recorder, error)

func OggRecorders(slice time.Duration, logger *log.Logger) RecorderFactory {
	return func(stream *audio.Stream) (capture.Recorder, error) {
		mime := capture.ChooseEncoding(
			capture.DefaultEncodings,
			capture.SupportsOgg,
			capture.FallbackEncoding,
		)
		rec, err := capture.NewOggRecorder(stream, mime, slice, logger)
		if err != nil {
			return nil, err
		}
		rec.Start()
		return rec, nil
	}
}
