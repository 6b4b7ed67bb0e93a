package audio

import (
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

const (
	SampleRate = 48000
	Channels   = 2

	// 20ms of audio at 48kHz
	FrameSamples = 960
)

// SilentFrame is an Opus frame that decodes to 20ms of silence.
var SilentFrame = []byte{0xf8, 0xff, 0xfe}

// OggOpusWriter frames Opus packets into an Ogg stream, filling gaps in
// the sample index with silent frames.
type OggOpusWriter struct {
	writer        *oggwriter.OggWriter
	lastSampleIdx int64
	started       bool
	log           *log.Logger
}

func NewOggOpusWriter(w io.Writer, log *log.Logger) (*OggOpusWriter, error) {
	oggWriter, err := oggwriter.NewWith(w, SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("create OGG writer: %w", err)
	}
	return &OggOpusWriter{
		writer: oggWriter,
		log:    log,
	}, nil
}

func (w *OggOpusWriter) WritePacket(payload []byte, sampleIdx int64) error {
	if w.started {
		gap := sampleIdx - w.lastSampleIdx
		if gap > FrameSamples {
			if err := w.insertSilence(gap); err != nil {
				return err
			}
		}
	}

	if err := w.writer.WriteRTP(&rtp.Packet{
		Header: rtp.Header{
			Timestamp: uint32(sampleIdx),
		},
		Payload: payload,
	}); err != nil {
		return fmt.Errorf("write Opus packet: %w", err)
	}

	w.lastSampleIdx = sampleIdx
	w.started = true
	return nil
}

func (w *OggOpusWriter) insertSilence(gap int64) error {
	silentPacketsCount := gap/FrameSamples - 1
	if silentPacketsCount <= 0 {
		return nil
	}
	w.log.Debug("silence", "count", silentPacketsCount, "gap", gap)
	for j := int64(1); j <= silentPacketsCount; j++ {
		if err := w.writer.WriteRTP(&rtp.Packet{
			Header: rtp.Header{
				Timestamp: uint32(w.lastSampleIdx + (j * FrameSamples)),
			},
			Payload: SilentFrame,
		}); err != nil {
			return fmt.Errorf("write silent Opus packet: %w", err)
		}
	}
	return nil
}

func (w *OggOpusWriter) Close() error {
	return w.writer.Close()
}
