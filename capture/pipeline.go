package capture

import (
	"bytes"

	"node.town/hark/audio"
)

// Pipeline buffers the recorder's chunks for the current speech turn.
// It is not safe for concurrent use; the session loop owns it.
type Pipeline struct {
	rec     Recorder
	segment uint64
	chunks  [][]byte
}

func NewPipeline(rec Recorder) *Pipeline {
	return &Pipeline{rec: rec}
}

// Reset empties the buffer at the start of a turn and moves the
// recorder onto a fresh segment.
func (p *Pipeline) Reset() {
	p.chunks = nil
	if p.rec != nil {
		p.segment = p.rec.NewSegment()
	}
}

// Append buffers a chunk. Empty chunks and chunks from an earlier
// segment are dropped.
func (p *Pipeline) Append(c Chunk) bool {
	if len(c.Data) == 0 || c.Segment != p.segment {
		return false
	}
	p.chunks = append(p.chunks, c.Data)
	return true
}

// RequestFlush asks an active recorder to deliver its pending data.
func (p *Pipeline) RequestFlush() {
	if p.rec != nil && p.rec.Recording() {
		p.rec.RequestData()
	}
}

func (p *Pipeline) Len() int {
	return len(p.chunks)
}

// Consolidate joins the buffered chunks in arrival order and clears the
// buffer. ok is false when there was nothing to join.
func (p *Pipeline) Consolidate() (clip audio.Clip, ok bool) {
	if len(p.chunks) == 0 {
		return audio.Clip{}, false
	}
	clip = audio.Clip{
		Data:     bytes.Join(p.chunks, nil),
		MIMEType: p.mimeType(),
	}
	p.chunks = nil
	return clip, true
}

func (p *Pipeline) mimeType() string {
	if p.rec == nil {
		return FallbackEncoding
	}
	return p.rec.MIMEType()
}
