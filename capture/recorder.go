package capture

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"node.town/hark/audio"
)

// Chunk is one time slice of recorder output. Chunks of the same segment
// concatenate into a single playable file.
type Chunk struct {
	Segment uint64
	Data    []byte
}

// Recorder slices a live stream into chunks.
type Recorder interface {
	Chunks() <-chan Chunk
	// RequestData asks for whatever has been captured so far to be
	// delivered now instead of at the next slice.
	RequestData()
	// NewSegment discards pending data and starts a fresh file.
	NewSegment() uint64
	Recording() bool
	MIMEType() string
	Stop() error
}

// OggRecorder records a microphone stream into Ogg/Opus chunks. It reads
// from its own subscription so the transport track is unaffected.
type OggRecorder struct {
	stream *audio.Stream
	sub    <-chan audio.Packet
	slice  time.Duration
	mime   string

	chunks    chan Chunk
	flush     chan struct{}
	stop      chan struct{}
	done      chan struct{}
	segment   atomic.Uint64
	recording atomic.Bool
	stopOnce  sync.Once

	log *log.Logger
}

// SupportsOgg reports whether mime is a container OggRecorder can produce.
func SupportsOgg(mime string) bool {
	base, _, _ := strings.Cut(mime, ";")
	return strings.TrimSpace(strings.ToLower(base)) == "audio/ogg"
}

func NewOggRecorder(stream *audio.Stream, mime string, slice time.Duration, logger *log.Logger) (*OggRecorder, error) {
	if logger == nil {
		logger = log.Default()
	}
	if !SupportsOgg(mime) {
		return nil, fmt.Errorf("unsupported recorder encoding %q", mime)
	}
	if slice <= 0 {
		slice = 250 * time.Millisecond
	}
	return &OggRecorder{
		stream: stream,
		slice:  slice,
		mime:   mime,
		chunks: make(chan Chunk, 16),
		flush:  make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		log:    logger,
	}, nil
}

// Start begins continuous slicing.
func (r *OggRecorder) Start() {
	r.sub = r.stream.Subscribe(64)
	r.recording.Store(true)
	go r.run()
}

func (r *OggRecorder) Chunks() <-chan Chunk { return r.chunks }
func (r *OggRecorder) MIMEType() string     { return r.mime }
func (r *OggRecorder) Recording() bool      { return r.recording.Load() }

func (r *OggRecorder) RequestData() {
	select {
	case r.flush <- struct{}{}:
	default:
	}
}

func (r *OggRecorder) NewSegment() uint64 {
	return r.segment.Add(1)
}

func (r *OggRecorder) Stop() error {
	r.stopOnce.Do(func() {
		r.recording.Store(false)
		close(r.stop)
		if r.sub != nil {
			<-r.done
			r.stream.Unsubscribe(r.sub)
		}
	})
	return nil
}

// segmentWriter is the Ogg stream of one segment.
type segmentWriter struct {
	id        uint64
	buf       bytes.Buffer
	ogg       *audio.OggOpusWriter
	sampleIdx int64
	pending   bool
}

func (r *OggRecorder) newSegmentWriter(id uint64) (*segmentWriter, error) {
	w := &segmentWriter{id: id}
	ogg, err := audio.NewOggOpusWriter(&w.buf, r.log)
	if err != nil {
		return nil, err
	}
	w.ogg = ogg
	return w, nil
}

func (r *OggRecorder) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.slice)
	defer ticker.Stop()

	w, err := r.newSegmentWriter(r.segment.Load())
	if err != nil {
		r.log.Error("recorder", "err", err)
		r.recording.Store(false)
		return
	}

	write := func(p audio.Packet) {
		if seg := r.segment.Load(); seg != w.id {
			next, err := r.newSegmentWriter(seg)
			if err != nil {
				r.log.Error("recorder segment", "err", err)
				return
			}
			w = next
		}
		if err := w.ogg.WritePacket(p.Payload, w.sampleIdx); err != nil {
			r.log.Warn("recorder write", "err", err)
			return
		}
		w.sampleIdx += int64(p.Samples)
		w.pending = true
	}

	emit := func() {
		if !w.pending || w.id != r.segment.Load() {
			return
		}
		data := bytes.Clone(w.buf.Bytes())
		w.buf.Reset()
		w.pending = false
		select {
		case r.chunks <- Chunk{Segment: w.id, Data: data}:
		case <-r.stop:
		}
	}

	for {
		select {
		case <-r.stop:
			return
		case p, ok := <-r.sub:
			if !ok {
				r.recording.Store(false)
				return
			}
			write(p)
		case <-ticker.C:
			emit()
		case <-r.flush:
			// everything published before the request belongs in this chunk
		drain:
			for {
				select {
				case p, ok := <-r.sub:
					if !ok {
						break drain
					}
					write(p)
				default:
					break drain
				}
			}
			emit()
		}
	}
}
