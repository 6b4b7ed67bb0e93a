package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"node.town/hark/capture"
)

// event is something that happened off the loop goroutine and must be
// applied on it.
type event interface {
	isEvent()
}

type settled struct {
	turn uint64
}

type transcribed struct {
	turn    uint64
	entryID string
	text    string
}

type toolDone struct {
	callID string
	name   string
	output string
}

func (settled) isEvent()     {}
func (transcribed) isEvent() {}
func (toolDone) isEvent()    {}

// run is the state of one connection, from Start to teardown.
type run struct {
	gen      uint64
	conn     Conn
	rec      capture.Recorder
	pipeline *capture.Pipeline

	turn   uint64
	settle *time.Timer

	events chan event
	stop   chan struct{}
	done   chan struct{}
}

func newRun(gen uint64, conn Conn, rec capture.Recorder) *run {
	return &run{
		gen:      gen,
		conn:     conn,
		rec:      rec,
		pipeline: capture.NewPipeline(rec),
		events:   make(chan event, 16),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// post hands ev to the loop, or drops it once the run is stopped.
func (r *run) post(ev event) {
	select {
	case r.events <- ev:
	case <-r.stop:
	}
}

// release stops the loop, then frees the recorder and the connection.
// Every step runs even if an earlier one fails.
func (r *run) release(logger *log.Logger) {
	close(r.stop)
	<-r.done
	if r.settle != nil {
		r.settle.Stop()
	}
	release(r.conn, r.rec, logger)
}

func release(conn Conn, rec capture.Recorder, logger *log.Logger) {
	err := errors.Join(
		guard("recorder", func() error {
			if rec != nil && rec.Recording() {
				return rec.Stop()
			}
			return nil
		}),
		guard("connection", conn.Close),
	)
	if err != nil {
		logger.Warn("teardown", "err", err)
	}
}

func guard(what string, fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%s: panic: %v", what, p)
		}
	}()
	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

func (s *Session) loop(r *run) {
	defer close(r.done)

	volume := time.NewTicker(s.opts.VolumeInterval)
	defer volume.Stop()

	var keepalive <-chan time.Time
	if s.opts.KeepaliveURL != "" {
		t := time.NewTicker(s.opts.KeepaliveInterval)
		defer t.Stop()
		keepalive = t.C
	}

	var chunks <-chan capture.Chunk
	if r.rec != nil {
		chunks = r.rec.Chunks()
	}
	opened := r.conn.Opened()
	messages := r.conn.Messages()

	for {
		select {
		case <-r.stop:
			return
		case <-r.conn.Lost():
			go s.shutdown(r.gen, StatusLost)
			return
		case <-opened:
			opened = nil
			s.handleOpened(r)
		case raw, ok := <-messages:
			if !ok {
				go s.shutdown(r.gen, StatusLost)
				return
			}
			s.handleMessage(r, raw)
		case c, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			s.handleChunk(r, c)
		case <-volume.C:
			s.sampleVolume(r)
		case <-keepalive:
			go s.ping(r)
		case ev := <-r.events:
			s.handleEvent(r, ev)
		}
	}
}

func (s *Session) ping(r *run) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.opts.KeepaliveURL, nil)
	if err != nil {
		s.log.Warn("keepalive", "err", err)
		return
	}
	resp, err := s.opts.HTTPClient.Do(req)
	if err != nil {
		s.log.Warn("keepalive", "err", err)
		return
	}
	resp.Body.Close()
	s.log.Debug("keepalive", "status", resp.StatusCode, "gen", r.gen)
}
