// Package session runs one realtime voice conversation: it owns the
// connection, the capture pipeline and the conversation log, and applies
// every inbound event to them in arrival order.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"node.town/hark/capture"
	"node.town/hark/conversation"
	"node.town/hark/rtc"
	"node.town/hark/stt"
	"node.town/hark/tools"
)

const (
	StatusIdle          = "Idle"
	StatusConnecting    = "Connecting"
	StatusConnected     = "Connected"
	StatusMicDenied     = "Microphone access denied"
	StatusTokenFailed   = "Failed to get session token"
	StatusConnectFailed = "Failed to connect"
	StatusLost          = "Connection lost"

	// shown while the user is still talking
	Placeholder = "..."
)

var (
	ErrSessionActive = errors.New("session already active")
	ErrNotConnected  = errors.New("no active session")
	ErrStopped       = errors.New("session stopped while connecting")
)

type Options struct {
	Transport   Transport
	Transcriber stt.Transcriber
	NewRecorder RecorderFactory
	Tools       *tools.Registry

	Instructions string

	SettleDelay       time.Duration
	VolumeInterval    time.Duration
	KeepaliveURL      string
	KeepaliveInterval time.Duration
	HTTPClient        *http.Client

	Log *log.Logger
}

// RawMessage is one inbound side-channel message kept for diagnostics.
// Seq restarts at 1 for every connection; Epoch tells connections apart.
type RawMessage struct {
	Epoch    uint64          `json:"epoch"`
	Seq      int             `json:"seq"`
	Received time.Time       `json:"received"`
	Data     json.RawMessage `json:"data"`
}

type Session struct {
	opts Options
	log  *log.Logger

	mu          sync.RWMutex
	cur         *run
	gen         uint64
	status      string
	active      bool
	micMuted    bool
	volume      float64
	conv        *conversation.Log
	raw         []RawMessage
	rawSeq      int
	ephemeralID string
	// transcripts of superseded turns still owed to the ephemeral entry
	carried string

	updates chan struct{}
}

func New(opts Options) (*Session, error) {
	if opts.Transport == nil {
		return nil, errors.New("session: no transport")
	}
	if opts.Transcriber == nil {
		return nil, errors.New("session: no transcriber")
	}
	if opts.Tools == nil {
		opts.Tools = tools.NewRegistry()
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = 300 * time.Millisecond
	}
	if opts.VolumeInterval <= 0 {
		opts.VolumeInterval = 100 * time.Millisecond
	}
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = 30 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Log == nil {
		opts.Log = log.Default()
	}

	return &Session{
		opts:    opts,
		log:     opts.Log,
		status:  StatusIdle,
		conv:    conversation.NewLog(),
		updates: make(chan struct{}, 1),
	}, nil
}

// Start opens a connection with the given voice. Failures leave the
// session idle with a status describing what went wrong.
func (s *Session) Start(ctx context.Context, voice string) error {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return ErrSessionActive
	}
	s.gen++
	gen := s.gen
	s.active = true
	s.status = StatusConnecting
	s.notify()
	s.mu.Unlock()

	s.log.Info("start", "voice", voice)
	conn, err := s.opts.Transport.Open(ctx, voice)
	if err != nil {
		s.log.Error("connect", "err", err)
		s.mu.Lock()
		if s.gen == gen {
			s.reset()
			s.status = failureStatus(err)
			s.notify()
		}
		s.mu.Unlock()
		return err
	}

	var rec capture.Recorder
	if s.opts.NewRecorder != nil {
		rec, err = s.opts.NewRecorder(conn.Audio())
		if err != nil {
			s.log.Error("recorder", "err", err)
			rec = nil
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || !s.active {
		go release(conn, rec, s.log)
		return ErrStopped
	}
	r := newRun(gen, conn, rec)
	s.cur = r
	s.notify()
	go s.loop(r)
	return nil
}

// Stop tears the session down and resets all state. It is safe to call
// at any time, any number of times.
func (s *Session) Stop() {
	s.shutdown(0, "")
}

// shutdown stops the run of generation gen (any run when gen is 0) and
// leaves status as the final status text.
func (s *Session) shutdown(gen uint64, status string) {
	s.mu.Lock()
	if gen != 0 && gen != s.gen {
		s.mu.Unlock()
		return
	}
	r := s.cur
	wasActive := s.active
	s.cur = nil
	s.gen++
	s.reset()
	if status != "" {
		s.status = status
	}
	s.notify()
	s.mu.Unlock()

	if r != nil {
		r.release(s.log)
	}
	if wasActive {
		s.log.Info("stop", "status", status)
	}
}

// reset restores every field to its initial value.
func (s *Session) reset() {
	s.status = StatusIdle
	s.active = false
	s.micMuted = false
	s.volume = 0
	s.conv.Reset()
	s.raw = nil
	s.rawSeq = 0
	s.ephemeralID = ""
	s.carried = ""
}

func failureStatus(err error) string {
	var (
		permErr *rtc.PermissionError
		authErr *rtc.AuthError
	)
	switch {
	case errors.As(err, &permErr):
		return StatusMicDenied
	case errors.As(err, &authErr):
		return StatusTokenFailed
	default:
		return StatusConnectFailed
	}
}

// ToggleMic flips the mute flag and returns the new value. A muted
// microphone keeps sending silence.
func (s *Session) ToggleMic() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.micMuted = !s.micMuted
	if s.cur != nil {
		s.cur.conn.SetMuted(s.micMuted)
	}
	s.notify()
	return s.micMuted
}

// SendText adds a typed user message and asks for a response.
func (s *Session) SendText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return ErrNotConnected
	}
	s.conv.Append(conversation.Entry{
		Role:    conversation.RoleUser,
		Text:    text,
		IsFinal: true,
		Status:  conversation.StatusFinal,
	})
	s.notify()
	return s.sendUserText(s.cur, text)
}

// RegisterFunction makes a tool available to the remote endpoint.
// Tools registered after the connection opened are dispatched but not
// declared until the next session.
func (s *Session) RegisterFunction(name string, handler tools.Handler) error {
	return s.opts.Tools.RegisterFunc(name, handler)
}

func (s *Session) Tools() *tools.Registry {
	return s.opts.Tools
}

func (s *Session) Status() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Session) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *Session) MicMuted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.micMuted
}

func (s *Session) Volume() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.volume
}

func (s *Session) Conversation() []conversation.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conv.Entries()
}

// RawMessages returns the inbound messages with a sequence number
// greater than since.
func (s *Session) RawMessages(since int) []RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if since >= s.rawSeq {
		return nil
	}
	start := len(s.raw) - (s.rawSeq - since)
	if start < 0 {
		start = 0
	}
	out := make([]RawMessage, len(s.raw)-start)
	copy(out, s.raw[start:])
	return out
}

// Epoch changes whenever the session starts or stops. Messages from
// RawMessages carry the epoch they were received in.
func (s *Session) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// Updates signals after state changes. Signals are coalesced.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

func (s *Session) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}
