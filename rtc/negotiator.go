// Package rtc sets up the realtime media connection: microphone, session
// credential, peer connection, the "oai-events" data channel and the SDP
// exchange.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/pion/randutil"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"node.town/hark/audio"
)

const (
	EventsChannel = "oai-events"

	idRunes = "abcdefghijklmnopqrstuvwxyz0123456789"
)

type Config struct {
	RealtimeURL string
	Model       string
	ICEServers  []string
	HTTPClient  *http.Client
}

type Negotiator struct {
	cfg       Config
	mic       audio.Microphone
	tokens    TokenSource
	newPlayer func() (audio.Player, error)
	log       *log.Logger
}

// NewNegotiator wires the collaborators of Open. newPlayer may be nil to
// discard remote audio.
func NewNegotiator(
	cfg Config,
	mic audio.Microphone,
	tokens TokenSource,
	newPlayer func() (audio.Player, error),
	logger *log.Logger,
) *Negotiator {
	if logger == nil {
		logger = log.Default()
	}
	if newPlayer == nil {
		newPlayer = func() (audio.Player, error) { return audio.Discard{}, nil }
	}
	return &Negotiator{
		cfg:       cfg,
		mic:       mic,
		tokens:    tokens,
		newPlayer: newPlayer,
		log:       logger,
	}
}

// Open runs the whole setup sequence. On any failure everything built so
// far is released and a *PermissionError, *AuthError or
// *NegotiationError is returned.
func (n *Negotiator) Open(ctx context.Context, voice string) (*Conn, error) {
	c := newConn(n.log)

	stream, err := n.mic.Open(ctx)
	if err != nil {
		return nil, &PermissionError{Err: err}
	}
	c.mic = stream

	token, err := n.tokens.Token(ctx, voice)
	if err != nil {
		c.Close()
		var authErr *AuthError
		if errors.As(err, &authErr) {
			return nil, err
		}
		return nil, &AuthError{Err: err}
	}

	if err := n.connect(ctx, c, voice, token); err != nil {
		c.Close()
		var negErr *NegotiationError
		if errors.As(err, &negErr) {
			return nil, err
		}
		return nil, &NegotiationError{Stage: "setup", Err: err}
	}

	n.log.Info("connected", "voice", voice, "model", n.cfg.Model)
	return c, nil
}

func (n *Negotiator) connect(ctx context.Context, c *Conn, voice, token string) error {
	config := webrtc.Configuration{}
	if len(n.cfg.ICEServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: n.cfg.ICEServers}}
	}
	pc, err := webrtc.NewPeerConnection(config)
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}
	c.pc = pc

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		n.log.Debug("peer", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			c.markLost()
		}
	})

	dc, err := pc.CreateDataChannel(EventsChannel, nil)
	if err != nil {
		return fmt.Errorf("create data channel: %w", err)
	}
	c.dc = dc
	dc.OnOpen(c.markOpened)
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.deliver(msg.Data)
	})

	player, err := n.newPlayer()
	if err != nil {
		return fmt.Errorf("start playback: %w", err)
	}
	c.player = player

	meter, err := audio.NewLevelMeter()
	if err != nil {
		return err
	}
	c.meter = meter

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		n.log.Info("remote track", "codec", track.Codec().MimeType)
		for {
			pkt, _, err := track.ReadRTP()
			if err != nil {
				return
			}
			if err := c.player.WriteRTP(pkt); err != nil {
				n.log.Warn("playback", "err", err)
			}
			if err := c.meter.Write(pkt.Payload); err != nil {
				n.log.Debug("level", "err", err)
			}
		}
	})

	if err := n.addMicTrack(c); err != nil {
		return err
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return &NegotiationError{Stage: "ice", Err: ctx.Err()}
	}

	answer, err := ExchangeSDP(
		ctx,
		n.cfg.HTTPClient,
		n.cfg.RealtimeURL,
		n.cfg.Model,
		voice,
		token,
		pc.LocalDescription().SDP,
	)
	if err != nil {
		return err
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		return &NegotiationError{Stage: "answer", Err: err}
	}
	return nil
}

func (n *Negotiator) addMicTrack(c *Conn) error {
	streamID, err := randutil.GenerateCryptoRandomString(16, idRunes)
	if err != nil {
		return err
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: audio.SampleRate,
			Channels:  audio.Channels,
		},
		"audio",
		"hark-"+streamID,
	)
	if err != nil {
		return fmt.Errorf("create local track: %w", err)
	}
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("add local track: %w", err)
	}

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	packets := c.mic.Subscribe(64)
	go func() {
		defer c.wg.Done()
		for p := range packets {
			if err := track.WriteSample(media.Sample{Data: p.Payload, Duration: p.Duration()}); err != nil {
				n.log.Debug("mic track", "err", err)
			}
		}
	}()
	return nil
}

// Conn is an open realtime connection.
type Conn struct {
	pc     *webrtc.PeerConnection
	dc     *webrtc.DataChannel
	mic    *audio.Stream
	player audio.Player
	meter  *audio.LevelMeter

	opened    chan struct{}
	openOnce  sync.Once
	lost      chan struct{}
	lostOnce  sync.Once
	messages  chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	log *log.Logger
}

func newConn(logger *log.Logger) *Conn {
	return &Conn{
		opened:   make(chan struct{}),
		lost:     make(chan struct{}),
		messages: make(chan []byte, 256),
		closed:   make(chan struct{}),
		log:      logger,
	}
}

// Opened is closed once the data channel is ready.
func (c *Conn) Opened() <-chan struct{} { return c.opened }

// Lost is closed when the peer connection fails or closes.
func (c *Conn) Lost() <-chan struct{} { return c.lost }

// Messages delivers inbound data channel messages in arrival order.
func (c *Conn) Messages() <-chan []byte { return c.messages }

// Audio is the microphone stream feeding the outbound track.
func (c *Conn) Audio() *audio.Stream { return c.mic }

func (c *Conn) markOpened() {
	c.openOnce.Do(func() { close(c.opened) })
}

func (c *Conn) markLost() {
	c.lostOnce.Do(func() { close(c.lost) })
}

func (c *Conn) deliver(data []byte) {
	msg := make([]byte, len(data))
	copy(msg, data)
	select {
	case c.messages <- msg:
	case <-c.closed:
	}
}

func (c *Conn) SendText(text string) error {
	if c.dc == nil || c.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrChannelNotOpen
	}
	return c.dc.SendText(text)
}

func (c *Conn) SetMuted(muted bool) {
	if c.mic != nil {
		c.mic.SetMuted(muted)
	}
}

// Level is the current remote audio level in 0..1.
func (c *Conn) Level() float64 {
	if c.meter == nil {
		return 0
	}
	return c.meter.Level()
}

// Close releases everything. Each release is attempted even when an
// earlier one fails; calling Close again does nothing.
func (c *Conn) Close() error {
	var errs []error
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.dc != nil {
			if err := c.dc.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close data channel: %w", err))
			}
		}
		if c.pc != nil {
			if err := c.pc.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close peer connection: %w", err))
			}
		}
		if c.player != nil {
			if err := c.player.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close playback: %w", err))
			}
		}
		if c.mic != nil {
			if err := c.mic.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close microphone: %w", err))
			}
		}
		c.wg.Wait()
		if c.meter != nil {
			c.meter.Reset()
		}
	})
	return errors.Join(errs...)
}
