package audio

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

var ErrNoPlaybackTool = errors.New("ffplay not found in PATH")

// Player consumes the remote audio track.
type Player interface {
	WriteRTP(packet *rtp.Packet) error
	Close() error
}

// FFplayPlayer pipes the remote Opus packets as an Ogg stream into ffplay.
type FFplayPlayer struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	ogg    *oggwriter.OggWriter
	closed bool
	log    *log.Logger
}

func NewFFplayPlayer(logger *log.Logger) (*FFplayPlayer, error) {
	if logger == nil {
		logger = log.Default()
	}
	if _, err := exec.LookPath("ffplay"); err != nil {
		return nil, ErrNoPlaybackTool
	}

	cmd := exec.Command("ffplay",
		"-hide_banner", "-loglevel", "error",
		"-nodisp", "-autoexit",
		"-fflags", "nobuffer", "-flags", "low_delay",
		"-probesize", "32", "-analyzeduration", "0",
		"-f", "ogg", "-i", "pipe:0",
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffplay stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffplay: %w", err)
	}

	ogg, err := oggwriter.NewWith(stdin, SampleRate, Channels)
	if err != nil {
		_ = stdin.Close()
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, fmt.Errorf("create OGG writer: %w", err)
	}

	return &FFplayPlayer{cmd: cmd, stdin: stdin, ogg: ogg, log: logger}, nil
}

func (p *FFplayPlayer) WriteRTP(packet *rtp.Packet) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	return p.ogg.WriteRTP(packet)
}

func (p *FFplayPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	err := p.ogg.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	_ = p.cmd.Wait()
	p.log.Debug("playback closed")
	return err
}

// Discard drops remote audio; used when playback is disabled.
type Discard struct{}

func (Discard) WriteRTP(*rtp.Packet) error { return nil }
func (Discard) Close() error               { return nil }
