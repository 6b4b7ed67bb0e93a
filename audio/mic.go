package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

var ErrNoCaptureTool = errors.New("ffmpeg not found in PATH")

// Microphone opens a live Opus stream.
type Microphone interface {
	Open(ctx context.Context) (*Stream, error)
}

// FFmpegMicrophone captures the default input device with ffmpeg and
// reads the encoded Ogg/Opus pages it writes to stdout.
type FFmpegMicrophone struct {
	Device string
	Log    *log.Logger
}

func ffmpegArgs(goos, device string) ([]string, error) {
	var input []string
	switch goos {
	case "darwin":
		if device == "" {
			device = ":0"
		}
		input = []string{"-f", "avfoundation", "-i", device}
	case "linux":
		if device == "" {
			device = "default"
		}
		input = []string{"-f", "pulse", "-i", device}
	default:
		return nil, fmt.Errorf("mic capture not supported on %s", goos)
	}
	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, input...)
	args = append(args,
		"-ac", "2", "-ar", "48000",
		"-c:a", "libopus", "-b:a", "48k",
		"-frame_duration", "20",
		"-application", "voip",
		"-page_duration", "20000",
		"-f", "ogg", "-",
	)
	return args, nil
}

func (m *FFmpegMicrophone) Open(ctx context.Context) (*Stream, error) {
	logger := m.Log
	if logger == nil {
		logger = log.Default()
	}

	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, ErrNoCaptureTool
	}
	args, err := ffmpegArgs(runtime.GOOS, m.Device)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffmpeg stdout: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	kill := func() error {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		_ = cmd.Wait()
		return nil
	}

	// Blocks until ffmpeg has opened the device and written the Ogg
	// headers, or exited.
	reader, _, err := oggreader.NewWith(stdout)
	if err != nil {
		_ = kill()
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("open input device: %s", msg)
		}
		return nil, fmt.Errorf("read ogg header: %w", err)
	}

	stream := NewStream(kill, logger)
	go pump(reader, stream, logger)
	logger.Info("mic", "device", m.Device, "pid", cmd.Process.Pid)
	return stream, nil
}

// pump publishes every Opus page from reader until it ends.
func pump(reader *oggreader.OggReader, stream *Stream, logger *log.Logger) {
	defer stream.Close()

	var lastGranule uint64
	for {
		page, header, err := reader.ParseNextPage()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				logger.Warn("mic read", "err", err)
			}
			return
		}
		if bytes.HasPrefix(page, []byte("OpusTags")) {
			continue
		}

		samples := uint32(FrameSamples)
		if header.GranulePosition > lastGranule && lastGranule != 0 {
			samples = uint32(header.GranulePosition - lastGranule)
		}
		lastGranule = header.GranulePosition

		stream.Publish(Packet{Payload: page, Samples: samples})
	}
}
