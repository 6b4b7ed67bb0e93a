package audio

import (
	"fmt"
	"math"
	"sync"

	"gopkg.in/hraban/opus.v2"
)

// LevelMeter decodes remote Opus frames and keeps the RMS level of the
// most recent one, in 0..1.
type LevelMeter struct {
	mu    sync.Mutex
	dec   *opus.Decoder
	pcm   []int16
	level float64
}

func NewLevelMeter() (*LevelMeter, error) {
	dec, err := opus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}
	return &LevelMeter{
		dec: dec,
		// 120ms is the longest Opus frame
		pcm: make([]int16, SampleRate/1000*120*Channels),
	}, nil
}

func (m *LevelMeter) Write(payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, err := m.dec.Decode(payload, m.pcm)
	if err != nil {
		return err
	}
	m.level = RMS(m.pcm[:n*Channels])
	return nil
}

func (m *LevelMeter) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

func (m *LevelMeter) Reset() {
	m.mu.Lock()
	m.level = 0
	m.mu.Unlock()
}

// RMS returns the root mean square of samples scaled to 0..1.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768
		sum += v * v
	}
	return math.Min(1, math.Sqrt(sum/float64(len(samples))))
}
