package audiofeature

import (
	"sync"
	"time"

	"go.parley.dev/parley/internal/types"
)

// DefaultInterval is the analysis cadence.
const DefaultInterval = 50 * time.Millisecond

// Meter runs one extractor on a fixed tick over a live audio stream. Its
// lifetime follows the stream, not the session: a stream can end while the
// session stays connected, and the meter simply decays to silence until
// stopped.
type Meter struct {
	mu      sync.Mutex
	buf     []float32 // most recent window of samples
	fresh   bool      // samples arrived since the last tick
	running bool
	stop    chan struct{}

	extractor *Extractor
	interval  time.Duration
	frames    chan types.AudioFeatureFrame
}

// NewMeter creates a meter for the named audio source.
func NewMeter(source string, interval time.Duration) *Meter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Meter{
		extractor: NewExtractor(source),
		interval:  interval,
		frames:    make(chan types.AudioFeatureFrame, 16),
	}
}

// Frames returns the output channel. A frame supersedes all previous ones;
// consumers that fall behind lose only stale frames.
func (m *Meter) Frames() <-chan types.AudioFeatureFrame {
	return m.frames
}

// Feed appends captured samples. Only the most recent analysis window is
// retained.
func (m *Meter) Feed(samples []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.buf = append(m.buf, samples...)
	if len(m.buf) > DefaultWindowSize {
		m.buf = m.buf[len(m.buf)-DefaultWindowSize:]
	}
	m.fresh = true
}

// Start begins the analysis loop. Restartable after Stop.
func (m *Meter) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	go m.loop(m.stop)
}

// Stop halts the analysis loop. Idempotent.
func (m *Meter) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	m.running = false
	close(m.stop)
	m.buf = m.buf[:0]
	m.fresh = false
}

func (m *Meter) loop(stop chan struct{}) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *Meter) tick() {
	m.mu.Lock()
	var window []float32
	if m.fresh {
		window = make([]float32, len(m.buf))
		copy(window, m.buf)
		m.fresh = false
	}
	m.mu.Unlock()

	// A nil window analyzes as silence, so features decay when no signal
	// arrives.
	frame := m.extractor.Process(window)

	select {
	case m.frames <- frame:
	default:
	}
}
