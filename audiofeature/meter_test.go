package audiofeature

import (
	"testing"
	"time"
)

func TestMeter_EmitsFrames(t *testing.T) {
	m := NewMeter("remote", 5*time.Millisecond)
	m.Start()
	defer m.Stop()

	m.Feed(sine(DefaultWindowSize, 440, 0.5))

	select {
	case frame := <-m.Frames():
		if frame.Source != "remote" {
			t.Errorf("source = %q, want remote", frame.Source)
		}
		if len(frame.Waveform) != DefaultWaveformSize {
			t.Errorf("waveform length = %d, want %d", len(frame.Waveform), DefaultWaveformSize)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame emitted")
	}
}

func TestMeter_StartStopRestart(t *testing.T) {
	m := NewMeter("local", 5*time.Millisecond)

	m.Start()
	m.Start() // second start is a no-op
	m.Stop()
	m.Stop() // second stop is a no-op

	m.Start()
	defer m.Stop()
	m.Feed(sine(DefaultWindowSize, 440, 0.5))

	select {
	case <-m.Frames():
	case <-time.After(2 * time.Second):
		t.Fatal("no frame after restart")
	}
}

func TestMeter_DecaysWithoutInput(t *testing.T) {
	m := NewMeter("local", time.Millisecond)
	m.Start()
	defer m.Stop()

	m.Feed(sine(DefaultWindowSize, 440, 1.0))

	// Drain frames until the stale buffer has decayed back toward silence.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case frame := <-m.Frames():
			if frame.Volume < 0.01 {
				return
			}
		case <-deadline:
			t.Fatal("volume did not decay after input stopped")
		}
	}
}
