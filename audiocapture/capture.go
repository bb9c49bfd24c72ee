// Package audiocapture streams microphone audio as normalized float32
// samples using the miniaudio backend.
package audiocapture

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
)

const (
	// SampleRate matches the realtime media track.
	SampleRate = 48000
	// Channels matches the realtime media track.
	Channels = 2
)

// Capture owns one capture device on a shared miniaudio context. Samples are
// delivered on the device's realtime thread; the callback must not block.
type Capture struct {
	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	running bool
}

// New initializes the audio backend. The device itself is created lazily on
// Start so the configured callback can be bound per session.
func New() (*Capture, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	return &Capture{ctx: ctx}, nil
}

// Devices lists available capture devices.
func (c *Capture) Devices() ([]string, error) {
	infos, err := c.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("list capture devices: %w", err)
	}
	names := make([]string, 0, len(infos))
	for _, d := range infos {
		names = append(names, d.Name())
	}
	return names, nil
}

// Start opens the default capture device and streams decoded samples to
// onSamples. A second Start without an intervening Stop is an error.
func (c *Capture) Start(onSamples func(samples []float32)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("audiocapture: already running")
	}

	config := malgo.DefaultDeviceConfig(malgo.Capture)
	config.Capture.Format = malgo.FormatS16
	config.Capture.Channels = Channels
	config.SampleRate = SampleRate
	config.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			onSamples(pcm16ToFloat32(input))
		},
	}

	device, err := malgo.InitDevice(c.ctx.Context, config, callbacks)
	if err != nil {
		return fmt.Errorf("init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("start capture device: %w", err)
	}

	c.device = device
	c.running = true
	slog.Info("audio capture started", "sample_rate", SampleRate, "channels", Channels)
	return nil
}

// Stop halts the running device. Idempotent.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}
	c.running = false

	if err := c.device.Stop(); err != nil {
		slog.Warn("stop capture device", "error", err)
	}
	c.device.Uninit()
	c.device = nil
	slog.Info("audio capture stopped")
	return nil
}

// Close releases the backend context. The capture must be stopped first.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("audiocapture: close while running")
	}
	if c.ctx != nil {
		if err := c.ctx.Uninit(); err != nil {
			return fmt.Errorf("uninit audio context: %w", err)
		}
		c.ctx.Free()
		c.ctx = nil
	}
	return nil
}

// pcm16ToFloat32 decodes little-endian signed 16-bit PCM into [-1,1] floats.
func pcm16ToFloat32(data []byte) []float32 {
	samples := make([]float32, len(data)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(v) / float32(math.MaxInt16)
	}
	return samples
}
