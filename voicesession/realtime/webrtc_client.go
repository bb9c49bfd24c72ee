package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	opuscodec "github.com/jj11hh/opus"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// Sentinel errors.
var (
	ErrNotReady = errors.New("client not ready")
	ErrClosed   = errors.New("client closed")
)

// Client handles the WebRTC connection to the realtime agent runtime.
// Events travel over an "oai-events" data channel; captured audio is
// opus-encoded onto a local track.
type Client struct {
	// ─── Hot path (audio encoding) ───────────────────────────────────────────
	opusEncoder *opuscodec.Encoder
	audioTrack  *webrtc.TrackLocalStaticSample
	opusBuffer  []byte

	// ─── Synchronization ─────────────────────────────────────────────────────
	mu     sync.Mutex // protects closed flag and initialization
	closed bool

	// ─── Cold path (connection state) ────────────────────────────────────────
	secret         string
	peerConnection *webrtc.PeerConnection
	dataChannel    *webrtc.DataChannel
	msgChan        chan Event
	errChan        chan error
	done           chan struct{}
	onRemoteAudio  func(samples []float32)
	onOpen         func()
}

// ClientConfig holds configuration for the WebRTC client.
type ClientConfig struct {
	// Secret is the ephemeral credential minted for this session.
	Secret string
	// OnRemoteAudio receives decoded samples from the agent's audio track.
	// Optional; nil discards remote audio after draining the track.
	OnRemoteAudio func(samples []float32)
}

// NewClient creates a new WebRTC-based realtime client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Secret == "" {
		return nil, errors.New("realtime: ephemeral secret required")
	}
	return &Client{
		secret:        cfg.Secret,
		onRemoteAudio: cfg.OnRemoteAudio,
		msgChan:       make(chan Event, 100),
		errChan:       make(chan error, 1),
		done:          make(chan struct{}),
		// Max Opus packet size is typically 1275 bytes
		opusBuffer: make([]byte, 1275),
	}, nil
}

// OnOpen sets a callback invoked when the event channel becomes usable.
func (c *Client) OnOpen(callback func()) {
	c.mu.Lock()
	c.onOpen = callback
	c.mu.Unlock()
}

// Connect performs the transport handshake: peer connection, local audio
// track, data channel, and SDP exchange authorized by the ephemeral secret.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return fmt.Errorf("register codecs: %w", err)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
	})
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}

	audioTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		},
		"audio",
		"parley-audio",
	)
	if err != nil {
		pc.Close()
		return fmt.Errorf("create audio track: %w", err)
	}

	if _, err = pc.AddTrack(audioTrack); err != nil {
		pc.Close()
		return fmt.Errorf("add audio track: %w", err)
	}

	opusEnc, err := opuscodec.NewEncoder(48000, 2, opuscodec.AppRestrictedLowdelay)
	if err != nil {
		pc.Close()
		return fmt.Errorf("create opus encoder: %w", err)
	}

	dc, err := pc.CreateDataChannel("oai-events", nil)
	if err != nil {
		pc.Close()
		return fmt.Errorf("create data channel: %w", err)
	}

	c.mu.Lock()
	c.peerConnection = pc
	c.audioTrack = audioTrack
	c.opusEncoder = opusEnc
	c.dataChannel = dc
	c.mu.Unlock()

	dc.OnOpen(func() {
		slog.Info("data channel opened")
		c.mu.Lock()
		callback := c.onOpen
		c.mu.Unlock()
		if callback != nil {
			go callback()
		}
	})

	dc.OnMessage(c.handleDataMessage)

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		go c.drainRemoteTrack(track)
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		if state == webrtc.ICEConnectionStateFailed || state == webrtc.ICEConnectionStateClosed {
			select {
			case c.errChan <- fmt.Errorf("ICE connection %s", state.String()):
			default:
			}
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return fmt.Errorf("set local description: %w", err)
	}

	<-webrtc.GatheringCompletePromise(pc)

	answerSDP, err := ExchangeSDP(ctx, pc.LocalDescription().SDP, c.secret)
	if err != nil {
		pc.Close()
		return fmt.Errorf("exchange SDP: %w", err)
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answerSDP,
	}); err != nil {
		pc.Close()
		return fmt.Errorf("set remote description: %w", err)
	}

	return nil
}

// drainRemoteTrack reads the agent's audio track for its full lifetime. The
// track can end while the session stays connected; decoding stops with it.
func (c *Client) drainRemoteTrack(track *webrtc.TrackRemote) {
	if track.Codec().MimeType != webrtc.MimeTypeOpus {
		buf := make([]byte, 1500)
		for {
			if _, _, err := track.Read(buf); err != nil {
				return
			}
		}
	}

	decoder, err := opuscodec.NewDecoder(48000, 2)
	if err != nil {
		slog.Warn("create opus decoder", "error", err)
		return
	}

	// 120ms of stereo at 48kHz is the maximum opus frame
	pcm := make([]float32, 48000/1000*120*2)
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, err := decoder.DecodeFloat32(pkt.Payload, pcm)
		if err != nil {
			continue
		}

		c.mu.Lock()
		cb := c.onRemoteAudio
		c.mu.Unlock()
		if cb != nil && n > 0 {
			samples := make([]float32, n*2)
			copy(samples, pcm[:n*2])
			cb(samples)
		}
	}
}

func (c *Client) handleDataMessage(msg webrtc.DataChannelMessage) {
	event, err := ParseEvent(msg.Data)
	if err != nil {
		slog.Warn("failed to parse event", "error", err)
		return
	}

	select {
	case c.msgChan <- event:
	case <-time.After(50 * time.Millisecond):
		slog.Warn("msg channel full", "type", event.eventType())
	}
}

// SendAudio encodes and sends audio samples.
//
// Expects stereo interleaved float32 samples at 48kHz.
func (c *Client) SendAudio(samples []float32) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	track := c.audioTrack
	encoder := c.opusEncoder
	c.mu.Unlock()

	if track == nil || encoder == nil {
		return ErrNotReady
	}

	n, err := encoder.EncodeFloat32(samples, c.opusBuffer)
	if err != nil {
		return fmt.Errorf("opus encode: %w", err)
	}

	sample := media.Sample{
		Data:     c.opusBuffer[:n],
		Duration: time.Duration(len(samples)/2) * time.Second / 48000,
	}

	return track.WriteSample(sample)
}

// SendEvent marshals and sends a client event over the data channel.
func (c *Client) SendEvent(event any) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	dc := c.dataChannel
	c.mu.Unlock()

	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrNotReady
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return dc.SendText(string(data))
}

// Messages returns the channel for receiving parsed events.
func (c *Client) Messages() <-chan Event {
	return c.msgChan
}

// Errors returns the channel for receiving connection errors.
func (c *Client) Errors() <-chan error {
	return c.errChan
}

// Close shuts down the client and releases resources.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)

	if c.peerConnection != nil {
		_ = c.peerConnection.Close()
	}
	close(c.msgChan)
	return nil
}
