package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// DefaultWSEndpoint is the WebSocket endpoint of the realtime agent runtime.
const DefaultWSEndpoint = "wss://api.openai.com/v1/realtime"

// WSClient carries the same event stream as Client over a WebSocket instead
// of a WebRTC data channel. Audio is sent as base64 PCM16 append events, so
// it suits environments where UDP is unavailable.
type WSClient struct {
	url     string
	secret  string
	conn    *websocket.Conn
	msgChan chan Event
	errChan chan error
	done    chan struct{}
	closed  bool
	mu      sync.Mutex
}

// WSClientConfig holds configuration for the WebSocket client.
type WSClientConfig struct {
	Secret string
	Model  string
	URL    string // Default: DefaultWSEndpoint
}

// NewWSClient creates a new WebSocket-based realtime client.
func NewWSClient(cfg WSClientConfig) *WSClient {
	url := cfg.URL
	if url == "" {
		url = DefaultWSEndpoint
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	url = fmt.Sprintf("%s?model=%s", url, model)

	return &WSClient{
		url:     url,
		secret:  cfg.Secret,
		msgChan: make(chan Event, 100),
		errChan: make(chan error, 1),
		done:    make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection.
func (c *WSClient) Connect(ctx context.Context) error {
	opts := &websocket.DialOptions{
		HTTPHeader: map[string][]string{
			"Authorization": {"Bearer " + c.secret},
		},
	}

	conn, _, err := websocket.Dial(ctx, c.url, opts)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop()

	return nil
}

// SendEvent marshals and sends a client event.
func (c *WSClient) SendEvent(event any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.conn == nil {
		return ErrNotReady
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// SendAudio sends audio samples as a base64 PCM16 append event.
//
// Expects stereo interleaved float32 samples at 48kHz, matching the WebRTC
// client so the two transports are interchangeable.
func (c *WSClient) SendAudio(samples []float32) error {
	pcm16 := float32ToPCM16(samples)
	return c.SendEvent(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(pcm16),
	})
}

// Messages returns the channel for receiving parsed events.
func (c *WSClient) Messages() <-chan Event {
	return c.msgChan
}

// Errors returns the channel for receiving connection errors.
func (c *WSClient) Errors() <-chan error {
	return c.errChan
}

// Close closes the connection.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)

	if c.conn != nil {
		return c.conn.Close(websocket.StatusNormalClosure, "closing")
	}
	return nil
}

func (c *WSClient) readLoop() {
	defer close(c.msgChan)

	ctx := context.Background()

	for {
		select {
		case <-c.done:
			return
		default:
			_, data, err := c.conn.Read(ctx)
			if err != nil {
				select {
				case c.errChan <- fmt.Errorf("read error: %w", err):
				default:
				}
				return
			}

			event, err := ParseEvent(data)
			if err != nil {
				slog.Warn("failed to parse event", "error", err)
				continue
			}

			select {
			case c.msgChan <- event:
			case <-time.After(100 * time.Millisecond):
				slog.Warn("msg channel full, dropping event", "type", event.eventType())
			case <-c.done:
				return
			}
		}
	}
}

// float32ToPCM16 converts normalized samples to little-endian PCM16 bytes.
func float32ToPCM16(samples []float32) []byte {
	bytes := make([]byte, len(samples)*2)
	for i, sample := range samples {
		if sample < -1 {
			sample = -1
		} else if sample > 1 {
			sample = 1
		}
		val := int16(sample * 32767)
		bytes[i*2] = byte(val)
		bytes[i*2+1] = byte(val >> 8)
	}
	return bytes
}
