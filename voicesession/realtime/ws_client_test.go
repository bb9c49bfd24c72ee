package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

// newWSTestServer accepts one websocket connection and hands it to handle.
func newWSTestServer(t *testing.T, handle func(conn *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer ek_test" {
			t.Errorf("authorization = %q, want bearer secret", got)
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		handle(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSClient_ReceivesParsedEvents(t *testing.T) {
	url := newWSTestServer(t, func(conn *websocket.Conn) {
		payload := `{"type":"response.audio_transcript.delta","item_id":"m1","delta":"Hel"}`
		if err := conn.Write(context.Background(), websocket.MessageText, []byte(payload)); err != nil {
			t.Errorf("server write: %v", err)
		}
		// Wait for the client to hang up before dropping the connection.
		_, _, _ = conn.Read(context.Background())
	})

	c := NewWSClient(WSClientConfig{Secret: "ek_test", URL: url})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	select {
	case ev := <-c.Messages():
		delta, ok := ev.(TranscriptDeltaEvent)
		if !ok {
			t.Fatalf("event = %T, want TranscriptDeltaEvent", ev)
		}
		if delta.ItemID != "m1" || delta.Delta != "Hel" {
			t.Errorf("event = %+v, want item m1 delta Hel", delta)
		}
		if delta.Role != "assistant" {
			t.Errorf("role = %q, want assistant", delta.Role)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestWSClient_SendAudioAppendsPCM16(t *testing.T) {
	received := make(chan map[string]any, 1)
	url := newWSTestServer(t, func(conn *websocket.Conn) {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			t.Errorf("server read: %v", err)
			return
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Errorf("server unmarshal: %v", err)
			return
		}
		received <- msg
		_, _, _ = conn.Read(context.Background())
	})

	c := NewWSClient(WSClientConfig{Secret: "ek_test", URL: url})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	if err := c.SendAudio([]float32{0, 0.5}); err != nil {
		t.Fatalf("SendAudio() error = %v", err)
	}

	select {
	case msg := <-received:
		if msg["type"] != "input_audio_buffer.append" {
			t.Errorf("type = %v, want input_audio_buffer.append", msg["type"])
		}
		audio, _ := msg["audio"].(string)
		pcm, err := base64.StdEncoding.DecodeString(audio)
		if err != nil {
			t.Fatalf("audio payload not base64: %v", err)
		}
		want := float32ToPCM16([]float32{0, 0.5})
		if len(pcm) != len(want) {
			t.Fatalf("payload length = %d, want %d", len(pcm), len(want))
		}
		for i := range want {
			if pcm[i] != want[i] {
				t.Fatalf("payload byte %d = %#x, want %#x", i, pcm[i], want[i])
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no append event received")
	}
}

func TestWSClient_SendBeforeConnect(t *testing.T) {
	c := NewWSClient(WSClientConfig{Secret: "ek_test"})
	if err := c.SendEvent(map[string]any{"type": "response.create"}); err != ErrNotReady {
		t.Errorf("SendEvent() = %v, want ErrNotReady", err)
	}
}

func TestWSClient_CloseIdempotent(t *testing.T) {
	url := newWSTestServer(t, func(conn *websocket.Conn) {
		// Hold the connection open until the client closes it.
		_, _, _ = conn.Read(context.Background())
	})

	c := NewWSClient(WSClientConfig{Secret: "ek_test", URL: url})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := c.SendEvent(map[string]any{"type": "response.create"}); err != ErrClosed {
		t.Errorf("SendEvent() after close = %v, want ErrClosed", err)
	}
}

func TestFloat32ToPCM16(t *testing.T) {
	got := float32ToPCM16([]float32{0, 1, -1, 2, -2})

	// Full-scale and out-of-range samples clamp to the int16 limits.
	want := []int16{0, 32767, -32767, 32767, -32767}
	for i, w := range want {
		v := int16(got[i*2]) | int16(got[i*2+1])<<8
		if v != w {
			t.Errorf("sample %d = %d, want %d", i, v, w)
		}
	}
}
