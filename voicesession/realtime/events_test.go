package realtime

import (
	"encoding/json"
	"testing"
)

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name string
		data string
		want func(t *testing.T, ev Event)
	}{
		{
			name: "input speech started",
			data: `{"type":"input_audio_buffer.speech_started","item_id":"m1","audio_start_ms":120}`,
			want: func(t *testing.T, ev Event) {
				e, ok := ev.(SpeechStartedEvent)
				if !ok {
					t.Fatalf("got %T", ev)
				}
				if e.Role != "user" || e.ItemID != "m1" || e.AudioStartMs != 120 {
					t.Errorf("event = %+v", e)
				}
			},
		},
		{
			name: "output audio started maps to assistant",
			data: `{"type":"output_audio_buffer.started"}`,
			want: func(t *testing.T, ev Event) {
				e, ok := ev.(SpeechStartedEvent)
				if !ok {
					t.Fatalf("got %T", ev)
				}
				if e.Role != "assistant" {
					t.Errorf("role = %q, want assistant", e.Role)
				}
			},
		},
		{
			name: "item created",
			data: `{"type":"conversation.item.created","item":{"id":"m1","type":"message","role":"user"}}`,
			want: func(t *testing.T, ev Event) {
				e, ok := ev.(ItemCreatedEvent)
				if !ok {
					t.Fatalf("got %T", ev)
				}
				if e.Item.ID != "m1" || e.Item.Role != "user" {
					t.Errorf("item = %+v", e.Item)
				}
			},
		},
		{
			name: "input transcription delta maps to user",
			data: `{"type":"conversation.item.input_audio_transcription.delta","item_id":"m1","delta":"Hel"}`,
			want: func(t *testing.T, ev Event) {
				e, ok := ev.(TranscriptDeltaEvent)
				if !ok {
					t.Fatalf("got %T", ev)
				}
				if e.Role != "user" || e.Delta != "Hel" {
					t.Errorf("event = %+v", e)
				}
			},
		},
		{
			name: "audio transcript delta maps to assistant",
			data: `{"type":"response.audio_transcript.delta","item_id":"m2","delta":"Sure"}`,
			want: func(t *testing.T, ev Event) {
				e, ok := ev.(TranscriptDeltaEvent)
				if !ok {
					t.Fatalf("got %T", ev)
				}
				if e.Role != "assistant" {
					t.Errorf("role = %q, want assistant", e.Role)
				}
			},
		},
		{
			name: "input transcription completed",
			data: `{"type":"conversation.item.input_audio_transcription.completed","item_id":"m1","transcript":"Hello"}`,
			want: func(t *testing.T, ev Event) {
				e, ok := ev.(TranscriptCompletedEvent)
				if !ok {
					t.Fatalf("got %T", ev)
				}
				if e.Transcript != "Hello" || e.Role != "user" {
					t.Errorf("event = %+v", e)
				}
			},
		},
		{
			name: "function call output item becomes tool start",
			data: `{"type":"response.output_item.added","item":{"id":"c1","type":"function_call","name":"lookup_order","arguments":"{\"id\":42}"}}`,
			want: func(t *testing.T, ev Event) {
				e, ok := ev.(ToolCallStartEvent)
				if !ok {
					t.Fatalf("got %T", ev)
				}
				if e.Name != "lookup_order" || e.CallID != "c1" {
					t.Errorf("event = %+v", e)
				}
			},
		},
		{
			name: "function call done becomes tool end",
			data: `{"type":"response.output_item.done","item":{"id":"c1","type":"function_call","name":"lookup_order","output":"{}"}}`,
			want: func(t *testing.T, ev Event) {
				e, ok := ev.(ToolCallEndEvent)
				if !ok {
					t.Fatalf("got %T", ev)
				}
				if e.Name != "lookup_order" || e.Result != "{}" {
					t.Errorf("event = %+v", e)
				}
			},
		},
		{
			name: "message output item becomes item created",
			data: `{"type":"response.output_item.added","item":{"id":"m3","type":"message","role":"assistant"}}`,
			want: func(t *testing.T, ev Event) {
				e, ok := ev.(ItemCreatedEvent)
				if !ok {
					t.Fatalf("got %T", ev)
				}
				if e.Item.ID != "m3" || e.Item.Role != "assistant" {
					t.Errorf("item = %+v", e.Item)
				}
			},
		},
		{
			name: "agent handoff",
			data: `{"type":"agent_handoff","context":"transfer_to_support"}`,
			want: func(t *testing.T, ev Event) {
				e, ok := ev.(AgentHandoffEvent)
				if !ok {
					t.Fatalf("got %T", ev)
				}
				if e.Context != "transfer_to_support" {
					t.Errorf("context = %q", e.Context)
				}
			},
		},
		{
			name: "guardrail tripped",
			data: `{"type":"guardrail_tripped","guardrail_result":{"category":"offensive","rationale":"profanity"}}`,
			want: func(t *testing.T, ev Event) {
				e, ok := ev.(GuardrailTrippedEvent)
				if !ok {
					t.Fatalf("got %T", ev)
				}
				if e.Result.Category != "offensive" || e.Result.Rationale != "profanity" {
					t.Errorf("result = %+v", e.Result)
				}
			},
		},
		{
			name: "error event",
			data: `{"type":"error","error":{"type":"invalid_request_error","message":"bad item"}}`,
			want: func(t *testing.T, ev Event) {
				e, ok := ev.(ErrorEvent)
				if !ok {
					t.Fatalf("got %T", ev)
				}
				if e.Error.Message != "bad item" {
					t.Errorf("error = %+v", e.Error)
				}
			},
		},
		{
			name: "unknown type accepted",
			data: `{"type":"rate_limits.updated","rate_limits":[]}`,
			want: func(t *testing.T, ev Event) {
				e, ok := ev.(UnknownEvent)
				if !ok {
					t.Fatalf("got %T", ev)
				}
				if e.Type != "rate_limits.updated" {
					t.Errorf("type = %q", e.Type)
				}
				if len(e.Raw) == 0 {
					t.Error("raw payload not preserved")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseEvent([]byte(tt.data))
			if err != nil {
				t.Fatalf("ParseEvent() error = %v", err)
			}
			tt.want(t, ev)
		})
	}
}

func TestParseEvent_InvalidJSON(t *testing.T) {
	if _, err := ParseEvent([]byte(`{not json`)); err == nil {
		t.Error("ParseEvent(invalid) = nil, want error")
	}
}

func TestNewSessionUpdate(t *testing.T) {
	t.Run("vad config serialized", func(t *testing.T) {
		td := &TurnDetection{Type: "server_vad", Threshold: 0.5, CreateResponse: true}
		data, err := json.Marshal(NewSessionUpdate(td))
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		session := decoded["session"].(map[string]any)
		if session["turn_detection"] == nil {
			t.Fatal("turn_detection missing")
		}
	})

	t.Run("nil disables server vad", func(t *testing.T) {
		data, err := json.Marshal(NewSessionUpdate(nil))
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		session := decoded["session"].(map[string]any)
		td, present := session["turn_detection"]
		if !present {
			t.Fatal("turn_detection key must be present to null it out")
		}
		if td != nil {
			t.Errorf("turn_detection = %v, want null", td)
		}
	})
}

func TestEventConversationItemCreate(t *testing.T) {
	ev := EventConversationItemCreate("m1", "user", "hello")
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded struct {
		Type string `json:"type"`
		Item struct {
			ID      string `json:"id"`
			Role    string `json:"role"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"item"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Type != "conversation.item.create" {
		t.Errorf("type = %q", decoded.Type)
	}
	if decoded.Item.ID != "m1" || decoded.Item.Role != "user" {
		t.Errorf("item = %+v", decoded.Item)
	}
	if len(decoded.Item.Content) != 1 || decoded.Item.Content[0].Text != "hello" {
		t.Errorf("content = %+v", decoded.Item.Content)
	}
}
