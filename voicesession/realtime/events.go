package realtime

import "encoding/json"

// Event types from the realtime agent transport.
const (
	EventSpeechStarted      = "input_audio_buffer.speech_started"
	EventSpeechStopped      = "input_audio_buffer.speech_stopped"
	EventOutputAudioStarted = "output_audio_buffer.started"
	EventOutputAudioStopped = "output_audio_buffer.stopped"

	EventItemCreated          = "conversation.item.created"
	EventOutputItemAdded      = "response.output_item.added"
	EventOutputItemDone       = "response.output_item.done"
	EventTranscriptionDelta   = "conversation.item.input_audio_transcription.delta"
	EventTranscriptionDone    = "conversation.item.input_audio_transcription.completed"
	EventAudioTranscriptDelta = "response.audio_transcript.delta"
	EventAudioTranscriptDone  = "response.audio_transcript.done"

	EventResponseCreated  = "response.created"
	EventResponseDone     = "response.done"
	EventAgentHandoff     = "agent_handoff"
	EventGuardrailTripped = "guardrail_tripped"
	EventError            = "error"
)

// Event is a discriminated union for realtime transport events.
// Check the concrete type via type switch.
type Event interface {
	eventType() string
}

// SpeechStartedEvent is emitted when speech begins on an audio buffer.
// Role is "user" for the input buffer and "assistant" for the output buffer.
type SpeechStartedEvent struct {
	EventID      string `json:"event_id"`
	ItemID       string `json:"item_id"`
	AudioStartMs int    `json:"audio_start_ms"`
	Role         string `json:"-"`
}

func (SpeechStartedEvent) eventType() string { return EventSpeechStarted }

// SpeechStoppedEvent is emitted when speech ends on an audio buffer.
type SpeechStoppedEvent struct {
	EventID    string `json:"event_id"`
	ItemID     string `json:"item_id"`
	AudioEndMs int    `json:"audio_end_ms"`
	Role       string `json:"-"`
}

func (SpeechStoppedEvent) eventType() string { return EventSpeechStopped }

// ConversationItem is the item payload carried by item events.
type ConversationItem struct {
	ID        string `json:"id"`
	Type      string `json:"type"` // "message", "function_call", "function_call_output"
	Status    string `json:"status"`
	Role      string `json:"role"`
	Name      string `json:"name,omitempty"`      // function_call tool name
	Arguments string `json:"arguments,omitempty"` // function_call arguments JSON
	Output    string `json:"output,omitempty"`    // function_call_output result
	Content   []struct {
		Type       string `json:"type"`
		Text       string `json:"text,omitempty"`
		Transcript string `json:"transcript,omitempty"`
	} `json:"content,omitempty"`
}

// ItemCreatedEvent is emitted when a conversation item is registered.
type ItemCreatedEvent struct {
	EventID        string           `json:"event_id"`
	PreviousItemID string           `json:"previous_item_id"`
	Item           ConversationItem `json:"item"`
}

func (ItemCreatedEvent) eventType() string { return EventItemCreated }

// ToolCallStartEvent is emitted when the agent begins a tool invocation.
type ToolCallStartEvent struct {
	EventID string `json:"event_id"`
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Args    string `json:"arguments"`
}

func (ToolCallStartEvent) eventType() string { return EventOutputItemAdded }

// ToolCallEndEvent is emitted when a tool invocation resolves.
type ToolCallEndEvent struct {
	EventID string `json:"event_id"`
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Result  string `json:"output"`
}

func (ToolCallEndEvent) eventType() string { return EventOutputItemDone }

// TranscriptDeltaEvent carries a partial transcript fragment for one item.
type TranscriptDeltaEvent struct {
	EventID    string `json:"event_id"`
	ItemID     string `json:"item_id"`
	ContentIdx int    `json:"content_index"`
	Delta      string `json:"delta"`
	Role       string `json:"-"`
}

func (TranscriptDeltaEvent) eventType() string { return EventTranscriptionDelta }

// TranscriptCompletedEvent carries the authoritative final transcript for one
// item. The final text is not guaranteed to equal the concatenated deltas.
type TranscriptCompletedEvent struct {
	EventID    string `json:"event_id"`
	ItemID     string `json:"item_id"`
	Transcript string `json:"transcript"`
	Role       string `json:"-"`
}

func (TranscriptCompletedEvent) eventType() string { return EventTranscriptionDone }

// AgentHandoffEvent signals control transfer to another named agent. The
// transport encodes the target in a transfer_to_<agent> context string.
type AgentHandoffEvent struct {
	EventID string `json:"event_id"`
	Context string `json:"context"`
}

func (AgentHandoffEvent) eventType() string { return EventAgentHandoff }

// GuardrailTrippedEvent carries a moderation verdict for recent assistant output.
type GuardrailTrippedEvent struct {
	EventID string `json:"event_id"`
	Result  struct {
		Category  string `json:"category"`
		Rationale string `json:"rationale"`
		Message   string `json:"message,omitempty"`
	} `json:"guardrail_result"`
}

func (GuardrailTrippedEvent) eventType() string { return EventGuardrailTripped }

// ResponseCreatedEvent marks the start of an agent response.
type ResponseCreatedEvent struct {
	EventID string `json:"event_id"`
}

func (ResponseCreatedEvent) eventType() string { return EventResponseCreated }

// ResponseDoneEvent marks the end of an agent response.
type ResponseDoneEvent struct {
	EventID string `json:"event_id"`
}

func (ResponseDoneEvent) eventType() string { return EventResponseDone }

// ErrorEvent is emitted when the transport reports an error.
type ErrorEvent struct {
	EventID string `json:"event_id"`
	Error   struct {
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
		Message string `json:"message"`
		Param   string `json:"param,omitempty"`
	} `json:"error"`
}

func (ErrorEvent) eventType() string { return EventError }

// UnknownEvent holds events we don't recognize. Unrecognized tags are
// accepted, never rejected.
type UnknownEvent struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Raw     json.RawMessage
}

func (e UnknownEvent) eventType() string { return e.Type }

// ParseEvent unmarshals JSON into the appropriate Event type.
func ParseEvent(data []byte) (Event, error) {
	// Parse type field first.
	var header struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, err
	}

	switch header.Type {
	case EventSpeechStarted, EventOutputAudioStarted:
		var e SpeechStartedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		e.Role = bufferRole(header.Type)
		return e, nil
	case EventSpeechStopped, EventOutputAudioStopped:
		var e SpeechStoppedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		e.Role = bufferRole(header.Type)
		return e, nil
	case EventItemCreated:
		var e ItemCreatedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case EventOutputItemAdded, EventOutputItemDone:
		return parseOutputItem(header.Type, data)
	case EventTranscriptionDelta, EventAudioTranscriptDelta:
		var e TranscriptDeltaEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		e.Role = transcriptRole(header.Type)
		return e, nil
	case EventTranscriptionDone, EventAudioTranscriptDone:
		var e TranscriptCompletedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		e.Role = transcriptRole(header.Type)
		return e, nil
	case EventAgentHandoff:
		var e AgentHandoffEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case EventGuardrailTripped:
		var e GuardrailTrippedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case EventResponseCreated:
		var e ResponseCreatedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case EventResponseDone:
		var e ResponseDoneEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case EventError:
		var e ErrorEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	default:
		return UnknownEvent{Type: header.Type, Raw: data}, nil
	}
}

// parseOutputItem maps response output item events. Message items become
// ItemCreatedEvent; function_call items become tool call events.
func parseOutputItem(typ string, data []byte) (Event, error) {
	var raw struct {
		EventID string           `json:"event_id"`
		Item    ConversationItem `json:"item"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	switch raw.Item.Type {
	case "function_call":
		if typ == EventOutputItemDone {
			return ToolCallEndEvent{
				EventID: raw.EventID,
				CallID:  raw.Item.ID,
				Name:    raw.Item.Name,
				Result:  raw.Item.Output,
			}, nil
		}
		return ToolCallStartEvent{
			EventID: raw.EventID,
			CallID:  raw.Item.ID,
			Name:    raw.Item.Name,
			Args:    raw.Item.Arguments,
		}, nil
	default:
		if typ == EventOutputItemDone {
			// Completion is signalled by the transcript done event; the
			// item done marker adds nothing for message items.
			return UnknownEvent{EventID: raw.EventID, Type: typ, Raw: data}, nil
		}
		return ItemCreatedEvent{EventID: raw.EventID, Item: raw.Item}, nil
	}
}

func bufferRole(typ string) string {
	if typ == EventOutputAudioStarted || typ == EventOutputAudioStopped {
		return "assistant"
	}
	return "user"
}

func transcriptRole(typ string) string {
	if typ == EventAudioTranscriptDelta || typ == EventAudioTranscriptDone {
		return "assistant"
	}
	return "user"
}

// ─────────────────────────────────────────────────────────────────────────────
// Client Event Builders
// ─────────────────────────────────────────────────────────────────────────────

// TurnDetection configures server-side voice activity detection.
// A nil TurnDetection in SessionUpdate disables server turn detection
// entirely, handing turn boundaries to the client (push-to-talk).
type TurnDetection struct {
	Type              string  `json:"type"` // "server_vad"
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
	CreateResponse    bool    `json:"create_response"`
}

// SessionUpdate is a client event to update session configuration.
type SessionUpdate struct {
	Type    string `json:"type"`
	Session struct {
		TurnDetection *TurnDetection `json:"turn_detection"`
	} `json:"session"`
}

// NewSessionUpdate builds a session.update event carrying the given turn
// detection configuration (nil disables server VAD).
func NewSessionUpdate(td *TurnDetection) SessionUpdate {
	msg := SessionUpdate{Type: "session.update"}
	msg.Session.TurnDetection = td
	return msg
}

// EventInputAudioBufferClear creates an input_audio_buffer.clear event.
func EventInputAudioBufferClear() map[string]any {
	return map[string]any{"type": "input_audio_buffer.clear"}
}

// EventInputAudioBufferCommit creates an input_audio_buffer.commit event.
func EventInputAudioBufferCommit() map[string]any {
	return map[string]any{"type": "input_audio_buffer.commit"}
}

// EventResponseCreate creates a response.create event.
func EventResponseCreate() map[string]any {
	return map[string]any{"type": "response.create"}
}

// EventConversationItemCreate creates a conversation.item.create event
// carrying one text message.
func EventConversationItemCreate(itemID, role, text string) map[string]any {
	return map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"id":   itemID,
			"type": "message",
			"role": role,
			"content": []map[string]any{
				{"type": "input_text", "text": text},
			},
		},
	}
}
