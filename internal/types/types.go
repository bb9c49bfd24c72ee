// Package types provides shared type definitions for the application.
package types

// Role identifies who produced a conversation item.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Lifecycle tracks the progress of a transcript entry.
// Transitions only move forward: Pending → Streaming → Done.
type Lifecycle int

const (
	LifecyclePending Lifecycle = iota
	LifecycleStreaming
	LifecycleDone
)

// String returns a human-readable lifecycle name.
func (l Lifecycle) String() string {
	switch l {
	case LifecyclePending:
		return "pending"
	case LifecycleStreaming:
		return "streaming"
	case LifecycleDone:
		return "done"
	default:
		return "unknown"
	}
}

// TranscriptEntry is one logical message in the conversation, keyed by the
// transport item ID. Entries are append-only for the life of a session.
type TranscriptEntry struct {
	ItemID    string           `json:"itemId"`
	Role      Role             `json:"role"`
	Text      string           `json:"text"`
	Lifecycle Lifecycle        `json:"lifecycle"`
	Language  string           `json:"language,omitempty"` // detected ISO 639-1 code, set on completion
	Guardrail *GuardrailResult `json:"guardrail,omitempty"`
	Order     int64            `json:"order"`     // creation order within the session
	CreatedAt int64            `json:"createdAt"` // Unix timestamp in milliseconds
}

// GuardrailCategory classifies flagged assistant output.
type GuardrailCategory string

const (
	GuardrailNone      GuardrailCategory = "none"
	GuardrailOffensive GuardrailCategory = "offensive"
	GuardrailOffBrand  GuardrailCategory = "off_brand"
	GuardrailViolence  GuardrailCategory = "violence"
)

// GuardrailResult is the verdict of a moderation pass over assistant output.
type GuardrailResult struct {
	Category     GuardrailCategory `json:"category"`
	Rationale    string            `json:"rationale"`
	EvidenceText string            `json:"evidenceText,omitempty"`
}

// Flagged reports whether the verdict tripped any guardrail.
func (r GuardrailResult) Flagged() bool {
	return r.Category != "" && r.Category != GuardrailNone
}

// SessionStatus is the connection state of the realtime session.
// Transitions form a total order: Disconnected → Connecting → Connected,
// then back to Disconnected. No state is ever skipped.
type SessionStatus int32

const (
	StatusDisconnected SessionStatus = iota
	StatusConnecting
	StatusConnected
)

// String returns a human-readable status name.
func (s SessionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// TurnMode selects how user turn boundaries are detected.
type TurnMode string

const (
	TurnModeVAD TurnMode = "vad" // server-side voice activity detection
	TurnModePTT TurnMode = "ptt" // manual push-to-talk
)

// SpeakerSignal reports who is currently speaking. Purely informational.
type SpeakerSignal struct {
	Role     Role  `json:"role"`
	Speaking bool  `json:"speaking"`
	AtMs     int64 `json:"atMs"`
}

// NoticeKind classifies agent notices emitted by the dispatcher.
type NoticeKind string

const (
	NoticeHandoff    NoticeKind = "handoff"
	NoticeToolCall   NoticeKind = "tool_call"
	NoticeToolResult NoticeKind = "tool_result"
)

// AgentNotice is a breadcrumb-style side effect: tool activity and agent
// handoffs. Notices never mutate the transcript.
type AgentNotice struct {
	Kind      NoticeKind `json:"kind"`
	Tool      string     `json:"tool,omitempty"`
	Detail    string     `json:"detail,omitempty"`
	Target    string     `json:"target,omitempty"` // handoff target agent name
	Timestamp int64      `json:"timestamp"`
}

// AudioFeatureFrame is a smoothed, bounded feature vector derived from one
// analysis window of an audio stream. Superseded every tick; never persisted.
type AudioFeatureFrame struct {
	Volume   float64   `json:"volume"` // all scalars clamped to [0,1]
	Bass     float64   `json:"bass"`
	Mid      float64   `json:"mid"`
	Treble   float64   `json:"treble"`
	Waveform []float32 `json:"waveform"` // fixed-size subsample, values in [-1,1]
	Source   string    `json:"source"`   // "local" or "remote"
}

// SessionInfo is a point-in-time snapshot for UI polling.
type SessionInfo struct {
	Status      string   `json:"status"`
	VoiceActive bool     `json:"voiceActive"`
	TurnMode    TurnMode `json:"turnMode"`
	ThreadID    string   `json:"threadId"`
	EntryCount  int      `json:"entryCount"`
}
