// Package app provides the core application service for Wails bindings.
package app

// Event names for frontend communication.
const (
	EventTranscriptUpdate = "transcript-update"
	EventSpeakerSignal    = "speaker-signal"
	EventAgentNotice      = "agent-notice"
	EventAudioFeatures    = "audio-features"
	EventSessionStatus    = "session-status"
)
