package voicesession

import (
	"context"
	"fmt"
	"time"

	"go.parley.dev/parley/voicesession/realtime"
)

// APICredentialSource mints ephemeral session secrets from a standing API
// key. The standing key never reaches the transport.
type APICredentialSource struct {
	APIKey       string
	Model        string
	Instructions string
}

// Fetch mints one ephemeral client secret.
func (s *APICredentialSource) Fetch(ctx context.Context) (*realtime.ClientSecret, error) {
	if s.APIKey == "" {
		return nil, fmt.Errorf("voicesession: api key not configured")
	}
	model := s.Model
	if model == "" {
		model = realtime.DefaultModel
	}
	return realtime.CreateClientSecret(ctx, s.APIKey, realtime.SessionConfig{
		Model:        model,
		Instructions: s.Instructions,
	})
}

// WebRTCTransport is the default transport factory, connecting over WebRTC
// with an opus media track and the event data channel.
func WebRTCTransport(secret string, onRemoteAudio func(samples []float32)) (Transport, error) {
	return realtime.NewClient(realtime.ClientConfig{
		Secret:        secret,
		OnRemoteAudio: onRemoteAudio,
	})
}

// WebSocketTransport builds a transport factory for the websocket fallback,
// used where a direct media path is unavailable. Remote audio arrives as
// decoded PCM through the message stream rather than a media track, so the
// callback is unused.
func WebSocketTransport(model string) func(secret string, onRemoteAudio func(samples []float32)) (Transport, error) {
	return func(secret string, _ func(samples []float32)) (Transport, error) {
		return realtime.NewWSClient(realtime.WSClientConfig{
			Secret: secret,
			Model:  model,
		}), nil
	}
}

// Options configures New beyond the required API key.
type Options struct {
	ThreadID      string
	Model         string
	Instructions  string
	Greeting      string
	VAD           realtime.TurnDetection
	Audio         AudioSource
	Store         TranscriptStore
	Detector      LanguageDetector
	Evaluator     GuardrailEvaluator
	MeterInterval time.Duration
	UseWebSocket  bool
}

// New assembles a session manager with the default OpenAI credential source
// and WebRTC transport.
func New(apiKey string, opts Options) (*Manager, error) {
	newTransport := WebRTCTransport
	if opts.UseWebSocket {
		newTransport = WebSocketTransport(opts.Model)
	}
	return NewManager(Config{
		ThreadID: opts.ThreadID,
		Greeting: opts.Greeting,
		VAD:      opts.VAD,
		Credentials: &APICredentialSource{
			APIKey:       apiKey,
			Model:        opts.Model,
			Instructions: opts.Instructions,
		},
		NewTransport:  newTransport,
		Audio:         opts.Audio,
		Store:         opts.Store,
		Detector:      opts.Detector,
		Evaluator:     opts.Evaluator,
		MeterInterval: opts.MeterInterval,
	})
}
