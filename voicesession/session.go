package voicesession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"go.parley.dev/parley/audiofeature"
	"go.parley.dev/parley/internal/types"
	"go.parley.dev/parley/voicesession/realtime"
)

// ErrConnectAborted reports a connect that was overtaken by a disconnect
// before it could commit; the acquired resources were released.
var ErrConnectAborted = errors.New("voicesession: connect aborted by disconnect")

// Transport is the live bidirectional channel carrying audio and events
// between the client and the agent runtime. Both the WebRTC and WebSocket
// clients in the realtime package satisfy it.
type Transport interface {
	Connect(ctx context.Context) error
	SendEvent(event any) error
	SendAudio(samples []float32) error
	Messages() <-chan realtime.Event
	Errors() <-chan error
	Close() error
}

// CredentialSource mints the ephemeral secret authorizing one session.
type CredentialSource interface {
	Fetch(ctx context.Context) (*realtime.ClientSecret, error)
}

// AudioSource is a local microphone stream delivering normalized samples.
type AudioSource interface {
	Start(onSamples func(samples []float32)) error
	Stop() error
}

// TranscriptStore extends the upsert mirror with listing for replay on
// reattachment to an existing thread.
type TranscriptStore interface {
	Store
	List(ctx context.Context, threadID string) ([]types.TranscriptEntry, error)
}

// Config holds the collaborators and settings for a session manager.
type Config struct {
	// ThreadID identifies the conversation for the persistence mirror.
	ThreadID string

	// Greeting is the synthetic opening turn sent once per connect to kick
	// off the agent's first response.
	Greeting string

	// VAD is the server turn-detection tuning. Zero value selects DefaultVAD.
	VAD realtime.TurnDetection

	// Credentials mints the ephemeral session secret. Required.
	Credentials CredentialSource

	// NewTransport constructs the transport for a minted secret with the
	// remote audio sink already configured. Required.
	NewTransport func(secret string, onRemoteAudio func(samples []float32)) (Transport, error)

	// Audio is the local capture stream. Optional; nil means text-only.
	Audio AudioSource

	// Store mirrors transcript entries. Optional.
	Store TranscriptStore

	// Detector annotates completed transcripts with a language. Optional.
	Detector LanguageDetector

	// Evaluator is the moderation collaborator. Optional.
	Evaluator GuardrailEvaluator

	// MeterInterval is the audio feature cadence. Zero selects the default.
	MeterInterval time.Duration
}

// Manager is the top-level session state machine. It exclusively owns the
// session status; no other component mutates it. All cross-component
// coordination happens via the event stream, never shared mutable state.
type Manager struct {
	cfg Config

	mu        sync.Mutex
	status    types.SessionStatus
	transport Transport
	cancel    context.CancelFunc
	epoch     uint64 // bumped by every disconnect; stale connects detect it

	voiceActive atomic.Bool

	transcript *Synchronizer
	guardrails *GuardrailPipeline
	dispatcher *Dispatcher
	turns      *TurnController

	localMeter  *audiofeature.Meter
	remoteMeter *audiofeature.Meter

	frames chan types.AudioFeatureFrame
	errs   chan error
}

// NewManager wires a session manager and its components.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("voicesession: credential source required")
	}
	if cfg.NewTransport == nil {
		return nil, fmt.Errorf("voicesession: transport factory required")
	}
	if cfg.ThreadID == "" {
		cfg.ThreadID = uuid.NewString()
	}
	if cfg.Greeting == "" {
		cfg.Greeting = "Hi!"
	}

	var store Store
	if cfg.Store != nil {
		store = cfg.Store
	}

	transcript := NewSynchronizer(cfg.ThreadID, store, cfg.Detector)
	guardrails := NewGuardrailPipeline(transcript, cfg.Evaluator)

	m := &Manager{
		cfg:         cfg,
		status:      types.StatusDisconnected,
		transcript:  transcript,
		guardrails:  guardrails,
		dispatcher:  NewDispatcher(transcript, guardrails),
		turns:       NewTurnController(cfg.VAD),
		localMeter:  audiofeature.NewMeter("local", cfg.MeterInterval),
		remoteMeter: audiofeature.NewMeter("remote", cfg.MeterInterval),
		frames:      make(chan types.AudioFeatureFrame, 32),
		errs:        make(chan error, 10),
	}

	go m.mergeFrames(m.localMeter.Frames())
	go m.mergeFrames(m.remoteMeter.Frames())

	return m, nil
}

// Connect brings the session up: mints a credential, performs the transport
// handshake, replays persisted transcript entries, starts audio, and sends
// the greeting. A call while not Disconnected is a no-op, so at most one
// connect is ever in flight. On any failure every partially-acquired
// resource is released and the status reverts to Disconnected.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.status != types.StatusDisconnected {
		m.mu.Unlock()
		return nil
	}
	m.setStatusLocked(types.StatusConnecting)
	epoch := m.epoch
	m.mu.Unlock()

	secret, err := m.cfg.Credentials.Fetch(ctx)
	if err != nil {
		m.revertToDisconnected()
		return fmt.Errorf("fetch session credential: %w", err)
	}

	transport, err := m.cfg.NewTransport(secret.Value, m.handleRemoteAudio)
	if err != nil {
		m.revertToDisconnected()
		return fmt.Errorf("create transport: %w", err)
	}

	if err := transport.Connect(ctx); err != nil {
		_ = transport.Close()
		m.revertToDisconnected()
		return fmt.Errorf("transport handshake: %w", err)
	}

	// Merge the persisted log before accepting live events, so reattachment
	// needs no destructive reload.
	if m.cfg.Store != nil {
		if entries, err := m.cfg.Store.List(ctx, m.cfg.ThreadID); err != nil {
			slog.Warn("replay persisted transcript", "error", err)
		} else {
			m.transcript.Replay(entries)
		}
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	go m.dispatchLoop(loopCtx, transport)

	if m.cfg.Audio != nil {
		if err := m.cfg.Audio.Start(m.handleLocalAudio); err != nil {
			cancel()
			_ = transport.Close()
			m.revertToDisconnected()
			return fmt.Errorf("start audio capture: %w", err)
		}
	}
	m.localMeter.Start()
	m.remoteMeter.Start()

	m.mu.Lock()
	if m.status != types.StatusConnecting || m.epoch != epoch {
		// A disconnect overtook this connect; the most recent intent wins,
		// so release everything acquired above instead of committing it.
		m.mu.Unlock()
		cancel()
		m.localMeter.Stop()
		m.remoteMeter.Stop()
		if m.cfg.Audio != nil {
			_ = m.cfg.Audio.Stop()
		}
		_ = transport.Close()
		return ErrConnectAborted
	}
	m.transport = transport
	m.cancel = cancel
	m.setStatusLocked(types.StatusConnected)
	m.mu.Unlock()

	if err := m.turns.Bind(transport); err != nil {
		slog.Warn("apply turn detection", "error", err)
	}

	// Fire-and-forget opening turn; the session is usable regardless.
	go m.sendGreeting()

	slog.Info("session connected", "thread", m.cfg.ThreadID)
	return nil
}

// Disconnect tears the session down: stops the feature meters and capture,
// cancels the dispatch loop, closes the transport, and reverts the status.
// Idempotent; a second call is a no-op.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	if m.status == types.StatusDisconnected {
		m.mu.Unlock()
		return nil
	}
	transport := m.transport
	cancel := m.cancel
	m.transport = nil
	m.cancel = nil
	m.epoch++
	m.setStatusLocked(types.StatusDisconnected)
	m.mu.Unlock()

	m.turns.Unbind()
	m.localMeter.Stop()
	m.remoteMeter.Stop()

	if cancel != nil {
		cancel()
	}
	if m.cfg.Audio != nil {
		if err := m.cfg.Audio.Stop(); err != nil {
			slog.Error("stop audio capture", "error", err)
		}
	}
	if transport != nil {
		if err := transport.Close(); err != nil {
			slog.Error("close transport", "error", err)
		}
	}

	slog.Info("session disconnected", "thread", m.cfg.ThreadID)
	return nil
}

// ToggleVoice flips the voice mode: enabled connects, disabled disconnects.
// The flag is independent of the connection status so the UI can poll it
// without racing the async transition.
func (m *Manager) ToggleVoice(ctx context.Context, enabled bool) error {
	m.voiceActive.Store(enabled)
	if enabled {
		return m.Connect(ctx)
	}
	return m.Disconnect()
}

// VoiceActive reports the requested voice mode.
func (m *Manager) VoiceActive() bool {
	return m.voiceActive.Load()
}

// Status returns the current connection status.
func (m *Manager) Status() types.SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Info returns a point-in-time snapshot for UI polling.
func (m *Manager) Info() types.SessionInfo {
	return types.SessionInfo{
		Status:      m.Status().String(),
		VoiceActive: m.voiceActive.Load(),
		TurnMode:    m.turns.Mode(),
		ThreadID:    m.cfg.ThreadID,
		EntryCount:  m.transcript.Len(),
	}
}

// Turns exposes the turn-detection controller.
func (m *Manager) Turns() *TurnController {
	return m.turns
}

// Transcript exposes the synchronizer for reads and update subscription.
func (m *Manager) Transcript() *Synchronizer {
	return m.transcript
}

// Guardrails exposes the moderation pipeline.
func (m *Manager) Guardrails() *GuardrailPipeline {
	return m.guardrails
}

// Speakers returns the active-speaker signal channel.
func (m *Manager) Speakers() <-chan types.SpeakerSignal {
	return m.dispatcher.Speakers()
}

// Notices returns the agent notice channel.
func (m *Manager) Notices() <-chan types.AgentNotice {
	return m.dispatcher.Notices()
}

// Frames returns merged audio feature frames from all sources.
func (m *Manager) Frames() <-chan types.AudioFeatureFrame {
	return m.frames
}

// Errors returns surfaced transport errors.
func (m *Manager) Errors() <-chan error {
	return m.errs
}

// SendText enqueues a typed user message and requests a response. The local
// entry is completed immediately; the transport copy is fire-and-forget.
func (m *Manager) SendText(text string) (string, error) {
	m.mu.Lock()
	transport := m.transport
	connected := m.status == types.StatusConnected
	m.mu.Unlock()

	if !connected || transport == nil {
		return "", ErrNotConnected
	}

	itemID := uuid.NewString()
	m.transcript.Register(itemID, types.RoleUser)
	m.transcript.Complete(itemID, types.RoleUser, text)

	if err := transport.SendEvent(realtime.EventConversationItemCreate(itemID, "user", text)); err != nil {
		return itemID, fmt.Errorf("send text item: %w", err)
	}
	if err := transport.SendEvent(realtime.EventResponseCreate()); err != nil {
		return itemID, fmt.Errorf("request response: %w", err)
	}
	return itemID, nil
}

// dispatchLoop delivers transport events serially, in arrival order, to the
// dispatcher. Handlers never block on storage or evaluation.
func (m *Manager) dispatchLoop(ctx context.Context, transport Transport) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-transport.Messages():
			if !ok {
				return
			}
			m.dispatcher.Handle(ev)
		case err, ok := <-transport.Errors():
			if !ok {
				continue
			}
			select {
			case m.errs <- err:
			default:
			}
		}
	}
}

func (m *Manager) sendGreeting() {
	m.mu.Lock()
	transport := m.transport
	m.mu.Unlock()
	if transport == nil {
		return
	}

	itemID := uuid.NewString()
	if err := transport.SendEvent(realtime.EventConversationItemCreate(itemID, "user", m.cfg.Greeting)); err != nil {
		slog.Warn("send greeting", "error", err)
		return
	}
	if err := transport.SendEvent(realtime.EventResponseCreate()); err != nil {
		slog.Warn("request greeting response", "error", err)
	}
}

func (m *Manager) handleLocalAudio(samples []float32) {
	m.localMeter.Feed(samples)

	m.mu.Lock()
	transport := m.transport
	m.mu.Unlock()
	if transport == nil {
		return
	}
	if err := transport.SendAudio(samples); err != nil {
		slog.Debug("send audio", "error", err)
	}
}

func (m *Manager) handleRemoteAudio(samples []float32) {
	m.remoteMeter.Feed(samples)
}

func (m *Manager) mergeFrames(in <-chan types.AudioFeatureFrame) {
	for frame := range in {
		select {
		case m.frames <- frame:
		default:
		}
	}
}

// revertToDisconnected rolls the status back after a failed connect.
func (m *Manager) revertToDisconnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setStatusLocked(types.StatusDisconnected)
}

// setStatusLocked transitions the status. Caller must hold m.mu. Transitions
// follow the total order Disconnected → Connecting → Connected →
// Disconnected; this is the only place status changes.
func (m *Manager) setStatusLocked(next types.SessionStatus) {
	if m.status == next {
		return
	}
	slog.Info("session status", "from", m.status, "to", next)
	m.status = next
}
