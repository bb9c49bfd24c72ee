package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wailsapp/wails/v3/pkg/application"

	"go.parley.dev/parley/audiocapture"
	"go.parley.dev/parley/config"
	"go.parley.dev/parley/hotkey"
	"go.parley.dev/parley/internal/types"
	"go.parley.dev/parley/langdetect"
	"go.parley.dev/parley/moderation"
	"go.parley.dev/parley/store"
	"go.parley.dev/parley/voicesession"
)

// Service provides application functionality bound to Wails.
// This struct focuses on orchestration; session logic lives in voicesession.
type Service struct {
	cfg     *config.Config
	store   *store.Store
	capture *audiocapture.Capture
	ptt     *hotkey.Listener

	// UI references, set via Init.
	app    *application.App
	window application.Window

	mu      sync.Mutex
	session *voicesession.Manager

	version string
}

// New creates a new Service. Call Init() after the Wails app is created.
func New(version string) *Service {
	return &Service{version: version}
}

// GetVersion returns the application version.
func (s *Service) GetVersion() string {
	return s.version
}

// Init initializes the service with app and window references.
// Must be called after the Wails application is created.
func (s *Service) Init(app *application.App, window application.Window) {
	s.app = app
	s.window = window

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		cfg = &config.Config{}
	}
	s.cfg = cfg

	s.setupStore()
	s.setupCapture()
	s.setupSession()
	s.setupHotkey()
}

// Shutdown cleans up resources.
func (s *Service) Shutdown() {
	if s.ptt != nil {
		s.ptt.Stop()
	}

	s.mu.Lock()
	session := s.session
	s.mu.Unlock()
	if session != nil {
		if err := session.Disconnect(); err != nil {
			slog.Error("disconnect session", "error", err)
		}
	}

	if s.capture != nil {
		if err := s.capture.Close(); err != nil {
			slog.Error("close audio capture", "error", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Error("close transcript store", "error", err)
		}
	}
}

func (s *Service) setupStore() {
	dir, err := config.DataDir()
	if err != nil {
		slog.Error("resolve data dir", "error", err)
		return
	}
	st, err := store.Open(dir)
	if err != nil {
		slog.Error("open transcript store", "error", err)
		return
	}
	s.store = st
	slog.Info("transcript store opened", "path", dir)
}

func (s *Service) setupCapture() {
	capture, err := audiocapture.New()
	if err != nil {
		slog.Error("init audio capture", "error", err)
		return
	}
	s.capture = capture
}

func (s *Service) setupSession() {
	if s.cfg.APIKey == "" {
		slog.Warn("api key not configured; voice session unavailable until set")
		return
	}

	opts := voicesession.Options{
		ThreadID:     s.cfg.ThreadID,
		Model:        s.cfg.Model,
		Instructions: s.cfg.Instructions,
		Greeting:     s.cfg.Greeting,
		VAD:          s.cfg.TurnDetection(),
		Detector:     langdetect.New(),
		Evaluator:    moderationEvaluator(s.cfg),
		UseWebSocket: s.cfg.Transport == "websocket",
	}
	if s.capture != nil {
		opts.Audio = s.capture
	}
	if s.store != nil {
		opts.Store = s.store
	}

	session, err := voicesession.New(s.cfg.APIKey, opts)
	if err != nil {
		slog.Error("create voice session", "error", err)
		return
	}

	s.mu.Lock()
	s.session = session
	s.mu.Unlock()

	if mode := types.TurnMode(s.cfg.TurnMode); mode == types.TurnModePTT {
		if err := session.Turns().SetMode(mode); err != nil {
			slog.Error("restore turn mode", "error", err)
		}
	}

	go s.forwardEvents(session)
}

func (s *Service) setupHotkey() {
	listener, err := hotkey.New(s.cfg.PTTKey,
		func() {
			if sess := s.current(); sess != nil {
				if err := sess.Turns().BeginTurn(); err != nil {
					slog.Debug("begin turn", "error", err)
				}
			}
		},
		func() {
			if sess := s.current(); sess != nil {
				if err := sess.Turns().EndTurn(); err != nil {
					slog.Debug("end turn", "error", err)
				}
			}
		},
	)
	if err != nil {
		slog.Error("bind push-to-talk key", "error", err)
		return
	}
	s.ptt = listener
	listener.Start()
}

// forwardEvents relays session channels to the frontend until they close.
func (s *Service) forwardEvents(session *voicesession.Manager) {
	var wg sync.WaitGroup

	wg.Go(func() {
		for entry := range session.Transcript().Updates() {
			s.emit(EventTranscriptUpdate, entry)
		}
	})
	wg.Go(func() {
		for signal := range session.Speakers() {
			s.emit(EventSpeakerSignal, signal)
		}
	})
	wg.Go(func() {
		for notice := range session.Notices() {
			s.emit(EventAgentNotice, notice)
		}
	})
	wg.Go(func() {
		for frame := range session.Frames() {
			s.emit(EventAudioFeatures, frame)
		}
	})
	wg.Go(func() {
		for err := range session.Errors() {
			slog.Error("session error", "error", err)
		}
	})

	wg.Wait()
}

func (s *Service) emit(name string, data any) {
	if s.app != nil {
		s.app.Event.Emit(name, data)
	}
}

func (s *Service) current() *voicesession.Manager {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// ─────────────────────────────────────────────────────────────────────────────
// Wails-bound API
// ─────────────────────────────────────────────────────────────────────────────

// ToggleVoiceSession enables or disables the voice session.
func (s *Service) ToggleVoiceSession(enabled bool) error {
	session := s.current()
	if session == nil {
		return fmt.Errorf("voice session not configured; set an API key first")
	}

	err := session.ToggleVoice(context.Background(), enabled)
	s.emit(EventSessionStatus, session.Info())
	return err
}

// GetSessionStatus returns a snapshot of the session state.
func (s *Service) GetSessionStatus() types.SessionInfo {
	session := s.current()
	if session == nil {
		return types.SessionInfo{Status: types.StatusDisconnected.String()}
	}
	return session.Info()
}

// GetTranscript returns all transcript entries in conversation order.
func (s *Service) GetTranscript() []types.TranscriptEntry {
	session := s.current()
	if session == nil {
		return nil
	}
	return session.Transcript().Entries()
}

// SendTextMessage sends a typed message into the conversation.
func (s *Service) SendTextMessage(text string) (string, error) {
	session := s.current()
	if session == nil {
		return "", fmt.Errorf("voice session not configured")
	}
	return session.SendText(text)
}

// SetTurnMode switches between "vad" and "ptt" turn detection.
func (s *Service) SetTurnMode(mode string) error {
	session := s.current()
	if session == nil {
		return fmt.Errorf("voice session not configured")
	}
	if err := session.Turns().SetMode(types.TurnMode(mode)); err != nil {
		return err
	}
	return s.cfg.SetTurnMode(mode)
}

// GetTurnMode returns the active turn-detection mode.
func (s *Service) GetTurnMode() string {
	session := s.current()
	if session == nil {
		return s.cfg.TurnMode
	}
	return string(session.Turns().Mode())
}

// SetAPIKey stores the API key and builds the session if needed.
func (s *Service) SetAPIKey(key string) error {
	if err := s.cfg.SetAPIKey(key); err != nil {
		return err
	}
	if s.current() == nil {
		s.setupSession()
	}
	return nil
}

// LanguageName renders an ISO 639-1 code as a display name for the UI.
func (s *Service) LanguageName(code string) string {
	return langdetect.DisplayName(code)
}

// moderationEvaluator builds the guardrail classifier from config.
func moderationEvaluator(cfg *config.Config) voicesession.GuardrailEvaluator {
	if cfg.APIKey == "" {
		return nil
	}
	var opts []moderation.Option
	if cfg.ModerationModel != "" {
		opts = append(opts, moderation.WithModel(cfg.ModerationModel))
	}
	return moderation.NewClassifier(cfg.APIKey, opts...)
}
