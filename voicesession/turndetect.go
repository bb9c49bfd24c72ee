package voicesession

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.parley.dev/parley/internal/types"
	"go.parley.dev/parley/voicesession/realtime"
)

// Sentinel errors for turn control misuse.
var (
	ErrNotConnected = errors.New("voicesession: not connected")
	ErrNotPTT       = errors.New("voicesession: push-to-talk not active")
	ErrTurnOpen     = errors.New("voicesession: turn already open")
)

// DefaultVAD is the server voice-activity-detection configuration applied
// when none is supplied.
var DefaultVAD = realtime.TurnDetection{
	Type:              "server_vad",
	Threshold:         0.5,
	PrefixPaddingMs:   300,
	SilenceDurationMs: 500,
	CreateResponse:    true,
}

// TurnController toggles between server voice activity detection and manual
// push-to-talk by reconfiguring the live session, without tearing it down.
type TurnController struct {
	mu        sync.Mutex
	transport Transport // nil while disconnected
	mode      types.TurnMode
	vad       realtime.TurnDetection
	turnOpen  bool // PTT: an uncommitted turn is in progress
}

// NewTurnController creates a controller starting in VAD mode.
func NewTurnController(vad realtime.TurnDetection) *TurnController {
	if vad.Type == "" {
		vad = DefaultVAD
	}
	return &TurnController{mode: types.TurnModeVAD, vad: vad}
}

// Bind attaches the controller to a live transport and pushes the current
// mode's configuration to it.
func (t *TurnController) Bind(transport Transport) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transport = transport
	t.turnOpen = false
	return t.applyLocked()
}

// Unbind detaches the controller when the session ends.
func (t *TurnController) Unbind() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transport = nil
	t.turnOpen = false
}

// Mode returns the active turn-detection mode.
func (t *TurnController) Mode() types.TurnMode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mode
}

// SetMode switches between VAD and PTT. With a live transport the new
// configuration is sent immediately; otherwise it applies on the next Bind.
func (t *TurnController) SetMode(mode types.TurnMode) error {
	if mode != types.TurnModeVAD && mode != types.TurnModePTT {
		return fmt.Errorf("voicesession: unknown turn mode %q", mode)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.mode == mode {
		return nil
	}
	t.mode = mode
	t.turnOpen = false

	if t.transport == nil {
		return nil
	}
	return t.applyLocked()
}

// applyLocked sends the session.update for the current mode. Caller must
// hold t.mu.
func (t *TurnController) applyLocked() error {
	if t.transport == nil {
		return nil
	}

	var td *realtime.TurnDetection
	if t.mode == types.TurnModeVAD {
		vad := t.vad
		td = &vad
	}
	// PTT leaves turn_detection null: the server stops inferring boundaries.

	if err := t.transport.SendEvent(realtime.NewSessionUpdate(td)); err != nil {
		return fmt.Errorf("configure turn detection: %w", err)
	}
	slog.Info("turn detection configured", "mode", t.mode)
	return nil
}

// BeginTurn starts a push-to-talk turn: clears the pending input buffer and
// marks the user as actively speaking. Valid only in PTT mode with no turn
// already open.
func (t *TurnController) BeginTurn() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.transport == nil {
		return ErrNotConnected
	}
	if t.mode != types.TurnModePTT {
		return ErrNotPTT
	}
	if t.turnOpen {
		return ErrTurnOpen
	}

	if err := t.transport.SendEvent(realtime.EventInputAudioBufferClear()); err != nil {
		return fmt.Errorf("clear input buffer: %w", err)
	}
	t.turnOpen = true
	return nil
}

// EndTurn commits the input buffer and requests a response. Only valid after
// an unmatched BeginTurn; without one it is a no-op.
func (t *TurnController) EndTurn() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.transport == nil {
		return ErrNotConnected
	}
	if t.mode != types.TurnModePTT {
		return ErrNotPTT
	}
	if !t.turnOpen {
		slog.Debug("end turn without open turn; ignoring")
		return nil
	}

	if err := t.transport.SendEvent(realtime.EventInputAudioBufferCommit()); err != nil {
		return fmt.Errorf("commit input buffer: %w", err)
	}
	if err := t.transport.SendEvent(realtime.EventResponseCreate()); err != nil {
		return fmt.Errorf("request response: %w", err)
	}
	t.turnOpen = false
	return nil
}

// TurnOpen reports whether a push-to-talk turn is in progress.
func (t *TurnController) TurnOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.turnOpen
}
