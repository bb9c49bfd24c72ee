// Package hotkey binds a global push-to-talk key, turning OS key events into
// press and release callbacks even while the app is unfocused.
package hotkey

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	hook "github.com/robotn/gohook"
)

// DefaultKey is the push-to-talk key when none is configured.
const DefaultKey = "f9"

// Listener watches one key globally. Holding the key fires onPress once;
// releasing fires onRelease.
type Listener struct {
	key       string
	code      uint16
	onPress   func()
	onRelease func()

	mu      sync.Mutex
	running bool
	held    bool
}

// New creates a listener for the named key ("f9", "space", ...).
func New(key string, onPress, onRelease func()) (*Listener, error) {
	if key == "" {
		key = DefaultKey
	}
	key = strings.ToLower(key)
	code, ok := hook.Keycode[key]
	if !ok {
		return nil, fmt.Errorf("hotkey: unknown key %q", key)
	}
	return &Listener{
		key:       key,
		code:      code,
		onPress:   onPress,
		onRelease: onRelease,
	}, nil
}

// Key returns the bound key name.
func (l *Listener) Key() string {
	return l.key
}

// Start begins listening for global key events. A second Start is a no-op.
func (l *Listener) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return
	}
	l.running = true

	events := hook.Start()
	go l.watch(events)
	slog.Info("push-to-talk hotkey bound", "key", l.key)
}

// Stop unhooks the listener. Idempotent.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running {
		return
	}
	l.running = false
	hook.End()
}

func (l *Listener) watch(events chan hook.Event) {
	for ev := range events {
		if ev.Keycode != l.code {
			continue
		}
		switch ev.Kind {
		case hook.KeyDown, hook.KeyHold:
			// OS key repeat delivers held keys repeatedly; press fires once.
			l.mu.Lock()
			first := !l.held
			l.held = true
			l.mu.Unlock()
			if first && l.onPress != nil {
				l.onPress()
			}
		case hook.KeyUp:
			l.mu.Lock()
			wasHeld := l.held
			l.held = false
			l.mu.Unlock()
			if wasHeld && l.onRelease != nil {
				l.onRelease()
			}
		}
	}
}
