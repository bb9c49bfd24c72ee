package voicesession

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.parley.dev/parley/internal/types"
)

// InaudiblePlaceholder substitutes final transcripts that arrive empty or as
// bare whitespace, so the transcript never stores an empty message.
const InaudiblePlaceholder = "[inaudible]"

// Store is the external persistence collaborator. Upsert must be idempotent
// keyed on itemID: create-if-absent, else update.
type Store interface {
	Upsert(ctx context.Context, threadID, itemID string, role types.Role, text string) error
}

// LanguageDetector annotates completed transcripts with a language code.
type LanguageDetector interface {
	Detect(text string) (code string, ok bool)
}

// Synchronizer converts per-item partial update events into authoritative,
// idempotently-updated transcript entries. It is the sole writer of entries;
// the persistence store is a downstream mirror, never a second source of
// truth for the live session.
type Synchronizer struct {
	mu       sync.Mutex
	threadID string
	entries  map[string]*types.TranscriptEntry
	nextOrd  int64

	store  Store            // optional mirror
	detect LanguageDetector // optional annotation

	updates chan types.TranscriptEntry
}

// NewSynchronizer creates a synchronizer for one conversation thread.
// store and detect may be nil.
func NewSynchronizer(threadID string, store Store, detect LanguageDetector) *Synchronizer {
	return &Synchronizer{
		threadID: threadID,
		entries:  make(map[string]*types.TranscriptEntry),
		store:    store,
		detect:   detect,
		updates:  make(chan types.TranscriptEntry, 100),
	}
}

// Updates returns a read-only channel of entry snapshots, one per mutation.
func (s *Synchronizer) Updates() <-chan types.TranscriptEntry {
	return s.updates
}

// Replay merges previously persisted entries before live events are accepted,
// so reattaching to an existing thread needs no destructive reload. Live
// entries already present win over replayed ones.
func (s *Synchronizer) Replay(entries []types.TranscriptEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range entries {
		e := entries[i]
		if _, exists := s.entries[e.ItemID]; exists {
			continue
		}
		if e.Order >= s.nextOrd {
			s.nextOrd = e.Order + 1
		}
		s.entries[e.ItemID] = &e
	}
}

// Register creates a Pending entry for a new itemID. Duplicate registration
// is a no-op and reports false.
func (s *Synchronizer) Register(itemID string, role types.Role) bool {
	if itemID == "" {
		slog.Warn("transcript register dropped: empty item id")
		return false
	}

	s.mu.Lock()
	if _, exists := s.entries[itemID]; exists {
		s.mu.Unlock()
		return false
	}
	entry := s.register(itemID, role)
	snapshot := *entry
	s.mu.Unlock()

	s.mirror(snapshot)
	s.publish(snapshot)
	return true
}

// register creates the entry. Caller must hold s.mu.
func (s *Synchronizer) register(itemID string, role types.Role) *types.TranscriptEntry {
	entry := &types.TranscriptEntry{
		ItemID:    itemID,
		Role:      role,
		Lifecycle: types.LifecyclePending,
		Order:     s.nextOrd,
		CreatedAt: time.Now().UnixMilli(),
	}
	s.nextOrd++
	s.entries[itemID] = entry
	return entry
}

// ApplyDelta applies a partial transcript fragment. The first delta for a
// Pending entry replaces its placeholder text; subsequent deltas append.
// Deltas arriving before the item registration implicitly register it, and
// deltas after completion are ignored.
func (s *Synchronizer) ApplyDelta(itemID string, role types.Role, delta string) {
	if itemID == "" {
		slog.Warn("transcript delta dropped: empty item id")
		return
	}

	s.mu.Lock()
	entry, ok := s.entries[itemID]
	if !ok {
		entry = s.register(itemID, role)
	}

	switch entry.Lifecycle {
	case types.LifecycleDone:
		// The final transcript is authoritative; late deltas are stale.
		s.mu.Unlock()
		return
	case types.LifecyclePending:
		entry.Text = delta
		entry.Lifecycle = types.LifecycleStreaming
	default:
		entry.Text += delta
	}
	snapshot := *entry
	s.mu.Unlock()

	s.mirror(snapshot)
	s.publish(snapshot)
}

// Complete replaces the accumulated text with the authoritative final
// transcript and marks the entry Done. Applying the same completion twice
// yields no second mutation.
func (s *Synchronizer) Complete(itemID string, role types.Role, final string) {
	if itemID == "" {
		slog.Warn("transcript completion dropped: empty item id")
		return
	}

	text := final
	if strings.TrimSpace(text) == "" {
		text = InaudiblePlaceholder
	}

	s.mu.Lock()
	entry, ok := s.entries[itemID]
	if !ok {
		entry = s.register(itemID, role)
	}

	if entry.Lifecycle == types.LifecycleDone && entry.Text == text {
		s.mu.Unlock()
		return
	}

	entry.Text = text
	entry.Lifecycle = types.LifecycleDone
	if s.detect != nil && text != InaudiblePlaceholder {
		if code, ok := s.detect.Detect(text); ok {
			entry.Language = code
		}
	}
	snapshot := *entry
	s.mu.Unlock()

	s.mirror(snapshot)
	s.publish(snapshot)
}

// AttachGuardrail attaches a verdict to the most recently created assistant
// entry. Reports the itemID it attached to, or false when no assistant entry
// exists yet. The underlying text is never rewritten.
func (s *Synchronizer) AttachGuardrail(result types.GuardrailResult) (string, bool) {
	s.mu.Lock()
	var latest *types.TranscriptEntry
	for _, e := range s.entries {
		if e.Role != types.RoleAssistant {
			continue
		}
		if latest == nil || e.Order > latest.Order {
			latest = e
		}
	}
	if latest == nil {
		s.mu.Unlock()
		return "", false
	}
	r := result
	latest.Guardrail = &r
	snapshot := *latest
	s.mu.Unlock()

	s.publish(snapshot)
	return snapshot.ItemID, true
}

// AttachGuardrailTo attaches a verdict to one specific entry, identified by
// the itemID it was evaluated for. Reports false when the entry does not
// exist. The underlying text is never rewritten.
func (s *Synchronizer) AttachGuardrailTo(itemID string, result types.GuardrailResult) bool {
	s.mu.Lock()
	entry, ok := s.entries[itemID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	r := result
	entry.Guardrail = &r
	snapshot := *entry
	s.mu.Unlock()

	s.publish(snapshot)
	return true
}

// Entry returns a snapshot of one entry.
func (s *Synchronizer) Entry(itemID string) (types.TranscriptEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[itemID]
	if !ok {
		return types.TranscriptEntry{}, false
	}
	return *entry, true
}

// Entries returns snapshots of all entries in creation order.
func (s *Synchronizer) Entries() []types.TranscriptEntry {
	s.mu.Lock()
	result := make([]types.TranscriptEntry, 0, len(s.entries))
	for _, e := range s.entries {
		result = append(result, *e)
	}
	s.mu.Unlock()

	sort.Slice(result, func(i, j int) bool { return result[i].Order < result[j].Order })
	return result
}

// Len returns the number of entries.
func (s *Synchronizer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// mirror dispatches a fire-and-forget upsert to the persistence collaborator.
// The live transcript stays authoritative even when the mirror write fails,
// and the event stream never waits on storage.
func (s *Synchronizer) mirror(entry types.TranscriptEntry) {
	if s.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.Upsert(ctx, s.threadID, entry.ItemID, entry.Role, entry.Text); err != nil {
			slog.Warn("transcript mirror upsert", "item", entry.ItemID, "error", err)
		}
	}()
}

func (s *Synchronizer) publish(entry types.TranscriptEntry) {
	select {
	case s.updates <- entry:
	default:
		// Drop if full to avoid blocking the event loop
	}
}
