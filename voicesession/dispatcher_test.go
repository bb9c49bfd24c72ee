package voicesession

import (
	"testing"

	"go.parley.dev/parley/internal/types"
	"go.parley.dev/parley/voicesession/realtime"
)

func newTestDispatcher() (*Dispatcher, *Synchronizer) {
	s := NewSynchronizer("thread", nil, nil)
	return NewDispatcher(s, NewGuardrailPipeline(s, nil)), s
}

func TestDispatcher_RoutesTranscriptEvents(t *testing.T) {
	d, s := newTestDispatcher()

	d.Handle(realtime.ItemCreatedEvent{Item: realtime.ConversationItem{ID: "m1", Role: "user"}})
	d.Handle(realtime.TranscriptDeltaEvent{ItemID: "m1", Role: "user", Delta: "Hel"})
	d.Handle(realtime.TranscriptDeltaEvent{ItemID: "m1", Role: "user", Delta: "lo"})
	d.Handle(realtime.TranscriptCompletedEvent{ItemID: "m1", Role: "user", Transcript: "Hello"})

	entry, ok := s.Entry("m1")
	if !ok {
		t.Fatal("entry not created from events")
	}
	if entry.Text != "Hello" || entry.Lifecycle != types.LifecycleDone {
		t.Errorf("entry = %q/%v, want Hello/done", entry.Text, entry.Lifecycle)
	}
}

func TestDispatcher_AssistantCompletionModerated(t *testing.T) {
	s := NewSynchronizer("thread", nil, nil)
	eval := &mockEvaluator{
		tripped: true,
		result:  types.GuardrailResult{Category: types.GuardrailViolence, Rationale: "threat"},
	}
	d := NewDispatcher(s, NewGuardrailPipeline(s, eval))

	d.Handle(realtime.TranscriptCompletedEvent{ItemID: "u1", Role: "user", Transcript: "hello there"})
	d.Handle(realtime.ItemCreatedEvent{Item: realtime.ConversationItem{ID: "m1", Role: "assistant"}})
	d.Handle(realtime.TranscriptCompletedEvent{ItemID: "m1", Role: "assistant", Transcript: "hostile reply"})

	waitFor(t, func() bool {
		entry, _ := s.Entry("m1")
		return entry.Guardrail != nil
	})
	entry, _ := s.Entry("m1")
	if entry.Guardrail.Category != types.GuardrailViolence {
		t.Errorf("category = %q, want violence", entry.Guardrail.Category)
	}
	if entry.Text != "hostile reply" {
		t.Errorf("text = %q, moderation must not rewrite entries", entry.Text)
	}

	user, _ := s.Entry("u1")
	if user.Guardrail != nil {
		t.Error("user completion was moderated")
	}
}

func TestDispatcher_SpeakerSignals(t *testing.T) {
	d, _ := newTestDispatcher()

	d.Handle(realtime.SpeechStartedEvent{Role: "user"})
	d.Handle(realtime.SpeechStoppedEvent{Role: "assistant"})

	first := <-d.Speakers()
	if first.Role != types.RoleUser || !first.Speaking {
		t.Errorf("first signal = %+v, want user speaking", first)
	}
	second := <-d.Speakers()
	if second.Role != types.RoleAssistant || second.Speaking {
		t.Errorf("second signal = %+v, want assistant stopped", second)
	}
}

func TestDispatcher_ToolCallBreadcrumbs(t *testing.T) {
	d, s := newTestDispatcher()

	d.Handle(realtime.ToolCallStartEvent{CallID: "c1", Name: "lookup_order", Args: `{"id":42}`})
	d.Handle(realtime.ToolCallEndEvent{CallID: "c1", Name: "lookup_order", Result: `{"status":"shipped"}`})

	call := <-d.Notices()
	if call.Kind != types.NoticeToolCall || call.Tool != "lookup_order" {
		t.Errorf("first notice = %+v, want tool_call lookup_order", call)
	}
	result := <-d.Notices()
	if result.Kind != types.NoticeToolResult || result.Detail != `{"status":"shipped"}` {
		t.Errorf("second notice = %+v, want tool_result with output", result)
	}

	if s.Len() != 0 {
		t.Error("tool events must not create transcript entries")
	}
}

func TestDispatcher_ResolvedToolCallsPruned(t *testing.T) {
	d, _ := newTestDispatcher()

	for i := 0; i < 3; i++ {
		d.Handle(realtime.ToolCallStartEvent{CallID: "c1", Name: "lookup_order", Args: "{}"})
		d.Handle(realtime.ToolCallEndEvent{CallID: "c1", Name: "lookup_order", Result: "ok"})
	}
	d.Handle(realtime.ToolCallStartEvent{CallID: "c2", Name: "check_refund", Args: "{}"})

	d.mu.Lock()
	open := len(d.openCalls)
	d.mu.Unlock()
	if open != 1 {
		t.Errorf("open calls = %d, resolved calls must be pruned", open)
	}
}

func TestDispatcher_ToolResultWithoutCallStillNotifies(t *testing.T) {
	d, _ := newTestDispatcher()

	d.Handle(realtime.ToolCallEndEvent{CallID: "c9", Name: "lookup_order", Result: "{}"})

	notice := <-d.Notices()
	if notice.Kind != types.NoticeToolResult {
		t.Errorf("notice kind = %q, want tool_result", notice.Kind)
	}
}

func TestDispatcher_HandoffFromToolName(t *testing.T) {
	d, _ := newTestDispatcher()

	d.Handle(realtime.ToolCallStartEvent{CallID: "c1", Name: "transfer_to_billing"})

	notice := <-d.Notices()
	if notice.Kind != types.NoticeHandoff || notice.Target != "billing" {
		t.Errorf("notice = %+v, want handoff to billing", notice)
	}
}

func TestDispatcher_HandoffEvent(t *testing.T) {
	d, _ := newTestDispatcher()

	d.Handle(realtime.AgentHandoffEvent{Context: "routing user via transfer_to_support, please hold"})

	notice := <-d.Notices()
	if notice.Kind != types.NoticeHandoff || notice.Target != "support" {
		t.Errorf("notice = %+v, want handoff to support", notice)
	}
}

func TestDispatcher_GuardrailEventAttaches(t *testing.T) {
	d, s := newTestDispatcher()

	s.Register("b", types.RoleAssistant)

	ev := realtime.GuardrailTrippedEvent{}
	ev.Result.Category = "offensive"
	ev.Result.Rationale = "profanity"
	d.Handle(ev)

	b, _ := s.Entry("b")
	if b.Guardrail == nil || b.Guardrail.Category != types.GuardrailOffensive {
		t.Errorf("guardrail = %+v, want offensive verdict attached", b.Guardrail)
	}
}

func TestDispatcher_MalformedEventsDropped(t *testing.T) {
	d, s := newTestDispatcher()

	// None of these may panic or create state.
	d.Handle(realtime.ItemCreatedEvent{})
	d.Handle(realtime.ToolCallStartEvent{CallID: "c1"})

	badCategory := realtime.GuardrailTrippedEvent{}
	badCategory.Result.Category = "sarcasm"
	d.Handle(badCategory)

	d.Handle(realtime.UnknownEvent{Type: "future.event"})

	if s.Len() != 0 {
		t.Errorf("len = %d, malformed events must not create entries", s.Len())
	}
	select {
	case n := <-d.Notices():
		t.Errorf("unexpected notice: %+v", n)
	default:
	}
}

func TestParseHandoffTarget(t *testing.T) {
	tests := []struct {
		name    string
		context string
		want    string
	}{
		{"plain", "transfer_to_support", "support"},
		{"embedded", "calling transfer_to_billing-team now", "billing-team"},
		{"trailing punctuation", "use transfer_to_sales.", "sales"},
		{"absent", "no transfer here", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseHandoffTarget(tt.context); got != tt.want {
				t.Errorf("parseHandoffTarget(%q) = %q, want %q", tt.context, got, tt.want)
			}
		})
	}
}
