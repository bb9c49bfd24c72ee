package voicesession

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.parley.dev/parley/internal/types"
	"go.parley.dev/parley/voicesession/realtime"
)

// handoffPrefix marks tool invocations that transfer control between agents.
const handoffPrefix = "transfer_to_"

// toolCall records one tool invocation awaiting its result.
type toolCall struct {
	callID string
	name   string
	args   string
}

// Dispatcher is the single entry point for transport events. It classifies
// each event by tag and routes it to the synchronizer, the guardrail
// pipeline, or breadcrumb handling. A malformed event is dropped with a
// warning; it never halts the dispatch loop.
type Dispatcher struct {
	transcript *Synchronizer
	guardrails *GuardrailPipeline

	mu        sync.Mutex
	openCalls []toolCall

	speakers chan types.SpeakerSignal
	notices  chan types.AgentNotice
}

// NewDispatcher creates a dispatcher routing to the given collaborators.
func NewDispatcher(transcript *Synchronizer, guardrails *GuardrailPipeline) *Dispatcher {
	return &Dispatcher{
		transcript: transcript,
		guardrails: guardrails,
		speakers:   make(chan types.SpeakerSignal, 32),
		notices:    make(chan types.AgentNotice, 32),
	}
}

// Speakers returns the active-speaker signal channel.
func (d *Dispatcher) Speakers() <-chan types.SpeakerSignal {
	return d.speakers
}

// Notices returns the agent notice channel (handoffs, tool breadcrumbs).
func (d *Dispatcher) Notices() <-chan types.AgentNotice {
	return d.notices
}

// Handle classifies one transport event and routes it. Events are consumed
// exactly once and in delivery order; handlers return immediately.
func (d *Dispatcher) Handle(ev realtime.Event) {
	switch e := ev.(type) {
	case realtime.SpeechStartedEvent:
		d.signalSpeaker(types.Role(e.Role), true)
	case realtime.SpeechStoppedEvent:
		d.signalSpeaker(types.Role(e.Role), false)

	case realtime.ItemCreatedEvent:
		if e.Item.ID == "" {
			slog.Warn("item created event dropped: missing item id")
			return
		}
		d.transcript.Register(e.Item.ID, types.Role(e.Item.Role))

	case realtime.TranscriptDeltaEvent:
		d.transcript.ApplyDelta(e.ItemID, types.Role(e.Role), e.Delta)
	case realtime.TranscriptCompletedEvent:
		d.transcript.Complete(e.ItemID, types.Role(e.Role), e.Transcript)
		if types.Role(e.Role) == types.RoleAssistant {
			d.guardrails.Review(e.ItemID, e.Transcript)
		}

	case realtime.ToolCallStartEvent:
		d.handleToolStart(e)
	case realtime.ToolCallEndEvent:
		d.handleToolEnd(e)

	case realtime.AgentHandoffEvent:
		d.handleHandoff(e.Context)

	case realtime.GuardrailTrippedEvent:
		result, ok := guardrailResult(e)
		if !ok {
			slog.Warn("guardrail event dropped: missing category")
			return
		}
		d.guardrails.HandleTripped(result)

	case realtime.ResponseCreatedEvent:
		slog.Debug("response started")
	case realtime.ResponseDoneEvent:
		slog.Debug("response done")

	case realtime.ErrorEvent:
		slog.Error("transport error",
			"type", e.Error.Type,
			"code", e.Error.Code,
			"message", e.Error.Message)

	case realtime.UnknownEvent:
		// Forward compatibility: unrecognized tags are accepted, not rejected.
		slog.Debug("unrecognized event", "type", e.Type)

	default:
		slog.Debug("unrouted event type")
	}
}

func (d *Dispatcher) signalSpeaker(role types.Role, speaking bool) {
	if role == "" {
		role = types.RoleUser
	}
	signal := types.SpeakerSignal{
		Role:     role,
		Speaking: speaking,
		AtMs:     time.Now().UnixMilli(),
	}
	select {
	case d.speakers <- signal:
	default:
	}
}

func (d *Dispatcher) handleToolStart(e realtime.ToolCallStartEvent) {
	if e.Name == "" {
		slog.Warn("tool call event dropped: missing tool name")
		return
	}

	if strings.HasPrefix(e.Name, handoffPrefix) {
		d.raiseHandoff(strings.TrimPrefix(e.Name, handoffPrefix))
		return
	}

	d.mu.Lock()
	d.openCalls = append(d.openCalls, toolCall{callID: e.CallID, name: e.Name, args: e.Args})
	d.mu.Unlock()

	slog.Info("tool call started", "tool", e.Name)
	d.notify(types.AgentNotice{
		Kind:      types.NoticeToolCall,
		Tool:      e.Name,
		Detail:    e.Args,
		Timestamp: time.Now().UnixMilli(),
	})
}

// handleToolEnd resolves the result against the most recent open call of the
// same tool name. Resolved calls are pruned so the open set stays bounded
// over a long session.
func (d *Dispatcher) handleToolEnd(e realtime.ToolCallEndEvent) {
	if e.Name == "" {
		slog.Warn("tool result event dropped: missing tool name")
		return
	}

	if strings.HasPrefix(e.Name, handoffPrefix) {
		// The handoff was already raised at call start.
		return
	}

	d.mu.Lock()
	matched := false
	for i := len(d.openCalls) - 1; i >= 0; i-- {
		if d.openCalls[i].name == e.Name {
			d.openCalls = append(d.openCalls[:i], d.openCalls[i+1:]...)
			matched = true
			break
		}
	}
	d.mu.Unlock()

	if !matched {
		slog.Warn("tool result without matching call", "tool", e.Name)
	}

	slog.Info("tool call finished", "tool", e.Name)
	d.notify(types.AgentNotice{
		Kind:      types.NoticeToolResult,
		Tool:      e.Name,
		Detail:    e.Result,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (d *Dispatcher) handleHandoff(context string) {
	target := parseHandoffTarget(context)
	if target == "" {
		slog.Warn("handoff event dropped: no target agent in context")
		return
	}
	d.raiseHandoff(target)
}

func (d *Dispatcher) raiseHandoff(target string) {
	slog.Info("agent handoff", "target", target)
	d.notify(types.AgentNotice{
		Kind:      types.NoticeHandoff,
		Target:    target,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (d *Dispatcher) notify(notice types.AgentNotice) {
	select {
	case d.notices <- notice:
	default:
	}
}

// parseHandoffTarget extracts the target agent name from the triggering
// message, e.g. "handing off via transfer_to_support now" yields "support".
func parseHandoffTarget(s string) string {
	idx := strings.Index(s, handoffPrefix)
	if idx < 0 {
		return ""
	}
	rest := s[idx+len(handoffPrefix):]
	end := strings.IndexFunc(rest, func(r rune) bool {
		return !(r == '_' || r == '-' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
	})
	if end >= 0 {
		rest = rest[:end]
	}
	return rest
}

// guardrailResult validates and converts a tripped event payload.
func guardrailResult(e realtime.GuardrailTrippedEvent) (types.GuardrailResult, bool) {
	category := types.GuardrailCategory(e.Result.Category)
	switch category {
	case types.GuardrailOffensive, types.GuardrailOffBrand, types.GuardrailViolence, types.GuardrailNone:
	default:
		return types.GuardrailResult{}, false
	}
	return types.GuardrailResult{
		Category:     category,
		Rationale:    e.Result.Rationale,
		EvidenceText: e.Result.Message,
	}, true
}
