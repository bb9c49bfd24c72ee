package voicesession

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.parley.dev/parley/internal/types"
)

// reviewTimeout bounds one asynchronous moderation pass.
const reviewTimeout = 15 * time.Second

// GuardrailEvaluator is the external moderation collaborator.
type GuardrailEvaluator interface {
	// Evaluate classifies proposed assistant output. tripped reports whether
	// the content tripped a guardrail; result carries the detail.
	Evaluate(ctx context.Context, text string) (tripped bool, result types.GuardrailResult, err error)
}

// GuardrailPipeline evaluates assistant output and attaches verdicts to the
// transcript. Verdicts augment entries with classification metadata; they
// never delete or rewrite the underlying text.
type GuardrailPipeline struct {
	transcript *Synchronizer
	eval       GuardrailEvaluator // optional
}

// NewGuardrailPipeline creates a pipeline bound to one synchronizer.
// eval may be nil, in which case Evaluate always allows.
func NewGuardrailPipeline(transcript *Synchronizer, eval GuardrailEvaluator) *GuardrailPipeline {
	return &GuardrailPipeline{transcript: transcript, eval: eval}
}

// Evaluate runs the moderation pass over outgoing assistant text.
//
// Evaluator failures are fail-closed: the content is flagged rather than
// silently allowed.
func (p *GuardrailPipeline) Evaluate(ctx context.Context, text string) types.GuardrailResult {
	if p.eval == nil {
		return types.GuardrailResult{Category: types.GuardrailNone}
	}

	tripped, result, err := p.eval.Evaluate(ctx, text)
	if err != nil {
		slog.Warn("guardrail evaluation failed, failing closed", "error", err)
		return types.GuardrailResult{
			Category:  types.GuardrailOffBrand,
			Rationale: "guardrail evaluation failed; content withheld pending review",
		}
	}
	if !tripped {
		return types.GuardrailResult{Category: types.GuardrailNone}
	}
	if result.Category == "" {
		result.Category = types.GuardrailOffBrand
	}
	return result
}

// Review runs the moderation pass over one completed assistant entry and
// attaches a flagged verdict to that entry. Evaluation happens asynchronously
// so the dispatch loop never waits on the evaluator. Entries with no
// evaluator configured, or with blank text, are allowed without a pass.
func (p *GuardrailPipeline) Review(itemID, text string) {
	if p.eval == nil || strings.TrimSpace(text) == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), reviewTimeout)
		defer cancel()

		result := p.Evaluate(ctx, text)
		if !result.Flagged() {
			return
		}
		if !p.transcript.AttachGuardrailTo(itemID, result) {
			slog.Warn("guardrail verdict dropped: reviewed entry gone", "item", itemID)
			return
		}
		slog.Info("guardrail verdict attached", "item", itemID, "category", result.Category)
	}()
}

// HandleTripped attaches an incoming verdict to the most recently created
// assistant entry at trip time. Under concurrent responses this pairing is a
// heuristic, not a guaranteed match. With no assistant entry yet the verdict
// cannot be retroactively attached and is dropped.
func (p *GuardrailPipeline) HandleTripped(result types.GuardrailResult) {
	itemID, ok := p.transcript.AttachGuardrail(result)
	if !ok {
		slog.Warn("guardrail verdict dropped: no assistant entry to attach to",
			"category", result.Category)
		return
	}
	slog.Info("guardrail verdict attached", "item", itemID, "category", result.Category)
}
