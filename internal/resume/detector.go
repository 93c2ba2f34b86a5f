package resume

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"sessionguard/internal/checkpoint"
	"sessionguard/internal/signals"
	"sessionguard/internal/store"
)

// InterruptionReason classifies why the previous session ended.
type InterruptionReason string

const (
	ReasonCrash      InterruptionReason = "crash"
	ReasonTimeout    InterruptionReason = "timeout"
	ReasonManualExit InterruptionReason = "manual_exit"
	ReasonUnknown    InterruptionReason = "unknown"
)

const (
	// crashWindow: a checkpoint this fresh with non-safe risk means the
	// session almost certainly died rather than walked away.
	crashWindow = 5 * time.Minute

	// timeoutAfter: a safe-risk checkpoint this stale reads as an
	// abandoned session.
	timeoutAfter = 30 * time.Minute

	// maxFallbackAttempts caps the newest-first walk over a session's
	// checkpoints when payloads turn out corrupt.
	maxFallbackAttempts = 3

	// confidenceBar is the minimum confidence for offering a resume.
	confidenceBar = 0.5

	// recencyHorizon is the span over which the recency component
	// decays linearly to zero.
	recencyHorizon = 24 * time.Hour
)

// Confidence weights. They sum to 1.
const (
	weightRecency      = 0.5
	weightTrigger      = 0.3
	weightCompleteness = 0.2
)

// Decision is the outcome of evaluating whether a new session should be
// offered continuation from a prior checkpoint.
type Decision struct {
	SessionID    string                 `json:"session_id"`
	ShouldResume bool                   `json:"should_resume"`
	Reason       InterruptionReason     `json:"interruption_reason"`
	Confidence   float64                `json:"confidence"`
	Elapsed      time.Duration          `json:"elapsed"`
	Checkpoint   *checkpoint.Checkpoint `json:"-"`
	Prompt       *Prompt                `json:"prompt,omitempty"`
}

// Detector evaluates resume decisions at session start. It holds no
// state across calls beyond what it reloads from the store.
type Detector struct {
	store  *store.Store
	logger *slog.Logger

	now func() time.Time
}

// NewDetector creates a resume detector.
func NewDetector(st *store.Store, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{store: st, logger: logger, now: time.Now}
}

// CheckResumeNeeded finds the most recent unresumed checkpoint for a
// session and decides whether to offer a resume. A missing or empty
// session yields a negative decision, never an error. Corrupt checkpoints
// are skipped newest-first, up to a small bounded number of attempts.
func (d *Detector) CheckResumeNeeded(ctx context.Context, sessionID string) (*Decision, error) {
	negative := &Decision{SessionID: sessionID, Reason: ReasonUnknown}

	ids, err := d.store.ListIDsBySession(ctx, sessionID)
	if err != nil {
		d.logger.Error("resume detection degraded: listing checkpoints failed",
			"session", sessionID, "error", err)
		return negative, nil
	}
	if len(ids) == 0 {
		return negative, nil
	}

	var cp *checkpoint.Checkpoint
	attempts := min(len(ids), maxFallbackAttempts)
	for i := 0; i < attempts; i++ {
		cp, err = d.store.GetByID(ctx, ids[i])
		if err == nil {
			break
		}
		if errors.Is(err, checkpoint.ErrCorruptData) {
			d.logger.Warn("skipping corrupt checkpoint during resume detection",
				"session", sessionID, "checkpoint", ids[i])
			cp = nil
			continue
		}
		if errors.Is(err, checkpoint.ErrNotFound) {
			cp = nil
			continue
		}
		d.logger.Error("resume detection degraded: loading checkpoint failed",
			"session", sessionID, "checkpoint", ids[i], "error", err)
		return negative, nil
	}
	if cp == nil {
		return negative, nil
	}

	elapsed := d.now().Sub(cp.CreatedAt)
	reason := classify(cp, elapsed)
	decision := &Decision{
		SessionID:  sessionID,
		Reason:     reason,
		Elapsed:    elapsed,
		Checkpoint: cp,
		Confidence: confidence(cp, elapsed),
	}

	if reason != ReasonManualExit && decision.Confidence >= confidenceBar {
		decision.ShouldResume = true
		decision.Prompt = buildPrompt(cp, reason, elapsed)
	}
	return decision, nil
}

// classify infers the interruption cause from the trigger, the elapsed
// time, and the risk level embedded at checkpoint time.
func classify(cp *checkpoint.Checkpoint, elapsed time.Duration) InterruptionReason {
	if cp.TriggeredBy == signals.TriggerSessionEnd {
		return ReasonManualExit
	}

	risky := cp.Signals.CrashRisk != signals.RiskSafe && cp.Signals.CrashRisk != ""
	switch {
	case elapsed <= crashWindow && risky:
		return ReasonCrash
	case elapsed >= timeoutAfter && !risky:
		return ReasonTimeout
	default:
		return ReasonUnknown
	}
}

// confidence combines recency, trigger severity, and captured task-state
// completeness into a [0,1] score.
func confidence(cp *checkpoint.Checkpoint, elapsed time.Duration) float64 {
	// Clamp both ends: clock skew can make elapsed negative, which would
	// otherwise inflate the component past its weight.
	recency := 1 - float64(elapsed)/float64(recencyHorizon)
	if recency < 0 {
		recency = 0
	} else if recency > 1 {
		recency = 1
	}

	score := weightRecency * recency
	if cp.TriggeredBy.Elevated() {
		score += weightTrigger
	}

	var completeness float64
	if cp.Task.Operation != "" {
		completeness += 0.5
	}
	if len(cp.Task.NextSteps) > 0 {
		completeness += 0.5
	}
	score += weightCompleteness * completeness

	if score > 1 {
		score = 1
	}
	return score
}

// Consume records the outcome of a resume attempt: one append-only
// resume event, then the once-only restore mark on the checkpoint.
// Concurrent consumers race on MarkRestored; the loser gets
// checkpoint.ErrAlreadyRestored.
func (d *Detector) Consume(ctx context.Context, decision *Decision, accepted bool, fidelity float64) error {
	if decision == nil || decision.Checkpoint == nil {
		return fmt.Errorf("nothing to consume: decision has no checkpoint")
	}
	cp := decision.Checkpoint

	confirmed := accepted
	event := &store.ResumeEvent{
		CheckpointID:       cp.ID,
		SessionID:          cp.SessionID,
		InterruptionReason: string(decision.Reason),
		Elapsed:            decision.Elapsed,
		ResumeConfidence:   decision.Confidence,
		UserConfirmed:      &confirmed,
		Success:            accepted,
		FidelityScore:      fidelity,
	}
	if err := d.store.AppendResumeEvent(ctx, event); err != nil {
		return fmt.Errorf("record resume event: %w", err)
	}

	if err := d.store.MarkRestored(ctx, cp.ID, accepted, fidelity); err != nil {
		return fmt.Errorf("mark checkpoint restored: %w", err)
	}
	return nil
}
