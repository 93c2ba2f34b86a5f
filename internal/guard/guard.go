// Package guard is the inbound surface of the checkpoint subsystem. It
// wires the signal aggregator, checkpoint manager, resume detector, and
// event hub behind the three operations the tool-dispatch layer calls:
// Observe, ReportSnapshot, and OnSessionStart.
package guard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"sessionguard/internal/checkpoint"
	"sessionguard/internal/config"
	"sessionguard/internal/eventhub"
	"sessionguard/internal/gitstate"
	"sessionguard/internal/resume"
	"sessionguard/internal/signals"
	"sessionguard/internal/store"
	"sessionguard/internal/watcher"
)

// watcherDebounce settles editor write bursts before a path counts as
// touched.
const watcherDebounce = 200 * time.Millisecond

// Guard owns one aggregator registry and the stateless pipeline around
// it. Everything durable lives in the store.
type Guard struct {
	cfg        *config.Config
	store      *store.Store
	aggregator *signals.Aggregator
	manager    *checkpoint.Manager
	detector   *resume.Detector
	hub        *eventhub.Hub
	logger     *slog.Logger

	// Optional workspace instrumentation.
	capturer *gitstate.Capturer
	tracker  *watcher.Tracker

	riskMu   sync.Mutex
	lastRisk map[string]signals.RiskLevel
}

// New wires a Guard from configuration and an open store.
func New(cfg *config.Config, st *store.Store, codec *checkpoint.Codec, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		cfg:        cfg,
		store:      st,
		aggregator: signals.NewAggregator(cfg.Thresholds, cfg.TriggerPolicy(), logger),
		manager:    checkpoint.NewManager(st, codec, logger),
		detector:   resume.NewDetector(st, logger),
		hub:        eventhub.New(),
		logger:     logger,
		lastRisk:   make(map[string]signals.RiskLevel),
	}
}

// Hub exposes the event hub so a presentation layer can attach a
// broadcaster.
func (g *Guard) Hub() *eventhub.Hub {
	return g.hub
}

// AttachWorkspace points the guard at a working tree so snapshots are
// enriched with git status and touched-file tracking. Both pieces are
// best-effort; a workspace without git support only loses the diff.
func (g *Guard) AttachWorkspace(path string) error {
	capturer, err := gitstate.Open(path)
	if err != nil {
		g.logger.Warn("workspace has no usable git repository", "path", path, "error", err)
	} else {
		g.capturer = capturer
	}

	tracker, err := watcher.New(path, watcherDebounce, g.logger)
	if err != nil {
		return fmt.Errorf("attach workspace watcher: %w", err)
	}
	if err := tracker.Start(); err != nil {
		tracker.Close()
		return fmt.Errorf("start workspace watcher: %w", err)
	}
	g.tracker = tracker
	return nil
}

// Close releases workspace instrumentation.
func (g *Guard) Close() error {
	if g.tracker != nil {
		return g.tracker.Close()
	}
	return nil
}

// Observe is the fire-and-forget signal update. It never returns an
// error; a lost sample must not impact the host session. Risk level
// transitions are emitted to the hub.
func (g *Guard) Observe(sessionID string, ev signals.Event) {
	g.aggregator.Observe(sessionID, ev)

	risk := g.aggregator.Assess(sessionID).CrashRisk
	g.riskMu.Lock()
	previous, seen := g.lastRisk[sessionID]
	g.lastRisk[sessionID] = risk
	g.riskMu.Unlock()

	if seen && previous != risk {
		g.hub.EmitRiskChanged(eventhub.RiskChangedEvent{SessionID: sessionID, Risk: risk})
	}
}

// ReportSnapshot evaluates the trigger policy for a session and, when a
// trigger fires (or force is set), runs the checkpoint pipeline. Returns
// (nil, nil) when no checkpoint was due.
func (g *Guard) ReportSnapshot(ctx context.Context, in checkpoint.SnapshotInput, force bool) (*checkpoint.Result, error) {
	// A forced report skips Decide entirely so a pending zone
	// transition keeps its latch, and its tag, for the next report.
	if force {
		return g.createCheckpoint(ctx, in, signals.TriggerUserRequested)
	}
	trigger, due := g.aggregator.Decide(in.SessionID)
	if !due {
		return nil, nil
	}
	return g.createCheckpoint(ctx, in, trigger)
}

// ForceCheckpoint runs the pipeline unconditionally, tagged
// user-requested.
func (g *Guard) ForceCheckpoint(ctx context.Context, in checkpoint.SnapshotInput) (*checkpoint.Result, error) {
	return g.createCheckpoint(ctx, in, signals.TriggerUserRequested)
}

// EndSession takes a final clean-shutdown checkpoint and evicts the
// session's counters. The session_end tag tells the resume detector not
// to prompt.
func (g *Guard) EndSession(ctx context.Context, in checkpoint.SnapshotInput) (*checkpoint.Result, error) {
	result, err := g.createCheckpoint(ctx, in, signals.TriggerSessionEnd)
	g.aggregator.EndSession(in.SessionID)
	g.riskMu.Lock()
	delete(g.lastRisk, in.SessionID)
	g.riskMu.Unlock()
	return result, err
}

func (g *Guard) createCheckpoint(ctx context.Context, in checkpoint.SnapshotInput, trigger signals.Trigger) (*checkpoint.Result, error) {
	g.enrichFileState(&in)
	snap := g.aggregator.Assess(in.SessionID)

	result, err := g.manager.CreateCheckpoint(ctx, in, trigger, snap)
	if err != nil {
		return nil, fmt.Errorf("create checkpoint: %w", err)
	}

	g.aggregator.NoteCheckpoint(in.SessionID)
	if g.tracker != nil {
		g.tracker.Drain()
	}
	if err := g.store.AppendSignalHistory(ctx, in.SessionID, snap); err != nil {
		// Diagnostics only; never fail the checkpoint over it.
		g.logger.Warn("signal history append failed", "session", in.SessionID, "error", err)
	}

	g.hub.EmitCheckpointCreated(eventhub.CheckpointCreatedEvent{
		SessionID:        in.SessionID,
		CheckpointID:     result.CheckpointID,
		CheckpointNumber: result.CheckpointNumber,
		TriggeredBy:      trigger,
		CompressedSize:   result.CompressedSize,
		ElapsedMs:        result.ElapsedMs,
	})
	return result, nil
}

// enrichFileState merges workspace instrumentation into the snapshot
// when the caller left the corresponding fields empty.
func (g *Guard) enrichFileState(in *checkpoint.SnapshotInput) {
	if g.tracker != nil && len(in.Files.ActiveFiles) == 0 {
		in.Files.ActiveFiles = g.tracker.Touched()
	}
	if g.capturer != nil && len(in.Files.ModifiedFiles) == 0 && in.Files.UncommittedDiff == "" {
		fs, err := g.capturer.Capture()
		if err != nil {
			g.logger.Warn("git state capture failed", "error", err)
			return
		}
		in.Files.ModifiedFiles = fs.ModifiedFiles
		in.Files.StagedFiles = fs.StagedFiles
		in.Files.UncommittedDiff = fs.UncommittedDiff
		if len(in.Files.ActiveFiles) == 0 {
			in.Files.ActiveFiles = fs.ActiveFiles
		}
	}
}

// OnSessionStart evaluates the resume decision for a new session and
// emits an event when a resumable checkpoint is found. Detection
// degrades to a negative decision rather than failing session start.
func (g *Guard) OnSessionStart(ctx context.Context, sessionID string) (*resume.Decision, error) {
	decision, err := g.detector.CheckResumeNeeded(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if decision.ShouldResume {
		g.hub.EmitResumeAvailable(eventhub.ResumeAvailableEvent{
			SessionID:    sessionID,
			CheckpointID: decision.Checkpoint.ID,
			Reason:       string(decision.Reason),
			Confidence:   decision.Confidence,
			Elapsed:      decision.Elapsed,
		})
	}
	return decision, nil
}

// ConsumeResume records the caller's accept/decline of a resume offer.
func (g *Guard) ConsumeResume(ctx context.Context, decision *resume.Decision, accepted bool, fidelity float64) error {
	return g.detector.Consume(ctx, decision, accepted, fidelity)
}

// Cleanup applies the retention policy: age-based deletion plus the
// per-session checkpoint cap for the given sessions.
func (g *Guard) Cleanup(ctx context.Context, sessionIDs ...string) (int64, error) {
	deleted, err := g.store.Cleanup(ctx, g.cfg.RetentionDays)
	if err != nil {
		return 0, err
	}
	for _, id := range sessionIDs {
		n, err := g.store.TrimSession(ctx, id, g.cfg.MaxCheckpointsPerSession)
		if err != nil {
			return deleted, err
		}
		deleted += n
	}
	return deleted, nil
}
