package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"sessionguard/internal/signals"
)

const (
	// latencyTarget is the design target for end-to-end checkpoint
	// creation. Exceeding it is logged, not rejected.
	latencyTarget = 100 * time.Millisecond

	// storeTimeout bounds every store call so a slow checkpoint can
	// never stall the session it is protecting.
	storeTimeout = 5 * time.Second
)

// Persister is the slice of the store the manager needs.
type Persister interface {
	Save(ctx context.Context, cp *Checkpoint, payload []byte, uncompressedSize int) error
	MaxCheckpointNumber(ctx context.Context, sessionID string) (int, error)
}

// Manager orchestrates the checkpoint pipeline: intake truncation,
// validation, number assignment, encoding, and persistence. It holds no
// per-session state across calls.
type Manager struct {
	store  Persister
	codec  *Codec
	logger *slog.Logger
}

// NewManager creates a checkpoint manager.
func NewManager(store Persister, codec *Codec, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, codec: codec, logger: logger}
}

// CreateCheckpoint runs the full pipeline for one snapshot. The embedded
// signal snapshot and trigger tag come from the aggregator. A duplicate
// checkpoint number (two overlapping calls computed the same "next") is
// retried once with a freshly recomputed number.
func (m *Manager) CreateCheckpoint(ctx context.Context, in SnapshotInput, trigger signals.Trigger, snap signals.SignalSnapshot) (*Result, error) {
	start := time.Now()

	truncateIntake(&in)
	if err := validateSnapshot(&in); err != nil {
		return nil, err
	}

	result, err := m.persist(ctx, &in, trigger, snap)
	if errors.Is(err, ErrDuplicateNumber) {
		m.logger.Debug("checkpoint number race, retrying with fresh number",
			"session", in.SessionID)
		result, err = m.persist(ctx, &in, trigger, snap)
	}
	if err != nil {
		return nil, err
	}

	result.ElapsedMs = time.Since(start).Milliseconds()
	if elapsed := time.Since(start); elapsed > latencyTarget {
		m.logger.Warn("checkpoint exceeded latency target",
			"session", in.SessionID, "elapsed", elapsed, "target", latencyTarget)
	}
	return result, nil
}

// persist assigns the next checkpoint number, encodes, and saves. The
// store's unique constraint on (session, number) is the final race guard.
func (m *Manager) persist(ctx context.Context, in *SnapshotInput, trigger signals.Trigger, snap signals.SignalSnapshot) (*Result, error) {
	numCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	max, err := m.store.MaxCheckpointNumber(numCtx, in.SessionID)
	if err != nil {
		return nil, fmt.Errorf("assign checkpoint number: %w", err)
	}

	cp := &Checkpoint{
		ID:               uuid.New().String(),
		SessionID:        in.SessionID,
		CheckpointNumber: max + 1,
		CreatedAt:        time.Now(),
		TriggeredBy:      trigger,
		Conversation:     in.Conversation,
		Task:             in.Task,
		Files:            in.Files,
		Tools:            in.Tools,
		Signals:          snap,
		UserPreferences:  in.UserPreferences,
	}

	payload, uncompressed, err := m.codec.Encode(cp)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}

	saveCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if err := m.store.Save(saveCtx, cp, payload, uncompressed); err != nil {
		return nil, err
	}

	result := &Result{
		CheckpointID:     cp.ID,
		CheckpointNumber: cp.CheckpointNumber,
		UncompressedSize: uncompressed,
		CompressedSize:   len(payload),
	}
	if len(payload) > 0 {
		result.CompressionRatio = float64(uncompressed) / float64(len(payload))
	}
	return result, nil
}

// ForceCheckpoint runs the same pipeline tagged as user-requested.
func (m *Manager) ForceCheckpoint(ctx context.Context, in SnapshotInput, snap signals.SignalSnapshot) (*Result, error) {
	return m.CreateCheckpoint(ctx, in, signals.TriggerUserRequested, snap)
}
