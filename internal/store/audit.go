package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sessionguard/internal/signals"
)

// ResumeEvent is the append-only audit record of one recovery attempt.
type ResumeEvent struct {
	ID                 string        `json:"id"`
	CheckpointID       string        `json:"checkpoint_id"`
	SessionID          string        `json:"session_id"`
	InterruptionReason string        `json:"interruption_reason"`
	Elapsed            time.Duration `json:"elapsed"`
	ResumeConfidence   float64       `json:"resume_confidence"`
	UserConfirmed      *bool         `json:"user_confirmed,omitempty"`
	Success            bool          `json:"success"`
	FidelityScore      float64       `json:"fidelity_score"`
	CreatedAt          time.Time     `json:"created_at"`
}

// AppendResumeEvent persists a resume event. Events are never mutated.
func (s *Store) AppendResumeEvent(ctx context.Context, ev *ResumeEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	var confirmed any
	if ev.UserConfirmed != nil {
		confirmed = *ev.UserConfirmed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resume_events
		(id, checkpoint_id, session_id, interruption_reason, elapsed_ms,
		 resume_confidence, user_confirmed, success, fidelity_score, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.CheckpointID, ev.SessionID, ev.InterruptionReason,
		ev.Elapsed.Milliseconds(), ev.ResumeConfidence, confirmed,
		ev.Success, ev.FidelityScore, ev.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert resume event: %w", err)
	}
	return nil
}

// ListResumeEvents returns a session's resume events, newest first.
func (s *Store) ListResumeEvents(ctx context.Context, sessionID string) ([]ResumeEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, checkpoint_id, session_id, interruption_reason, elapsed_ms,
		       resume_confidence, user_confirmed, success, fidelity_score, created_at
		FROM resume_events
		WHERE session_id = ?
		ORDER BY created_at DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list resume events: %w", err)
	}
	defer rows.Close()

	var events []ResumeEvent
	for rows.Next() {
		var (
			ev        ResumeEvent
			elapsedMs int64
			confirmed sql.NullBool
			createdAt int64
		)
		if err := rows.Scan(&ev.ID, &ev.CheckpointID, &ev.SessionID,
			&ev.InterruptionReason, &elapsedMs, &ev.ResumeConfidence,
			&confirmed, &ev.Success, &ev.FidelityScore, &createdAt); err != nil {
			return nil, fmt.Errorf("scan resume event: %w", err)
		}
		ev.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		ev.CreatedAt = time.UnixMilli(createdAt)
		if confirmed.Valid {
			v := confirmed.Bool
			ev.UserConfirmed = &v
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// SignalRecord is one append-only signal history row, used for
// diagnostics and trend queries only.
type SignalRecord struct {
	SessionID string                 `json:"session_id"`
	CreatedAt time.Time              `json:"created_at"`
	Snapshot  signals.SignalSnapshot `json:"snapshot"`
	CrashRisk signals.RiskLevel      `json:"crash_risk"`
}

// AppendSignalHistory persists one signal snapshot for diagnostics.
func (s *Store) AppendSignalHistory(ctx context.Context, sessionID string, snap signals.SignalSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal signal snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO signal_history (session_id, created_at, snapshot, crash_risk)
		VALUES (?, ?, ?, ?)`,
		sessionID, time.Now().UnixMilli(), string(raw), string(snap.CrashRisk))
	if err != nil {
		return fmt.Errorf("insert signal history: %w", err)
	}
	return nil
}

// ListSignalHistory returns a session's signal records, newest first,
// capped at limit (0 means all).
func (s *Store) ListSignalHistory(ctx context.Context, sessionID string, limit int) ([]SignalRecord, error) {
	query := `
		SELECT session_id, created_at, snapshot, crash_risk
		FROM signal_history
		WHERE session_id = ?
		ORDER BY created_at DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list signal history: %w", err)
	}
	defer rows.Close()

	var records []SignalRecord
	for rows.Next() {
		var (
			rec       SignalRecord
			createdAt int64
			raw       string
			risk      string
		)
		if err := rows.Scan(&rec.SessionID, &createdAt, &raw, &risk); err != nil {
			return nil, fmt.Errorf("scan signal record: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &rec.Snapshot); err != nil {
			return nil, fmt.Errorf("parse signal snapshot: %w", err)
		}
		rec.CreatedAt = time.UnixMilli(createdAt)
		rec.CrashRisk = signals.RiskLevel(risk)
		records = append(records, rec)
	}
	return records, rows.Err()
}
