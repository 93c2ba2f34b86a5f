package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"sessionguard/internal/checkpoint"
	"sessionguard/internal/signals"
)

// Store owns the durable representation of checkpoints, resume events,
// and signal history. It is backed by a single SQLite database.
type Store struct {
	db    *sql.DB
	codec *checkpoint.Codec
}

// Open creates or opens the database at path and ensures the schema.
func Open(path string, codec *checkpoint.Codec) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, codec: codec}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// init creates the database schema.
func (s *Store) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		checkpoint_number INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		triggered_by TEXT NOT NULL,
		payload BLOB NOT NULL,
		uncompressed_size INTEGER NOT NULL,
		compressed_size INTEGER NOT NULL,
		restored_at INTEGER,
		restore_success INTEGER,
		restore_fidelity REAL,
		UNIQUE(session_id, checkpoint_number)
	);

	CREATE INDEX IF NOT EXISTS idx_checkpoints_session_created
		ON checkpoints(session_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_unrestored
		ON checkpoints(session_id, created_at DESC)
		WHERE restored_at IS NULL;

	CREATE TABLE IF NOT EXISTS resume_events (
		id TEXT PRIMARY KEY,
		checkpoint_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		interruption_reason TEXT NOT NULL,
		elapsed_ms INTEGER NOT NULL,
		resume_confidence REAL NOT NULL,
		user_confirmed INTEGER,
		success INTEGER NOT NULL,
		fidelity_score REAL NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_resume_events_session
		ON resume_events(session_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS signal_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		snapshot TEXT NOT NULL,
		crash_risk TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_signal_history_session
		ON signal_history(session_id, created_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save persists a checkpoint with its encoded payload. Fails with
// checkpoint.ErrDuplicateNumber when the (session, number) pair exists.
func (s *Store) Save(ctx context.Context, cp *checkpoint.Checkpoint, payload []byte, uncompressedSize int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints
		(id, session_id, checkpoint_number, created_at, triggered_by, payload, uncompressed_size, compressed_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cp.ID, cp.SessionID, cp.CheckpointNumber, cp.CreatedAt.UnixMilli(),
		string(cp.TriggeredBy), payload, uncompressedSize, len(payload))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: session %s number %d",
				checkpoint.ErrDuplicateNumber, cp.SessionID, cp.CheckpointNumber)
		}
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// MaxCheckpointNumber returns the highest checkpoint number recorded for
// a session, or 0 when the session has none.
func (s *Store) MaxCheckpointNumber(ctx context.Context, sessionID string) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(checkpoint_number) FROM checkpoints WHERE session_id = ?`,
		sessionID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("query max checkpoint number: %w", err)
	}
	return int(max.Int64), nil
}

// GetByID loads a checkpoint by id.
func (s *Store) GetByID(ctx context.Context, id string) (*checkpoint.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	return s.scanCheckpoint(row)
}

// GetMostRecent returns the newest checkpoint of a session, ordered by
// creation time descending, or checkpoint.ErrNotFound.
func (s *Store) GetMostRecent(ctx context.Context, sessionID string) (*checkpoint.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+`
		WHERE session_id = ?
		ORDER BY created_at DESC, checkpoint_number DESC LIMIT 1`, sessionID)
	return s.scanCheckpoint(row)
}

// GetMostRecentUnrestored returns the newest checkpoint of a session not
// yet consumed by a resume.
func (s *Store) GetMostRecentUnrestored(ctx context.Context, sessionID string) (*checkpoint.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+`
		WHERE session_id = ? AND restored_at IS NULL
		ORDER BY created_at DESC, checkpoint_number DESC LIMIT 1`, sessionID)
	return s.scanCheckpoint(row)
}

// CheckpointMeta is the row-level view of a checkpoint, available even
// when the payload cannot be decoded.
type CheckpointMeta struct {
	ID               string          `json:"id"`
	SessionID        string          `json:"session_id"`
	CheckpointNumber int             `json:"checkpoint_number"`
	CreatedAt        time.Time       `json:"created_at"`
	TriggeredBy      signals.Trigger `json:"triggered_by"`
	UncompressedSize int             `json:"uncompressed_size"`
	CompressedSize   int             `json:"compressed_size"`
	Restored         bool            `json:"restored"`
}

// ListBySession returns metadata for all checkpoints of a session,
// newest first, without decoding payloads.
func (s *Store) ListBySession(ctx context.Context, sessionID string) ([]CheckpointMeta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, checkpoint_number, created_at, triggered_by,
		       uncompressed_size, compressed_size, restored_at IS NOT NULL
		FROM checkpoints
		WHERE session_id = ?
		ORDER BY created_at DESC, checkpoint_number DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var metas []CheckpointMeta
	for rows.Next() {
		var (
			m         CheckpointMeta
			createdAt int64
			trigger   string
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.CheckpointNumber, &createdAt,
			&trigger, &m.UncompressedSize, &m.CompressedSize, &m.Restored); err != nil {
			return nil, fmt.Errorf("scan checkpoint meta: %w", err)
		}
		m.CreatedAt = time.UnixMilli(createdAt)
		m.TriggeredBy = signals.Trigger(trigger)
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// ListIDsBySession returns checkpoint ids of a session, newest first,
// without decoding payloads. Used by the resume detector's fallback loop.
func (s *Store) ListIDsBySession(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM checkpoints
		WHERE session_id = ? AND restored_at IS NULL
		ORDER BY created_at DESC, checkpoint_number DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoint ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkRestored writes the three recovery-tracking fields exactly once.
// The conditional UPDATE is the serialization point for concurrent resume
// attempts: the first writer wins, the second gets ErrAlreadyRestored.
func (s *Store) MarkRestored(ctx context.Context, id string, success bool, fidelity float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE checkpoints
		SET restored_at = ?, restore_success = ?, restore_fidelity = ?
		WHERE id = ? AND restored_at IS NULL`,
		time.Now().UnixMilli(), success, fidelity, id)
	if err != nil {
		return fmt.Errorf("mark restored: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark restored: %w", err)
	}
	if n == 1 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM checkpoints WHERE id = ?)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("mark restored: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: %s", checkpoint.ErrAlreadyRestored, id)
	}
	return fmt.Errorf("%w: %s", checkpoint.ErrNotFound, id)
}

// Cleanup deletes checkpoints older than the retention cutoff. The newest
// checkpoint of every session survives regardless of age so there is
// always at least one fallback.
func (s *Store) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays < 0 {
		retentionDays = 0
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays).UnixMilli()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM checkpoints
		WHERE created_at < ?
		  AND EXISTS (
			SELECT 1 FROM checkpoints AS newer
			WHERE newer.session_id = checkpoints.session_id
			  AND newer.checkpoint_number > checkpoints.checkpoint_number)`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup checkpoints: %w", err)
	}
	return res.RowsAffected()
}

// TrimSession keeps only the newest max checkpoints of a session,
// deleting the oldest beyond that count. max is floored at 1.
func (s *Store) TrimSession(ctx context.Context, sessionID string, max int) (int64, error) {
	if max < 1 {
		max = 1
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM checkpoints
		WHERE session_id = ?
		  AND id NOT IN (
			SELECT id FROM checkpoints
			WHERE session_id = ?
			ORDER BY checkpoint_number DESC LIMIT ?)`,
		sessionID, sessionID, max)
	if err != nil {
		return 0, fmt.Errorf("trim session: %w", err)
	}
	return res.RowsAffected()
}

const selectColumns = `
	SELECT id, payload, restored_at, restore_success, restore_fidelity
	FROM checkpoints`

func (s *Store) scanCheckpoint(row *sql.Row) (*checkpoint.Checkpoint, error) {
	var (
		id       string
		payload  []byte
		restored sql.NullInt64
		success  sql.NullBool
		fidelity sql.NullFloat64
	)
	if err := row.Scan(&id, &payload, &restored, &success, &fidelity); err != nil {
		if err == sql.ErrNoRows {
			return nil, checkpoint.ErrNotFound
		}
		return nil, fmt.Errorf("scan checkpoint: %w", err)
	}

	cp, err := s.codec.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", id, err)
	}

	// Recovery tracking lives in columns, not in the immutable payload.
	if restored.Valid {
		t := time.UnixMilli(restored.Int64)
		cp.RestoredAt = &t
	}
	if success.Valid {
		v := success.Bool
		cp.RestoreSuccess = &v
	}
	if fidelity.Valid {
		v := fidelity.Float64
		cp.RestoreFidelity = &v
	}
	return cp, nil
}
