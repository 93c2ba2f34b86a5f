package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"sessionguard/internal/checkpoint"
	"sessionguard/internal/signals"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	codec, err := checkpoint.NewCodec(true, 3)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	s, err := Open(filepath.Join(t.TempDir(), "sessionguard.db"), codec)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func makeCheckpoint(session string, number int, createdAt time.Time) *checkpoint.Checkpoint {
	return &checkpoint.Checkpoint{
		ID:               uuid.New().String(),
		SessionID:        session,
		CheckpointNumber: number,
		CreatedAt:        createdAt,
		TriggeredBy:      signals.TriggerToolCallInterval,
		Conversation: checkpoint.ConversationState{
			Summary: "fixing the flaky watcher test",
		},
		Task: checkpoint.TaskState{
			Operation: "debug-watcher",
			Progress:  0.3,
		},
		Signals: signals.SignalSnapshot{CrashRisk: signals.RiskSafe},
	}
}

func mustSave(t *testing.T, s *Store, cp *checkpoint.Checkpoint) {
	t.Helper()
	payload, uncompressed, err := s.codec.Encode(cp)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := s.Save(context.Background(), cp, payload, uncompressed); err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func TestSaveAndGetByID(t *testing.T) {
	s := testStore(t)
	cp := makeCheckpoint("s1", 1, time.Now().Truncate(time.Millisecond))
	mustSave(t, s, cp)

	got, err := s.GetByID(context.Background(), cp.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.SessionID != cp.SessionID || got.CheckpointNumber != cp.CheckpointNumber {
		t.Errorf("got %s/%d, want %s/%d", got.SessionID, got.CheckpointNumber, cp.SessionID, cp.CheckpointNumber)
	}
	if got.Conversation.Summary != cp.Conversation.Summary {
		t.Errorf("summary = %q, want %q", got.Conversation.Summary, cp.Conversation.Summary)
	}
	if got.RestoredAt != nil {
		t.Errorf("fresh checkpoint has RestoredAt = %v, want nil", got.RestoredAt)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.GetByID(context.Background(), "nope")
	if !errors.Is(err, checkpoint.ErrNotFound) {
		t.Fatalf("GetByID = %v, want ErrNotFound", err)
	}
}

func TestSave_DuplicateNumber(t *testing.T) {
	s := testStore(t)
	now := time.Now()
	mustSave(t, s, makeCheckpoint("s1", 1, now))

	dup := makeCheckpoint("s1", 1, now)
	payload, uncompressed, err := s.codec.Encode(dup)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	err = s.Save(context.Background(), dup, payload, uncompressed)
	if !errors.Is(err, checkpoint.ErrDuplicateNumber) {
		t.Fatalf("Save duplicate = %v, want ErrDuplicateNumber", err)
	}

	// Same number in another session is fine.
	mustSave(t, s, makeCheckpoint("s2", 1, now))
}

func TestMaxCheckpointNumber(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	n, err := s.MaxCheckpointNumber(ctx, "empty")
	if err != nil {
		t.Fatalf("MaxCheckpointNumber: %v", err)
	}
	if n != 0 {
		t.Errorf("empty session max = %d, want 0", n)
	}

	now := time.Now()
	mustSave(t, s, makeCheckpoint("s1", 1, now))
	mustSave(t, s, makeCheckpoint("s1", 5, now))

	n, err = s.MaxCheckpointNumber(ctx, "s1")
	if err != nil {
		t.Fatalf("MaxCheckpointNumber: %v", err)
	}
	if n != 5 {
		t.Errorf("max = %d, want 5", n)
	}
}

func TestGetMostRecent_Ordering(t *testing.T) {
	s := testStore(t)
	base := time.Now().Add(-time.Hour)

	oldest := makeCheckpoint("s1", 1, base)
	middle := makeCheckpoint("s1", 2, base.Add(10*time.Minute))
	newest := makeCheckpoint("s1", 3, base.Add(20*time.Minute))
	for _, cp := range []*checkpoint.Checkpoint{middle, newest, oldest} {
		mustSave(t, s, cp)
	}

	got, err := s.GetMostRecent(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetMostRecent: %v", err)
	}
	if got.ID != newest.ID {
		t.Errorf("most recent = number %d, want %d", got.CheckpointNumber, newest.CheckpointNumber)
	}
}

func TestGetMostRecent_TiesBreakOnNumber(t *testing.T) {
	s := testStore(t)
	now := time.Now()

	a := makeCheckpoint("s1", 1, now)
	b := makeCheckpoint("s1", 2, now)
	mustSave(t, s, b)
	mustSave(t, s, a)

	got, err := s.GetMostRecent(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetMostRecent: %v", err)
	}
	if got.ID != b.ID {
		t.Errorf("tie broke to number %d, want 2", got.CheckpointNumber)
	}
}

func TestMarkRestored_OnceOnly(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	cp := makeCheckpoint("s1", 1, time.Now())
	mustSave(t, s, cp)

	if err := s.MarkRestored(ctx, cp.ID, true, 0.9); err != nil {
		t.Fatalf("MarkRestored: %v", err)
	}

	got, err := s.GetByID(ctx, cp.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.RestoredAt == nil {
		t.Fatal("RestoredAt not set")
	}
	if got.RestoreSuccess == nil || !*got.RestoreSuccess {
		t.Error("RestoreSuccess not set to true")
	}
	if got.RestoreFidelity == nil || *got.RestoreFidelity != 0.9 {
		t.Error("RestoreFidelity not set")
	}

	// Second attempt fails and leaves the first write untouched.
	err = s.MarkRestored(ctx, cp.ID, false, 0.1)
	if !errors.Is(err, checkpoint.ErrAlreadyRestored) {
		t.Fatalf("second MarkRestored = %v, want ErrAlreadyRestored", err)
	}
	again, err := s.GetByID(ctx, cp.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !again.RestoredAt.Equal(*got.RestoredAt) || *again.RestoreFidelity != 0.9 {
		t.Error("failed MarkRestored modified recovery fields")
	}
}

func TestMarkRestored_NotFound(t *testing.T) {
	s := testStore(t)
	err := s.MarkRestored(context.Background(), "nope", true, 1)
	if !errors.Is(err, checkpoint.ErrNotFound) {
		t.Fatalf("MarkRestored = %v, want ErrNotFound", err)
	}
}

func TestGetMostRecentUnrestored_SkipsConsumed(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	older := makeCheckpoint("s1", 1, base)
	newer := makeCheckpoint("s1", 2, base.Add(time.Minute))
	mustSave(t, s, older)
	mustSave(t, s, newer)

	if err := s.MarkRestored(ctx, newer.ID, true, 1); err != nil {
		t.Fatalf("MarkRestored: %v", err)
	}

	got, err := s.GetMostRecentUnrestored(ctx, "s1")
	if err != nil {
		t.Fatalf("GetMostRecentUnrestored: %v", err)
	}
	if got.ID != older.ID {
		t.Errorf("got number %d, want the older unrestored one", got.CheckpointNumber)
	}
}

func TestListBySession_MetadataOnly(t *testing.T) {
	s := testStore(t)
	base := time.Now().Add(-time.Hour)
	mustSave(t, s, makeCheckpoint("s1", 1, base))
	mustSave(t, s, makeCheckpoint("s1", 2, base.Add(time.Minute)))
	mustSave(t, s, makeCheckpoint("other", 1, base))

	metas, err := s.ListBySession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(metas) != 2 {
		t.Fatalf("got %d checkpoints, want 2", len(metas))
	}
	if metas[0].CheckpointNumber != 2 || metas[1].CheckpointNumber != 1 {
		t.Errorf("order = [%d %d], want newest first", metas[0].CheckpointNumber, metas[1].CheckpointNumber)
	}
	if metas[0].CompressedSize == 0 || metas[0].UncompressedSize == 0 {
		t.Error("sizes not populated in metadata")
	}
}

// A corrupt payload must not break the listing; only full loads fail.
func TestListBySession_SurvivesCorruptPayload(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	cp := makeCheckpoint("s1", 1, time.Now())
	mustSave(t, s, cp)

	if _, err := s.db.Exec(`UPDATE checkpoints SET payload = ? WHERE id = ?`,
		[]byte("garbage"), cp.ID); err != nil {
		t.Fatalf("corrupt payload: %v", err)
	}

	metas, err := s.ListBySession(ctx, "s1")
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(metas) != 1 {
		t.Fatalf("got %d metas, want 1", len(metas))
	}

	_, err = s.GetByID(ctx, cp.ID)
	if !errors.Is(err, checkpoint.ErrCorruptData) {
		t.Fatalf("GetByID corrupt = %v, want ErrCorruptData", err)
	}
}

func TestListIDsBySession_ExcludesRestored(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	first := makeCheckpoint("s1", 1, base)
	second := makeCheckpoint("s1", 2, base.Add(time.Minute))
	third := makeCheckpoint("s1", 3, base.Add(2*time.Minute))
	for _, cp := range []*checkpoint.Checkpoint{first, second, third} {
		mustSave(t, s, cp)
	}
	if err := s.MarkRestored(ctx, second.ID, true, 1); err != nil {
		t.Fatalf("MarkRestored: %v", err)
	}

	ids, err := s.ListIDsBySession(ctx, "s1")
	if err != nil {
		t.Fatalf("ListIDsBySession: %v", err)
	}
	if len(ids) != 2 || ids[0] != third.ID || ids[1] != first.ID {
		t.Errorf("ids = %v, want [%s %s]", ids, third.ID, first.ID)
	}
}

func TestCleanup_KeepsNewestPerSession(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	old := time.Now().AddDate(0, 0, -60)

	// Every checkpoint in s1 is past retention; the newest must survive.
	mustSave(t, s, makeCheckpoint("s1", 1, old))
	mustSave(t, s, makeCheckpoint("s1", 2, old.Add(time.Minute)))
	survivor := makeCheckpoint("s1", 3, old.Add(2*time.Minute))
	mustSave(t, s, survivor)

	// s2 has a recent checkpoint that is untouched.
	recent := makeCheckpoint("s2", 1, time.Now())
	mustSave(t, s, recent)

	deleted, err := s.Cleanup(ctx, 30)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted %d, want 2", deleted)
	}

	metas, err := s.ListBySession(ctx, "s1")
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(metas) != 1 || metas[0].ID != survivor.ID {
		t.Errorf("s1 survivors = %v, want only number 3", metas)
	}
	if _, err := s.GetByID(ctx, recent.ID); err != nil {
		t.Errorf("recent checkpoint in s2 was deleted: %v", err)
	}
}

func TestCleanup_ZeroRetention(t *testing.T) {
	s := testStore(t)
	mustSave(t, s, makeCheckpoint("s1", 1, time.Now().Add(-time.Minute)))
	mustSave(t, s, makeCheckpoint("s1", 2, time.Now().Add(-time.Second)))

	deleted, err := s.Cleanup(context.Background(), 0)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted %d, want 1 (newest always survives)", deleted)
	}
}

func TestTrimSession(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	for n := 1; n <= 5; n++ {
		mustSave(t, s, makeCheckpoint("s1", n, base.Add(time.Duration(n)*time.Minute)))
	}

	deleted, err := s.TrimSession(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("TrimSession: %v", err)
	}
	if deleted != 3 {
		t.Errorf("deleted %d, want 3", deleted)
	}

	metas, err := s.ListBySession(ctx, "s1")
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(metas) != 2 || metas[0].CheckpointNumber != 5 || metas[1].CheckpointNumber != 4 {
		t.Errorf("survivors = %v, want numbers 5 and 4", metas)
	}

	// max below 1 still keeps the newest checkpoint.
	deleted, err = s.TrimSession(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("TrimSession: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted %d, want 1", deleted)
	}
}
