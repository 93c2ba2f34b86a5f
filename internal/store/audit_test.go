package store

import (
	"context"
	"testing"
	"time"

	"sessionguard/internal/signals"
)

func TestResumeEvents_AppendAndList(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	confirmed := true
	first := &ResumeEvent{
		CheckpointID:       "cp-1",
		SessionID:          "s1",
		InterruptionReason: "crash",
		Elapsed:            42 * time.Second,
		ResumeConfidence:   0.8,
		UserConfirmed:      &confirmed,
		Success:            true,
		FidelityScore:      0.9,
		CreatedAt:          time.Now().Add(-time.Minute),
	}
	if err := s.AppendResumeEvent(ctx, first); err != nil {
		t.Fatalf("AppendResumeEvent: %v", err)
	}
	if first.ID == "" {
		t.Fatal("AppendResumeEvent did not assign an id")
	}

	second := &ResumeEvent{
		CheckpointID:       "cp-2",
		SessionID:          "s1",
		InterruptionReason: "timeout",
		Elapsed:            45 * time.Minute,
		ResumeConfidence:   0.4,
		Success:            false,
	}
	if err := s.AppendResumeEvent(ctx, second); err != nil {
		t.Fatalf("AppendResumeEvent: %v", err)
	}

	events, err := s.ListResumeEvents(ctx, "s1")
	if err != nil {
		t.Fatalf("ListResumeEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].CheckpointID != "cp-2" {
		t.Errorf("newest event first: got %s", events[0].CheckpointID)
	}
	if events[0].UserConfirmed != nil {
		t.Error("unset UserConfirmed came back non-nil")
	}
	if events[1].UserConfirmed == nil || !*events[1].UserConfirmed {
		t.Error("UserConfirmed lost on round-trip")
	}
	if events[1].Elapsed != 42*time.Second {
		t.Errorf("elapsed = %v, want 42s", events[1].Elapsed)
	}
}

func TestSignalHistory_AppendAndList(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		snap := signals.SignalSnapshot{
			ContextWindowUsage: 0.2 * float64(i+1),
			MessageCount:       10 * (i + 1),
			CrashRisk:          signals.RiskSafe,
		}
		if i == 2 {
			snap.CrashRisk = signals.RiskWarning
		}
		if err := s.AppendSignalHistory(ctx, "s1", snap); err != nil {
			t.Fatalf("AppendSignalHistory: %v", err)
		}
		// Rows in the same millisecond would tie on created_at.
		time.Sleep(2 * time.Millisecond)
	}

	records, err := s.ListSignalHistory(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("ListSignalHistory: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if records[0].CrashRisk != signals.RiskWarning {
		t.Errorf("newest record risk = %q, want warning", records[0].CrashRisk)
	}
	if records[0].Snapshot.MessageCount != 30 {
		t.Errorf("snapshot lost on round-trip: %+v", records[0].Snapshot)
	}

	limited, err := s.ListSignalHistory(ctx, "s1", 1)
	if err != nil {
		t.Fatalf("ListSignalHistory limited: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limit 1 returned %d records", len(limited))
	}
}
