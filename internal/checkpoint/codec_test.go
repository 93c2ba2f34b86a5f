package checkpoint

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessionguard/internal/signals"
)

func sampleCheckpoint() *Checkpoint {
	created := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	return &Checkpoint{
		ID:               "cp-1",
		SessionID:        "s1",
		CheckpointNumber: 3,
		CreatedAt:        created,
		TriggeredBy:      signals.TriggerDangerZone,
		Conversation: ConversationState{
			Summary:        "refactoring the ingest pipeline",
			KeyDecisions:   []string{"keep the old schema", "batch writes"},
			CurrentContext: "mid-way through moving the parser",
			RecentMessages: []MessageRecord{
				{Role: "user", Content: "continue with the parser", Timestamp: created.Add(-time.Minute)},
			},
		},
		Task: TaskState{
			Operation:      "migrate-parser",
			Phase:          "rewrite",
			Progress:       0.6,
			CompletedSteps: []string{"inventory call sites"},
			NextSteps:      []string{"port the tokenizer"},
			Blockers:       []string{"flaky fixture"},
		},
		Files: FileState{
			ActiveFiles:     []string{"parser.go"},
			ModifiedFiles:   []string{"parser.go", "lexer.go"},
			StagedFiles:     []string{"lexer.go"},
			UncommittedDiff: "diff --git a/parser.go b/parser.go",
		},
		Tools: ToolState{
			ActiveSessions:    []ToolSession{{Type: "shell", State: map[string]string{"cwd": "/src"}}},
			PendingOperations: []PendingOperation{{Type: "test-run", ResumeHint: "rerun ./parser"}},
			RecentCalls: []ToolCallRecord{
				{Tool: "bash", Args: "go test", Result: "ok", Success: true, Latency: 2 * time.Second, Timestamp: created},
			},
		},
		Signals: signals.SignalSnapshot{
			ContextWindowUsage: 0.8,
			MessageCount:       55,
			ToolCallCount:      40,
			LatencyTrend:       signals.TrendIncreasing,
			CrashRisk:          signals.RiskDanger,
		},
		UserPreferences: "prefer table tests",
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	for _, compress := range []bool{true, false} {
		name := "compressed"
		if !compress {
			name = "plain"
		}
		t.Run(name, func(t *testing.T) {
			codec, err := NewCodec(compress, 3)
			require.NoError(t, err)

			original := sampleCheckpoint()
			payload, uncompressed, err := codec.Encode(original)
			require.NoError(t, err)
			require.NotZero(t, uncompressed)

			decoded, err := codec.Decode(payload)
			require.NoError(t, err)
			assert.Equal(t, original, decoded)
		})
	}
}

func TestCodec_CompressionShrinksPayload(t *testing.T) {
	codec, err := NewCodec(true, 3)
	require.NoError(t, err)

	cp := sampleCheckpoint()
	// Repetitive content compresses well.
	for i := 0; i < 50; i++ {
		cp.Files.UncommittedDiff += "+\tsame line of diff output repeated\n"
	}

	payload, uncompressed, err := codec.Encode(cp)
	require.NoError(t, err)
	assert.Less(t, len(payload), uncompressed)
}

func TestCodec_DecodeCorruptData(t *testing.T) {
	codec, err := NewCodec(true, 3)
	require.NoError(t, err)

	tests := []struct {
		name    string
		payload []byte
	}{
		{"garbage bytes", []byte("not a checkpoint")},
		{"truncated zstd frame", append([]byte{0x28, 0xb5, 0x2f, 0xfd}, 0x01, 0x02)},
		{"valid json missing identity", []byte(`{"checkpoint_number": 1}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Decode(tt.payload)
			if !errors.Is(err, ErrCorruptData) {
				t.Errorf("Decode(%s) error = %v, want ErrCorruptData", tt.name, err)
			}
		})
	}
}

// A payload written with compression on must decode with a codec whose
// compression is off, and vice versa, since the store may be reopened
// with a different setting.
func TestCodec_CrossSettingDecode(t *testing.T) {
	compressing, err := NewCodec(true, 3)
	require.NoError(t, err)
	plain, err := NewCodec(false, 0)
	require.NoError(t, err)

	cp := sampleCheckpoint()

	compressed, _, err := compressing.Encode(cp)
	require.NoError(t, err)
	decoded, err := plain.Decode(compressed)
	require.NoError(t, err)
	assert.Equal(t, cp, decoded)

	raw, _, err := plain.Encode(cp)
	require.NoError(t, err)
	decoded, err = compressing.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, cp, decoded)
}
