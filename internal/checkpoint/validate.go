package checkpoint

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Bounds enforced on snapshot intake. Fields listed as truncated in the
// intake step are cut silently; everything else is a validation failure.
const (
	MaxSummaryChars         = 1000
	MaxCurrentContextChars  = 2000
	MaxUserPreferenceChars  = 500
	MaxKeyDecisions         = 20
	MaxKeyDecisionChars     = 200
	MaxRecentMessages       = 10
	MaxMessageContentChars  = 500
	MaxStepEntries          = 20
	MaxStepChars            = 200
	MaxFilePaths            = 100
	MaxDiffChars            = 10_000
	MaxToolSessions         = 10
	MaxPendingOperations    = 20
	MaxRecentToolCalls      = 20
	MaxToolCallContentChars = 300
)

// ValidationError reports every violated constraint of a snapshot, not
// just the first. Callers must shrink or drop the named fields and retry.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("snapshot validation failed: %s", strings.Join(e.Violations, "; "))
}

// validateSnapshot checks the bounded-field invariants after intake
// truncation has been applied. Returns nil when the snapshot is clean.
func validateSnapshot(in *SnapshotInput) error {
	var v []string

	if in.SessionID == "" {
		v = append(v, "session_id: required")
	}
	if n := len(in.Conversation.Summary); n > MaxSummaryChars {
		v = append(v, fmt.Sprintf("conversation_state.summary: %d chars exceeds %d", n, MaxSummaryChars))
	}
	if n := len(in.Conversation.CurrentContext); n > MaxCurrentContextChars {
		v = append(v, fmt.Sprintf("conversation_state.current_context: %d chars exceeds %d", n, MaxCurrentContextChars))
	}
	if n := len(in.Conversation.KeyDecisions); n > MaxKeyDecisions {
		v = append(v, fmt.Sprintf("conversation_state.key_decisions: %d entries exceeds %d", n, MaxKeyDecisions))
	}
	for i, d := range in.Conversation.KeyDecisions {
		if len(d) > MaxKeyDecisionChars {
			v = append(v, fmt.Sprintf("conversation_state.key_decisions[%d]: %d chars exceeds %d", i, len(d), MaxKeyDecisionChars))
		}
	}
	if n := len(in.UserPreferences); n > MaxUserPreferenceChars {
		v = append(v, fmt.Sprintf("user_preferences: %d chars exceeds %d", n, MaxUserPreferenceChars))
	}

	v = appendStepViolations(v, "task_state.completed_steps", in.Task.CompletedSteps)
	v = appendStepViolations(v, "task_state.next_steps", in.Task.NextSteps)
	v = appendStepViolations(v, "task_state.blockers", in.Task.Blockers)

	v = appendPathViolations(v, "file_state.active_files", in.Files.ActiveFiles)
	v = appendPathViolations(v, "file_state.modified_files", in.Files.ModifiedFiles)
	v = appendPathViolations(v, "file_state.staged_files", in.Files.StagedFiles)

	if n := len(in.Tools.ActiveSessions); n > MaxToolSessions {
		v = append(v, fmt.Sprintf("tool_state.active_sessions: %d entries exceeds %d", n, MaxToolSessions))
	}
	if n := len(in.Tools.PendingOperations); n > MaxPendingOperations {
		v = append(v, fmt.Sprintf("tool_state.pending_operations: %d entries exceeds %d", n, MaxPendingOperations))
	}

	if len(v) > 0 {
		return &ValidationError{Violations: v}
	}
	return nil
}

func appendStepViolations(v []string, field string, entries []string) []string {
	if n := len(entries); n > MaxStepEntries {
		v = append(v, fmt.Sprintf("%s: %d entries exceeds %d", field, n, MaxStepEntries))
	}
	for i, e := range entries {
		if len(e) > MaxStepChars {
			v = append(v, fmt.Sprintf("%s[%d]: %d chars exceeds %d", field, i, len(e), MaxStepChars))
		}
	}
	return v
}

func appendPathViolations(v []string, field string, paths []string) []string {
	if n := len(paths); n > MaxFilePaths {
		v = append(v, fmt.Sprintf("%s: %d paths exceeds %d", field, n, MaxFilePaths))
	}
	return v
}

// truncateIntake applies the silent truncation rules for fields the
// caller-supplied snapshot is allowed to overshoot: recent messages,
// the diff blob, and tool-call args/results. Progress is clamped here
// too. The input is modified in place.
func truncateIntake(in *SnapshotInput) {
	if len(in.Conversation.RecentMessages) > MaxRecentMessages {
		in.Conversation.RecentMessages = in.Conversation.RecentMessages[len(in.Conversation.RecentMessages)-MaxRecentMessages:]
	}
	for i := range in.Conversation.RecentMessages {
		in.Conversation.RecentMessages[i].Content = truncate(in.Conversation.RecentMessages[i].Content, MaxMessageContentChars)
	}

	in.Files.UncommittedDiff = truncate(in.Files.UncommittedDiff, MaxDiffChars)

	if len(in.Tools.RecentCalls) > MaxRecentToolCalls {
		in.Tools.RecentCalls = in.Tools.RecentCalls[len(in.Tools.RecentCalls)-MaxRecentToolCalls:]
	}
	for i := range in.Tools.RecentCalls {
		in.Tools.RecentCalls[i].Args = truncate(in.Tools.RecentCalls[i].Args, MaxToolCallContentChars)
		in.Tools.RecentCalls[i].Result = truncate(in.Tools.RecentCalls[i].Result, MaxToolCallContentChars)
	}

	if in.Task.Progress < 0 {
		in.Task.Progress = 0
	} else if in.Task.Progress > 1 {
		in.Task.Progress = 1
	}
}

// truncate cuts s to at most max bytes without splitting a rune; a cut
// landing inside a multibyte rune backs up to the previous boundary so
// the result stays valid UTF-8 through JSON encoding.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
