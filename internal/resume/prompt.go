package resume

import (
	"fmt"
	"strings"
	"time"

	"sessionguard/internal/checkpoint"
)

// Prompt is the structured continuation prompt handed to the
// presentation layer. Sections are fixed; empty ones are omitted from
// the rendered text.
type Prompt struct {
	Situation string   `json:"situation"`
	Progress  string   `json:"progress"`
	Context   string   `json:"context,omitempty"`
	NextSteps []string `json:"next_steps,omitempty"`
	Files     []string `json:"files,omitempty"`
	ToolState []string `json:"tool_state,omitempty"`
	Blockers  []string `json:"blockers,omitempty"`
}

func buildPrompt(cp *checkpoint.Checkpoint, reason InterruptionReason, elapsed time.Duration) *Prompt {
	p := &Prompt{
		Situation: fmt.Sprintf("Previous session interrupted (%s) %s ago.", reason, humanDuration(elapsed)),
		Context:   cp.Conversation.Summary,
		NextSteps: cp.Task.NextSteps,
		Blockers:  cp.Task.Blockers,
	}

	if cp.Task.Operation != "" {
		p.Progress = fmt.Sprintf("%s (%s) was %.0f%% complete.",
			cp.Task.Operation, cp.Task.Phase, cp.Task.Progress*100)
	} else {
		p.Progress = "No operation was in progress."
	}

	p.Files = append(p.Files, cp.Files.ModifiedFiles...)
	for _, f := range cp.Files.StagedFiles {
		p.Files = append(p.Files, f+" (staged)")
	}

	for _, ts := range cp.Tools.ActiveSessions {
		p.ToolState = append(p.ToolState, fmt.Sprintf("active %s session", ts.Type))
	}
	for _, op := range cp.Tools.PendingOperations {
		line := fmt.Sprintf("pending %s", op.Type)
		if op.ResumeHint != "" {
			line += ": " + op.ResumeHint
		}
		p.ToolState = append(p.ToolState, line)
	}

	return p
}

// Render formats the prompt as display text with its fixed sections.
func (p *Prompt) Render() string {
	var b strings.Builder

	b.WriteString("## Situation\n")
	b.WriteString(p.Situation)
	b.WriteString("\n\n## Progress\n")
	b.WriteString(p.Progress)
	b.WriteString("\n")

	if p.Context != "" {
		b.WriteString("\n## Context\n")
		b.WriteString(p.Context)
		b.WriteString("\n")
	}
	writeList(&b, "Next steps", p.NextSteps)
	writeList(&b, "Files", p.Files)
	writeList(&b, "Tool state", p.ToolState)
	writeList(&b, "Blockers", p.Blockers)

	return b.String()
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n## %s\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}

func humanDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%d seconds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	default:
		return fmt.Sprintf("%.1f hours", d.Hours())
	}
}
