package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"sessionguard/internal/checkpoint"
	"sessionguard/internal/config"
	"sessionguard/internal/guard"
	"sessionguard/internal/store"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(g *guard.Guard, st *store.Store, cfg *config.Config) *cli.App {
	return &cli.App{
		Name:    "sessionguard",
		Usage:   "Checkpoint and resume protection for interactive sessions",
		Version: Version,
		Commands: []*cli.Command{
			checkpointCmd(g),
			listCmd(st),
			showCmd(st),
			resumeCmd(g),
			cleanupCmd(g),
			historyCmd(st),
			eventsCmd(st),
		},
	}
}

func sessionFlag() *cli.StringFlag {
	return &cli.StringFlag{Name: "session", Aliases: []string{"s"}, Required: true, Usage: "Session ID"}
}

// checkpointCmd forces a checkpoint for a session. The conversation
// summary is read from stdin when piped, or from --summary.
func checkpointCmd(g *guard.Guard) *cli.Command {
	return &cli.Command{
		Name:  "checkpoint",
		Usage: "Force a checkpoint for a session",
		Flags: []cli.Flag{
			sessionFlag(),
			&cli.StringFlag{Name: "summary", Usage: "Conversation summary (stdin wins when piped)"},
			&cli.StringFlag{Name: "operation", Usage: "Current operation name"},
			&cli.StringFlag{Name: "phase", Usage: "Current phase name"},
			&cli.Float64Flag{Name: "progress", Usage: "Progress in [0,1]"},
			&cli.StringFlag{Name: "next", Usage: "Comma-separated next steps"},
			&cli.StringFlag{Name: "workspace", Aliases: []string{"w"}, Usage: "Workspace path for file-state capture"},
		},
		Action: func(c *cli.Context) error {
			summary := c.String("summary")
			if stdinHasData() {
				piped, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				summary = strings.TrimSpace(string(piped))
			}

			if ws := c.String("workspace"); ws != "" {
				if err := g.AttachWorkspace(ws); err != nil {
					return err
				}
			}

			in := checkpoint.SnapshotInput{
				SessionID: c.String("session"),
				Conversation: checkpoint.ConversationState{
					Summary: summary,
				},
				Task: checkpoint.TaskState{
					Operation: c.String("operation"),
					Phase:     c.String("phase"),
					Progress:  c.Float64("progress"),
				},
			}
			if next := c.String("next"); next != "" {
				in.Task.NextSteps = splitTrim(next)
			}

			result, err := g.ForceCheckpoint(c.Context, in)
			if err != nil {
				return err
			}
			return outputJSON(result)
		},
	}
}

// listCmd lists checkpoint metadata for a session, newest first.
func listCmd(st *store.Store) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List checkpoints for a session",
		Flags: []cli.Flag{sessionFlag()},
		Action: func(c *cli.Context) error {
			metas, err := st.ListBySession(c.Context, c.String("session"))
			if err != nil {
				return err
			}
			return outputJSON(metas)
		},
	}
}

// showCmd decodes and prints one checkpoint in full.
func showCmd(st *store.Store) *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show a checkpoint by ID",
		ArgsUsage: "<checkpoint-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected exactly one checkpoint id")
			}
			cp, err := st.GetByID(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			return outputJSON(cp)
		},
	}
}

// resumeCmd evaluates the resume decision for a session; --accept or
// --decline consumes the offer.
func resumeCmd(g *guard.Guard) *cli.Command {
	return &cli.Command{
		Name:  "resume",
		Usage: "Check whether a session should resume from a checkpoint",
		Flags: []cli.Flag{
			sessionFlag(),
			&cli.BoolFlag{Name: "accept", Usage: "Consume the offer as accepted"},
			&cli.BoolFlag{Name: "decline", Usage: "Consume the offer as declined"},
			&cli.Float64Flag{Name: "fidelity", Value: 1.0, Usage: "Fidelity score recorded on accept"},
			&cli.BoolFlag{Name: "prompt", Usage: "Print the rendered resume prompt instead of JSON"},
		},
		Action: func(c *cli.Context) error {
			decision, err := g.OnSessionStart(c.Context, c.String("session"))
			if err != nil {
				return err
			}

			if decision.ShouldResume && (c.Bool("accept") || c.Bool("decline")) {
				fidelity := c.Float64("fidelity")
				if c.Bool("decline") {
					fidelity = 0
				}
				if err := g.ConsumeResume(c.Context, decision, c.Bool("accept"), fidelity); err != nil {
					return err
				}
			}

			if c.Bool("prompt") && decision.Prompt != nil {
				fmt.Println(decision.Prompt.Render())
				return nil
			}
			return outputJSON(decision)
		},
	}
}

// cleanupCmd applies the retention policy.
func cleanupCmd(g *guard.Guard) *cli.Command {
	return &cli.Command{
		Name:  "cleanup",
		Usage: "Delete checkpoints past the retention policy",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "session", Aliases: []string{"s"}, Usage: "Also trim this session to its checkpoint cap"},
		},
		Action: func(c *cli.Context) error {
			var sessions []string
			if s := c.String("session"); s != "" {
				sessions = append(sessions, s)
			}
			deleted, err := g.Cleanup(c.Context, sessions...)
			if err != nil {
				return err
			}
			return outputJSON(map[string]int64{"deleted": deleted})
		},
	}
}

// historyCmd prints a session's signal history.
func historyCmd(st *store.Store) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show a session's signal history",
		Flags: []cli.Flag{
			sessionFlag(),
			&cli.IntFlag{Name: "limit", Value: 50, Usage: "Maximum rows (0 = all)"},
		},
		Action: func(c *cli.Context) error {
			records, err := st.ListSignalHistory(c.Context, c.String("session"), c.Int("limit"))
			if err != nil {
				return err
			}
			return outputJSON(records)
		},
	}
}

// eventsCmd prints a session's resume events.
func eventsCmd(st *store.Store) *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Show a session's resume events",
		Flags: []cli.Flag{sessionFlag()},
		Action: func(c *cli.Context) error {
			events, err := st.ListResumeEvents(c.Context, c.String("session"))
			if err != nil {
				return err
			}
			return outputJSON(events)
		},
	}
}

func outputJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

func splitTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
