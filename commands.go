// commands.go
package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cosmosjeon/anyon-acp-sub001/internal/checkpoint"
	"github.com/cosmosjeon/anyon-acp-sub001/internal/eventhub"
)

const timeFormat = "2006-01-02 15:04:05"

func newCaptureCmd(opts *cliOptions) *cobra.Command {
	var capture checkpoint.CaptureOptions

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture the project files as a new checkpoint",
		Args:  cobra.NoArgs,
		RunE: runWithEnv(opts, func(cmd *cobra.Command, env *cliEnv, args []string) error {
			if capture.Description == "" {
				capture.Description = "Manual checkpoint"
			}
			res, err := env.app.CreateCheckpoint(cmd.Context(), env.project.ProjectID, env.project.ProjectRoot, env.session, capture)
			if err != nil {
				return err
			}
			return env.print(res, func(w io.Writer) {
				cp := res.Checkpoint
				fmt.Fprintf(w, "created %s (%d files changed, %d blobs written)\n", cp.ID, cp.Metadata.FileChanges, res.BlobsWritten)
				for _, warning := range res.Warnings {
					fmt.Fprintf(w, "warning: %s\n", warning)
				}
			})
		}),
	}

	cmd.Flags().StringVarP(&capture.Description, "message", "m", "", "checkpoint description")
	cmd.Flags().IntVar(&capture.MessageIndex, "message-index", 0, "conversation message index")
	cmd.Flags().Int64Var(&capture.TotalTokens, "tokens", 0, "total tokens used so far")
	cmd.Flags().StringVar(&capture.ModelUsed, "model", "", "model used for the session")
	cmd.Flags().StringVar(&capture.UserPrompt, "prompt", "", "prompt that led to this state")
	return cmd
}

func newTimelineCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "timeline",
		Short: "Show the checkpoint tree of a session",
		Args:  cobra.NoArgs,
		RunE: runWithEnv(opts, func(cmd *cobra.Command, env *cliEnv, args []string) error {
			tl, err := env.app.GetCheckpointTimeline(env.project.ProjectID, env.project.ProjectRoot, env.session)
			if err != nil {
				return err
			}
			return env.print(tl, func(w io.Writer) {
				fmt.Fprintf(w, "session %s: %d checkpoints, strategy %s, auto %v\n",
					tl.SessionID, tl.TotalCheckpoints, tl.CheckpointStrategy, tl.AutoCheckpointEnabled)
				if env.project.Branch != "" {
					fmt.Fprintf(w, "git %s @ %s\n", env.project.Branch, env.project.HeadCommit)
				}
				if tl.RootNode != nil {
					printNode(w, *tl.RootNode, tl.CurrentCheckpointID, "", true, true)
				}
			})
		}),
	}
}

func printNode(w io.Writer, node checkpoint.TimelineNode, current, prefix string, last, root bool) {
	cp := node.Checkpoint
	marker := " "
	if cp.ID == current {
		marker = "*"
	}
	branch := ""
	childPrefix := prefix
	if !root {
		if last {
			branch = "└── "
			childPrefix += "    "
		} else {
			branch = "├── "
			childPrefix += "│   "
		}
	}
	fmt.Fprintf(w, "%s%s%s %s  %s  %s (%d files)\n", prefix, branch, marker, shortID(cp.ID),
		cp.Timestamp.Local().Format(timeFormat), cp.Description, cp.Metadata.FileChanges)
	for i, child := range node.Children {
		printNode(w, child, current, childPrefix, i == len(node.Children)-1, false)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func newDiffCmd(opts *cliOptions) *cobra.Command {
	var withContent bool

	cmd := &cobra.Command{
		Use:   "diff FROM TO",
		Short: "Compare the files of two checkpoints",
		Args:  cobra.ExactArgs(2),
		RunE: runWithEnv(opts, func(cmd *cobra.Command, env *cliEnv, args []string) error {
			from, err := resolveID(env, args[0])
			if err != nil {
				return err
			}
			to, err := resolveID(env, args[1])
			if err != nil {
				return err
			}
			d, err := env.app.DiffCheckpoints(env.project.ProjectID, env.project.ProjectRoot, env.session, from, to, withContent)
			if err != nil {
				return err
			}
			return env.print(d, func(w io.Writer) {
				for _, p := range d.AddedFiles {
					fmt.Fprintf(w, "A %s\n", p)
				}
				for _, p := range d.DeletedFiles {
					fmt.Fprintf(w, "D %s\n", p)
				}
				for _, f := range d.ModifiedFiles {
					if f.Binary {
						fmt.Fprintf(w, "M %s (binary)\n", f.Path)
					} else {
						fmt.Fprintf(w, "M %s +%d -%d\n", f.Path, f.Additions, f.Deletions)
					}
					if f.DiffContent != "" {
						fmt.Fprint(w, f.DiffContent)
					}
				}
				fmt.Fprintf(w, "token delta: %+d\n", d.TokenDelta)
			})
		}),
	}

	cmd.Flags().BoolVar(&withContent, "content", false, "include unified diff text")
	return cmd
}

func newRevertCmd(opts *cliOptions) *cobra.Command {
	var metadataOnly bool

	cmd := &cobra.Command{
		Use:   "revert CHECKPOINT",
		Short: "Restore the project files to a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: runWithEnv(opts, func(cmd *cobra.Command, env *cliEnv, args []string) error {
			id, err := resolveID(env, args[0])
			if err != nil {
				return err
			}
			p := env.project
			verb := "reverted"
			if metadataOnly {
				verb = "rewound"
				err = env.app.RewindToCheckpoint(cmd.Context(), p.ProjectID, p.ProjectRoot, env.session, id)
			} else {
				err = env.app.RevertToCheckpoint(cmd.Context(), p.ProjectID, p.ProjectRoot, env.session, id)
			}
			if err != nil {
				return err
			}
			return env.print(map[string]interface{}{"checkpoint_id": id, "files_restored": !metadataOnly}, func(w io.Writer) {
				fmt.Fprintf(w, "%s to %s\n", verb, id)
			})
		}),
	}

	cmd.Flags().BoolVar(&metadataOnly, "metadata-only", false, "move the current checkpoint without touching files")
	return cmd
}

func newForkCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fork CHECKPOINT NEW_SESSION",
		Short: "Start a new session from a checkpoint",
		Args:  cobra.ExactArgs(2),
		RunE: runWithEnv(opts, func(cmd *cobra.Command, env *cliEnv, args []string) error {
			id, err := resolveID(env, args[0])
			if err != nil {
				return err
			}
			p := env.project
			res, err := env.app.ForkCheckpointSession(cmd.Context(), p.ProjectID, p.ProjectRoot, env.session, id, args[1])
			if err != nil {
				return err
			}
			return env.print(res, func(w io.Writer) {
				fmt.Fprintf(w, "forked %s into session %s (root %s, %d files)\n",
					shortID(id), args[1], shortID(res.Checkpoint.ID), res.FilesProcessed)
			})
		}),
	}
}

func newCleanupCmd(opts *cliOptions) *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Evict old checkpoints outside the active path",
		Args:  cobra.NoArgs,
		RunE: runWithEnv(opts, func(cmd *cobra.Command, env *cliEnv, args []string) error {
			removed, err := env.app.CleanupCheckpoints(cmd.Context(), env.project.ProjectID, env.project.ProjectRoot, env.session, keep)
			if err != nil {
				return err
			}
			return env.print(map[string]int{"removed": removed}, func(w io.Writer) {
				fmt.Fprintf(w, "removed %d checkpoints\n", removed)
			})
		}),
	}

	cmd.Flags().IntVarP(&keep, "keep", "k", -1, "number of recent checkpoints to keep (default from config)")
	return cmd
}

func newSettingsCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change a session's checkpoint settings",
	}

	printSettings := func(env *cliEnv, s checkpoint.Settings) error {
		return env.print(s, func(w io.Writer) {
			fmt.Fprintf(w, "auto_checkpoint_enabled: %v\ncheckpoint_strategy: %s\ntotal_checkpoints: %d\n",
				s.AutoCheckpointEnabled, s.CheckpointStrategy, s.TotalCheckpoints)
		})
	}

	get := &cobra.Command{
		Use:   "get",
		Short: "Show the session's settings",
		Args:  cobra.NoArgs,
		RunE: runWithEnv(opts, func(cmd *cobra.Command, env *cliEnv, args []string) error {
			s, err := env.app.GetCheckpointSettings(env.project.ProjectID, env.project.ProjectRoot, env.session)
			if err != nil {
				return err
			}
			return printSettings(env, s)
		}),
	}

	var auto bool
	var strategy string
	set := &cobra.Command{
		Use:   "set",
		Short: "Change the session's settings",
		Args:  cobra.NoArgs,
		RunE: runWithEnv(opts, func(cmd *cobra.Command, env *cliEnv, args []string) error {
			current, err := env.app.GetCheckpointSettings(env.project.ProjectID, env.project.ProjectRoot, env.session)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("auto") {
				auto = current.AutoCheckpointEnabled
			}
			if !cmd.Flags().Changed("strategy") {
				strategy = string(current.CheckpointStrategy)
			}
			s, err := env.app.UpdateCheckpointSettings(env.project.ProjectID, env.project.ProjectRoot, env.session, auto, strategy)
			if err != nil {
				return err
			}
			return printSettings(env, s)
		}),
	}
	set.Flags().BoolVar(&auto, "auto", false, "enable automatic checkpoints")
	set.Flags().StringVar(&strategy, "strategy", "", "checkpoint strategy: manual, per_prompt, per_tool_use or smart")

	cmd.AddCommand(get, set)
	return cmd
}

func newWatchCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Take automatic checkpoints as project files change",
		Long:  "Watch the project and feed every burst of file changes to the session's strategy until interrupted. Automatic checkpoints must be enabled with 'settings set --auto'.",
		Args:  cobra.NoArgs,
		RunE: runWithEnv(opts, func(cmd *cobra.Command, env *cliEnv, args []string) error {
			p := env.project
			s, err := env.app.GetCheckpointSettings(p.ProjectID, p.ProjectRoot, env.session)
			if err != nil {
				return err
			}
			if !s.AutoCheckpointEnabled {
				fmt.Fprintln(cmd.ErrOrStderr(), "automatic checkpoints are disabled for this session; changes will be ignored")
			}
			env.app.eventHub.Subscribe(func(eventType string, payload interface{}) {
				switch e := payload.(type) {
				case eventhub.CheckpointCreatedEvent:
					fmt.Fprintf(env.out, "checkpoint %s: %s (%d files)\n", shortID(e.CheckpointID), e.Description, e.FileChanges)
				case eventhub.CheckpointErrorEvent:
					fmt.Fprintf(cmd.ErrOrStderr(), "%s failed: %s\n", e.Operation, e.Error)
				}
			})
			if err := env.app.WatchProject(p.ProjectID, p.ProjectRoot, env.session); err != nil {
				return err
			}
			defer env.app.UnwatchProject(p.ProjectID)

			fmt.Fprintf(env.out, "watching %s (strategy %s), press Ctrl+C to stop\n", p.ProjectRoot, s.CheckpointStrategy)
			<-cmd.Context().Done()
			return nil
		}),
	}
}

func newEventCmd(opts *cliOptions) *cobra.Command {
	var event checkpoint.Event
	var category string
	var files string

	cmd := &cobra.Command{
		Use:   "event KIND",
		Short: "Feed a session lifecycle event to the strategy",
		Long:  "KIND is prompt_submitted, tool_invoked or manual_request. A checkpoint is captured when the session's strategy fires.",
		Args:  cobra.ExactArgs(1),
		RunE: runWithEnv(opts, func(cmd *cobra.Command, env *cliEnv, args []string) error {
			event.Kind = checkpoint.EventKind(args[0])
			switch event.Kind {
			case checkpoint.EventPromptSubmitted, checkpoint.EventToolInvoked, checkpoint.EventManualRequest:
			default:
				return fmt.Errorf("unknown event kind %q", args[0])
			}
			event.ToolCategory = checkpoint.ToolCategory(category)
			if files != "" {
				event.FilesTouched = strings.Split(files, ",")
			}

			res, err := env.app.HandleCheckpointEvent(cmd.Context(), env.project.ProjectID, env.project.ProjectRoot, env.session, event)
			if err != nil {
				return err
			}
			return env.print(res, func(w io.Writer) {
				if res == nil {
					fmt.Fprintln(w, "no checkpoint")
					return
				}
				fmt.Fprintf(w, "created %s: %s\n", res.Checkpoint.ID, res.Checkpoint.Description)
			})
		}),
	}

	cmd.Flags().StringVar(&category, "tool", "", "tool category: read, edit, write, delete or shell")
	cmd.Flags().StringVar(&files, "files", "", "comma separated files touched by the tool")
	cmd.Flags().IntVar(&event.LinesChanged, "lines", 0, "lines changed by the tool")
	cmd.Flags().StringVar(&event.Prompt, "prompt", "", "prompt text, or the description of a manual request")
	return cmd
}

func newVerifyCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the integrity of the project's checkpoint data",
		Args:  cobra.NoArgs,
		RunE: runWithEnv(opts, func(cmd *cobra.Command, env *cliEnv, args []string) error {
			report, err := env.app.VerifyCheckpoints(cmd.Context(), env.project.ProjectID, env.project.ProjectRoot)
			if err != nil {
				return err
			}
			if err := env.print(report, func(w io.Writer) {
				fmt.Fprintf(w, "%d sessions, %d checkpoints, %d blobs\n", report.Sessions, report.Checkpoints, report.Blobs)
				for _, p := range report.Problems {
					fmt.Fprintf(w, "problem: %s\n", p)
				}
			}); err != nil {
				return err
			}
			if len(report.Problems) > 0 {
				return fmt.Errorf("%d integrity problems found", len(report.Problems))
			}
			return nil
		}),
	}
}

// resolveID expands a unique checkpoint id prefix. "current" names the
// session's current checkpoint.
func resolveID(env *cliEnv, ref string) (string, error) {
	path, err := env.app.GetActiveCheckpointPath(env.project.ProjectID, env.project.ProjectRoot, env.session)
	if err != nil {
		return "", err
	}
	if ref == "current" {
		if len(path) == 0 {
			return "", fmt.Errorf("session %s has no checkpoints", env.session)
		}
		return path[len(path)-1].ID, nil
	}

	tl, err := env.app.GetCheckpointTimeline(env.project.ProjectID, env.project.ProjectRoot, env.session)
	if err != nil {
		return "", err
	}
	var matches []string
	exact := false
	var walk func(n checkpoint.TimelineNode)
	walk = func(n checkpoint.TimelineNode) {
		if n.Checkpoint.ID == ref {
			exact = true
		}
		if strings.HasPrefix(n.Checkpoint.ID, ref) {
			matches = append(matches, n.Checkpoint.ID)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	if tl.RootNode != nil {
		walk(*tl.RootNode)
	}
	if exact {
		return ref, nil
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("checkpoint %s not found", ref)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("checkpoint prefix %s is ambiguous (%d matches)", ref, len(matches))
	}
}
