// main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cosmosjeon/anyon-acp-sub001/internal/config"
	"github.com/cosmosjeon/anyon-acp-sub001/internal/logging"
)

// cliOptions holds the flags shared by every command
type cliOptions struct {
	configPath string
	projectDir string
	sessionID  string
	jsonOutput bool
	verbose    bool
}

// cliEnv is a started App bound to the project and session of the command line
type cliEnv struct {
	app     *App
	config  *config.Config
	logger  *zap.Logger
	project *ProjectInfo
	session string
	json    bool
	out     io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newRootCmd builds the root command with shared flags.
func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	cmd := &cobra.Command{
		Use:           "anyon",
		Short:         "Checkpoint timeline for AI coding sessions",
		Long:          "Capture, browse, diff and revert snapshots of a project's files taken during an AI coding session.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default ~/.anyon/config.yaml)")
	cmd.PersistentFlags().StringVarP(&opts.projectDir, "project", "p", ".", "project directory")
	cmd.PersistentFlags().StringVarP(&opts.sessionID, "session", "s", "default", "session id")
	cmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "print results as JSON")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newCaptureCmd(opts))
	cmd.AddCommand(newTimelineCmd(opts))
	cmd.AddCommand(newDiffCmd(opts))
	cmd.AddCommand(newRevertCmd(opts))
	cmd.AddCommand(newForkCmd(opts))
	cmd.AddCommand(newCleanupCmd(opts))
	cmd.AddCommand(newSettingsCmd(opts))
	cmd.AddCommand(newWatchCmd(opts))
	cmd.AddCommand(newEventCmd(opts))
	cmd.AddCommand(newVerifyCmd(opts))

	return cmd
}

// open loads configuration and starts an App for one command. The returned
// func shuts it down.
func (o *cliOptions) open(cmd *cobra.Command) (*cliEnv, func(), error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	err = logging.Init(logging.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.Output,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	if o.verbose {
		logging.SetLevel("debug")
	}
	logger := logging.L()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app := NewApp(cfg, logger)
	app.startup(ctx)

	project, err := app.GetProjectInfo(o.projectDir)
	if err != nil {
		app.shutdown(ctx)
		return nil, nil, err
	}

	env := &cliEnv{
		app:     app,
		config:  cfg,
		logger:  logger,
		project: project,
		session: o.sessionID,
		json:    o.jsonOutput,
		out:     cmd.OutOrStdout(),
	}
	closeFn := func() {
		app.shutdown(context.WithoutCancel(ctx))
		_ = logging.Sync()
	}
	return env, closeFn, nil
}

// print writes v as indented JSON when --json is set, otherwise calls text
func (e *cliEnv) print(v interface{}, text func(w io.Writer)) error {
	if e.json {
		enc := json.NewEncoder(e.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(e.out)
	return nil
}

// runWithEnv wraps a command body with App startup and shutdown
func runWithEnv(opts *cliOptions, fn func(cmd *cobra.Command, env *cliEnv, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		env, closeFn, err := opts.open(cmd)
		if err != nil {
			return err
		}
		defer closeFn()
		return fn(cmd, env, args)
	}
}
