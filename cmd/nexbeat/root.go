package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/aatumaykin/nexbeat/internal/config"
	"github.com/aatumaykin/nexbeat/internal/logger"
	"github.com/aatumaykin/nexbeat/internal/store"
	"github.com/aatumaykin/nexbeat/internal/version"
)

// cli carries the global flags and the streams commands write to.
type cli struct {
	configPath string
	logLevel   string

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	// interactive reports whether confirmations can be asked on stdin.
	interactive func() bool
}

func newCLI(stdin io.Reader, stdout, stderr io.Writer) *cli {
	c := &cli{stdin: stdin, stdout: stdout, stderr: stderr}
	c.interactive = func() bool {
		f, ok := c.stdin.(*os.File)
		if !ok {
			return false
		}
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return c
}

// execute runs the command line and returns the process exit code.
func execute(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	c := newCLI(stdin, stdout, stderr)
	return c.run(args)
}

func (c *cli) run(args []string) int {
	root := c.newRootCmd()
	root.SetArgs(args)
	root.SetIn(c.stdin)
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(c.stderr, renderError(err))
		return exitCode(err)
	}
	return exitOK
}

func (c *cli) newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "nexbeat",
		Short: "Nexbeat - cron-driven scheduler for agent workflows",
		Long: `Nexbeat keeps a durable list of cron schedules, runs a scheduler daemon
that dispatches due schedules to a worker pool, and executes each task as a
workflow graph of LLM-driven roles.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(version.Info() + "\n")

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", config.DefaultPath, "Path to the configuration file")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")

	root.AddCommand(c.newVersionCmd())
	root.AddCommand(c.newSchedulerCmd())
	root.AddCommand(c.newWorkflowCmd())
	return root
}

// loadConfig loads .env, the config file and validates the result. Commands
// that never reach the model skip the checks on provider secrets.
func (c *cli) loadConfig(needAgent bool) (*config.Config, error) {
	if err := config.LoadEnvOptional(".env"); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}

	var problems []error
	for _, e := range cfg.Validate() {
		var verr *config.ValidationError
		if !needAgent && errors.As(e, &verr) {
			continue
		}
		problems = append(problems, e)
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %w", errors.Join(problems...))
	}
	return cfg, nil
}

func (c *cli) newLogger(cfg *config.Config) (*logger.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return log, nil
}

// openStore loads configuration and opens the schedule store.
func (c *cli) openStore(ctx context.Context) (*config.Config, *store.Store, error) {
	cfg, err := c.loadConfig(false)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(ctx, cfg.Store.Path, store.WithLocation(cfg.Location()))
	if err != nil {
		return nil, nil, err
	}
	return cfg, st, nil
}

// absConfigPath is the config path handed to the detached scheduler, which
// may run from another working directory.
func (c *cli) absConfigPath() string {
	p := config.ExpandPath(c.configPath)
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
