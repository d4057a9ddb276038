package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aatumaykin/nexbeat/internal/app"
	"github.com/aatumaykin/nexbeat/internal/daemon"
	"github.com/aatumaykin/nexbeat/internal/logger"
	"github.com/aatumaykin/nexbeat/internal/store"
	"github.com/aatumaykin/nexbeat/internal/version"
)

func (c *cli) newSchedulerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Manage the scheduler daemon and its schedules",
	}
	cmd.AddCommand(
		c.newStartCmd(),
		c.newStopCmd(),
		c.newStatusCmd(),
		c.newServeCmd(),
		c.newRunCmd(),
		c.newListCmd(),
		c.newCreateCmd(),
		c.newEnableCmd(true),
		c.newEnableCmd(false),
		c.newDeleteCmd(),
	)
	return cmd
}

// supervisor opens the store and builds a supervisor for the real OS.
func (c *cli) supervisor(ctx context.Context) (*daemon.Supervisor, *store.Store, error) {
	cfg, st, err := c.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	log, err := c.newLogger(cfg)
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	sup := app.NewSupervisor(st, app.NewSpawner(cfg, c.absConfigPath()), daemon.OSProcesses{}, cfg, log)
	return sup, st, nil
}

func (c *cli) newStartCmd() *cobra.Command {
	var activate bool
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the scheduler daemon in the background",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, st, err := c.supervisor(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			pid, err := sup.Start(cmd.Context(), activate)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "Scheduler started (pid %d)\n", pid)
			return nil
		},
	}
	cmd.Flags().BoolVar(&activate, "activate", false, "Run a tick right after start")
	return cmd
}

func (c *cli) newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the scheduler daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, st, err := c.supervisor(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			_, running, err := sup.IsRunning(cmd.Context())
			if err != nil {
				return err
			}
			if !running {
				fmt.Fprintln(c.stdout, "Scheduler is not running")
				return nil
			}
			if err := sup.Stop(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(c.stdout, "Scheduler stopped")
			return nil
		},
	}
}

func (c *cli) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the scheduler daemon is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, st, err := c.supervisor(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			pid, running, err := sup.IsRunning(cmd.Context())
			if err != nil {
				return err
			}
			if running {
				fmt.Fprintf(c.stdout, "Scheduler is running (pid %d)\n", pid)
			} else {
				fmt.Fprintln(c.stdout, "Scheduler is not running")
			}
			return nil
		},
	}
}

// newServeCmd is the process `scheduler start` spawns.
func (c *cli) newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "serve",
		Short:  "Run the scheduler in the foreground",
		Args:   cobra.NoArgs,
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, log, err := c.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			log.Info("Starting Nexbeat scheduler",
				logger.Field{Key: "version", Value: version.Version},
				logger.Field{Key: "git_commit", Value: version.GitCommit},
				logger.Field{Key: "config", Value: c.configPath},
				logger.Field{Key: "pid", Value: os.Getpid()})
			return a.Serve(ctx)
		},
	}
}

func (c *cli) newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run ID",
		Short: "Run a schedule now, regardless of its cron expression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			a, _, err := c.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.RunNow(cmd.Context(), id); err != nil {
				return err
			}
			s, err := a.Store().GetByID(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "Schedule %d (%s) finished\n", s.ID, s.Name)
			if out, ok := s.State["output"].(string); ok && out != "" {
				fmt.Fprintln(c.stdout, out)
			}
			return nil
		},
	}
}

// newApp builds the full application for commands that execute tasks.
func (c *cli) newApp(ctx context.Context) (*app.App, *logger.Logger, error) {
	cfg, err := c.loadConfig(true)
	if err != nil {
		return nil, nil, err
	}
	log, err := c.newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(ctx, cfg, log, app.WithConfigPath(c.absConfigPath()))
	if err != nil {
		return nil, nil, err
	}
	return a, log, nil
}
