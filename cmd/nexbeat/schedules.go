package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aatumaykin/nexbeat/internal/cron"
	"github.com/aatumaykin/nexbeat/internal/daemon"
	"github.com/aatumaykin/nexbeat/internal/store"
)

func (c *cli) newListCmd() *cobra.Command {
	var all, running, simple bool
	var taskType string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		Long: `List schedules. Only enabled schedules are shown unless --all is given;
deleted schedules are never shown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, st, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			schedules, err := st.GetAll(cmd.Context(), store.Filter{
				OnlyEnabled: !all,
				RunningOnly: running,
				TaskType:    taskType,
			})
			if err != nil {
				return err
			}
			renderSchedules(c.stdout, schedules, cfg.Location(), simple)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include disabled schedules")
	cmd.Flags().BoolVarP(&running, "running", "r", false, "Only schedules with a run in flight")
	cmd.Flags().BoolVarP(&simple, "simple", "s", false, "Plain tab-separated output")
	cmd.Flags().StringVarP(&taskType, "type", "t", "", "Only schedules of this task type")
	return cmd
}

func (c *cli) newCreateCmd() *cobra.Command {
	var (
		topic    string
		taskType string
		disabled bool
		params   []string
	)
	cmd := &cobra.Command{
		Use:   "create NAME CRON",
		Short: "Create a schedule",
		Example: `  nexbeat scheduler create morning-post "0 9 * * *" --topic "Go tips"
  nexbeat scheduler create weekly-stats "0 8 * * 1" --type analytics --param window=7`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cron.Validate(args[1]); err != nil {
				return err
			}
			p, err := parseParams(params)
			if err != nil {
				return err
			}
			if topic != "" {
				p["topic"] = topic
			}

			cfg, st, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			s, err := st.Create(cmd.Context(), store.NewSchedule{
				Name:         args[0],
				CronSchedule: args[1],
				Enabled:      !disabled,
				Params:       p,
				TaskType:     taskType,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "Created schedule %d (%s), next run %s\n",
				s.ID, s.Name, formatTime(s.NextRun, cfg.Location()))
			if disabled {
				fmt.Fprintln(c.stdout, "The schedule is disabled; enable it with: nexbeat scheduler enable", s.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "Topic passed to the task as params.topic")
	cmd.Flags().StringVar(&taskType, "type", store.TaskTypePost, "Task type (post, reply, retweet, like, analytics, scheduled_thread, other)")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Create the schedule disabled")
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Task parameter as key=value (repeatable)")
	return cmd
}

func (c *cli) newEnableCmd(enable bool) *cobra.Command {
	use, short := "enable ID", "Enable a schedule"
	if !enable {
		use, short = "disable ID", "Disable a schedule and stop its run in flight"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			sup, st, err := c.supervisor(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			s, err := c.setEnabled(cmd.Context(), st, sup, id, enable)
			if err != nil {
				return err
			}
			state := "enabled"
			if !enable {
				state = "disabled"
			}
			fmt.Fprintf(c.stdout, "Schedule %d (%s) %s\n", s.ID, s.Name, state)
			return nil
		},
	}
}

// setEnabled flips the enabled flag. Disabling a running schedule pokes the
// scheduler so its beat loop revokes the run.
func (c *cli) setEnabled(ctx context.Context, st *store.Store, sup *daemon.Supervisor, id int64, enable bool) (*store.Schedule, error) {
	ok, err := st.Update(ctx, id, store.Patch{Enabled: store.Ptr(enable)})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: id %d", store.ErrNotFound, id)
	}
	s, err := st.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !enable && s.IsRunning {
		if err := sup.Poke(); err != nil {
			fmt.Fprintf(c.stderr, "warning: %v\n", err)
		} else {
			fmt.Fprintf(c.stdout, "Requested stop of running task %s\n", s.TaskID)
		}
	}
	return s, nil
}

func (c *cli) newDeleteCmd() *cobra.Command {
	var (
		taskType string
		force    bool
		hard     bool
	)
	cmd := &cobra.Command{
		Use:   "delete [IDS...]",
		Short: "Delete schedules",
		Long: `Delete schedules by id. IDS accepts single ids, comma lists and A-B
ranges, e.g. "1,3,7-9". --type deletes every schedule of a task type.
Deletion is soft unless --hard is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && taskType == "" {
				return errors.New("give schedule ids or --type")
			}
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}

			_, st, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			if taskType != "" {
				typed, err := st.GetAll(cmd.Context(), store.Filter{TaskType: taskType})
				if err != nil {
					return err
				}
				for _, s := range typed {
					ids = append(ids, s.ID)
				}
				ids = dedupe(ids)
			}
			if len(ids) == 0 {
				fmt.Fprintln(c.stdout, "Nothing to delete")
				return nil
			}

			if !force {
				confirmed, err := c.confirm(fmt.Sprintf("Delete %d schedule(s) %v?", len(ids), ids))
				if err != nil {
					return err
				}
				if !confirmed {
					fmt.Fprintln(c.stdout, "Aborted")
					return nil
				}
			}

			var errs []error
			deleted := 0
			for _, id := range ids {
				if err := st.Delete(cmd.Context(), id, !hard); err != nil {
					errs = append(errs, err)
					continue
				}
				deleted++
			}
			fmt.Fprintf(c.stdout, "Deleted %d schedule(s)\n", deleted)
			return errors.Join(errs...)
		},
	}
	cmd.Flags().StringVarP(&taskType, "type", "t", "", "Delete every schedule of this task type")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Do not ask for confirmation")
	cmd.Flags().BoolVar(&hard, "hard", false, "Remove rows instead of marking them deleted")
	return cmd
}

// confirm asks a yes/no question on stdin. Non-interactive input needs --force.
func (c *cli) confirm(question string) (bool, error) {
	if !c.interactive() {
		return false, errors.New("refusing to delete without confirmation on non-interactive input; use --force")
	}
	fmt.Fprintf(c.stdout, "%s [y/N]: ", question)
	answer, err := bufio.NewReader(c.stdin).ReadString('\n')
	if err != nil && answer == "" {
		return false, nil
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
