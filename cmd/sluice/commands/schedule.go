package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sluiceio/sluice/pkg/config"
	"github.com/sluiceio/sluice/pkg/scheduler"
)

var dbPath string

func newScheduleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage pipeline schedules",
		Long: `Add, list, pause, resume and remove pipeline schedules. Schedules and
their job history persist in a local SQLite database shared with the
worker.`,
	}

	cmd.PersistentFlags().StringVar(&dbPath, "db", "sluice.db", "schedule database path")

	cmd.AddCommand(newScheduleAddCommand())
	cmd.AddCommand(newScheduleListCommand())
	cmd.AddCommand(newSchedulePauseCommand())
	cmd.AddCommand(newScheduleResumeCommand())
	cmd.AddCommand(newScheduleRemoveCommand())
	cmd.AddCommand(newScheduleJobsCommand())

	return cmd
}

// withScheduler opens the store for one command invocation.
func withScheduler(ctx context.Context, fn func(*scheduler.Scheduler) error) error {
	store, err := scheduler.NewSQLiteStore(scheduler.StoreConfig{Path: dbPath})
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return err
	}
	defer store.Close()

	log, err := newRunLogger("")
	if err != nil {
		return err
	}
	return fn(scheduler.NewScheduler(store, log))
}

func newScheduleAddCommand() *cobra.Command {
	var (
		cronSpec     string
		every        time.Duration
		at           string
		calendarSpec string
		executorOv   string
	)

	cmd := &cobra.Command{
		Use:   "add <pipeline>",
		Short: "Add a schedule for a pipeline",
		Example: `  # Every weekday at 06:00
  sluice schedule add etl --cron "0 6 * * 1-5"

  # Every 15 minutes
  sluice schedule add etl --every 15m

  # Once, at a fixed time
  sluice schedule add etl --at 2026-09-01T06:00:00Z

  # Monthly from an anchor, with an executor override
  sluice schedule add etl --calendar '{"anchor":"2026-09-01T00:00:00Z","months":1}' \
    --executor '{type: threadpool, max_workers: 4}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			trigger, err := buildTrigger(cmd, cronSpec, every, at, calendarSpec)
			if err != nil {
				return err
			}

			var override *config.ExecutorPatch
			if cmd.Flags().Changed("executor") {
				patch, err := parseExecutorFlag(executorOv)
				if err != nil {
					return err
				}
				override = &patch
			}

			return withScheduler(cmd.Context(), func(s *scheduler.Scheduler) error {
				sched, err := s.Add(cmd.Context(), args[0], trigger, override)
				if err != nil {
					return err
				}
				fmt.Printf("%s\t%s\t%s %q\tnext %s\n",
					sched.ID, sched.PipelineName, trigger.Kind(), trigger.Spec(),
					sched.NextRun.Format(time.RFC3339))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&cronSpec, "cron", "", "cron expression trigger")
	cmd.Flags().DurationVar(&every, "every", 0, "fixed interval trigger")
	cmd.Flags().StringVar(&at, "at", "", "one-shot trigger time (RFC3339)")
	cmd.Flags().StringVar(&calendarSpec, "calendar", "", `calendar trigger, e.g. {"anchor":"...","months":1,"days":0,"hours":0}`)
	cmd.Flags().StringVar(&executorOv, "executor", "", "executor override: type name or inline YAML object")
	return cmd
}

// buildTrigger enforces exactly one trigger flag.
func buildTrigger(cmd *cobra.Command, cronSpec string, every time.Duration, at, calendarSpec string) (scheduler.Trigger, error) {
	set := 0
	for _, name := range []string{"cron", "every", "at", "calendar"} {
		if cmd.Flags().Changed(name) {
			set++
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("exactly one of --cron, --every, --at, --calendar is required")
	}

	switch {
	case cronSpec != "":
		return scheduler.NewCronTrigger(cronSpec)
	case every != 0:
		return scheduler.NewIntervalTrigger(every)
	case at != "":
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return nil, fmt.Errorf("invalid --at value %q: %w", at, err)
		}
		return scheduler.NewOnceTrigger(t), nil
	default:
		var spec struct {
			Anchor string `json:"anchor"`
			Months int    `json:"months"`
			Days   int    `json:"days"`
			Hours  int    `json:"hours"`
		}
		if err := json.Unmarshal([]byte(calendarSpec), &spec); err != nil {
			return nil, fmt.Errorf("invalid --calendar value: %w", err)
		}
		anchor, err := time.Parse(time.RFC3339, spec.Anchor)
		if err != nil {
			return nil, fmt.Errorf("invalid calendar anchor %q: %w", spec.Anchor, err)
		}
		return scheduler.NewCalendarTrigger(anchor, spec.Months, spec.Days, spec.Hours)
	}
}

func newScheduleListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduler(cmd.Context(), func(s *scheduler.Scheduler) error {
				scheds, err := s.List(cmd.Context())
				if err != nil {
					return err
				}
				for _, sched := range scheds {
					next := "-"
					if sched.NextRun != nil {
						next = sched.NextRun.Format(time.RFC3339)
					}
					state := "active"
					if sched.Paused {
						state = "paused"
					}
					fmt.Printf("%s\t%s\t%s %q\t%s\tnext %s\n",
						sched.ID, sched.PipelineName,
						sched.Trigger.Kind(), sched.Trigger.Spec(), state, next)
				}
				return nil
			})
		},
	}
}

func newSchedulePauseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <id>",
		Short: "Pause a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduler(cmd.Context(), func(s *scheduler.Scheduler) error {
				return s.Pause(cmd.Context(), args[0])
			})
		},
	}
}

func newScheduleResumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <id>",
		Short: "Resume a paused schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduler(cmd.Context(), func(s *scheduler.Scheduler) error {
				return s.Resume(cmd.Context(), args[0])
			})
		},
	}
}

func newScheduleRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a schedule and its job history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduler(cmd.Context(), func(s *scheduler.Scheduler) error {
				return s.Remove(cmd.Context(), args[0])
			})
		},
	}
}

func newScheduleJobsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs [schedule-id]",
		Short: "Show job history, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scheduleID := ""
			if len(args) > 0 {
				scheduleID = args[0]
			}
			return withScheduler(cmd.Context(), func(s *scheduler.Scheduler) error {
				jobs, err := s.Jobs(cmd.Context(), scheduleID, limit, 0)
				if err != nil {
					return err
				}
				for _, job := range jobs {
					detail := ""
					if job.Error != nil {
						detail = "\t" + *job.Error
					}
					fmt.Printf("%s\t%s\t%s\t%s%s\n",
						job.ID, job.ScheduleID, job.Status,
						job.RunTime.Format(time.RFC3339), detail)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum jobs to show")
	return cmd
}
