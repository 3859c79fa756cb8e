package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/backitup/backitup/internal/scheduler"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Inspect configured schedules",
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List schedules with their next firing time",
	Long: `List every configured schedule, its cron expression, retention policy,
and the next instant it will fire (evaluated in the schedule's
timezone, or local time when none is set).

Example:
  backitup schedule list`,
	RunE: runScheduleList,
}

func init() {
	scheduleCmd.AddCommand(scheduleListCmd)
	rootCmd.AddCommand(scheduleCmd)
}

func runScheduleList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	names := make([]string, 0, len(cfg.Schedules))
	for name := range cfg.Schedules {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SCHEDULE\tCRON\tRETENTION\tSOURCES\tNEXT RUN")

	now := time.Now()
	for _, name := range names {
		sched := cfg.Schedules[name]

		loc := time.Local
		if sched.Timezone != "" {
			if l, err := time.LoadLocation(sched.Timezone); err == nil {
				loc = l
			}
		}

		next := "invalid cron"
		if parsed, err := scheduler.Parse(sched.Cron); err == nil {
			if t, ok := parsed.Next(now.In(loc)); ok {
				next = t.Format("2006-01-02 15:04 MST")
			} else {
				next = "never"
			}
		}

		sources := "all"
		if len(sched.Sources) > 0 {
			sources = strings.Join(sched.Sources, ",")
		}

		fmt.Fprintf(w, "%s\t%s\tkeep %d / %dd\t%s\t%s\n",
			name, sched.Cron, sched.Retention.MaxCount, sched.Retention.MaxDays, sources, next)
	}
	return w.Flush()
}
