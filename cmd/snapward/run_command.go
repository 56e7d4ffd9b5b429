package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"snapward/internal/history"
	"snapward/internal/logging"
	"snapward/internal/notifications"
	"snapward/internal/runner"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		confFlag     string
		ignoreHealth bool
		scrubPercent int
		scrubOlder   int
		skipDiff     bool
		skipScrub    bool
		standby      bool
		noNotify     bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one maintenance cycle: diff, permission backup, sync, scrub",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			opts := runner.Options{
				ConfOverride:       ctx.arrayConfOverride(confFlag),
				IgnoreHealth:       ignoreHealth || cfg.Health.Ignore,
				SkipDiff:           skipDiff,
				SkipScrub:          skipScrub || cfg.Scrub.Skip,
				ScrubPercent:       cfg.Scrub.Percent,
				ScrubOlderThanDays: cfg.Scrub.OlderThanDays,
				Standby:            standby || cfg.Standby.Enabled,
			}
			if cmd.Flags().Changed("scrub-percent") {
				opts.ScrubPercent = scrubPercent
			}
			if cmd.Flags().Changed("scrub-older-than") {
				opts.ScrubOlderThanDays = scrubOlder
			}

			runLog := logging.RunLogPath(cfg.Logging.Dir, time.Now())
			logger, err := logging.New(logging.Options{
				Level:       cfg.Logging.Level,
				Format:      cfg.Logging.Format,
				OutputPaths: logOutputs(runLog),
			})
			if err != nil {
				return err
			}
			logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays, logging.RetentionTarget{
				Dir:     cfg.Logging.Dir,
				Pattern: "snapward-*.log",
				Exclude: []string{runLog},
			})

			notifier := notifications.NewService(cfg)
			if noNotify {
				notifier = notifications.NewNoop()
			}
			ropts := []runner.Option{runner.WithNotifier(notifier)}
			if cfg.History.Enabled {
				store, err := history.Open(cfg.History.DBPath)
				if err != nil {
					logger.Warn("run history unavailable", logging.Error(err))
				} else {
					defer store.Close()
					ropts = append(ropts, runner.WithHistory(store))
				}
			}

			report, runErr := runner.New(cfg, opts, logger, ropts...).Execute(cmd.Context())
			printReport(cmd, report)
			if runErr == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Maintenance finished in %s\n",
					report.Duration().Round(time.Second))
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&confFlag, "conf", "", "Array configuration file (overrides the search order)")
	cmd.Flags().BoolVar(&ignoreHealth, "ignore-health", false, "Continue past failed SMART checks; unmounted drives stay fatal")
	cmd.Flags().IntVar(&scrubPercent, "scrub-percent", 10, "Portion of the array to scrub, 0-100 (0 skips the scrub)")
	cmd.Flags().IntVar(&scrubOlder, "scrub-older-than", 0, "Only scrub blocks older than this many days")
	cmd.Flags().BoolVar(&skipDiff, "skip-diff", false, "Bypass change detection and force backup and sync")
	cmd.Flags().BoolVar(&skipScrub, "skip-scrub", false, "Skip the scrub phase")
	cmd.Flags().BoolVar(&standby, "standby", false, "Spin data disks down after a successful run")
	cmd.Flags().BoolVar(&noNotify, "no-notify", false, "Suppress notifications for this run")

	return cmd
}

func logOutputs(runLog string) []string {
	paths := []string{"stdout"}
	if runLog != "" {
		paths = append(paths, runLog)
	}
	return paths
}

func printReport(cmd *cobra.Command, report *runner.Report) {
	if report == nil || len(report.Phases) == 0 {
		return
	}
	rows := make([][]string, 0, len(report.Phases))
	for _, phase := range report.Phases {
		rows = append(rows, []string{
			phase.Name,
			strings.ToUpper(string(phase.Status)),
			phaseDuration(phase),
			phase.Detail,
		})
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, renderTable(
		[]string{"Phase", "Status", "Duration", "Detail"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
	))
	if report.Bundle != nil {
		fmt.Fprintf(out, "Permission archive %s (%s) on %d drives\n",
			report.Bundle.Name,
			humanize.IBytes(uint64(report.Bundle.Size)),
			len(report.Bundle.Distributed))
	}
}

func phaseDuration(phase runner.Phase) string {
	if phase.Status == runner.StatusSkipped {
		return "-"
	}
	return phase.Duration.Round(time.Millisecond).String()
}
