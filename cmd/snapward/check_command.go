package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"snapward/internal/arrayconf"
	"snapward/internal/cmdexec"
	"snapward/internal/drives"
	"snapward/internal/engine"
	"snapward/internal/exitcode"
	"snapward/internal/logging"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	var confFlag string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Inspect array drives and tooling without running maintenance",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			confPath, err := arrayconf.Locate(ctx.arrayConfOverride(confFlag))
			if err != nil {
				fmt.Fprintln(out, renderStatusLine("Array config", statusError, err.Error(), colorize))
				return exitcode.Wrap(exitcode.ErrPreflight, "check", "locate array config", "", err)
			}
			arr, err := arrayconf.Load(confPath)
			if err != nil {
				fmt.Fprintln(out, renderStatusLine("Array config", statusError, err.Error(), colorize))
				return exitcode.Wrap(exitcode.ErrPreflight, "check", "read array config", confPath, err)
			}
			fmt.Fprintln(out, renderStatusLine("Array config", statusOK, confPath, colorize))

			// The engine and tool probes report everything before the
			// first failure decides the exit code.
			var firstErr error
			keep := func(err error) {
				if firstErr == nil && err != nil {
					firstErr = err
				}
			}

			eng, err := engine.New(cfg.Engine.Binary, confPath, logging.NewNop(), engine.WithBusyCheck(false))
			if err != nil {
				return exitcode.Wrap(exitcode.ErrPreflight, "check", "engine setup", "", err)
			}
			if binPath, err := eng.EnsureAvailable(); err != nil {
				fmt.Fprintln(out, renderStatusLine("Engine", statusError, cfg.Engine.Binary+" not found on PATH", colorize))
				keep(err)
			} else {
				fmt.Fprintln(out, renderStatusLine("Engine", statusOK, binPath, colorize))
			}

			for _, tool := range []string{cfg.Health.SmartctlBinary, cfg.Backup.GetfaclBinary, cfg.Standby.HdparmBinary} {
				if path, err := cmdexec.LookPath(tool); err != nil {
					fmt.Fprintln(out, renderStatusLine(tool, statusWarn, "not found on PATH", colorize))
				} else {
					fmt.Fprintln(out, renderStatusLine(tool, statusOK, path, colorize))
				}
			}

			checker := drives.New(cfg.Health.SmartctlBinary, cfg.Standby.HdparmBinary, logging.NewNop())
			statuses, err := checker.Inspect(cmd.Context(), arr.MountPoints())
			if err != nil {
				return exitcode.Wrap(exitcode.ErrPreflight, "check", "mount table", "cannot inspect drives", err)
			}

			rows := make([][]string, 0, len(statuses))
			var unmounted, unhealthy int
			for _, status := range statuses {
				rows = append(rows, []string{
					status.Drive.Name,
					status.Drive.Path,
					yesNo(status.Mounted),
					status.Device,
					driveVerdict(status),
					status.Detail,
				})
				switch {
				case !status.Mounted:
					unmounted++
				case !status.Healthy:
					unhealthy++
				}
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Drive", "Path", "Mounted", "Device", "Health", "Detail"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
			))

			if unmounted > 0 {
				keep(exitcode.Wrap(exitcode.ErrPreflight, "check", "mount check",
					fmt.Sprintf("%d drives not mounted", unmounted), nil))
			}
			if unhealthy > 0 {
				keep(exitcode.Wrap(exitcode.ErrHealth, "check", "smart check",
					fmt.Sprintf("%d disks failing", unhealthy), nil))
			}
			if firstErr == nil {
				fmt.Fprintln(out, renderStatusLine("Array", statusOK, fmt.Sprintf("%d drives ready", len(statuses)), colorize))
			}
			return firstErr
		},
	}

	cmd.Flags().StringVar(&confFlag, "conf", "", "Array configuration file (overrides the search order)")
	return cmd
}

func driveVerdict(status drives.Status) string {
	switch {
	case !status.Mounted:
		return "-"
	case status.Healthy:
		return "ok"
	default:
		return "failing"
	}
}
