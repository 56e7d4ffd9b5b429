package drives

import (
	"context"

	"snapward/internal/arrayconf"
	"snapward/internal/logging"
)

// Standby asks each backing disk to spin down once maintenance is
// over. Strictly best effort: a disk that refuses stays spinning and
// the run still succeeds.
func (c *Checker) Standby(ctx context.Context, list []arrayconf.Drive) {
	parts, err := c.partitions(false)
	if err != nil {
		c.logger.Warn("standby skipped, cannot list mounted filesystems", logging.Error(err))
		return
	}
	mounts := make(map[string]string, len(parts))
	for _, part := range parts {
		mounts[cleanPath(part.Mountpoint)] = part.Device
	}

	requested := make(map[string]struct{})
	for _, drive := range list {
		device, mounted := mounts[cleanPath(drive.Path)]
		if !mounted {
			continue
		}
		device = resolveDevice(device)
		if _, done := requested[device]; done {
			continue
		}
		requested[device] = struct{}{}

		result, err := c.exec.Run(ctx, c.hdparm, []string{"-y", device}, nil)
		if err != nil {
			c.logger.Warn("standby request failed",
				logging.String("device", device),
				logging.Error(err))
			continue
		}
		if result.ExitCode != 0 {
			c.logger.Warn("standby request refused",
				logging.String("device", device),
				logging.Int("exit", result.ExitCode))
			continue
		}
		c.logger.Info("drive standby requested", logging.String("device", device))
	}
}
