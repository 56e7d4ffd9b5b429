package drives

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Partition-name shapes that embed a parent disk: sda1 -> sda,
// nvme0n1p2 -> nvme0n1, mmcblk0p1 -> mmcblk0. Checked in order; the
// generic letters+digits rule must come last.
var partitionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(nvme\d+n\d+)p\d+$`),
	regexp.MustCompile(`^(mmcblk\d+)p\d+$`),
	regexp.MustCompile(`^([a-z]+)\d+$`),
}

// resolveDevice maps a mount-table device entry to the whole-disk
// device smartctl should interrogate. Symlinked entries (LABEL, UUID)
// are followed first; names that carry no partition suffix pass
// through unchanged.
func resolveDevice(device string) string {
	device = strings.TrimSpace(device)
	if device == "" {
		return device
	}
	if strings.HasPrefix(device, "/dev/") {
		if resolved, err := filepath.EvalSymlinks(device); err == nil {
			device = resolved
		}
	}
	dir, name := filepath.Dir(device), filepath.Base(device)
	for _, pattern := range partitionPatterns {
		if match := pattern.FindStringSubmatch(name); match != nil {
			return filepath.Join(dir, match[1])
		}
	}
	return device
}
