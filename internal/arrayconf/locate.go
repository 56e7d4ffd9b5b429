package arrayconf

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// searchPaths are the fallback locations probed when no explicit array
// configuration path is given, in priority order.
var searchPaths = []string{
	"/usr/local/etc/snapraid.conf",
	"/etc/snapraid.conf",
}

// Locate resolves the array configuration path. The explicit override
// is probed first, then the standard locations in order; the first
// existing readable file wins. Nothing readable anywhere is a preflight
// failure.
func Locate(override string) (string, error) {
	candidates := make([]string, 0, len(searchPaths)+1)
	if override != "" {
		candidates = append(candidates, override)
	}
	candidates = append(candidates, searchPaths...)
	for _, candidate := range candidates {
		if err := checkReadable(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no readable array configuration found (looked for %s)", strings.Join(candidates, ", "))
}

func checkReadable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if err := unix.Access(path, unix.R_OK); err != nil {
		return fmt.Errorf("not readable: %w", err)
	}
	return nil
}
