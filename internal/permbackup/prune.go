package permbackup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// bundlePattern matches distributed archive names inside a backup
// directory.
const bundlePattern = "acl-*.tar.gz"

// PruneDir removes the oldest archives in dir beyond keep, relying on
// the name stamp for age ordering. A missing directory is a no-op.
// The removed names are returned oldest first. A keep below one keeps
// everything; deleting all history needs an explicit decision, not a
// config typo.
func PruneDir(dir string, keep int) ([]string, error) {
	if keep < 1 {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup directory: %w", err)
	}

	var bundles []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if ok, _ := filepath.Match(bundlePattern, entry.Name()); ok {
			bundles = append(bundles, entry.Name())
		}
	}
	if len(bundles) <= keep {
		return nil, nil
	}
	sort.Strings(bundles)

	excess := bundles[:len(bundles)-keep]
	removed := make([]string, 0, len(excess))
	var firstErr error
	for _, name := range excess {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		removed = append(removed, name)
	}
	return removed, firstErr
}
