package engine

import (
	"regexp"
	"strconv"
	"strings"
)

// Classification describes what a diff invocation concluded.
type Classification string

const (
	ClassNoChange Classification = "no-change"
	ClassChanges  Classification = "changes"
	ClassError    Classification = "error"
)

// ChangeKind is one counter in the engine's diff summary.
type ChangeKind string

const (
	KindAdded    ChangeKind = "added"
	KindRemoved  ChangeKind = "removed"
	KindUpdated  ChangeKind = "updated"
	KindMoved    ChangeKind = "moved"
	KindCopied   ChangeKind = "copied"
	KindRestored ChangeKind = "restored"
	KindEqual    ChangeKind = "equal"
)

// mutatingKinds are the counters that require a sync when nonzero.
var mutatingKinds = []ChangeKind{KindAdded, KindRemoved, KindUpdated, KindMoved, KindCopied, KindRestored}

var allKinds = []ChangeKind{KindAdded, KindRemoved, KindUpdated, KindMoved, KindCopied, KindRestored, KindEqual}

// DiffResult is the interpreted outcome of one diff invocation. Counts
// is populated only for the changes classification.
type DiffResult struct {
	Classification Classification
	Counts         map[ChangeKind]int
	Result         Result
}

// Changed reports whether the array needs a sync: the diff must have
// classified as changes and at least one mutating counter must be
// nonzero. A diff that found only equal entries does not count.
func (d DiffResult) Changed() bool {
	if d.Classification != ClassChanges {
		return false
	}
	for _, kind := range mutatingKinds {
		if d.Counts[kind] > 0 {
			return true
		}
	}
	return false
}

// Count returns one counter, zero when absent.
func (d DiffResult) Count(kind ChangeKind) int {
	return d.Counts[kind]
}

// Summary renders the nonzero counters in a stable order for logs and
// run reports.
func (d DiffResult) Summary() string {
	if d.Classification == ClassNoChange {
		return "no changes"
	}
	parts := make([]string, 0, len(allKinds))
	for _, kind := range allKinds {
		if count := d.Counts[kind]; count > 0 {
			parts = append(parts, strconv.Itoa(count)+" "+string(kind))
		}
	}
	if len(parts) == 0 {
		return "no entries"
	}
	return strings.Join(parts, ", ")
}

var diffCountLine = regexp.MustCompile(`^\s*(\d+)\s+(\w+)$`)

// parseDiffCounts extracts the summary counters from diff stdout.
// Lines that do not look like a counter, and counters the engine may
// grow in the future, are ignored.
func parseDiffCounts(stdout string) map[ChangeKind]int {
	known := map[string]ChangeKind{
		string(KindAdded):    KindAdded,
		string(KindRemoved):  KindRemoved,
		string(KindUpdated):  KindUpdated,
		string(KindMoved):    KindMoved,
		string(KindCopied):   KindCopied,
		string(KindRestored): KindRestored,
		string(KindEqual):    KindEqual,
	}
	counts := make(map[ChangeKind]int, len(known))
	for _, line := range strings.Split(stdout, "\n") {
		match := diffCountLine.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		kind, ok := known[strings.ToLower(match[2])]
		if !ok {
			continue
		}
		value, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		counts[kind] = value
	}
	return counts
}
