package permbackup_test

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"snapward/internal/permbackup"
)

func seedBundles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("bundle"), 0o644); err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
	}
}

func remaining(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

func TestPruneDirRemovesOldestBeyondKeep(t *testing.T) {
	dir := t.TempDir()
	seedBundles(t, dir,
		"acl-host-20250101T000000Z.tar.gz",
		"acl-host-20250201T000000Z.tar.gz",
		"acl-host-20250301T000000Z.tar.gz",
		"acl-host-20250401T000000Z.tar.gz",
		"notes.txt",
	)

	removed, err := permbackup.PruneDir(dir, 2)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	wantRemoved := []string{
		"acl-host-20250101T000000Z.tar.gz",
		"acl-host-20250201T000000Z.tar.gz",
	}
	if !reflect.DeepEqual(removed, wantRemoved) {
		t.Fatalf("removed = %v, want %v", removed, wantRemoved)
	}

	wantLeft := []string{
		"acl-host-20250301T000000Z.tar.gz",
		"acl-host-20250401T000000Z.tar.gz",
		"notes.txt",
	}
	if got := remaining(t, dir); !reflect.DeepEqual(got, wantLeft) {
		t.Fatalf("remaining = %v, want %v", got, wantLeft)
	}
}

func TestPruneDirIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	seedBundles(t, dir,
		"acl-host-20250101T000000Z.tar.gz",
		"acl-host-20250201T000000Z.tar.gz",
		"acl-host-20250301T000000Z.tar.gz",
	)

	if _, err := permbackup.PruneDir(dir, 1); err != nil {
		t.Fatalf("first prune: %v", err)
	}
	removed, err := permbackup.PruneDir(dir, 1)
	if err != nil {
		t.Fatalf("second prune: %v", err)
	}
	if len(removed) != 0 {
		t.Fatalf("second prune removed %v, want nothing", removed)
	}
	if got := remaining(t, dir); len(got) != 1 {
		t.Fatalf("remaining = %v, want the newest bundle only", got)
	}
}

func TestPruneDirNoOpCases(t *testing.T) {
	dir := t.TempDir()
	seedBundles(t, dir, "acl-host-20250101T000000Z.tar.gz")

	if removed, err := permbackup.PruneDir(dir, 5); err != nil || len(removed) != 0 {
		t.Fatalf("prune below keep: removed=%v err=%v", removed, err)
	}
	if removed, err := permbackup.PruneDir(dir, 0); err != nil || len(removed) != 0 {
		t.Fatalf("prune with zero keep: removed=%v err=%v", removed, err)
	}
	if removed, err := permbackup.PruneDir(filepath.Join(dir, "absent"), 1); err != nil || len(removed) != 0 {
		t.Fatalf("prune missing dir: removed=%v err=%v", removed, err)
	}
}
