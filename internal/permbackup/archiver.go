package permbackup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"snapward/internal/arrayconf"
	"snapward/internal/cmdexec"
	"snapward/internal/exitcode"
	"snapward/internal/fileutil"
	"snapward/internal/logging"
)

// getfacl flags: numeric IDs survive user renames, one filesystem stops
// a dump from wandering into another array drive through a bind mount.
var dumpArgs = []string{"--recursive", "--absolute-names", "--numeric", "--one-file-system"}

// Bundle describes one produced archive after distribution.
type Bundle struct {
	Name        string
	Size        int64
	CreatedAt   time.Time
	Distributed []string
}

// Archiver builds and distributes permission archives. It reports
// failures to the caller and never terminates the process itself.
type Archiver struct {
	getfacl   string
	subdir    string
	retention int
	workBase  string
	exec      cmdexec.Executor
	hostname  func() (string, error)
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures the archiver.
type Option func(*Archiver)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec cmdexec.Executor) Option {
	return func(a *Archiver) {
		if exec != nil {
			a.exec = exec
		}
	}
}

// WithWorkDir places scratch directories under base instead of the
// system temp directory.
func WithWorkDir(base string) Option {
	return func(a *Archiver) {
		a.workBase = strings.TrimSpace(base)
	}
}

// WithHostname injects the hostname source (primarily for tests).
func WithHostname(fn func() (string, error)) Option {
	return func(a *Archiver) {
		if fn != nil {
			a.hostname = fn
		}
	}
}

// WithClock injects the time source (primarily for tests).
func WithClock(fn func() time.Time) Option {
	return func(a *Archiver) {
		if fn != nil {
			a.now = fn
		}
	}
}

// New constructs an archiver. Empty getfacl and subdir fall back to
// "getfacl" and "snapward"; retention below one falls back to 5.
func New(getfacl, subdir string, retention int, logger *slog.Logger, opts ...Option) *Archiver {
	archiver := &Archiver{
		getfacl:   strings.TrimSpace(getfacl),
		subdir:    strings.TrimSpace(subdir),
		retention: retention,
		exec:      cmdexec.New(),
		hostname:  os.Hostname,
		now:       time.Now,
		logger:    logging.WithComponent(logger, "backup"),
	}
	if archiver.getfacl == "" {
		archiver.getfacl = "getfacl"
	}
	if archiver.subdir == "" {
		archiver.subdir = "snapward"
	}
	if archiver.retention < 1 {
		archiver.retention = 5
	}
	for _, opt := range opts {
		opt(archiver)
	}
	return archiver
}

// Run dumps ACLs for every drive, bundles the dumps, copies the bundle
// onto each drive, and prunes old bundles. Dump and bundling failures
// are fatal to the backup; a distribution failure is fatal only when
// no drive received a copy. Prune failures are warnings.
func (a *Archiver) Run(ctx context.Context, drives []arrayconf.Drive) (Bundle, error) {
	if len(drives) == 0 {
		return Bundle{}, exitcode.Wrap(exitcode.ErrPermBackup, "permission backup", "", "no data drives to archive", nil)
	}

	workDir, err := os.MkdirTemp(a.workBase, "snapward-acl-")
	if err != nil {
		return Bundle{}, exitcode.Wrap(exitcode.ErrPermBackup, "permission backup", "workspace", "create work directory", err)
	}
	defer os.RemoveAll(workDir)

	createdAt := a.now().UTC()

	dumpFiles, err := a.dumpACLs(ctx, workDir, drives)
	if err != nil {
		return Bundle{}, err
	}

	manifestPath, err := a.writeManifest(workDir, createdAt, drives)
	if err != nil {
		return Bundle{}, err
	}

	bundleName, bundlePath, err := a.writeBundle(workDir, createdAt, append([]string{manifestPath}, dumpFiles...))
	if err != nil {
		return Bundle{}, err
	}
	info, err := os.Stat(bundlePath)
	if err != nil {
		return Bundle{}, exitcode.Wrap(exitcode.ErrPermBackup, "permission backup", "bundle", "stat bundle", err)
	}

	bundle := Bundle{Name: bundleName, Size: info.Size(), CreatedAt: createdAt}
	bundle.Distributed = a.distribute(bundlePath, bundleName, drives)
	if len(bundle.Distributed) == 0 {
		return bundle, exitcode.Wrap(exitcode.ErrPermBackup, "permission backup", "distribute",
			"no drive accepted the archive", nil)
	}

	a.prune(drives)

	a.logger.Info("permission archive distributed",
		logging.String("bundle", bundleName),
		logging.Int64("bytes", bundle.Size),
		logging.Int("drives", len(bundle.Distributed)))
	return bundle, nil
}

func (a *Archiver) dumpACLs(ctx context.Context, workDir string, drives []arrayconf.Drive) ([]string, error) {
	paths := make([]string, 0, len(drives))
	for _, drive := range drives {
		args := append(append([]string{}, dumpArgs...), drive.Path)
		result, err := a.exec.Run(ctx, a.getfacl, args, nil)
		if err != nil {
			return nil, exitcode.Wrap(exitcode.ErrPermBackup, "permission backup", "dump "+drive.Name, "getfacl failed", err)
		}
		if result.ExitCode != 0 {
			return nil, exitcode.Wrap(exitcode.ErrPermBackup, "permission backup", "dump "+drive.Name,
				fmt.Sprintf("getfacl exited with %d: %s", result.ExitCode, firstLine(result.Stderr)), nil)
		}

		dumpPath := filepath.Join(workDir, sanitizeName(drive.Name)+".acl")
		if err := os.WriteFile(dumpPath, []byte(result.Stdout), 0o600); err != nil {
			return nil, exitcode.Wrap(exitcode.ErrPermBackup, "permission backup", "dump "+drive.Name, "write dump", err)
		}
		paths = append(paths, dumpPath)

		a.logger.Debug("acl dump captured",
			logging.String("drive", drive.Name),
			logging.Int("bytes", len(result.Stdout)))
	}
	return paths, nil
}

func (a *Archiver) writeManifest(workDir string, createdAt time.Time, drives []arrayconf.Drive) (string, error) {
	manifest := Manifest{CreatedAt: createdAt.Truncate(time.Second), Drives: make([]DriveEntry, 0, len(drives))}
	host, err := a.hostname()
	if err != nil {
		host = "unknown"
	}
	manifest.Hostname = host
	for _, drive := range drives {
		manifest.Drives = append(manifest.Drives, DriveEntry{Name: drive.Name, Path: drive.Path})
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", exitcode.Wrap(exitcode.ErrPermBackup, "permission backup", "manifest", "encode manifest", err)
	}
	path := filepath.Join(workDir, ManifestFileName)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", exitcode.Wrap(exitcode.ErrPermBackup, "permission backup", "manifest", "write manifest", err)
	}
	return path, nil
}

func (a *Archiver) writeBundle(workDir string, createdAt time.Time, members []string) (string, string, error) {
	host, err := a.hostname()
	if err != nil {
		host = "unknown"
	}
	name := BundleName(host, createdAt)
	path := filepath.Join(workDir, name)

	if err := buildTarGz(path, createdAt, members); err != nil {
		return "", "", exitcode.Wrap(exitcode.ErrPermBackup, "permission backup", "bundle", "build archive", err)
	}
	return name, path, nil
}

func (a *Archiver) distribute(bundlePath, bundleName string, drives []arrayconf.Drive) []string {
	var delivered []string
	for _, drive := range drives {
		targetDir := filepath.Join(drive.Path, a.subdir)
		if err := os.MkdirAll(targetDir, 0o755); err != nil {
			a.logger.Warn("archive not delivered",
				logging.String("drive", drive.Name),
				logging.Error(err))
			continue
		}
		target := filepath.Join(targetDir, bundleName)
		if err := fileutil.CopyFileVerified(bundlePath, target); err != nil {
			a.logger.Warn("archive not delivered",
				logging.String("drive", drive.Name),
				logging.Error(err))
			continue
		}
		delivered = append(delivered, target)
	}
	return delivered
}

func (a *Archiver) prune(drives []arrayconf.Drive) {
	for _, drive := range drives {
		dir := filepath.Join(drive.Path, a.subdir)
		removed, err := PruneDir(dir, a.retention)
		if err != nil {
			a.logger.Warn("archive rotation incomplete",
				logging.String("drive", drive.Name),
				logging.Error(err))
			continue
		}
		for _, name := range removed {
			a.logger.Debug("old archive removed",
				logging.String("drive", drive.Name),
				logging.String("bundle", name))
		}
	}
}

// BundleName builds the archive filename. The UTC second-resolution
// stamp makes lexicographic order match chronological order.
func BundleName(host string, createdAt time.Time) string {
	return fmt.Sprintf("acl-%s-%s.tar.gz", sanitizeName(host), createdAt.UTC().Format("20060102T150405Z"))
}

func buildTarGz(path string, modTime time.Time, members []string) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	for _, member := range members {
		if err := addTarMember(tw, member, modTime); err != nil {
			tw.Close()
			gz.Close()
			out.Close()
			os.Remove(path)
			return err
		}
	}

	if err := tw.Close(); err != nil {
		gz.Close()
		out.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func addTarMember(tw *tar.Writer, path string, modTime time.Time) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	header := &tar.Header{
		Name:    filepath.Base(path),
		Mode:    0o644,
		Size:    info.Size(),
		ModTime: modTime,
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, file)
	return err
}

// sanitizeName maps every rune outside [A-Za-z0-9._-] to an
// underscore. Distinct names can collide after sanitizing; the archive
// manifest keeps the originals.
func sanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
