package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Engine configures the parity engine invocation.
type Engine struct {
	Binary    string `toml:"binary"`
	ConfPath  string `toml:"conf_path"`
	BusyCheck bool   `toml:"busy_check"`
}

// Scrub configures the post-sync scrub pass.
type Scrub struct {
	Percent       int  `toml:"percent"`
	OlderThanDays int  `toml:"older_than_days"`
	Skip          bool `toml:"skip"`
}

// Health configures drive health validation.
type Health struct {
	SmartctlBinary string `toml:"smartctl_binary"`
	Ignore         bool   `toml:"ignore"`
}

// Backup configures the permission archive step.
type Backup struct {
	Enabled       bool   `toml:"enabled"`
	Subdir        string `toml:"subdir"`
	Retention     int    `toml:"retention"`
	GetfaclBinary string `toml:"getfacl_binary"`
	WorkDir       string `toml:"work_dir"`
}

// Standby configures spinning drives down after a run.
type Standby struct {
	Enabled      bool   `toml:"enabled"`
	HdparmBinary string `toml:"hdparm_binary"`
}

// Lock configures the single-instance lock file.
type Lock struct {
	Path string `toml:"path"`
}

// History configures the run history database.
type History struct {
	Enabled bool   `toml:"enabled"`
	DBPath  string `toml:"db_path"`
}

// Notifications contains push notification settings. An empty topic
// disables notifications entirely.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging contains log output configuration.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	Dir           string `toml:"dir"`
	RetentionDays int    `toml:"retention_days"`
}

// Config is the root configuration for snapward.
type Config struct {
	Engine        Engine        `toml:"engine"`
	Scrub         Scrub         `toml:"scrub"`
	Health        Health        `toml:"health"`
	Backup        Backup        `toml:"backup"`
	Standby       Standby       `toml:"standby"`
	Lock          Lock          `toml:"lock"`
	History       History       `toml:"history"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the per-user configuration location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/snapward/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. A missing file yields
// the defaults with exists=false.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(systemConfigPath); err == nil && !info.IsDir() {
		return systemConfigPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories snapward writes to. The log
// directory is created on a best-effort basis so a run can proceed when the
// log destination is unavailable.
func (c *Config) EnsureDirectories() error {
	if strings.TrimSpace(c.Logging.Dir) != "" {
		_ = os.MkdirAll(c.Logging.Dir, 0o755)
	}
	if c.History.Enabled && strings.TrimSpace(c.History.DBPath) != "" {
		if err := os.MkdirAll(filepath.Dir(c.History.DBPath), 0o755); err != nil {
			return fmt.Errorf("create history directory %q: %w", filepath.Dir(c.History.DBPath), err)
		}
	}
	if c.Backup.Enabled && strings.TrimSpace(c.Backup.WorkDir) != "" {
		if err := os.MkdirAll(c.Backup.WorkDir, 0o755); err != nil {
			return fmt.Errorf("create backup work directory %q: %w", c.Backup.WorkDir, err)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the config path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
