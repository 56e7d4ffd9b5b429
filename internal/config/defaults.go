package config

import (
	"os"
	"path/filepath"
)

const (
	defaultEngineBinary   = "snapraid"
	defaultScrubPercent   = 10
	defaultSmartctl       = "smartctl"
	defaultHdparm         = "hdparm"
	defaultGetfacl        = "getfacl"
	defaultBackupSubdir   = "snapward"
	defaultBackupKeep     = 5
	defaultNotifyTimeout  = 10
	defaultLogFormat      = "console"
	defaultLogLevel       = "info"
	defaultLogRetention   = 60
	systemConfigPath      = "/etc/snapward/config.toml"
	rootLogDir            = "/var/log/snapward"
	rootHistoryDBPath     = "/var/lib/snapward/history.db"
	userStateSubdir       = ".local/state/snapward"
)

// Default returns the built-in configuration. Log and history locations
// depend on the effective privilege: root writes to the system paths,
// everyone else to per-user state under the home directory.
func Default() Config {
	return Config{
		Engine: Engine{
			Binary:    defaultEngineBinary,
			BusyCheck: true,
		},
		Scrub: Scrub{
			Percent: defaultScrubPercent,
		},
		Health: Health{
			SmartctlBinary: defaultSmartctl,
		},
		Backup: Backup{
			Enabled:       true,
			Subdir:        defaultBackupSubdir,
			Retention:     defaultBackupKeep,
			GetfaclBinary: defaultGetfacl,
		},
		Standby: Standby{
			HdparmBinary: defaultHdparm,
		},
		Lock: Lock{
			Path: filepath.Join(os.TempDir(), "snapward.lock"),
		},
		History: History{
			Enabled: true,
			DBPath:  defaultHistoryDBPath(),
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			Dir:           defaultLogDir(),
			RetentionDays: defaultLogRetention,
		},
	}
}

func defaultLogDir() string {
	if os.Geteuid() == 0 {
		return rootLogDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, userStateSubdir, "logs")
}

func defaultHistoryDBPath() string {
	if os.Geteuid() == 0 {
		return rootHistoryDBPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, userStateSubdir, "history.db")
}
