package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeEngine()
	c.normalizeHealth()
	c.normalizeBackup()
	c.normalizeStandby()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Engine.ConfPath, err = expandPath(strings.TrimSpace(c.Engine.ConfPath)); err != nil {
		return fmt.Errorf("engine.conf_path: %w", err)
	}
	if strings.TrimSpace(c.Lock.Path) == "" {
		c.Lock.Path = filepath.Join(os.TempDir(), "snapward.lock")
	}
	if c.Lock.Path, err = expandPath(c.Lock.Path); err != nil {
		return fmt.Errorf("lock.path: %w", err)
	}
	if strings.TrimSpace(c.History.DBPath) == "" {
		c.History.DBPath = defaultHistoryDBPath()
	}
	if c.History.DBPath, err = expandPath(c.History.DBPath); err != nil {
		return fmt.Errorf("history.db_path: %w", err)
	}
	if c.Backup.WorkDir, err = expandPath(strings.TrimSpace(c.Backup.WorkDir)); err != nil {
		return fmt.Errorf("backup.work_dir: %w", err)
	}
	if strings.TrimSpace(c.Logging.Dir) == "" {
		c.Logging.Dir = defaultLogDir()
	}
	if c.Logging.Dir, err = expandPath(c.Logging.Dir); err != nil {
		return fmt.Errorf("logging.dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeEngine() {
	c.Engine.Binary = strings.TrimSpace(c.Engine.Binary)
	if c.Engine.Binary == "" {
		c.Engine.Binary = defaultEngineBinary
	}
}

func (c *Config) normalizeHealth() {
	c.Health.SmartctlBinary = strings.TrimSpace(c.Health.SmartctlBinary)
	if c.Health.SmartctlBinary == "" {
		c.Health.SmartctlBinary = defaultSmartctl
	}
}

func (c *Config) normalizeBackup() {
	c.Backup.Subdir = strings.Trim(strings.TrimSpace(c.Backup.Subdir), "/")
	if c.Backup.Subdir == "" {
		c.Backup.Subdir = defaultBackupSubdir
	}
	c.Backup.GetfaclBinary = strings.TrimSpace(c.Backup.GetfaclBinary)
	if c.Backup.GetfaclBinary == "" {
		c.Backup.GetfaclBinary = defaultGetfacl
	}
}

func (c *Config) normalizeStandby() {
	c.Standby.HdparmBinary = strings.TrimSpace(c.Standby.HdparmBinary)
	if c.Standby.HdparmBinary == "" {
		c.Standby.HdparmBinary = defaultHdparm
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
