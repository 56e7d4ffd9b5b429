package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateScrub(); err != nil {
		return err
	}
	if err := c.validateBackup(); err != nil {
		return err
	}
	if err := c.validateHistory(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateScrub() error {
	if c.Scrub.Percent < 0 || c.Scrub.Percent > 100 {
		return errors.New("scrub.percent must be between 0 and 100")
	}
	if c.Scrub.OlderThanDays < 0 {
		return errors.New("scrub.older_than_days must be >= 0")
	}
	return nil
}

func (c *Config) validateBackup() error {
	if c.Backup.Enabled && c.Backup.Retention < 1 {
		return errors.New("backup.retention must be >= 1 when backup.enabled is true")
	}
	return nil
}

func (c *Config) validateHistory() error {
	if c.History.Enabled && c.History.DBPath == "" {
		return errors.New("history.db_path must be set when history.enabled is true")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.NtfyTopic == "" {
		return nil
	}
	return ensurePositiveMap(map[string]int{
		"notifications.request_timeout": c.Notifications.RequestTimeout,
	})
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
