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
	c.normalizeService()
	c.normalizeLink()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.StateDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.SocketPath) == "" {
		c.Paths.SocketPath = filepath.Join(c.Paths.StateDir, defaultSocketName)
	}
	if c.Paths.SocketPath, err = expandPath(c.Paths.SocketPath); err != nil {
		return fmt.Errorf("paths.socket_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeService() {
	c.Service.URL = strings.TrimSpace(c.Service.URL)
	if c.Service.URL == "" {
		if value, ok := os.LookupEnv(ServiceURLEnv); ok {
			c.Service.URL = strings.TrimSpace(value)
		}
	}
	c.Service.URL = strings.TrimRight(c.Service.URL, "/")
	if c.Service.RequestTimeoutSeconds == 0 {
		c.Service.RequestTimeoutSeconds = defaultRequestTimeoutSeconds
	}
	c.Service.UserAgent = strings.TrimSpace(c.Service.UserAgent)
	if c.Service.UserAgent == "" {
		c.Service.UserAgent = defaultUserAgent
	}
}

func (c *Config) normalizeLink() {
	c.Link.DeviceName = strings.TrimSpace(c.Link.DeviceName)
	if c.Link.DeviceName == "" {
		c.Link.DeviceName = defaultDeviceName()
	}
	if c.Link.TimeoutSeconds == 0 {
		c.Link.TimeoutSeconds = defaultLinkTimeoutSeconds
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func defaultDeviceName() string {
	host, err := os.Hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		return defaultDeviceNamePrefix
	}
	return defaultDeviceNamePrefix + " on " + host
}
