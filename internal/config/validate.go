package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateService(); err != nil {
		return err
	}
	if err := c.validateLink(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.DataDir == "" {
		return errors.New("paths.data_dir must be set")
	}
	if c.Paths.StateDir == "" {
		return errors.New("paths.state_dir must be set")
	}
	if c.Paths.SocketPath == "" {
		return errors.New("paths.socket_path must be set")
	}
	// sockaddr_un limits sun_path to 108 bytes on linux
	if len(c.Paths.SocketPath) >= 108 {
		return fmt.Errorf("paths.socket_path %q is too long for a unix socket", c.Paths.SocketPath)
	}
	return nil
}

func (c *Config) validateService() error {
	if c.Service.URL == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("service.url is required. Set %s env var or edit %s (create with 'courier config init')", ServiceURLEnv, defaultPath)
	}
	parsed, err := url.Parse(c.Service.URL)
	if err != nil {
		return fmt.Errorf("service.url: %w", err)
	}
	switch parsed.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("service.url must use http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("service.url must include a host")
	}
	if c.Service.RequestTimeoutSeconds < 0 {
		return errors.New("service.request_timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateLink() error {
	if c.Link.TimeoutSeconds < 0 {
		return errors.New("link.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
}
