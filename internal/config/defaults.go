package config

const (
	defaultConfigPath            = "~/.config/courier/config.toml"
	defaultDataDir               = "~/.config/courier"
	defaultStateDir              = "~/.local/share/courier"
	defaultLogDir                = "~/.local/share/courier/logs"
	defaultSocketName            = "courier.sock"
	defaultRequestTimeoutSeconds = 15
	defaultUserAgent             = "courier"
	defaultLinkTimeoutSeconds    = 120
	defaultDeviceNamePrefix      = "courier"
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultLogRetentionDays      = 30

	// ServiceURLEnv overrides service.url when the config leaves it empty.
	ServiceURLEnv = "COURIER_SERVICE_URL"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:  defaultDataDir,
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Service: Service{
			RequestTimeoutSeconds: defaultRequestTimeoutSeconds,
			UserAgent:             defaultUserAgent,
		},
		Link: Link{
			TimeoutSeconds: defaultLinkTimeoutSeconds,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
