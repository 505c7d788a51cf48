package config

// Default values for configuration options, used both as the starting point
// for TOML decoding (so unset fields retain defaults) and as the fallback
// when no config file is present at all.
const (
	defaultHost            = "0.0.0.0"
	defaultPort            = 8765
	defaultMaxFrameSize    = 8 * 1024 * 1024 // 8 MiB default chunk ceiling
	defaultStagingDir      = "./data/staging"
	defaultDownloadsDir    = "./data/downloads"
	defaultSessionStateDir = "./data/sessions"
	defaultLogLevel        = "info"
	defaultLogFormat       = "text"
	defaultConnectTimeout  = "10s"
)

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Transport: TransportConfig{
			Host:         defaultHost,
			Port:         defaultPort,
			MaxFrameSize: defaultMaxFrameSize,
		},
		Staging: StagingConfig{
			Dir:             defaultStagingDir,
			DownloadsDir:    defaultDownloadsDir,
			SessionStateDir: defaultSessionStateDir,
		},
		Downstream: DownstreamConfig{
			ConnectTimeout: defaultConnectTimeout,
		},
		Logging: LoggingConfig{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}
