// Package config implements TOML configuration loading, validation, and
// default resolution for the broker.
package config

// Config is the top-level configuration structure, decoded from a TOML file
// and layered under environment and CLI overrides (see env.go, ResolveConfig).
type Config struct {
	Transport  TransportConfig  `toml:"transport"`
	Staging    StagingConfig    `toml:"staging"`
	Downstream DownstreamConfig `toml:"downstream"`
	Catalog    CatalogConfig    `toml:"catalog"`
	Logging    LoggingConfig    `toml:"logging"`
}

// TransportConfig controls the bind address and wire-protocol limits for the
// connection multiplexer.
type TransportConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	MaxFrameSize int    `toml:"max_frame_size"`
}

// StagingConfig controls where the disk stager and download engine place
// in-flight and finalized files.
type StagingConfig struct {
	Dir             string `toml:"dir"`
	DownloadsDir    string `toml:"downloads_dir"`
	SessionStateDir string `toml:"session_state_dir"`
}

// DownstreamConfig describes the downstream HTTP store the Remote Hand-off
// posts finalized files to. Either Token (static bearer) or the OAuth2
// client-credentials fields may be set; client-credentials takes precedence
// when ClientID is non-empty.
type DownstreamConfig struct {
	URL            string `toml:"url"`
	Token          string `toml:"token"`
	ClientID       string `toml:"client_id"`
	ClientSecret   string `toml:"client_secret"`
	TokenURL       string `toml:"token_url"`
	Scope          string `toml:"scope"`
	ConnectTimeout string `toml:"connect_timeout"`
}

// CatalogConfig selects and configures the external metadata catalog
// collaborator. An empty DBPath uses the no-op catalog.
type CatalogConfig struct {
	DBPath string `toml:"db_path"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}
