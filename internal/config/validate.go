package config

import (
	"fmt"
	"time"
)

// Validate checks a Config for internally-consistent, usable values: one
// function per section, aggregated here, fatal on the first problem found.
func Validate(cfg *Config) error {
	if err := validateTransport(&cfg.Transport); err != nil {
		return err
	}

	if err := validateStaging(&cfg.Staging); err != nil {
		return err
	}

	if err := validateDownstream(&cfg.Downstream); err != nil {
		return err
	}

	return nil
}

func validateTransport(t *TransportConfig) error {
	if t.Port <= 0 || t.Port > 65535 {
		return fmt.Errorf("transport.port must be between 1 and 65535, got %d", t.Port)
	}

	if t.MaxFrameSize <= 0 {
		return fmt.Errorf("transport.max_frame_size must be positive, got %d", t.MaxFrameSize)
	}

	return nil
}

func validateStaging(s *StagingConfig) error {
	if s.Dir == "" {
		return fmt.Errorf("staging.dir must not be empty")
	}

	if s.DownloadsDir == "" {
		return fmt.Errorf("staging.downloads_dir must not be empty")
	}

	return nil
}

func validateDownstream(d *DownstreamConfig) error {
	if d.URL == "" {
		// Allowed: a broker can run upload-less (download-only) or in tests
		// against a stub; the hand-off simply fails per-session if invoked.
		return nil
	}

	if d.Token == "" && d.ClientID == "" {
		return fmt.Errorf("downstream.url is set but neither downstream.token nor downstream.client_id is configured")
	}

	if d.ConnectTimeout != "" {
		if _, err := time.ParseDuration(d.ConnectTimeout); err != nil {
			return fmt.Errorf("downstream.connect_timeout %q: %w", d.ConnectTimeout, err)
		}
	}

	return nil
}
