package config

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
)

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w, powering the "config show" CLI command.
func RenderEffective(cfg *Config, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("[transport]\n")
	ew.printf("  host            = %q\n", cfg.Transport.Host)
	ew.printf("  port            = %d\n", cfg.Transport.Port)
	ew.printf("  max_frame_size  = %d (%s)\n", cfg.Transport.MaxFrameSize, humanize.IBytes(uint64(cfg.Transport.MaxFrameSize)))

	ew.printf("[staging]\n")
	ew.printf("  dir             = %q\n", cfg.Staging.Dir)
	ew.printf("  downloads_dir   = %q\n", cfg.Staging.DownloadsDir)
	ew.printf("  session_state_dir = %q\n", cfg.Staging.SessionStateDir)

	ew.printf("[downstream]\n")
	ew.printf("  url             = %q\n", cfg.Downstream.URL)

	if cfg.Downstream.ClientID != "" {
		ew.printf("  client_id       = %q\n", cfg.Downstream.ClientID)
	} else {
		ew.printf("  token_set       = %t\n", cfg.Downstream.Token != "")
	}

	ew.printf("[catalog]\n")
	ew.printf("  db_path         = %q\n", cfg.Catalog.DBPath)

	ew.printf("[logging]\n")
	ew.printf("  level           = %q\n", cfg.Logging.Level)
	ew.printf("  format          = %q\n", cfg.Logging.Format)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error, so
// callers can chain printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
