package broker

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/filebroker/broker/internal/catalog"
)

// Config carries the subset of the resolved application configuration the
// broker core needs. It depends only on plain values, never on the config
// package's TOML tags, so it stays decoupled from how those values were
// sourced.
//
// Either DownstreamToken (a static bearer credential) or the OAuth2
// client-credentials fields may be set for authenticating the hand-off;
// client credentials take precedence when ClientID is non-empty.
type Config struct {
	StagingDir      string
	DownloadsDir    string
	DownstreamURL   string
	DownstreamToken string
	ConnectTimeout  time.Duration

	ClientID     string
	ClientSecret string
	TokenURL     string
	Scope        string
}

// Broker wires together the registry, catalog collaborator, and HTTP client
// that the state machine, disk stager, hand-off, and download engine all
// share. One Broker instance serves an entire process.
type Broker struct {
	cfg      Config
	registry *Registry
	catalog  catalog.Store
	logger   *slog.Logger

	handoffClient    *http.Client
	handoffUsesOAuth bool
	downloadClient   *http.Client

	downloadsMu sync.Mutex
	downloads   map[string]*DownloadSession
}

// New constructs a Broker ready to accept connections. When cfg.ClientID is
// set, the hand-off client authenticates with OAuth2 client-credentials
// against cfg.TokenURL instead of the static bearer token; the resulting
// client injects its own Authorization header and automatically refreshes
// the token as it expires.
func New(cfg Config, store catalog.Store, logger *slog.Logger) *Broker {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	handoffClient := &http.Client{Timeout: 0} // uploads: client is the controller, no overall timeout
	usesOAuth := false

	if cfg.ClientID != "" {
		ccCfg := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		if cfg.Scope != "" {
			ccCfg.Scopes = []string{cfg.Scope}
		}

		handoffClient = ccCfg.Client(context.Background())
		usesOAuth = true
	}

	downloadTransport := http.DefaultTransport.(*http.Transport).Clone()
	downloadTransport.DialContext = (&net.Dialer{Timeout: timeout}).DialContext

	return &Broker{
		cfg:              cfg,
		registry:         NewRegistry(cfg.StagingDir, logger),
		catalog:          store,
		logger:           logger,
		handoffClient:    handoffClient,
		handoffUsesOAuth: usesOAuth,
		downloadClient:   &http.Client{Transport: downloadTransport}, // connect timeout applied by the dialer
		downloads:        make(map[string]*DownloadSession),
	}
}

// Registry exposes the session registry for callers that need direct
// inspection, such as the transport layer's connection-close handler.
func (b *Broker) Registry() *Registry {
	return b.registry
}
