// Package app assembles the sync engine from its parts: configuration,
// stored credentials, the local mirror, the change-feed transport, and the
// inbox controller. Consumers embed an Engine and drive its Controller.
package app

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/inbox-sync/internal/api"
	"github.com/nhle/inbox-sync/internal/credential"
	"github.com/nhle/inbox-sync/internal/feed"
	"github.com/nhle/inbox-sync/internal/inbox"
	"github.com/nhle/inbox-sync/internal/model"
	"github.com/nhle/inbox-sync/internal/store"
)

// Engine is the fully wired synchronization engine for one consumer.
type Engine struct {
	Config     *model.AppConfig
	Mirror     *store.SQLiteMirror
	Feeds      *feed.Manager
	API        *api.Client
	Controller *inbox.Controller
}

// New loads configuration from configPath, opens the mirror database at
// dbPath, and wires the engine together. API and feed tokens come from
// the system keyring; a missing feed token falls back to the API token.
func New(configPath, dbPath string, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}

	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	apiToken, err := credential.Get(credential.KeyAPIToken)
	if err != nil {
		return nil, fmt.Errorf("loading API token: %w", err)
	}

	feedToken, err := credential.Get(credential.KeyFeedToken)
	if err != nil {
		feedToken = apiToken
	}

	mirror, err := store.NewSQLiteMirror(dbPath, log)
	if err != nil {
		return nil, err
	}

	transport := feed.NewWebsocketTransport(cfg.Feed.URL, feedToken, mirror, log)
	feeds := feed.NewManager(
		transport,
		time.Duration(cfg.Feed.InitialSyncWaitSec)*time.Second,
		log,
	)

	client := api.NewClient(cfg.API.BaseURL, apiToken)
	if cfg.API.TimeoutSec > 0 {
		client.SetHTTPClient(&http.Client{Timeout: time.Duration(cfg.API.TimeoutSec) * time.Second})
	}

	controller := inbox.New(mirror, feeds, client, inbox.Options{
		WindowDays: cfg.Sync.WindowDays,
		PageLimit:  cfg.Sync.PageLimit,
		Logger:     log,
	})

	return &Engine{
		Config:     cfg,
		Mirror:     mirror,
		Feeds:      feeds,
		API:        client,
		Controller: controller,
	}, nil
}

// Close shuts the engine down: the controller first (so its teardown can
// still reach sessions), then any remaining feed sessions, then the mirror.
func (e *Engine) Close() error {
	var firstErr error

	if err := e.Controller.Close(); err != nil {
		firstErr = err
	}
	if err := e.Feeds.CloseAll(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.Mirror.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	return firstErr
}
