package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/wc-attach-images/wc-attach-images/internal/attach"
	"github.com/wc-attach-images/wc-attach-images/internal/wordpress"
	"github.com/wc-attach-images/wc-attach-images/internal/wordpress/wpdb"
)

// Host bundles the store catalog and media library of the configured backend.
type Host struct {
	Backend string
	Catalog attach.Catalog
	Media   attach.MediaLibrary
	db      *sql.DB
}

// Close releases backend connections.
func (h *Host) Close() error {
	if h == nil || h.db == nil {
		return nil
	}
	return h.db.Close()
}

// OpenHost connects to WordPress through the REST API or directly through MySQL.
func OpenHost(ctx context.Context, cfg *Config, logger *slog.Logger) (*Host, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: config required")
	}
	switch cfg.HostBackend {
	case BackendMySQL:
		db, err := wpdb.Open(ctx, cfg.WPDBDSN)
		if err != nil {
			return nil, err
		}
		catalog, err := wpdb.NewCatalog(db, cfg.WPDBPrefix, cfg.WPProductStatus)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		media, err := wpdb.NewMedia(db, cfg.WPDBPrefix)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		logger.Info("host backend ready", slog.String("backend", BackendMySQL), slog.String("prefix", cfg.WPDBPrefix))
		return &Host{Backend: BackendMySQL, Catalog: catalog, Media: media, db: db}, nil
	default:
		client, err := wordpress.NewClient(wordpress.Config{
			BaseURL:           cfg.WPBaseURL,
			User:              cfg.WPAPIUser,
			Password:          cfg.WPAPIPassword,
			Timeout:           cfg.WPAPITimeout,
			RequestsPerSecond: cfg.WPAPIRPS,
			Burst:             cfg.WPAPIBurst,
		}, nil)
		if err != nil {
			return nil, err
		}
		logger.Info("host backend ready", slog.String("backend", BackendREST), slog.String("base_url", cfg.WPBaseURL))
		return &Host{
			Backend: BackendREST,
			Catalog: wordpress.NewCatalog(client, cfg.WPProductStatus),
			Media:   wordpress.NewMedia(client),
		}, nil
	}
}

// NewProcessor wires an attach processor for the host.
func NewProcessor(cfg *Config, host *Host, runLog attach.RunLog, recorder attach.Recorder, logger *slog.Logger) (*attach.Processor, error) {
	return attach.NewProcessor(attach.ProcessorConfig{
		Catalog:  host.Catalog,
		Media:    host.Media,
		Log:      runLog,
		Recorder: recorder,
		Logger:   logger,
		Pause:    cfg.AttachBatchPause,
	})
}
