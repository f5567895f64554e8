package config

import (
	"fmt"
	"net/url"
	"strings"
)

// set defaults, fail fast on critical errors
func ValidateConfig(eff EffectiveConfigResult) error {
	cfg := eff.Config
	if cfg == nil {
		return fmt.Errorf("effective config is nil")
	}
	if err := cfg.ValidateConfig(); err != nil {
		return err
	}

	// pebble needs a path
	if cfg.Store.Driver == "pebble" && strings.TrimSpace(cfg.Store.Path) == "" {
		return fmt.Errorf("database path is empty: set --db flag, AGENTRELAY_DB_PATH env, or store.path in config")
	}

	if u, err := url.Parse(cfg.Delivery.BusURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid delivery.bus_url %q", cfg.Delivery.BusURL)
	}

	if cfg.Title.Provider != "" && strings.TrimSpace(cfg.Title.APIKey) == "" {
		return fmt.Errorf("title.provider %s is set but title.api_key is empty", cfg.Title.Provider)
	}

	if cfg.Uploads.MaxFileSize.Int64() > cfg.Server.MaxBodySize.Int64() {
		return fmt.Errorf("uploads.max_file_size (%d) exceeds server.max_body_size (%d)",
			cfg.Uploads.MaxFileSize.Int64(), cfg.Server.MaxBodySize.Int64())
	}
	return nil
}
