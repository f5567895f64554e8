package app

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"agentrelay/pkg/config"
)

// validateRuntime checks what config validation cannot: directories on
// disk, and listener addresses that would collide.
func validateRuntime(eff config.EffectiveConfigResult, log *slog.Logger) error {
	cfg := eff.Config
	if cfg == nil {
		return fmt.Errorf("effective config is nil")
	}

	if cfg.Store.Driver == "pebble" {
		if err := os.MkdirAll(filepath.Clean(cfg.Store.Path), 0o755); err != nil {
			return fmt.Errorf("create store directory %s: %w", cfg.Store.Path, err)
		}
	}
	if err := os.MkdirAll(filepath.Clean(cfg.Uploads.Dir), 0o755); err != nil {
		return fmt.Errorf("create uploads directory %s: %w", cfg.Uploads.Dir, err)
	}

	if !cfg.Realtime.Disabled && cfg.Realtime.Address == eff.Addr {
		return fmt.Errorf("realtime.address %s collides with the api listener", cfg.Realtime.Address)
	}

	if cfg.Server.Production && len(cfg.Server.APIKeys) == 0 {
		log.Warn("config_production_without_api_keys", "msg", "server-to-server calls are unauthenticated")
	}
	if len(cfg.Agents.IDs) == 0 {
		log.Info("config_no_agents", "msg", "list-agents returns every participant until agents register")
	}
	return nil
}
