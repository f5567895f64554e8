package banner

import (
	"fmt"
	"io"

	"agentrelay/pkg/config"
)

const banner = `
   __ _  __ _  ___ _ __ | |_ _ __ ___| | __ _ _   _
  / _' |/ _' |/ _ \ '_ \| __| '__/ _ \ |/ _' | | | |
 | (_| | (_| |  __/ | | | |_| | |  __/ | (_| | |_| |
  \__,_|\__, |\___|_| |_|\__|_|  \___|_|\__,_|\__, |
        |___/                                 |___/
`

// Print writes the startup banner and a short readiness checklist.
func Print(w io.Writer, eff config.EffectiveConfigResult, version string) {
	cfg := eff.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	src := eff.Source
	if src == "" {
		src = "flags"
	}

	fmt.Fprint(w, banner)
	fmt.Fprintln(w, "== Config =====================================================")
	fmt.Fprintf(w, "Listen:    %s\n", eff.Addr)
	if !cfg.Realtime.Disabled {
		fmt.Fprintf(w, "Realtime:  %s%s\n", cfg.Realtime.Address, cfg.Realtime.Path)
	}
	fmt.Fprintf(w, "Store:     %s %s\n", cfg.Store.Driver, eff.DBPath)
	if version != "" {
		fmt.Fprintf(w, "Version:   %s\n", version)
	}
	fmt.Fprintf(w, "Config:    %s\n", src)

	fmt.Fprintln(w, "\n== Production? =================================================")
	if n := len(cfg.Server.APIKeys); n > 0 {
		fmt.Fprintf(w, "- Inbound API keys: OK (%d)\n", n)
	} else {
		fmt.Fprintln(w, "- Inbound API keys: MISSING (server-to-server calls are unauthenticated)")
	}
	if cfg.Server.Production {
		fmt.Fprintln(w, "- Error details: hidden")
	} else {
		fmt.Fprintln(w, "- Error details: exposed (set server.production)")
	}
	if cfg.Title.Provider != "" {
		fmt.Fprintf(w, "- Title generation: %s\n", cfg.Title.Provider)
	} else {
		fmt.Fprintln(w, "- Title generation: disabled")
	}
	if cfg.Retention.Enabled {
		fmt.Fprintf(w, "- Retention: enabled (cron=%s, period=%s)\n", cfg.Retention.Cron, cfg.Retention.Period.Duration())
	} else {
		fmt.Fprintln(w, "- Retention: disabled")
	}
}
