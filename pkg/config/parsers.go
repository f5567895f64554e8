package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
)

const envPrefix = "AGENTRELAY_"

// holds parsed command-line flag values and which were set
type Flags struct {
	Addr   string
	DB     string
	Config string
	Set    map[string]bool
}

// holds the results of applying environment overrides
type EnvResult struct {
	EnvUsed bool
}

// holds the result of LoadEffectiveConfig
type EffectiveConfigResult struct {
	Config *Config
	Addr   string
	DBPath string
	Source string // "flags", "config", or "env"
}

// loads config from file, returns config, found bool, and error
func ParseConfigFile(flags Flags) (*Config, bool, error) {
	cfgPath := ResolveConfigPath(flags.Config, flags.Set["config"])
	cfg, err := LoadConfigFile(cfgPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Config{}, false, nil
		}
		return nil, false, err
	}
	return cfg, true, nil
}

// loads AGENTRELAY_* environment variables into a new Config
func ParseConfigEnvs() (*Config, EnvResult) {
	names := []string{
		"ADDR", "SERVER_ADDRESS", "SERVER_PORT", "PRODUCTION",
		"CORS_ORIGINS", "IP_WHITELIST", "API_KEYS", "API_KEY_HEADER", "MAX_BODY_SIZE",
		"REALTIME_DISABLED", "REALTIME_ADDRESS", "REALTIME_PATH", "REALTIME_ORIGINS",
		"STORE_DRIVER", "DB_PATH",
		"LOG_LEVEL", "LOG_FORMAT",
		"UPLOADS_DIR", "UPLOADS_MAX_FILE_SIZE", "UPLOADS_MIME_TYPES",
		"BUS_SUBSCRIBER_BUFFER", "DELIVERY_BUS_URL",
		"TITLE_PROVIDER", "TITLE_MODEL", "TITLE_API_KEY", "TITLE_BASE_URL",
		"AGENT_IDS",
		"RETENTION_ENABLED", "RETENTION_CRON", "RETENTION_PERIOD", "RETENTION_DRY_RUN",
	}
	envs := make(map[string]string, len(names))
	envUsed := false
	for _, n := range names {
		v := strings.TrimSpace(os.Getenv(envPrefix + n))
		envs[n] = v
		if v != "" {
			envUsed = true
		}
	}
	envCfg := &Config{}

	// parse helpers
	parseList := func(v string) []string {
		if v == "" {
			return nil
		}
		parts := []string{}
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				parts = append(parts, s)
			}
		}
		return parts
	}
	parseBool := func(v string) bool {
		switch strings.ToLower(v) {
		case "1", "true", "yes":
			return true
		default:
			return false
		}
	}

	if v := envs["ADDR"]; v != "" {
		if h, p, err := net.SplitHostPort(v); err == nil {
			envCfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				envCfg.Server.Port = pi
			}
		} else {
			envCfg.Server.Address = v
		}
	} else {
		envCfg.Server.Address = envs["SERVER_ADDRESS"]
		if pi, err := strconv.Atoi(envs["SERVER_PORT"]); err == nil {
			envCfg.Server.Port = pi
		}
	}
	if v := envs["PRODUCTION"]; v != "" {
		envCfg.Server.Production = parseBool(v)
	}
	envCfg.Server.CORS.AllowedOrigins = parseList(envs["CORS_ORIGINS"])
	envCfg.Server.IPWhitelist = parseList(envs["IP_WHITELIST"])
	envCfg.Server.APIKeys = parseList(envs["API_KEYS"])
	envCfg.Server.APIKeyHeader = envs["API_KEY_HEADER"]
	if s, err := parseSize(envs["MAX_BODY_SIZE"]); err == nil {
		envCfg.Server.MaxBodySize = s
	}

	if v := envs["REALTIME_DISABLED"]; v != "" {
		envCfg.Realtime.Disabled = parseBool(v)
	}
	envCfg.Realtime.Address = envs["REALTIME_ADDRESS"]
	envCfg.Realtime.Path = envs["REALTIME_PATH"]
	envCfg.Realtime.AllowedOrigins = parseList(envs["REALTIME_ORIGINS"])

	envCfg.Store.Driver = envs["STORE_DRIVER"]
	envCfg.Store.Path = envs["DB_PATH"]

	envCfg.Logging.Level = envs["LOG_LEVEL"]
	envCfg.Logging.Format = envs["LOG_FORMAT"]

	envCfg.Uploads.Dir = envs["UPLOADS_DIR"]
	if s, err := parseSize(envs["UPLOADS_MAX_FILE_SIZE"]); err == nil {
		envCfg.Uploads.MaxFileSize = s
	}
	envCfg.Uploads.AllowedMimeTypes = parseList(envs["UPLOADS_MIME_TYPES"])

	if n, err := strconv.Atoi(envs["BUS_SUBSCRIBER_BUFFER"]); err == nil {
		envCfg.Bus.SubscriberBuffer = n
	}
	envCfg.Delivery.BusURL = envs["DELIVERY_BUS_URL"]

	envCfg.Title.Provider = envs["TITLE_PROVIDER"]
	envCfg.Title.Model = envs["TITLE_MODEL"]
	envCfg.Title.APIKey = envs["TITLE_API_KEY"]
	envCfg.Title.BaseURL = envs["TITLE_BASE_URL"]

	envCfg.Agents.IDs = parseList(envs["AGENT_IDS"])

	if v := envs["RETENTION_ENABLED"]; v != "" {
		envCfg.Retention.Enabled = parseBool(v)
	}
	envCfg.Retention.Cron = envs["RETENTION_CRON"]
	if d, err := parseDurationValue(envs["RETENTION_PERIOD"]); err == nil {
		envCfg.Retention.Period = d
	}
	if v := envs["RETENTION_DRY_RUN"]; v != "" {
		envCfg.Retention.DryRun = parseBool(v)
	}

	return envCfg, EnvResult{EnvUsed: envUsed}
}

// decides which single source to use (flags, config file, or env) and returns
// the effective config plus resolved addr and dbPath. if --config is set, only
// the config file is used; otherwise flags override the file (or env) base;
// else config file if present; else env
func LoadEffectiveConfig(flags Flags, fileCfg *Config, fileExists bool, envCfg *Config, envRes EnvResult) (EffectiveConfigResult, error) {
	var res EffectiveConfigResult
	if fileCfg == nil {
		fileCfg = &Config{}
	}
	if envCfg == nil {
		envCfg = &Config{}
	}

	if flags.Set["config"] {
		if !fileExists {
			return res, fmt.Errorf("config file %s not found", flags.Config)
		}
		return finish(fileCfg, "config"), nil
	}

	base, src := envCfg, "env"
	if fileExists {
		base, src = fileCfg, "config"
	}

	if flags.Set["addr"] || flags.Set["db"] {
		if flags.Set["addr"] {
			if h, _, err := net.SplitHostPort(flags.Addr); err == nil {
				base.Server.Address = h
				base.Server.Port = parsePortFromAddr(flags.Addr)
			}
		}
		if flags.Set["db"] {
			base.Store.Path = flags.DB
		}
		return finish(base, "flags"), nil
	}

	if !fileExists && !envRes.EnvUsed {
		src = "defaults"
	}
	return finish(base, src), nil
}

func finish(cfg *Config, source string) EffectiveConfigResult {
	return EffectiveConfigResult{
		Config: cfg,
		Addr:   cfg.Addr(),
		DBPath: cfg.Store.Path,
		Source: source,
	}
}

// extracts port integer from host:port string
func parsePortFromAddr(a string) int {
	if a == "" {
		return 0
	}
	if _, p, err := net.SplitHostPort(a); err == nil {
		if pi, err := strconv.Atoi(p); err == nil {
			return pi
		}
	}
	return 0
}
