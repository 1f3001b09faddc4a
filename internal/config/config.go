package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ggonzalez94/solagent/internal/execution"
	"github.com/ggonzalez94/solagent/internal/ledger"
	"github.com/ggonzalez94/solagent/internal/logging"
	"github.com/ggonzalez94/solagent/internal/risk"
)

const envPrefix = "SOLAGENT_"

type GlobalFlags struct {
	ConfigPath     string
	JSON           bool
	Plain          bool
	Select         string
	ResultsOnly    bool
	EnableCommands string
	Timeout        string
	Retries        int
	MaxStale       string
	NoStale        bool
	NoCache        bool
	RPCURL         string
	Cluster        string
	Commitment     string
	Mode           string
	MetricsFile    string
	LogLevel       string
	LogFormat      string
}

type Settings struct {
	OutputMode     string
	SelectFields   []string
	ResultsOnly    bool
	EnableCommands []string
	Timeout        time.Duration
	Retries        int
	MaxStale       time.Duration
	NoStale        bool
	CacheEnabled   bool
	CachePath      string
	CacheLockPath  string

	JournalPath     string
	JournalLockPath string

	RPCURL               string
	Cluster              string
	RPCRequestsPerSecond float64
	RPCBurst             int

	PriceURL      string
	PriceAPIKey   string
	PriceCacheTTL time.Duration

	MetricsFile string

	Risk   risk.Limits
	Engine execution.Config
	Log    logging.Config
}

type fileConfig struct {
	Output  string `yaml:"output"`
	Timeout string `yaml:"timeout"`
	Retries *int   `yaml:"retries"`
	Cache   struct {
		Enabled  *bool  `yaml:"enabled"`
		MaxStale string `yaml:"max_stale"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"cache"`
	Journal struct {
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"journal"`
	RPC struct {
		URL               string   `yaml:"url"`
		Cluster           string   `yaml:"cluster"`
		RequestsPerSecond *float64 `yaml:"requests_per_second"`
		Burst             *int     `yaml:"burst"`
	} `yaml:"rpc"`
	Price struct {
		URL       string `yaml:"url"`
		APIKey    string `yaml:"api_key"`
		APIKeyEnv string `yaml:"api_key_env"`
		CacheTTL  string `yaml:"cache_ttl"`
	} `yaml:"price"`
	Risk struct {
		MaxPositionSizePct     *float64 `yaml:"max_position_size_pct"`
		MaxSlippageBps         *int     `yaml:"max_slippage_bps"`
		MaxDailyLossPct        *float64 `yaml:"max_daily_loss_pct"`
		MinReserve             *float64 `yaml:"min_reserve"`
		MaxProtocolExposurePct *float64 `yaml:"max_protocol_exposure_pct"`
	} `yaml:"risk"`
	Engine struct {
		MaxRetries               *int    `yaml:"max_retries"`
		RetryDelay               string  `yaml:"retry_delay"`
		ConfirmationTimeout      string  `yaml:"confirmation_timeout"`
		PollInterval             string  `yaml:"poll_interval"`
		SimulateBeforeSend       *bool   `yaml:"simulate_before_send"`
		SkipPreflight            *bool   `yaml:"skip_preflight"`
		ComputeUnitLimit         *uint32 `yaml:"compute_unit_limit"`
		PriorityFeeMicroLamports *uint64 `yaml:"priority_fee_micro_lamports"`
		Commitment               string  `yaml:"commitment"`
		Mode                     string  `yaml:"mode"`
	} `yaml:"engine"`
	Log struct {
		Level   string   `yaml:"level"`
		Format  string   `yaml:"format"`
		Outputs []string `yaml:"outputs"`
		Audit   struct {
			Enabled    *bool  `yaml:"enabled"`
			Path       string `yaml:"path"`
			MaxSizeMB  *int   `yaml:"max_size_mb"`
			MaxBackups *int   `yaml:"max_backups"`
			MaxAgeDays *int   `yaml:"max_age_days"`
		} `yaml:"audit"`
	} `yaml:"log"`
	Metrics struct {
		File string `yaml:"file"`
	} `yaml:"metrics"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.MaxStale < 0 {
		settings.MaxStale = 5 * time.Minute
	}
	if err := settings.Engine.Validate(); err != nil {
		return Settings{}, err
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	cachePath, lockPath, err := defaultCachePaths()
	if err != nil {
		return Settings{}, err
	}
	stateDir, err := defaultStateDir()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:           "json",
		Timeout:              10 * time.Second,
		Retries:              2,
		MaxStale:             5 * time.Minute,
		CacheEnabled:         true,
		CachePath:            cachePath,
		CacheLockPath:        lockPath,
		JournalPath:          filepath.Join(stateDir, "journal.db"),
		JournalLockPath:      filepath.Join(stateDir, "journal.lock"),
		Cluster:              "mainnet-beta",
		RPCRequestsPerSecond: 10,
		RPCBurst:             5,
		PriceCacheTTL:        time.Minute,
		Risk:                 risk.DefaultLimits(),
		Engine:               execution.DefaultConfig(),
		Log: logging.Config{
			Level:       "info",
			Format:      "text",
			OutputPaths: []string{"stderr"},
			Audit: logging.AuditConfig{
				Path:       filepath.Join(stateDir, "audit.log"),
				MaxSizeMB:  50,
				MaxBackups: 5,
				MaxAgeDays: 90,
			},
		},
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "solagent", "config.yaml"), nil
}

func defaultCachePaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "solagent")
	return filepath.Join(dir, "cache.db"), filepath.Join(dir, "cache.lock"), nil
}

// defaultStateDir holds data that must survive cache cleanup: the journal,
// breaker state and audit log.
func defaultStateDir() (string, error) {
	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(base, "solagent"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if err := setDuration(cfg.Timeout, "timeout", &settings.Timeout); err != nil {
		return err
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	if err := setDuration(cfg.Cache.MaxStale, "cache.max_stale", &settings.MaxStale); err != nil {
		return err
	}
	setString(cfg.Cache.Path, &settings.CachePath)
	setString(cfg.Cache.LockPath, &settings.CacheLockPath)
	setString(cfg.Journal.Path, &settings.JournalPath)
	setString(cfg.Journal.LockPath, &settings.JournalLockPath)

	setString(cfg.RPC.URL, &settings.RPCURL)
	setString(cfg.RPC.Cluster, &settings.Cluster)
	if cfg.RPC.RequestsPerSecond != nil {
		settings.RPCRequestsPerSecond = *cfg.RPC.RequestsPerSecond
	}
	if cfg.RPC.Burst != nil {
		settings.RPCBurst = *cfg.RPC.Burst
	}

	setString(cfg.Price.URL, &settings.PriceURL)
	setString(cfg.Price.APIKey, &settings.PriceAPIKey)
	if cfg.Price.APIKeyEnv != "" {
		settings.PriceAPIKey = os.Getenv(cfg.Price.APIKeyEnv)
	}
	if err := setDuration(cfg.Price.CacheTTL, "price.cache_ttl", &settings.PriceCacheTTL); err != nil {
		return err
	}

	applyRiskFile(cfg, &settings.Risk)
	if err := applyEngineFile(cfg, &settings.Engine); err != nil {
		return err
	}

	setString(cfg.Log.Level, &settings.Log.Level)
	setString(cfg.Log.Format, &settings.Log.Format)
	if len(cfg.Log.Outputs) > 0 {
		settings.Log.OutputPaths = append([]string(nil), cfg.Log.Outputs...)
	}
	if cfg.Log.Audit.Enabled != nil {
		settings.Log.Audit.Enabled = *cfg.Log.Audit.Enabled
	}
	setString(cfg.Log.Audit.Path, &settings.Log.Audit.Path)
	if cfg.Log.Audit.MaxSizeMB != nil {
		settings.Log.Audit.MaxSizeMB = *cfg.Log.Audit.MaxSizeMB
	}
	if cfg.Log.Audit.MaxBackups != nil {
		settings.Log.Audit.MaxBackups = *cfg.Log.Audit.MaxBackups
	}
	if cfg.Log.Audit.MaxAgeDays != nil {
		settings.Log.Audit.MaxAgeDays = *cfg.Log.Audit.MaxAgeDays
	}

	setString(cfg.Metrics.File, &settings.MetricsFile)
	return nil
}

func applyRiskFile(cfg fileConfig, limits *risk.Limits) {
	if cfg.Risk.MaxPositionSizePct != nil {
		limits.MaxPositionSizePct = *cfg.Risk.MaxPositionSizePct
	}
	if cfg.Risk.MaxSlippageBps != nil {
		limits.MaxSlippageBps = *cfg.Risk.MaxSlippageBps
	}
	if cfg.Risk.MaxDailyLossPct != nil {
		limits.MaxDailyLossPct = *cfg.Risk.MaxDailyLossPct
	}
	if cfg.Risk.MinReserve != nil {
		limits.MinReserve = *cfg.Risk.MinReserve
	}
	if cfg.Risk.MaxProtocolExposurePct != nil {
		limits.MaxProtocolExposurePct = *cfg.Risk.MaxProtocolExposurePct
	}
}

func applyEngineFile(cfg fileConfig, engine *execution.Config) error {
	e := cfg.Engine
	if e.MaxRetries != nil {
		engine.MaxRetries = *e.MaxRetries
	}
	if err := setDuration(e.RetryDelay, "engine.retry_delay", &engine.RetryDelay); err != nil {
		return err
	}
	if err := setDuration(e.ConfirmationTimeout, "engine.confirmation_timeout", &engine.ConfirmationTimeout); err != nil {
		return err
	}
	if err := setDuration(e.PollInterval, "engine.poll_interval", &engine.PollInterval); err != nil {
		return err
	}
	if e.SimulateBeforeSend != nil {
		engine.SimulateBeforeSend = *e.SimulateBeforeSend
	}
	if e.SkipPreflight != nil {
		engine.SkipPreflight = *e.SkipPreflight
	}
	if e.ComputeUnitLimit != nil {
		engine.ComputeUnitLimit = *e.ComputeUnitLimit
	}
	if e.PriorityFeeMicroLamports != nil {
		engine.PriorityFeeMicroLamports = *e.PriorityFeeMicroLamports
	}
	if e.Commitment != "" {
		c, err := ledger.ParseCommitment(e.Commitment)
		if err != nil {
			return fmt.Errorf("config engine.commitment: %w", err)
		}
		engine.Commitment = c
	}
	if e.Mode != "" {
		m, err := execution.ParseMode(strings.ToLower(e.Mode))
		if err != nil {
			return fmt.Errorf("config engine.mode: %w", err)
		}
		engine.Mode = m
	}
	return nil
}

func applyEnv(settings *Settings) {
	if v := getenv("OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := getenv("TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := getenv("RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := getenv("MAX_STALE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.MaxStale = d
		}
	}
	if v := getenv("NO_STALE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.NoStale = b
		}
	}
	if v := getenv("NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	setString(getenv("CACHE_PATH"), &settings.CachePath)
	setString(getenv("CACHE_LOCK_PATH"), &settings.CacheLockPath)
	setString(getenv("JOURNAL_PATH"), &settings.JournalPath)
	setString(getenv("JOURNAL_LOCK_PATH"), &settings.JournalLockPath)
	setString(getenv("RPC_URL"), &settings.RPCURL)
	setString(getenv("CLUSTER"), &settings.Cluster)
	setString(getenv("PRICE_URL"), &settings.PriceURL)
	setString(getenv("PRICE_API_KEY"), &settings.PriceAPIKey)
	setString(getenv("METRICS_FILE"), &settings.MetricsFile)
	setString(getenv("LOG_LEVEL"), &settings.Log.Level)
	setString(getenv("LOG_FORMAT"), &settings.Log.Format)
	if v := getenv("COMMITMENT"); v != "" {
		if c, err := ledger.ParseCommitment(v); err == nil {
			settings.Engine.Commitment = c
		}
	}
	if v := getenv("MODE"); v != "" {
		if m, err := execution.ParseMode(strings.ToLower(v)); err == nil {
			settings.Engine.Mode = m
		}
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if fields := splitList(flags.Select); len(fields) > 0 {
		settings.SelectFields = fields
	}
	settings.ResultsOnly = flags.ResultsOnly
	if allowed := splitList(flags.EnableCommands); len(allowed) > 0 {
		settings.EnableCommands = allowed
	}

	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.MaxStale != "" {
		d, err := time.ParseDuration(flags.MaxStale)
		if err != nil {
			return fmt.Errorf("parse --max-stale: %w", err)
		}
		settings.MaxStale = d
	}
	if flags.NoStale {
		settings.NoStale = true
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}

	setString(strings.TrimSpace(flags.RPCURL), &settings.RPCURL)
	setString(strings.TrimSpace(flags.Cluster), &settings.Cluster)
	setString(flags.MetricsFile, &settings.MetricsFile)
	setString(flags.LogLevel, &settings.Log.Level)
	setString(flags.LogFormat, &settings.Log.Format)
	if flags.Commitment != "" {
		c, err := ledger.ParseCommitment(flags.Commitment)
		if err != nil {
			return fmt.Errorf("parse --commitment: %w", err)
		}
		settings.Engine.Commitment = c
	}
	if flags.Mode != "" {
		m, err := execution.ParseMode(strings.ToLower(flags.Mode))
		if err != nil {
			return fmt.Errorf("parse --mode: %w", err)
		}
		settings.Engine.Mode = m
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}

	return nil
}

func getenv(name string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + name))
}

func setString(v string, dst *string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(v, field string, dst *time.Duration) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("config %s: %w", field, err)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if f := strings.TrimSpace(part); f != "" {
			out = append(out, f)
		}
	}
	return out
}
