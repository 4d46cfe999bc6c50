package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/hmdcm/internal/hmdcm/fit"
	"github.com/yungbote/hmdcm/internal/hmdcm/fiterr"
	"github.com/yungbote/hmdcm/internal/hmdcm/itemmap"
	"github.com/yungbote/hmdcm/internal/platform/envutil"
)

const defaultChannel = "hmdcm:progress"

func defaultConfig() *Config {
	fc := fit.DefaultConfig()
	return &Config{
		Env: "development",
		Fit: FitSection{
			Rule:      string(fc.Rule),
			MaxIter:   fc.MaxIter,
			Tolerance: fc.Tolerance,
			Init:      string(fc.Init),
			Seed:      fc.Seed,
		},
		Progress:  ProgressSection{Channel: defaultChannel},
		Telemetry: TelemetrySection{ServiceName: "hmdcm"},
	}
}

// Load reads path (or HMDCM_CONFIG_PATH, or ./config/hmdcm.yaml when present)
// over the defaults and then applies environment overrides. Relative data paths
// are resolved against the config file's directory.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	path = strings.TrimSpace(path)
	if path == "" {
		path = envutil.String("HMDCM_CONFIG_PATH", "")
	}
	if path == "" {
		if wd, err := os.Getwd(); err == nil {
			p := filepath.Join(wd, "config", "hmdcm.yaml")
			if _, err := os.Stat(p); err == nil {
				path = p
			}
		}
	}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		cfg.Path = path
		cfg.resolvePaths(filepath.Dir(path))
	}

	cfg.Env = envutil.String("LOG_MODE", cfg.Env)
	cfg.Store.DSN = envutil.String("HMDCM_DB_DSN", cfg.Store.DSN)
	cfg.Progress.RedisAddr = envutil.String("REDIS_ADDR", cfg.Progress.RedisAddr)
	cfg.Progress.Channel = envutil.String("REDIS_CHANNEL", cfg.Progress.Channel)
	cfg.Fit.MaxIter = envutil.Int("HMDCM_MAX_ITER", cfg.Fit.MaxIter)
	cfg.Fit.Tolerance = envutil.Float("HMDCM_TOLERANCE", cfg.Fit.Tolerance)
	cfg.Fit.Workers = envutil.Int("HMDCM_WORKERS", cfg.Fit.Workers)
	cfg.Telemetry.Exporter = envutil.String("HMDCM_TRACE_EXPORTER", cfg.Telemetry.Exporter)

	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "development"
	}
	if strings.TrimSpace(cfg.Progress.Channel) == "" {
		cfg.Progress.Channel = defaultChannel
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) resolvePaths(dir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	for i := range c.Data.Forms {
		c.Data.Forms[i].QPath = abs(c.Data.Forms[i].QPath)
		c.Data.Forms[i].ResponsesPath = abs(c.Data.Forms[i].ResponsesPath)
	}
	c.Data.VersionsPath = abs(c.Data.VersionsPath)
	c.Report.Out = abs(c.Report.Out)
	c.Report.Plot = abs(c.Report.Plot)
	c.Report.Metrics = abs(c.Report.Metrics)
	c.Hyper = abs(c.Hyper)
	if rest, ok := strings.CutPrefix(c.Store.DSN, "sqlite:"); ok && rest != "" && rest != ":memory:" {
		c.Store.DSN = "sqlite:" + abs(rest)
	}
}

func (c *Config) validate() error {
	const op = "validate config"
	if c.Data.K < 0 {
		return fiterr.Config(op, "data.k must be positive, got %d", c.Data.K)
	}
	for i, f := range c.Data.Forms {
		if strings.TrimSpace(f.QPath) == "" || strings.TrimSpace(f.ResponsesPath) == "" {
			return fiterr.Config(op, "data.forms[%d] needs q_path and responses_path", i)
		}
	}
	if c.Fit.Timeout != "" {
		if _, err := time.ParseDuration(c.Fit.Timeout); err != nil {
			return fiterr.Config(op, "fit.timeout: %v", err)
		}
	}
	switch strings.ToLower(c.Telemetry.Exporter) {
	case "", "none", "stdout", "otlp":
	default:
		return fiterr.Config(op, "telemetry.exporter %q is not one of stdout, otlp", c.Telemetry.Exporter)
	}
	return nil
}

// Timeout is the parsed fit.timeout, 0 when unset.
func (c *Config) Timeout() time.Duration {
	d, _ := time.ParseDuration(c.Fit.Timeout)
	return d
}

// FitConfig maps the fit section onto the engine configuration. Schedule tables
// read from data files are attached by the caller.
func (c *Config) FitConfig() (fit.Config, error) {
	rule, err := itemmap.ParseRule(c.Fit.Rule)
	if err != nil {
		return fit.Config{}, err
	}
	mode, err := fit.ParseInitMode(c.Fit.Init)
	if err != nil {
		return fit.Config{}, err
	}
	return fit.Config{
		Rule:          rule,
		MaxIter:       c.Fit.MaxIter,
		Tolerance:     c.Fit.Tolerance,
		Init:          mode,
		Seed:          c.Fit.Seed,
		Workers:       c.Fit.Workers,
		NonDecreasing: c.Fit.NonDecreasing,
		Order:         c.Data.Order,
	}, nil
}
