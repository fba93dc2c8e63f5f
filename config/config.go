// Package config loads runtime settings from defaults, an optional config
// file, a .env file, STROBE_* environment variables and command line flags,
// later sources overriding earlier ones.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"strobe/logging"
	"strobe/scanner"
	"strobe/targets"
)

const envPrefix = "STROBE"

type ServerSettings struct {
	Addr   string `mapstructure:"addr"`
	APIKey string `mapstructure:"api_key"`
	// RateLimit is requests per RateWindow per client IP. Zero disables it.
	RateLimit  int           `mapstructure:"rate_limit"`
	RateWindow time.Duration `mapstructure:"rate_window"`
}

type RedisSettings struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ScanSettings are the defaults applied to every scan the process runs.
type ScanSettings struct {
	Threads         int           `mapstructure:"threads"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RateLimit       uint64        `mapstructure:"rate_limit"`
	Technique       string        `mapstructure:"technique"`
	MaxRetries      int           `mapstructure:"max_retries"`
	Fallback        bool          `mapstructure:"fallback"`
	ConfirmAttempts int           `mapstructure:"confirm_attempts"`
	ConfirmDelay    time.Duration `mapstructure:"confirm_delay"`
	ProbeFile       string        `mapstructure:"probe_file"`
	// Timing names a profile whose values replace the defaults of the
	// timing keys below and of threads, timeout and max_retries.
	Timing     string        `mapstructure:"timing"`
	MinTimeout time.Duration `mapstructure:"min_timeout"`
	MaxTimeout time.Duration `mapstructure:"max_timeout"`
	ScanDelay  time.Duration `mapstructure:"scan_delay"`
	// Exclude and ExcludePorts are never probed.
	Exclude      []string `mapstructure:"exclude"`
	ExcludePorts string   `mapstructure:"exclude_ports"`
}

type LogSettings struct {
	Level string `mapstructure:"level"`
}

type Settings struct {
	Server  ServerSettings `mapstructure:"server"`
	Redis   RedisSettings  `mapstructure:"redis"`
	Scan    ScanSettings   `mapstructure:"scan"`
	Log     LogSettings    `mapstructure:"log"`
	Workers int            `mapstructure:"workers"`
}

// Binding ties a command line flag to a settings key such as "scan.threads".
// A bound flag only overrides the other sources when it was set explicitly.
type Binding struct {
	Key  string
	Flag *pflag.Flag
}

func setDefaults(v *viper.Viper) {
	d := scanner.DefaultConfig()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.rate_limit", 60)
	v.SetDefault("server.rate_window", time.Minute)

	// No address keeps API tasks in memory.
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("scan.threads", d.Threads)
	v.SetDefault("scan.timeout", d.Timeout)
	v.SetDefault("scan.rate_limit", 0)
	v.SetDefault("scan.technique", d.Technique.String())
	v.SetDefault("scan.max_retries", d.MaxRetries)
	v.SetDefault("scan.fallback", d.Fallback)
	v.SetDefault("scan.confirm_attempts", 0)
	v.SetDefault("scan.confirm_delay", scanner.DefaultConfirmDelay)
	v.SetDefault("scan.probe_file", "")
	v.SetDefault("scan.timing", "")
	v.SetDefault("scan.min_timeout", time.Duration(0))
	v.SetDefault("scan.max_timeout", time.Duration(0))
	v.SetDefault("scan.scan_delay", time.Duration(0))
	v.SetDefault("scan.exclude", []string{})
	v.SetDefault("scan.exclude_ports", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("workers", 5)
}

// Load resolves the settings. path names an optional YAML, TOML or JSON file;
// an empty path skips it. A missing .env file in the working directory is
// not an error.
func Load(path string, binds ...Binding) (*Settings, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Deployments of the earlier API server only set REDIS_ADDR.
	if err := v.BindEnv("redis.addr", envPrefix+"_REDIS_ADDR", "REDIS_ADDR"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	for _, b := range binds {
		if b.Flag == nil {
			continue
		}
		if err := v.BindPFlag(b.Key, b.Flag); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", b.Flag.Name, err)
		}
	}

	if name := v.GetString("scan.timing"); name != "" {
		tm, err := scanner.ParseTiming(name)
		if err != nil {
			return nil, fmt.Errorf("scan.timing: %w", err)
		}
		applyTiming(v, tm)
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// applyTiming makes tm's values the defaults, so a file, env or flag value
// for the same key still wins.
func applyTiming(v *viper.Viper, tm scanner.Timing) {
	p := tm.Params()
	v.SetDefault("scan.threads", p.Threads)
	v.SetDefault("scan.timeout", p.Timeout)
	v.SetDefault("scan.min_timeout", p.MinTimeout)
	v.SetDefault("scan.max_timeout", p.MaxTimeout)
	v.SetDefault("scan.max_retries", p.MaxRetries)
	v.SetDefault("scan.scan_delay", p.ScanDelay)
}

// Validate reports the first setting that cannot be used.
func (s *Settings) Validate() error {
	if _, err := logging.ParseLevel(s.Log.Level); err != nil {
		return err
	}
	if _, err := scanner.ParseTechnique(s.Scan.Technique); err != nil {
		return fmt.Errorf("scan.technique: %w", err)
	}
	switch {
	case s.Scan.Threads <= 0:
		return fmt.Errorf("scan.threads must be positive, got %d", s.Scan.Threads)
	case s.Scan.Timeout <= 0:
		return fmt.Errorf("scan.timeout must be positive, got %s", s.Scan.Timeout)
	case s.Scan.MaxRetries < 0:
		return fmt.Errorf("scan.max_retries must not be negative, got %d", s.Scan.MaxRetries)
	case s.Scan.ConfirmAttempts < 0 || s.Scan.ConfirmDelay < 0:
		return fmt.Errorf("scan.confirm_attempts and scan.confirm_delay must not be negative")
	case s.Scan.MinTimeout < 0 || s.Scan.MaxTimeout < 0 || s.Scan.ScanDelay < 0:
		return fmt.Errorf("scan.min_timeout, scan.max_timeout and scan.scan_delay must not be negative")
	case s.Workers <= 0:
		return fmt.Errorf("workers must be positive, got %d", s.Workers)
	case s.Server.RateLimit < 0:
		return fmt.Errorf("server.rate_limit must not be negative, got %d", s.Server.RateLimit)
	case s.Server.RateLimit > 0 && s.Server.RateWindow <= 0:
		return fmt.Errorf("server.rate_window must be positive when rate limiting")
	}
	if _, err := s.Scan.Exclusions(); err != nil {
		return fmt.Errorf("scan.exclude: %w", err)
	}
	return nil
}

// ScanConfig returns a scan config carrying these defaults. Targets and
// ports are left for the caller.
func (s ScanSettings) ScanConfig() (scanner.ScanConfig, error) {
	tech, err := scanner.ParseTechnique(s.Technique)
	if err != nil {
		return scanner.ScanConfig{}, err
	}
	cfg := scanner.DefaultConfig()
	cfg.Technique = tech
	cfg.Threads = s.Threads
	cfg.Timeout = s.Timeout
	cfg.RateLimit = s.RateLimit
	cfg.MaxRetries = s.MaxRetries
	cfg.Fallback = s.Fallback
	cfg.ConfirmOpenAttempts = s.ConfirmAttempts
	cfg.ConfirmDelay = s.ConfirmDelay
	cfg.MinTimeout = s.MinTimeout
	cfg.MaxTimeout = s.MaxTimeout
	cfg.Stealth.TimingJitter = s.ScanDelay
	return cfg, nil
}

// Exclusions parses the configured address and port exclusions.
func (s ScanSettings) Exclusions() (*targets.Exclusions, error) {
	return targets.NewExclusions(s.Exclude, s.ExcludePorts)
}

// EngineOptions returns the engine options these settings imply. It loads
// the probe file when one is configured.
func (s ScanSettings) EngineOptions(log *slog.Logger) ([]scanner.Option, error) {
	opts := []scanner.Option{scanner.WithLogger(log)}
	if s.ProbeFile != "" {
		probes, err := scanner.LoadProbeFile(s.ProbeFile, log)
		if err != nil {
			return nil, fmt.Errorf("load probes: %w", err)
		}
		opts = append(opts, scanner.WithProbes(probes))
	}
	return opts, nil
}
