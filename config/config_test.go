package config

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strobe/scanner"
)

// clearEnv hides variables a developer machine may carry.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"REDIS_ADDR", "STROBE_REDIS_ADDR", "STROBE_SCAN_THREADS",
		"STROBE_SCAN_TECHNIQUE", "STROBE_WORKERS", "STROBE_LOG_LEVEL", "STROBE_SCAN_TIMING",
		"STROBE_SCAN_EXCLUDE", "STROBE_SCAN_EXCLUDE_PORTS"} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", s.Server.Addr)
	assert.Equal(t, 60, s.Server.RateLimit)
	assert.Equal(t, time.Minute, s.Server.RateWindow)
	assert.Empty(t, s.Redis.Addr, "no redis unless one is configured")
	assert.Equal(t, scanner.DefaultThreads, s.Scan.Threads)
	assert.Equal(t, scanner.DefaultTimeout, s.Scan.Timeout)
	assert.Equal(t, "syn", s.Scan.Technique)
	assert.True(t, s.Scan.Fallback)
	assert.Equal(t, "info", s.Log.Level)
	assert.Equal(t, 5, s.Workers)
}

func TestLoadEmptyRedisEnvKeepsMemoryStore(t *testing.T) {
	clearEnv(t)
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("STROBE_REDIS_ADDR", "")

	s, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, s.Redis.Addr)

	t.Setenv("STROBE_REDIS_ADDR", "cache:6380")
	s, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", s.Redis.Addr)
}

func TestLoadEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("STROBE_SCAN_THREADS", "64")
	t.Setenv("STROBE_SCAN_TIMEOUT", "250ms")
	t.Setenv("STROBE_SERVER_API_KEY", "secret")
	t.Setenv("REDIS_ADDR", "redis:6379")

	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 64, s.Scan.Threads)
	assert.Equal(t, 250*time.Millisecond, s.Scan.Timeout)
	assert.Equal(t, "secret", s.Server.APIKey)
	assert.Equal(t, "redis:6379", s.Redis.Addr)
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "strobe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
workers: 2
scan:
  technique: connect
  threads: 16
  confirm_attempts: 3
log:
  level: debug
`), 0o600))
	t.Setenv("STROBE_SCAN_THREADS", "8")

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, s.Workers)
	assert.Equal(t, "connect", s.Scan.Technique)
	assert.Equal(t, 8, s.Scan.Threads)
	assert.Equal(t, 3, s.Scan.ConfirmAttempts)
	assert.Equal(t, "debug", s.Log.Level)
}

func TestLoadTimingProfile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "strobe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scan:
  timing: aggressive
  threads: 32
`), 0o600))

	s, err := Load(path)
	require.NoError(t, err)

	p := scanner.Aggressive.Params()
	assert.Equal(t, 32, s.Scan.Threads, "an explicit value beats the profile")
	assert.Equal(t, p.Timeout, s.Scan.Timeout)
	assert.Equal(t, p.MinTimeout, s.Scan.MinTimeout)
	assert.Equal(t, p.MaxTimeout, s.Scan.MaxTimeout)
	assert.Equal(t, p.MaxRetries, s.Scan.MaxRetries)
	assert.Equal(t, p.ScanDelay, s.Scan.ScanDelay)

	cfg, err := s.Scan.ScanConfig()
	require.NoError(t, err)
	assert.Equal(t, p.ScanDelay, cfg.Stealth.TimingJitter)
	assert.Equal(t, p.MinTimeout, cfg.MinTimeout)

	t.Setenv("STROBE_SCAN_TIMING", "T0")
	s, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Scan.Threads)
	assert.Equal(t, scanner.Paranoid.Params().Timeout, s.Scan.Timeout)
}

func TestLoadExclusions(t *testing.T) {
	clearEnv(t)
	t.Setenv("STROBE_SCAN_EXCLUDE", "192.0.2.1,198.51.100.0/24")
	t.Setenv("STROBE_SCAN_EXCLUDE_PORTS", "25,445")

	s, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"192.0.2.1", "198.51.100.0/24"}, s.Scan.Exclude)

	x, err := s.Scan.Exclusions()
	require.NoError(t, err)
	assert.True(t, x.ExcludesAddr(netip.MustParseAddr("198.51.100.77")))
	assert.True(t, x.ExcludesPort(445))
	assert.False(t, x.ExcludesPort(80))
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadFlagsOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("STROBE_SCAN_THREADS", "64")

	fs := pflag.NewFlagSet("scan", pflag.ContinueOnError)
	fs.Int("threads", 10, "")
	fs.String("technique", "connect", "")
	require.NoError(t, fs.Parse([]string{"--threads=32"}))

	s, err := Load("",
		Binding{Key: "scan.threads", Flag: fs.Lookup("threads")},
		Binding{Key: "scan.technique", Flag: fs.Lookup("technique")},
		Binding{Key: "scan.max_retries", Flag: fs.Lookup("missing")})
	require.NoError(t, err)

	assert.Equal(t, 32, s.Scan.Threads)
	// An untouched flag does not override the built-in default.
	assert.Equal(t, "syn", s.Scan.Technique)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"STROBE_SCAN_TECHNIQUE": "bogus",
		"STROBE_LOG_LEVEL":      "loud",
		"STROBE_WORKERS":        "0",
		"STROBE_SCAN_THREADS":   "-1",
		"STROBE_SCAN_TIMING":    "ludicrous",
		"STROBE_SCAN_EXCLUDE":   "not-an-address",
	}
	for k, v := range tests {
		t.Run(k, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(k, v)
			_, err := Load("")
			require.Error(t, err)
		})
	}
}

func TestScanSettingsScanConfig(t *testing.T) {
	s := ScanSettings{
		Threads:         32,
		Timeout:         2 * time.Second,
		RateLimit:       500,
		Technique:       "fin",
		MaxRetries:      1,
		ConfirmAttempts: 2,
		ConfirmDelay:    10 * time.Millisecond,
	}
	cfg, err := s.ScanConfig()
	require.NoError(t, err)

	assert.Equal(t, scanner.Fin, cfg.Technique)
	assert.Equal(t, 32, cfg.Threads)
	assert.Equal(t, 2*time.Second, cfg.Timeout)
	assert.EqualValues(t, 500, cfg.RateLimit)
	assert.Equal(t, 1, cfg.MaxRetries)
	assert.False(t, cfg.Fallback)
	assert.Equal(t, 2, cfg.ConfirmOpenAttempts)
	assert.Equal(t, 10*time.Millisecond, cfg.ConfirmDelay)

	_, err = ScanSettings{Technique: "ping"}.ScanConfig()
	require.Error(t, err)
}
