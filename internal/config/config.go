package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultListenAddr        = ":8080"
	defaultAuthHeader        = "X-Build-Token"
	defaultServiceName       = "_diagforge._tcp"
	defaultWorkerTimeout     = 2 * time.Hour
	defaultTokenCacheSize    = 10_000
	defaultPatternCacheSize  = 256
	defaultMaxResponseTokens = 25_000
	defaultMetadataReserve   = 1_000
	defaultBufferCeiling     = 10_000
	defaultOutputCeiling     = 1_000
	defaultMatchTimeout      = 100 * time.Millisecond
)

// Config controls server behavior. Values are layered: defaults, then the
// TOML file named by DIAGFORGE_CONFIG, then DIAGFORGE_* environment variables.
type Config struct {
	ListenAddr string
	BaseDir    string

	Token      string
	AuthHeader string
	Allowlist  []string

	DiscoveryEnabled bool
	ServiceName      string

	// BuildCommand is run once per target with {target} substituted.
	BuildCommand   []string
	DefaultTargets []string
	// WorkspaceDir is where the build command runs. Diagnostic paths under it
	// are reported relative to it.
	WorkspaceDir  string
	WorkerTimeout time.Duration
	StopOnFailure bool

	Limits Limits
}

type Limits struct {
	TokenCacheSize    int
	PatternCacheSize  int
	MaxResponseTokens int
	MetadataReserve   int
	BufferCeiling     int
	OutputCeiling     int
	MatchTimeout      time.Duration
}

func Default() Config {
	return Config{
		ListenAddr:       defaultListenAddr,
		AuthHeader:       defaultAuthHeader,
		DiscoveryEnabled: true,
		ServiceName:      defaultServiceName,
		WorkerTimeout:    defaultWorkerTimeout,
		Limits: Limits{
			TokenCacheSize:    defaultTokenCacheSize,
			PatternCacheSize:  defaultPatternCacheSize,
			MaxResponseTokens: defaultMaxResponseTokens,
			MetadataReserve:   defaultMetadataReserve,
			BufferCeiling:     defaultBufferCeiling,
			OutputCeiling:     defaultOutputCeiling,
			MatchTimeout:      defaultMatchTimeout,
		},
	}
}

// fileConfig mirrors the TOML layout. Pointer fields distinguish "unset" from
// zero values.
type fileConfig struct {
	Server struct {
		ListenAddr       *string  `toml:"listen_addr"`
		BaseDir          *string  `toml:"base_dir"`
		Token            *string  `toml:"token"`
		AuthHeader       *string  `toml:"auth_header"`
		Allowlist        []string `toml:"allowlist"`
		DiscoveryEnabled *bool    `toml:"discovery"`
		ServiceName      *string  `toml:"service_name"`
	} `toml:"server"`
	Build struct {
		Command        []string `toml:"command"`
		DefaultTargets []string `toml:"default_targets"`
		WorkspaceDir   *string  `toml:"workspace_dir"`
		WorkerTimeout  *string  `toml:"worker_timeout"`
		StopOnFailure  *bool    `toml:"stop_on_failure"`
	} `toml:"build"`
	Limits struct {
		TokenCacheSize    *int    `toml:"token_cache_size"`
		PatternCacheSize  *int    `toml:"pattern_cache_size"`
		MaxResponseTokens *int    `toml:"max_response_tokens"`
		MetadataReserve   *int    `toml:"metadata_reserve"`
		BufferCeiling     *int    `toml:"buffer_ceiling"`
		OutputCeiling     *int    `toml:"output_ceiling"`
		MatchTimeout      *string `toml:"match_timeout"`
	} `toml:"limits"`
}

func FromEnv() (Config, error) {
	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("DIAGFORGE_CONFIG")); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return Config{}, err
		}
	}

	cfg.ListenAddr = getEnv("DIAGFORGE_LISTEN_ADDR", cfg.ListenAddr)
	cfg.BaseDir = getEnv("DIAGFORGE_BASE_DIR", cfg.BaseDir)
	cfg.Token = getEnv("DIAGFORGE_TOKEN", cfg.Token)
	cfg.AuthHeader = getEnv("DIAGFORGE_AUTH_HEADER", cfg.AuthHeader)
	if v := parseCSV(os.Getenv("DIAGFORGE_ALLOWLIST")); v != nil {
		cfg.Allowlist = v
	}
	cfg.ServiceName = getEnv("DIAGFORGE_SERVICE_NAME", cfg.ServiceName)
	if v := strings.TrimSpace(os.Getenv("DIAGFORGE_BUILD_COMMAND")); v != "" {
		cfg.BuildCommand = strings.Fields(v)
	}
	if v := parseCSV(os.Getenv("DIAGFORGE_TARGETS")); v != nil {
		cfg.DefaultTargets = v
	}
	cfg.WorkspaceDir = getEnv("DIAGFORGE_WORKSPACE_DIR", cfg.WorkspaceDir)

	var err error
	if cfg.DiscoveryEnabled, err = envBool("DIAGFORGE_DISCOVERY", cfg.DiscoveryEnabled); err != nil {
		return Config{}, err
	}
	if cfg.StopOnFailure, err = envBool("DIAGFORGE_STOP_ON_FAILURE", cfg.StopOnFailure); err != nil {
		return Config{}, err
	}
	if cfg.WorkerTimeout, err = envDuration("DIAGFORGE_WORKER_TIMEOUT", cfg.WorkerTimeout); err != nil {
		return Config{}, err
	}
	if cfg.Limits.MatchTimeout, err = envDuration("DIAGFORGE_MATCH_TIMEOUT", cfg.Limits.MatchTimeout); err != nil {
		return Config{}, err
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"DIAGFORGE_TOKEN_CACHE_SIZE", &cfg.Limits.TokenCacheSize},
		{"DIAGFORGE_PATTERN_CACHE_SIZE", &cfg.Limits.PatternCacheSize},
		{"DIAGFORGE_MAX_RESPONSE_TOKENS", &cfg.Limits.MaxResponseTokens},
		{"DIAGFORGE_METADATA_RESERVE", &cfg.Limits.MetadataReserve},
		{"DIAGFORGE_BUFFER_CEILING", &cfg.Limits.BufferCeiling},
		{"DIAGFORGE_OUTPUT_CEILING", &cfg.Limits.OutputCeiling},
	}
	for _, e := range ints {
		if *e.dst, err = envInt(e.key, *e.dst); err != nil {
			return Config{}, err
		}
	}

	return cfg, cfg.Validate()
}

// LoadFile overlays the TOML file at path onto c.
func (c *Config) LoadFile(path string) error {
	var file fileConfig
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	s := file.Server
	setString(&c.ListenAddr, s.ListenAddr)
	setString(&c.BaseDir, s.BaseDir)
	setString(&c.Token, s.Token)
	setString(&c.AuthHeader, s.AuthHeader)
	setString(&c.ServiceName, s.ServiceName)
	if s.Allowlist != nil {
		c.Allowlist = s.Allowlist
	}
	if s.DiscoveryEnabled != nil {
		c.DiscoveryEnabled = *s.DiscoveryEnabled
	}

	b := file.Build
	if len(b.Command) > 0 {
		c.BuildCommand = b.Command
	}
	if b.DefaultTargets != nil {
		c.DefaultTargets = b.DefaultTargets
	}
	setString(&c.WorkspaceDir, b.WorkspaceDir)
	if b.StopOnFailure != nil {
		c.StopOnFailure = *b.StopOnFailure
	}
	if b.WorkerTimeout != nil {
		d, err := time.ParseDuration(*b.WorkerTimeout)
		if err != nil {
			return fmt.Errorf("parse build.worker_timeout: %w", err)
		}
		c.WorkerTimeout = d
	}

	l := file.Limits
	setInt(&c.Limits.TokenCacheSize, l.TokenCacheSize)
	setInt(&c.Limits.PatternCacheSize, l.PatternCacheSize)
	setInt(&c.Limits.MaxResponseTokens, l.MaxResponseTokens)
	setInt(&c.Limits.MetadataReserve, l.MetadataReserve)
	setInt(&c.Limits.BufferCeiling, l.BufferCeiling)
	setInt(&c.Limits.OutputCeiling, l.OutputCeiling)
	if l.MatchTimeout != nil {
		d, err := time.ParseDuration(*l.MatchTimeout)
		if err != nil {
			return fmt.Errorf("parse limits.match_timeout: %w", err)
		}
		c.Limits.MatchTimeout = d
	}
	return nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseDir) == "" {
		return errors.New("base dir is required")
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		return errors.New("listen addr is required")
	}
	if strings.TrimSpace(c.AuthHeader) == "" {
		return errors.New("auth header is required")
	}
	if c.DiscoveryEnabled && strings.TrimSpace(c.ServiceName) == "" {
		return errors.New("service name is required when discovery is enabled")
	}
	if c.WorkerTimeout <= 0 {
		return errors.New("worker timeout must be > 0")
	}
	for _, target := range c.DefaultTargets {
		if strings.TrimSpace(target) == "" {
			return errors.New("default targets cannot contain empty names")
		}
	}
	if err := c.Limits.validate(); err != nil {
		return err
	}
	for _, entry := range c.Allowlist {
		if err := validateAllowEntry(entry); err != nil {
			return err
		}
	}
	return nil
}

func (l Limits) validate() error {
	switch {
	case l.TokenCacheSize <= 0:
		return errors.New("token cache size must be > 0")
	case l.PatternCacheSize <= 0:
		return errors.New("pattern cache size must be > 0")
	case l.MaxResponseTokens <= 0:
		return errors.New("max response tokens must be > 0")
	case l.MetadataReserve < 0 || l.MetadataReserve >= l.MaxResponseTokens:
		return errors.New("metadata reserve must be >= 0 and below max response tokens")
	case l.BufferCeiling <= 0:
		return errors.New("buffer ceiling must be > 0")
	case l.OutputCeiling <= 0:
		return errors.New("output ceiling must be > 0")
	case l.MatchTimeout <= 0:
		return errors.New("match timeout must be > 0")
	}
	return nil
}

func (c Config) JobsDir() string {
	return filepath.Join(c.BaseDir, "jobs")
}

func (c Config) WorkDir() string {
	if c.WorkspaceDir != "" {
		return c.WorkspaceDir
	}
	return filepath.Join(c.BaseDir, "work")
}

func (c Config) ArtifactsDir() string {
	return filepath.Join(c.BaseDir, "artifacts")
}

func (c Config) AllowlistEnabled() bool {
	return len(c.Allowlist) > 0
}

func getEnv(k, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return fallback
}

func envInt(k string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", k, err)
	}
	return n, nil
}

func envBool(k string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", k, err)
	}
	return b, nil
}

func envDuration(k string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", k, err)
	}
	return d, nil
}

func setString(dst *string, v *string) {
	if v != nil && strings.TrimSpace(*v) != "" {
		*dst = strings.TrimSpace(*v)
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func parseCSV(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func validateAllowEntry(entry string) error {
	if entry == "" {
		return errors.New("allowlist entry cannot be empty")
	}
	if strings.Contains(entry, "/") {
		if _, _, err := net.ParseCIDR(entry); err != nil {
			return fmt.Errorf("invalid allowlist cidr %q: %w", entry, err)
		}
		return nil
	}
	if ip := net.ParseIP(entry); ip == nil {
		return fmt.Errorf("invalid allowlist ip %q", entry)
	}
	return nil
}
