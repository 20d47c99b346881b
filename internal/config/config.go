package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/previewd/internal/logger"
	"github.com/loykin/previewd/internal/metrics"
	"github.com/loykin/previewd/internal/present"
	"github.com/spf13/viper"
)

const (
	// DefaultCommand and DefaultSubcommand invoke quarto's live preview
	// when the [tool] table is absent.
	DefaultCommand    = "quarto"
	DefaultSubcommand = "preview"

	// DefaultListen and DefaultBasePath are used when a [server] table
	// omits them.
	DefaultListen   = "127.0.0.1:8710"
	DefaultBasePath = "/api"
)

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Env      []string `toml:"env" mapstructure:"env"`
	EnvFiles []string `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv bool     `toml:"use_os_env" mapstructure:"use_os_env"`

	Tool         ToolConfig         `toml:"tool" mapstructure:"tool"`
	Presentation PresentationConfig `toml:"presentation" mapstructure:"presentation"`
	Server       *ServerConfig      `toml:"server" mapstructure:"server"`
	Log          *LogConfig         `toml:"log" mapstructure:"log"`
	Metrics      *MetricsConfig     `toml:"metrics" mapstructure:"metrics"`
	History      []HistoryConfig    `toml:"history" mapstructure:"history"`
}

// ToolConfig describes how the preview tool is invoked. The document path
// is placed after Subcommand; Args follow the document path.
type ToolConfig struct {
	Command    string        `toml:"command" mapstructure:"command"`
	Subcommand string        `toml:"subcommand" mapstructure:"subcommand"`
	Args       []string      `toml:"args" mapstructure:"args"`
	Env        []string      `toml:"env" mapstructure:"env"`
	UsePTY     bool          `toml:"use_pty" mapstructure:"use_pty"`
	Timeout    time.Duration `toml:"timeout" mapstructure:"timeout"`
	StopGrace  time.Duration `toml:"stop_grace" mapstructure:"stop_grace"`
}

type PresentationConfig struct {
	Mode string `toml:"mode" mapstructure:"mode"`
}

type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
	LockFile string `toml:"lock_file" mapstructure:"lock_file"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	Color      bool   `toml:"color" mapstructure:"color"`
	Dir        string `toml:"dir" mapstructure:"dir"`
	Stdout     string `toml:"stdout" mapstructure:"stdout"`
	Stderr     string `toml:"stderr" mapstructure:"stderr"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type MetricsConfig struct {
	Enabled bool                  `toml:"enabled" mapstructure:"enabled"`
	Listen  string                `toml:"listen" mapstructure:"listen"`
	Sampler metrics.SamplerConfig `toml:"sampler" mapstructure:"sampler"`
}

type HistoryConfig struct {
	Type  string `toml:"type" mapstructure:"type"`
	DSN   string `toml:"dsn" mapstructure:"dsn"`
	Table string `toml:"table" mapstructure:"table"`
}

// Config is the resolved form handed to the daemon: file contents with
// defaults applied and the global environment flattened into KEY=VALUE pairs.
type Config struct {
	GlobalEnv    []string
	Tool         ToolConfig
	Presentation PresentationConfig
	Server       *ServerConfig
	Log          *LogConfig
	Metrics      *MetricsConfig
	History      []HistoryConfig
}

// Load reads and validates a previewd TOML config file.
func Load(path string) (*Config, error) {
	fc, err := readFile(path)
	if err != nil {
		return nil, err
	}
	if err := fc.validate(); err != nil {
		return nil, err
	}
	genv, err := resolveGlobalEnv(fc)
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		GlobalEnv:    genv,
		Tool:         fc.Tool,
		Presentation: fc.Presentation,
		Server:       fc.Server,
		Log:          fc.Log,
		Metrics:      fc.Metrics,
		History:      fc.History,
	}
	cfg.applyDefaults()
	return cfg, nil
}

func readFile(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	return &fc, nil
}

func (fc *FileConfig) validate() error {
	if fc.Tool.Timeout < 0 {
		return fmt.Errorf("tool timeout must not be negative: %s", fc.Tool.Timeout)
	}
	if fc.Tool.StopGrace < 0 {
		return fmt.Errorf("tool stop_grace must not be negative: %s", fc.Tool.StopGrace)
	}
	switch fc.Presentation.Mode {
	case "", present.ModeEmbedded, present.ModeExternal:
	default:
		return fmt.Errorf("unknown presentation mode %q", fc.Presentation.Mode)
	}
	if fc.Log != nil {
		switch fc.Log.Level {
		case "", "debug", "info", "warn", "error":
		default:
			return fmt.Errorf("unknown log level %q", fc.Log.Level)
		}
		switch fc.Log.Format {
		case "", "text", "json":
		default:
			return fmt.Errorf("unknown log format %q", fc.Log.Format)
		}
	}
	if fc.Server != nil && fc.Server.BasePath != "" && !strings.HasPrefix(fc.Server.BasePath, "/") {
		return fmt.Errorf("server base_path must start with /: %q", fc.Server.BasePath)
	}
	for i, h := range fc.History {
		if _, err := h.SinkDSN(); err != nil {
			return fmt.Errorf("history entry %d: %w", i, err)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Tool.Command == "" {
		c.Tool.Command = DefaultCommand
		// only default the subcommand alongside the command: a custom
		// tool may take the document path directly
		if c.Tool.Subcommand == "" {
			c.Tool.Subcommand = DefaultSubcommand
		}
	}
	if c.Presentation.Mode == "" {
		c.Presentation.Mode = present.ModeEmbedded
	}
	if c.Server != nil {
		if c.Server.Listen == "" {
			c.Server.Listen = DefaultListen
		}
		if c.Server.BasePath == "" {
			c.Server.BasePath = DefaultBasePath
		}
	}
}

// LoggerConfig maps the [log] table onto the logger package's config.
func (c *Config) LoggerConfig() logger.Config {
	var lc logger.Config
	lc.Slog.TimeStamps = true
	if c.Log == nil {
		return lc
	}
	lc.Slog.Level = logger.Level(c.Log.Level)
	lc.Slog.Format = logger.Format(c.Log.Format)
	lc.Slog.Color = c.Log.Color
	lc.File = logger.FileConfig{
		Dir:        c.Log.Dir,
		StdoutPath: c.Log.Stdout,
		StderrPath: c.Log.Stderr,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
	}
	return lc
}

// SinkDSN returns the DSN understood by the history factory for this entry.
// The type selects the scheme; table/index names given separately are folded
// into the DSN when it does not already carry one.
func (h HistoryConfig) SinkDSN() (string, error) {
	dsn := strings.TrimSpace(h.DSN)
	if dsn == "" {
		return "", fmt.Errorf("history type %q requires dsn", h.Type)
	}
	switch strings.ToLower(h.Type) {
	case "sqlite":
		return dsn, nil
	case "postgres", "postgresql":
		return dsn, nil
	case "clickhouse":
		if !strings.Contains(dsn, "://") {
			dsn = "clickhouse://" + dsn
		}
		if h.Table != "" && !strings.Contains(dsn, "table=") {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn += sep + "table=" + h.Table
		}
		return dsn, nil
	case "opensearch", "elasticsearch":
		if !strings.Contains(dsn, "://") {
			dsn = strings.ToLower(h.Type) + "://" + dsn
		}
		if h.Table != "" {
			u, err := url.Parse(dsn)
			if err != nil {
				return "", fmt.Errorf("history dsn %q: %w", h.DSN, err)
			}
			if strings.Trim(u.Path, "/") == "" {
				dsn = strings.TrimRight(dsn, "/") + "/" + h.Table
			}
		}
		return dsn, nil
	default:
		return "", fmt.Errorf("unknown history type %q", h.Type)
	}
}

// resolveGlobalEnv merges env sources from the file config. Precedence: OS
// env (when use_os_env) provides the base; env_files apply next in order;
// the top-level env list overrides last.
func resolveGlobalEnv(fc *FileConfig) ([]string, error) {
	m := make(map[string]string)
	if fc.UseOSEnv {
		for _, kv := range os.Environ() {
			if i := strings.IndexByte(kv, '='); i >= 0 {
				m[kv[:i]] = kv[i+1:]
			}
		}
	}
	for _, p := range fc.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range fc.Env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// LoadEnvFile parses a simple .env file and returns a slice of "KEY=VALUE" entries.
func LoadEnvFile(path string) ([]string, error) {
	m, err := loadEnvFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	// Mitigate G304: sanitize user-provided path by cleaning it before use.
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			m[k] = v
		}
	}
	return m, nil
}
