// Package config loads depsrag settings from defaults, depsrag.yaml and
// DEPSRAG_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Mohannadcse/DepsRAG/errors"
	"github.com/Mohannadcse/DepsRAG/llm"
)

// Config holds all configuration for a depsrag session.
type Config struct {
	LLM       llm.ProviderConfig `mapstructure:"llm"`
	Graph     GraphConfig        `mapstructure:"graph"`
	Search    SearchConfig       `mapstructure:"search"`
	HTTP      HTTPConfig         `mapstructure:"http"`
	Cache     CacheConfig        `mapstructure:"cache"`
	Protocol  ProtocolConfig     `mapstructure:"protocol"`
	Visualize VisualizeConfig    `mapstructure:"visualize"`
	Report    ReportConfig       `mapstructure:"report"`
	Telemetry TelemetryConfig    `mapstructure:"telemetry"`
	Log       LogConfig          `mapstructure:"log"`
}

// GraphConfig selects the dependency graph backend.
type GraphConfig struct {
	// Backend is "sqlite" or "neo4j". Neo4j secrets come from credentials.toml.
	Backend string `mapstructure:"backend"`
	// Path is the sqlite database file (":memory:" for a throwaway graph).
	Path string `mapstructure:"path"`
	// FetchWorkers bounds concurrent deps.dev fetches while expanding.
	FetchWorkers int `mapstructure:"fetch_workers"`
}

// SearchConfig configures the web search used by the RetrievalAgent.
type SearchConfig struct {
	// Provider is "auto", "brave", "tavily" or "duckduckgo".
	Provider   string        `mapstructure:"provider"`
	Cooldown   time.Duration `mapstructure:"cooldown"`
	NumResults int           `mapstructure:"num_results"`
}

// HTTPConfig holds outbound API settings.
type HTTPConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	DepsDevURL string        `mapstructure:"depsdev_url"`
	OSVURL     string        `mapstructure:"osv_url"`
	// RequestsPerMinute limits calls to each external API.
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
}

// CacheConfig sizes the HTTP response cache.
type CacheConfig struct {
	MaxCost int64         `mapstructure:"max_cost"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// ProtocolConfig holds the conversation bounds.
type ProtocolConfig struct {
	MaxCriticRounds     int  `mapstructure:"max_critic_rounds"`
	FallbackLimit       int  `mapstructure:"fallback_limit"`
	MaxQueryCorrections int  `mapstructure:"max_query_corrections"`
	MaxTurns            int  `mapstructure:"max_turns"`
	Interactive         bool `mapstructure:"interactive"`
}

// VisualizeConfig controls where dependency graph pages are written.
type VisualizeConfig struct {
	OutputDir string `mapstructure:"output_dir"`
	// HostPath replaces OutputDir in returned file:// links, for
	// containers whose output dir is mounted elsewhere on the host.
	HostPath string `mapstructure:"host_path"`
}

// ReportConfig selects the iteration report sink.
type ReportConfig struct {
	Sink string `mapstructure:"sink"` // json, sqlite or none
	Path string `mapstructure:"path"`
}

// TelemetryConfig configures tracing and transcripts.
type TelemetryConfig struct {
	Endpoint   string `mapstructure:"endpoint"`
	Protocol   string `mapstructure:"protocol"`
	Insecure   bool   `mapstructure:"insecure"`
	Debug      bool   `mapstructure:"debug"`
	Transcript string `mapstructure:"transcript"` // file path for the JSONL transcript
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration with precedence (highest first):
//  1. DEPSRAG_* environment variables (DEPSRAG_LLM_MODEL, DEPSRAG_GRAPH_BACKEND, ...)
//  2. depsrag.yaml in the working directory
//  3. depsrag.yaml in the user config dir
//  4. Built-in defaults
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("depsrag")
	v.SetConfigType("yaml")
	v.AddConfigPath(UserConfigDir())
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.WrapWithCode(err, errors.ErrCodeConfigInvalid, "reading user config")
		}
	}

	if _, err := os.Stat("depsrag.yaml"); err == nil {
		project := viper.New()
		project.SetConfigFile("depsrag.yaml")
		if err := project.ReadInConfig(); err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrCodeConfigInvalid, "reading depsrag.yaml")
		}
		if err := v.MergeConfigMap(project.AllSettings()); err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrCodeConfigInvalid, "merging depsrag.yaml")
		}
	}

	return decode(v)
}

// LoadFromPath loads configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeConfigInvalid, fmt.Sprintf("reading config from %s", path))
	}
	return decode(v)
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		panic(err) // defaults are static
	}
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("DEPSRAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeConfigInvalid, "unmarshaling config")
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = llm.InferProviderFromModel(cfg.LLM.Model)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.provider", "")
	v.SetDefault("llm.model", "gpt-4o")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.retry.max_retries", 5)
	v.SetDefault("llm.retry.init_backoff", "1s")
	v.SetDefault("llm.retry.max_backoff", "60s")

	v.SetDefault("graph.backend", "sqlite")
	v.SetDefault("graph.path", "depsrag.db")
	v.SetDefault("graph.fetch_workers", 8)

	v.SetDefault("search.provider", "auto")
	v.SetDefault("search.cooldown", "500ms")
	v.SetDefault("search.num_results", 3)

	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.depsdev_url", "https://api.deps.dev/v3")
	v.SetDefault("http.osv_url", "https://api.osv.dev/v1")
	v.SetDefault("http.requests_per_minute", 600)

	v.SetDefault("cache.max_cost", 1<<26)
	v.SetDefault("cache.ttl", "1h")

	v.SetDefault("protocol.max_critic_rounds", 9)
	v.SetDefault("protocol.fallback_limit", 3)
	v.SetDefault("protocol.max_query_corrections", 5)
	v.SetDefault("protocol.max_turns", 200)
	v.SetDefault("protocol.interactive", true)

	v.SetDefault("visualize.output_dir", ".")
	v.SetDefault("visualize.host_path", "")

	v.SetDefault("report.sink", "json")
	v.SetDefault("report.path", "iterations.json")

	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.protocol", "grpc")
	v.SetDefault("telemetry.insecure", false)
	v.SetDefault("telemetry.debug", false)
	v.SetDefault("telemetry.transcript", "")

	v.SetDefault("log.level", "info")
}

// Validate rejects settings the session cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Graph.Backend {
	case "sqlite", "neo4j":
	default:
		errs = append(errs, fmt.Errorf("graph.backend must be sqlite or neo4j, got %q", c.Graph.Backend))
	}
	switch c.Search.Provider {
	case "auto", "brave", "tavily", "duckduckgo":
	default:
		errs = append(errs, fmt.Errorf("search.provider %q is not supported", c.Search.Provider))
	}
	switch c.Report.Sink {
	case "json", "sqlite", "none":
	default:
		errs = append(errs, fmt.Errorf("report.sink must be json, sqlite or none, got %q", c.Report.Sink))
	}
	if c.Protocol.MaxCriticRounds < 0 {
		errs = append(errs, fmt.Errorf("protocol.max_critic_rounds must be >= 0"))
	}
	if c.Protocol.FallbackLimit < 1 {
		errs = append(errs, fmt.Errorf("protocol.fallback_limit must be >= 1"))
	}
	if c.Protocol.MaxQueryCorrections < 0 {
		errs = append(errs, fmt.Errorf("protocol.max_query_corrections must be >= 0"))
	}
	if c.Protocol.MaxTurns < 1 {
		errs = append(errs, fmt.Errorf("protocol.max_turns must be >= 1"))
	}
	if c.Graph.FetchWorkers < 1 {
		errs = append(errs, fmt.Errorf("graph.fetch_workers must be >= 1"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.WrapWithCode(errors.Join(errs...), errors.ErrCodeConfigInvalid, "invalid configuration")
}

// UserConfigDir returns the per-user config directory for depsrag.
func UserConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "depsrag")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "depsrag")
	}
	return filepath.Join(home, ".config", "depsrag")
}
