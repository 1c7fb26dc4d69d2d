package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the search client configuration.
type Config struct {
	ReferenceFile string `env:"TMSEARCH_REFERENCE_FILE" envDefault:"data/id_manual.json"`

	CacheURL     string `env:"TMSEARCH_CACHE_URL"`
	Token        string `env:"TMSEARCH_TOKEN"`
	TokenCommand string `env:"TMSEARCH_TOKEN_COMMAND"`

	USPTOCommand string `env:"TMSEARCH_USPTO_COMMAND"`
	MGSCommand   string `env:"TMSEARCH_MGS_COMMAND"`
	CancelFile   string `env:"TMSEARCH_CANCEL_FILE"`

	StalenessWindow time.Duration `env:"TMSEARCH_STALENESS_WINDOW" envDefault:"720h"`
	TokenTimeout    time.Duration `env:"TMSEARCH_TOKEN_TIMEOUT"    envDefault:"10s"`
	CacheTimeout    time.Duration `env:"TMSEARCH_CACHE_TIMEOUT"    envDefault:"15s"`
	AITimeout       time.Duration `env:"TMSEARCH_AI_TIMEOUT"       envDefault:"60s"`

	LLMModel        string `env:"TMSEARCH_LLM_MODEL"`
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`

	OTELEndpoint string `env:"TMSEARCH_OTEL_ENDPOINT"`
}

// ServerConfig configures the match cache backend.
type ServerConfig struct {
	Addr         string   `env:"MATCH_CACHE_ADDR"   envDefault:":8090"`
	DBPath       string   `env:"MATCH_CACHE_DB"     envDefault:"match-cache.db"`
	Tokens       []string `env:"MATCH_CACHE_TOKENS" envSeparator:","`
	OTELEndpoint string   `env:"TMSEARCH_OTEL_ENDPOINT"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if strings.TrimSpace(cfg.CancelFile) == "" {
		cfg.CancelFile = filepath.Join(os.TempDir(), "tmsearch_cancel_search.tmp")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	for name, d := range map[string]time.Duration{
		"TMSEARCH_STALENESS_WINDOW": c.StalenessWindow,
		"TMSEARCH_TOKEN_TIMEOUT":    c.TokenTimeout,
		"TMSEARCH_CACHE_TIMEOUT":    c.CacheTimeout,
		"TMSEARCH_AI_TIMEOUT":       c.AITimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	return nil
}

func LoadServer() (ServerConfig, error) {
	var cfg ServerConfig
	if err := ParseEnv(&cfg); err != nil {
		return ServerConfig{}, err
	}
	tokens := cfg.Tokens[:0]
	for _, tok := range cfg.Tokens {
		if tok = strings.TrimSpace(tok); tok != "" {
			tokens = append(tokens, tok)
		}
	}
	cfg.Tokens = tokens
	if strings.TrimSpace(cfg.DBPath) == "" {
		return ServerConfig{}, fmt.Errorf("MATCH_CACHE_DB is required")
	}
	return cfg, nil
}
