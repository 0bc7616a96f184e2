package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/hupe1980/storymesh/logging"
)

// Prefix is prepended to every environment key.
const Prefix = "STORYMESH_"

// Supported providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config is the complete runtime configuration.
type Config struct {
	Model   Model
	Gateway Gateway
	Engine  Engine
	Server  Server
}

// Model selects and parameterizes the generation endpoint.
type Model struct {
	APIKey    string `env:"API_KEY"`
	Provider  string `env:"PROVIDER" envDefault:"openai"`
	BaseURL   string `env:"BASE_URL" envDefault:"https://openrouter.ai/api/v1"`
	Name      string `env:"MODEL" envDefault:"gryphe/mythomax-l2-13b:extended"`
	MaxTokens int    `env:"MAX_TOKENS" envDefault:"500"`
}

// Gateway bounds calls to the generation endpoint.
type Gateway struct {
	MaxPending     int64         `env:"MAX_PENDING" envDefault:"20"`
	MaxConcurrent  int64         `env:"MAX_CONCURRENT" envDefault:"5"`
	AdmissionWait  time.Duration `env:"ADMISSION_WAIT" envDefault:"10s"`
	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" envDefault:"30s"`
	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT" envDefault:"30s"`
	ReadTimeout    time.Duration `env:"READ_TIMEOUT" envDefault:"60s"`
}

// Engine paces conversations.
type Engine struct {
	ResponseDelay   time.Duration `env:"RESPONSE_DELAY" envDefault:"2s"`
	ThinkingDelay   time.Duration `env:"THINKING_DELAY" envDefault:"3s"`
	AmbientStep     time.Duration `env:"AMBIENT_STEP" envDefault:"3s"`
	AmbientCooldown time.Duration `env:"AMBIENT_COOLDOWN" envDefault:"30s"`
	LoreCooldown    time.Duration `env:"LORE_COOLDOWN" envDefault:"60s"`
	ChatEnabled     bool          `env:"CHAT_ENABLED" envDefault:"true"`
	AmbientEnabled  bool          `env:"AMBIENT_ENABLED" envDefault:"true"`
	// GeneralContexts are world-flavor lines prepended to every prompt.
	GeneralContexts []string `env:"GENERAL_CONTEXTS" envSeparator:","`
}

// Server holds storage, HTTP and observability settings.
type Server struct {
	DataDir      string `env:"DATA_DIR" envDefault:"./data"`
	LoreDir      string `env:"LORE_DIR" envDefault:"./data/lore"`
	WatchLore    bool   `env:"WATCH_LORE" envDefault:"true"`
	HTTPAddr     string `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat    string `env:"LOG_FORMAT" envDefault:"json"`
	OTelEndpoint string `env:"OTEL_ENDPOINT"`
}

// Load reads the given .env files, or ./.env when none are given, and parses
// the environment. A missing default .env file is not an error.
func Load(paths ...string) (Config, error) {
	if len(paths) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load .env: %w", err)
		}
	} else if err := godotenv.Load(paths...); err != nil {
		return Config{}, fmt.Errorf("load env files: %w", err)
	}
	return Parse()
}

// Parse reads the configuration from the process environment only.
func Parse() (Config, error) {
	return parse(env.Options{Prefix: Prefix})
}

// ParseMap reads the configuration from vars, which are given without the
// prefix.
func ParseMap(vars map[string]string) (Config, error) {
	environ := make(map[string]string, len(vars))
	for k, v := range vars {
		environ[Prefix+k] = v
	}
	return parse(env.Options{Prefix: Prefix, Environment: environ})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	for i, c := range cfg.Engine.GeneralContexts {
		cfg.Engine.GeneralContexts[i] = strings.TrimSpace(c)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	switch c.Model.Provider {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		errs = append(errs, fmt.Errorf("provider %q is not one of %s, %s", c.Model.Provider, ProviderOpenAI, ProviderAnthropic))
	}
	if c.Model.BaseURL != "" {
		if u, err := url.Parse(c.Model.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("base url %q is not absolute", c.Model.BaseURL))
		}
	}
	if c.Model.Name == "" {
		errs = append(errs, errors.New("model is required"))
	}
	if c.Model.MaxTokens <= 0 {
		errs = append(errs, errors.New("max tokens must be positive"))
	}

	if c.Gateway.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("max concurrent must be positive"))
	}
	if c.Gateway.MaxPending < c.Gateway.MaxConcurrent {
		errs = append(errs, fmt.Errorf("max pending (%d) must be at least max concurrent (%d)", c.Gateway.MaxPending, c.Gateway.MaxConcurrent))
	}
	for name, d := range map[string]time.Duration{
		"admission wait":   c.Gateway.AdmissionWait,
		"connect timeout":  c.Gateway.ConnectTimeout,
		"write timeout":    c.Gateway.WriteTimeout,
		"read timeout":     c.Gateway.ReadTimeout,
		"response delay":   c.Engine.ResponseDelay,
		"thinking delay":   c.Engine.ThinkingDelay,
		"ambient step":     c.Engine.AmbientStep,
		"ambient cooldown": c.Engine.AmbientCooldown,
		"lore cooldown":    c.Engine.LoreCooldown,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}

	if _, err := logging.ParseLevel(c.Server.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.Server.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log format %q is not one of json, text", c.Server.LogFormat))
	}
	if c.Server.HTTPAddr == "" {
		errs = append(errs, errors.New("http addr is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
