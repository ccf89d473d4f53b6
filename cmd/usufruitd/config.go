package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eflynch/usufruit/pkg/embed"
	"github.com/eflynch/usufruit/pkg/search"
	"github.com/eflynch/usufruit/pkg/store"
)

// envPrefix prefixes every environment override.
const envPrefix = "USUFRUIT_"

// Config is the server configuration. Values are resolved in the order
// flag > environment > YAML file > built-in default.
type Config struct {
	Listen    string `yaml:"listen"`
	DB        string `yaml:"db"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Semantic      bool          `yaml:"semantic"`
	Threshold     float64       `yaml:"threshold"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	CacheBound    int           `yaml:"cache_max_entries"`
	BackfillBatch int           `yaml:"backfill_batch"`
	MinEmbedded   int           `yaml:"min_embedded"`

	Embedder        string        `yaml:"embedder"`
	EmbedderURL     string        `yaml:"embedder_url"`
	EmbedderModel   string        `yaml:"embedder_model"`
	EmbedderKey     string        `yaml:"embedder_key"`
	EmbedderDims    int           `yaml:"embedder_dimensions"`
	EmbedderTimeout time.Duration `yaml:"embedder_timeout"`

	QueueWorkers     int `yaml:"queue_workers"`
	QueueCapacity    int `yaml:"queue_capacity"`
	QueueMaxAttempts int `yaml:"queue_max_attempts"`

	Syslog       bool   `yaml:"syslog"`
	SyslogSocket string `yaml:"syslog_socket"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Listen:           ":8080",
		DB:               store.DefaultPath(),
		LogLevel:         "info",
		LogFormat:        "text",
		Semantic:         true,
		Threshold:        search.DefaultThreshold,
		CacheTTL:         search.DefaultCacheTTL,
		CacheBound:       search.DefaultCacheBound,
		BackfillBatch:    search.DefaultBackfillBatch,
		MinEmbedded:      search.DefaultMinEmbedded,
		Embedder:         "hash",
		EmbedderModel:    "all-MiniLM-L6-v2",
		EmbedderDims:     embed.DefaultDimensions,
		EmbedderTimeout:  5 * time.Second,
		QueueWorkers:     2,
		QueueCapacity:    256,
		QueueMaxAttempts: 3,
		SyslogSocket:     "/dev/log",
		ShutdownTimeout:  10 * time.Second,
	}
}

// binding ties a config field to its flag and environment variable.
type binding struct {
	name  string
	usage string
	field func(*Config) any
}

func (b binding) env() string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(b.name, "-", "_"))
}

var bindings = []binding{
	{"listen", "HTTP listen address", func(c *Config) any { return &c.Listen }},
	{"db", "SQLite database path", func(c *Config) any { return &c.DB }},
	{"log-level", "log level (debug, info, warn, error)", func(c *Config) any { return &c.LogLevel }},
	{"log-format", "log format (text, json)", func(c *Config) any { return &c.LogFormat }},
	{"semantic", "enable semantic search", func(c *Config) any { return &c.Semantic }},
	{"threshold", "minimum cosine similarity for semantic matches", func(c *Config) any { return &c.Threshold }},
	{"cache-ttl", "semantic result cache lifetime", func(c *Config) any { return &c.CacheTTL }},
	{"cache-max-entries", "cache size above which expired entries are purged", func(c *Config) any { return &c.CacheBound }},
	{"backfill-batch", "books embedded per lazy backfill", func(c *Config) any { return &c.BackfillBatch }},
	{"min-embedded", "backfill runs while fewer books are embedded", func(c *Config) any { return &c.MinEmbedded }},
	{"embedder", "embedding backend (hash, http)", func(c *Config) any { return &c.Embedder }},
	{"embedder-url", "base URL of the embedding service", func(c *Config) any { return &c.EmbedderURL }},
	{"embedder-model", "model name sent to the embedding service", func(c *Config) any { return &c.EmbedderModel }},
	{"embedder-key", "API key for the embedding service", func(c *Config) any { return &c.EmbedderKey }},
	{"embedder-dimensions", "embedding vector length", func(c *Config) any { return &c.EmbedderDims }},
	{"embedder-timeout", "per-call embedding timeout", func(c *Config) any { return &c.EmbedderTimeout }},
	{"queue-workers", "concurrent embedding workers", func(c *Config) any { return &c.QueueWorkers }},
	{"queue-capacity", "pending embedding jobs before new ones are dropped", func(c *Config) any { return &c.QueueCapacity }},
	{"queue-max-attempts", "tries per embedding job", func(c *Config) any { return &c.QueueMaxAttempts }},
	{"syslog", "mirror audit events to syslog", func(c *Config) any { return &c.Syslog }},
	{"syslog-socket", "syslog socket path", func(c *Config) any { return &c.SyslogSocket }},
	{"shutdown-timeout", "grace period for in-flight requests", func(c *Config) any { return &c.ShutdownTimeout }},
}

// LoadConfig resolves configuration from args, the environment (via
// getenv) and an optional YAML file named by -config or USUFRUIT_CONFIG.
func LoadConfig(args []string, getenv func(string) string, output io.Writer) (Config, error) {
	fs := flag.NewFlagSet("usufruitd", flag.ContinueOnError)
	fs.SetOutput(output)

	flagged := DefaultConfig()
	configPath := fs.String("config", "", "YAML configuration file")
	showVersion := fs.Bool("version", false, "print version and exit")
	for _, b := range bindings {
		switch p := b.field(&flagged).(type) {
		case *string:
			fs.StringVar(p, b.name, *p, b.usage)
		case *bool:
			fs.BoolVar(p, b.name, *p, b.usage)
		case *int:
			fs.IntVar(p, b.name, *p, b.usage)
		case *float64:
			fs.Float64Var(p, b.name, *p, b.usage)
		case *time.Duration:
			fs.DurationVar(p, b.name, *p, b.usage)
		}
	}
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if *showVersion {
		return Config{}, errShowVersion
	}

	cfg := DefaultConfig()

	path := *configPath
	if path == "" {
		path = getenv(envPrefix + "CONFIG")
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	for _, b := range bindings {
		raw := getenv(b.env())
		if raw == "" {
			continue
		}
		if err := setFromString(b.field(&cfg), raw); err != nil {
			return Config{}, fmt.Errorf("%s: %w", b.env(), err)
		}
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	for _, b := range bindings {
		if set[b.name] {
			copyField(b.field(&cfg), b.field(&flagged))
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// errShowVersion asks main to print the version and exit.
var errShowVersion = errors.New("version requested")

func loadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func setFromString(field any, raw string) error {
	switch p := field.(type) {
	case *string:
		*p = raw
	case *bool:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		*p = v
	case *int:
		v, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		*p = v
	case *float64:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		*p = v
	case *time.Duration:
		v, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		*p = v
	}
	return nil
}

func copyField(dst, src any) {
	switch d := dst.(type) {
	case *string:
		*d = *src.(*string)
	case *bool:
		*d = *src.(*bool)
	case *int:
		*d = *src.(*int)
	case *float64:
		*d = *src.(*float64)
	case *time.Duration:
		*d = *src.(*time.Duration)
	}
}

// Validate checks values that have no sensible fallback.
func (c Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address is required")
	}
	if c.DB == "" {
		return errors.New("database path is required")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", c.LogFormat)
	}
	if c.Threshold <= 0 || c.Threshold > 1 {
		return fmt.Errorf("threshold must be in (0, 1], got %v", c.Threshold)
	}
	switch c.Embedder {
	case "hash":
	case "http":
		if c.EmbedderURL == "" {
			return errors.New("embedder-url is required for the http embedder")
		}
	default:
		return fmt.Errorf("unknown embedder %q (want hash or http)", c.Embedder)
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	return lvl, nil
}

// NewLogger builds the process logger.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	lvl, _ := c.Level()
	opts := &slog.HandlerOptions{Level: lvl}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
