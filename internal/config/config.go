// Package config handles tubeblog configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [Config.applyDefaults].
const (
	DefaultPort               = 8000
	DefaultMaxTranscriptChars = 100000
	DefaultModel              = "llama-3.3-70b-versatile"
	DefaultTemperature        = 0.7
	DefaultMaxTokens          = 4000
	DefaultGroqBaseURL        = "https://api.groq.com/openai/v1"
	DefaultCookieName         = "access_token"
	DefaultSessionTTL         = 24 * time.Hour
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/tubeblog/config.yaml, /etc/tubeblog/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "tubeblog", "config.yaml"))
	}

	paths = append(paths, "/etc/tubeblog/config.yaml")
	return paths
}

// ErrNoConfig is returned by [FindConfig] when no explicit path is
// given and none of the search paths exist.
var ErrNoConfig = errors.New("no config file found")

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w (searched: %v)", ErrNoConfig, DefaultSearchPaths())
}

// Config holds all tubeblog configuration.
type Config struct {
	Listen     ListenConfig            `yaml:"listen"`
	DataDir    string                  `yaml:"data_dir"`
	LogLevel   string                  `yaml:"log_level"`
	LogFormat  string                  `yaml:"log_format"` // "text" (default) or "json"
	Media      MediaConfig             `yaml:"media"`
	Generation GenerationConfig        `yaml:"generation"`
	Pipeline   PipelineConfig          `yaml:"pipeline"`
	Database   DatabaseConfig          `yaml:"database"`
	Auth       AuthConfig              `yaml:"auth"`
	MQTT       MQTTConfig              `yaml:"mqtt"`
	Pricing    map[string]PricingEntry `yaml:"pricing"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// MediaConfig controls transcript extraction via yt-dlp.
type MediaConfig struct {
	// YtDlpPath is the path to the yt-dlp binary. If empty, the binary
	// is located via exec.LookPath at startup.
	YtDlpPath string `yaml:"yt_dlp_path"`

	// CookiesFile is an optional Netscape-format cookie file passed to
	// yt-dlp for age- or region-restricted videos.
	CookiesFile string `yaml:"cookies_file"`

	// SubtitleLanguages is the preferred subtitle language order.
	// Default: ["es", "en"].
	SubtitleLanguages []string `yaml:"subtitle_languages"`

	// MaxTranscriptChars is the hard upper bound on transcript length.
	// Longer transcripts fail the run rather than being truncated.
	MaxTranscriptChars int `yaml:"max_transcript_chars"`

	// WorkDir is the parent directory for per-run scratch directories.
	// Empty means the OS temp directory.
	WorkDir string `yaml:"work_dir"`
}

// GenerationConfig configures the text-generation provider.
type GenerationConfig struct {
	// Provider is one of "openai" (any OpenAI-compatible endpoint,
	// including Groq), "anthropic", or "ollama". Default: "openai".
	Provider        string   `yaml:"provider"`
	Model           string   `yaml:"model"`
	APIKey          string   `yaml:"api_key"`
	FallbackAPIKeys []string `yaml:"fallback_api_keys"`
	BaseURL         string   `yaml:"base_url"`
	// Temperature is a pointer so an explicit 0 survives defaulting.
	Temperature *float64      `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Configured reports whether enough is set to call a hosted provider.
// Ollama runs locally and needs no key.
func (g GenerationConfig) Configured() bool {
	return g.Provider == "ollama" || g.APIKey != ""
}

// PipelineConfig bounds a single generation run.
type PipelineConfig struct {
	// Timeout caps extraction plus generation. Zero means no limit
	// beyond the caller's context.
	Timeout time.Duration `yaml:"timeout"`
}

// DatabaseConfig selects the post store backend.
type DatabaseConfig struct {
	// Driver is "sqlite3" (default, cgo), "sqlite" (pure Go), or "pgx".
	Driver string `yaml:"driver"`
	// DSN is the data source name. For SQLite drivers an empty DSN
	// means <data_dir>/tubeblog.db.
	DSN string `yaml:"dsn"`
}

// AuthConfig controls session cookies.
type AuthConfig struct {
	CookieName   string        `yaml:"cookie_name"`
	SessionTTL   time.Duration `yaml:"session_ttl"`
	CookieSecure bool          `yaml:"cookie_secure"`
}

// MQTTConfig defines the optional event publisher.
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // e.g. mqtt://host:1883 or mqtts://host:8883
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`
}

// Configured reports whether a broker is set.
func (m MQTTConfig) Configured() bool {
	return m.Broker != ""
}

// PricingEntry is the per-million-token price of a model in USD.
type PricingEntry struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a default configuration. The generation API key is
// read from GROQ_API_KEY so that CLI one-shots work without a file.
func Default() *Config {
	cfg := &Config{
		Generation: GenerationConfig{APIKey: os.Getenv("GROQ_API_KEY")},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = DefaultPort
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}

	if len(c.Media.SubtitleLanguages) == 0 {
		c.Media.SubtitleLanguages = []string{"es", "en"}
	}
	if c.Media.MaxTranscriptChars == 0 {
		c.Media.MaxTranscriptChars = DefaultMaxTranscriptChars
	}

	g := &c.Generation
	if g.Provider == "" {
		g.Provider = "openai"
	}
	if g.Model == "" {
		g.Model = DefaultModel
	}
	if g.BaseURL == "" && g.Provider == "openai" {
		g.BaseURL = DefaultGroqBaseURL
	}
	if g.Temperature == nil {
		t := DefaultTemperature
		g.Temperature = &t
	}
	if g.MaxTokens == 0 {
		g.MaxTokens = DefaultMaxTokens
	}
	if g.Timeout == 0 {
		g.Timeout = 2 * time.Minute
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite3"
	}
	if c.Database.DSN == "" && c.Database.Driver != "pgx" {
		c.Database.DSN = filepath.Join(c.DataDir, "tubeblog.db")
	}

	if c.Auth.CookieName == "" {
		c.Auth.CookieName = DefaultCookieName
	}
	if c.Auth.SessionTTL == 0 {
		c.Auth.SessionTTL = DefaultSessionTTL
	}

	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "tubeblog"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "tubeblog"
	}
}

// Validate checks the configuration for values that would fail at
// runtime. It is called by [Load] after defaults are applied.
func (c *Config) Validate() error {
	var problems []string

	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		problems = append(problems, fmt.Sprintf("listen.port %d out of range", c.Listen.Port))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		problems = append(problems, fmt.Sprintf("log_format %q (valid: text, json)", c.LogFormat))
	}
	if c.Media.MaxTranscriptChars < 0 {
		problems = append(problems, "media.max_transcript_chars must not be negative")
	}

	switch c.Generation.Provider {
	case "openai", "anthropic", "ollama":
	default:
		problems = append(problems, fmt.Sprintf("generation.provider %q (valid: openai, anthropic, ollama)", c.Generation.Provider))
	}
	if t := c.Generation.Temperature; t != nil && (*t < 0 || *t > 2) {
		problems = append(problems, fmt.Sprintf("generation.temperature %v out of range [0, 2]", *t))
	}
	if c.Generation.MaxTokens < 0 {
		problems = append(problems, "generation.max_tokens must not be negative")
	}

	switch c.Database.Driver {
	case "sqlite3", "sqlite":
	case "pgx":
		if c.Database.DSN == "" {
			problems = append(problems, "database.dsn is required for the pgx driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("database.driver %q (valid: sqlite3, sqlite, pgx)", c.Database.Driver))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
