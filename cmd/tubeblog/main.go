// Tubeblog turns a YouTube video into a Markdown blog post.
//
// It pulls subtitles (or, failing that, the description) with yt-dlp,
// sends the transcript to a text-generation provider, and either
// prints the result or serves it through a small authenticated HTTP
// API that stores posts per user. Configuration is loaded from a
// single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	tubeblog serve                 Start the API server
//	tubeblog init [dir]            Write an example config.yaml
//	tubeblog generate <url>        Print a blog post for one video
//	tubeblog transcript <url>      Print the extracted transcript only
//	tubeblog version               Print version and build information
//	tubeblog -o json generate <url>  Output as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nugget/tubeblog/internal/api"
	"github.com/nugget/tubeblog/internal/auth"
	"github.com/nugget/tubeblog/internal/buildinfo"
	"github.com/nugget/tubeblog/internal/config"
	"github.com/nugget/tubeblog/internal/connwatch"
	"github.com/nugget/tubeblog/internal/events"
	"github.com/nugget/tubeblog/internal/generate"
	"github.com/nugget/tubeblog/internal/llm"
	"github.com/nugget/tubeblog/internal/media"
	"github.com/nugget/tubeblog/internal/mqtt"
	"github.com/nugget/tubeblog/internal/pipeline"
	"github.com/nugget/tubeblog/internal/store"
)

// main constructs the OS-level environment (context, stdio, argv) and
// delegates to [run], keeping os.Exit and os.Args out of the
// application logic.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the tubeblog command. Arguments are
// parsed by hand; the flag package's globals get in the way of
// calling run from parallel tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "generate":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: tubeblog generate <url>")
		}
		return runGenerate(ctx, stdout, stderr, configPath, outputFmt, cmdArgs[0])
	case "transcript":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: tubeblog transcript <url>")
		}
		return runTranscript(ctx, stdout, stderr, configPath, outputFmt, cmdArgs[0])
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Get()
	if outputFmt == "json" {
		return writeJSON(w, info)
	}
	fmt.Fprintln(w, info)
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Tubeblog - YouTube video to blog post")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: tubeblog [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve             Start the API server")
	fmt.Fprintln(w, "  init [dir]        Write an example config.yaml (default: .)")
	fmt.Fprintln(w, "  generate <url>    Generate a blog post for one video")
	fmt.Fprintln(w, "  transcript <url>  Extract a video's transcript")
	fmt.Fprintln(w, "  version           Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/tubeblog/config.yaml, /etc/tubeblog/config.yaml")
	fmt.Fprintln(w, "  Without a config file, generate and transcript use defaults and GROQ_API_KEY.")
	return nil
}

// runGenerate handles "tubeblog generate <url>". The post goes to
// stdout; logs go to stderr so the output can be redirected to a file.
func runGenerate(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt, rawURL string) error {
	cfg, err := loadConfigOrDefault(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(stderr, configuredLevel(cfg), cfg.LogFormat)

	coord, _, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	article, err := coord.Run(ctx, rawURL)
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}

	if outputFmt == "json" {
		return writeJSON(stdout, article)
	}
	fmt.Fprintln(stdout, article.Content)
	return nil
}

// runTranscript handles "tubeblog transcript <url>". It runs extraction
// only and needs no provider credentials.
func runTranscript(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt, rawURL string) error {
	cfg, err := loadConfigOrDefault(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(stderr, configuredLevel(cfg), cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	t, err := newExtractor(cfg, logger).Extract(ctx, rawURL, cfg.Media.MaxTranscriptChars)
	if err != nil {
		return fmt.Errorf("transcript: %w", err)
	}

	if outputFmt == "json" {
		return writeJSON(stdout, t)
	}
	fmt.Fprintln(stdout, t.Text)
	return nil
}

// runServe handles "tubeblog serve". It opens the store, wires the
// pipeline behind the HTTP API, optionally forwards events to MQTT,
// and blocks until SIGINT or SIGTERM.
//
// Shutdown order:
//  1. The signal cancels ctx
//  2. MQTT publishes "offline" and disconnects
//  3. The HTTP server drains in-flight requests
//  4. The store closes via defer
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	info := buildinfo.Get()
	logger.Info("starting tubeblog", "version", info.Version, "commit", info.GitCommit, "branch", info.GitBranch, "built", info.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger = newLogger(stdout, configuredLevel(cfg), cfg.LogFormat)

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"provider", cfg.Generation.Provider,
		"model", cfg.Generation.Model,
		"database", cfg.Database.Driver,
	)
	if !cfg.Generation.Configured() {
		logger.Warn("generation provider has no API key; generate-blog requests will fail")
	}

	// --- Data directory ---
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	// --- Store ---
	st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer st.Close()
	logger.Info("database opened", "driver", cfg.Database.Driver)

	// --- Pipeline ---
	coord, client, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bus := events.New()

	// --- MQTT ---
	var mqttPub *mqtt.Publisher
	if cfg.MQTT.Configured() {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("mqtt instance ID: %w", err)
		}
		mqttPub = mqtt.New(cfg.MQTT, instanceID, bus, logger)
		go func() {
			if err := mqttPub.Start(ctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()
		logger.Info("mqtt publishing enabled", "broker", cfg.MQTT.Broker, "topic_prefix", cfg.MQTT.TopicPrefix)
	} else {
		logger.Info("mqtt publishing disabled (not configured)")
	}

	// --- Dependency health ---
	health := watchDependencies(ctx, st, client, mqttPub, bus, logger)
	defer health.Stop()

	// --- Session cleanup ---
	go sweepSessions(ctx, st, time.Hour, logger)

	// --- API server ---
	am := auth.NewManager(st, auth.Config{
		CookieName: cfg.Auth.CookieName,
		SessionTTL: cfg.Auth.SessionTTL,
		Secure:     cfg.Auth.CookieSecure,
	}, logger)
	server := api.NewServer(api.Config{
		Address:  cfg.Listen.Address,
		Port:     cfg.Listen.Port,
		Provider: cfg.Generation.Provider,
		Model:    cfg.Generation.Model,
		Pricing:  cfg.Pricing,
	}, st, am, coord, bus, logger)
	server.SetHealth(health)

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received", "events_dropped", bus.Dropped())

		if mqttPub != nil {
			offlineCtx, offlineCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer offlineCancel()
			if err := mqttPub.Stop(offlineCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("tubeblog stopped")
	return nil
}

// watchDependencies starts a connwatch probe for the database, the
// generation provider, and (when configured) the MQTT broker.
// Transitions are published on the bus.
func watchDependencies(ctx context.Context, st *store.Store, client llm.Client, mqttPub *mqtt.Publisher, bus *events.Bus, logger *slog.Logger) *connwatch.Manager {
	m := connwatch.NewManager(logger)
	onChange := func(name string, ready bool, err error) {
		if ready {
			bus.Emit(events.SourceConnwatch, events.KindServiceUp, map[string]any{"service": name})
			return
		}
		bus.Emit(events.SourceConnwatch, events.KindServiceDown, map[string]any{
			"service": name,
			"error":   err.Error(),
		})
	}

	m.Watch(ctx, connwatch.WatcherConfig{
		Name:     "database",
		Probe:    st.Ping,
		OnChange: onChange,
	})
	m.Watch(ctx, connwatch.WatcherConfig{
		Name:         "llm",
		Probe:        client.Ping,
		PollInterval: 5 * time.Minute,
		OnChange:     onChange,
	})
	if mqttPub != nil {
		m.Watch(ctx, connwatch.WatcherConfig{
			Name: "mqtt",
			Probe: func(ctx context.Context) error {
				ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
				defer cancel()
				return mqttPub.AwaitConnection(ctx)
			},
			OnChange: onChange,
		})
	}
	return m
}

// sweepSessions deletes expired sessions every interval until ctx ends.
func sweepSessions(ctx context.Context, st *store.Store, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := st.DeleteExpiredSessions(ctx)
			if err != nil {
				logger.Warn("session sweep failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug("expired sessions removed", "count", n)
			}
		}
	}
}

// buildPipeline wires extractor, provider client, and generator into a
// coordinator. The client is returned for health probing.
func buildPipeline(cfg *config.Config, logger *slog.Logger) (*pipeline.Coordinator, llm.Client, error) {
	client, err := createLLMClient(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	gen := generate.New(client, generate.Config{
		Model:       cfg.Generation.Model,
		Temperature: cfg.Generation.Temperature,
		MaxTokens:   cfg.Generation.MaxTokens,
		Timeout:     cfg.Generation.Timeout,
	}, logger)

	return pipeline.New(newExtractor(cfg, logger), gen, pipeline.Config{
		MaxTranscriptChars: cfg.Media.MaxTranscriptChars,
		Timeout:            cfg.Pipeline.Timeout,
	}, logger), client, nil
}

func newExtractor(cfg *config.Config, logger *slog.Logger) *media.Extractor {
	fetcher := media.NewYtDlp(media.YtDlpConfig{
		Path:        cfg.Media.YtDlpPath,
		CookiesFile: cfg.Media.CookiesFile,
		Languages:   cfg.Media.SubtitleLanguages,
	}, logger)
	return media.NewExtractor(fetcher, media.ExtractorConfig{
		WorkDir:   cfg.Media.WorkDir,
		Languages: cfg.Media.SubtitleLanguages,
		MaxChars:  cfg.Media.MaxTranscriptChars,
	}, logger)
}

// createLLMClient builds the provider client named by
// generation.provider.
func createLLMClient(cfg *config.Config, logger *slog.Logger) (llm.Client, error) {
	g := cfg.Generation
	switch g.Provider {
	case "openai":
		logger.Info("LLM client initialized", "provider", g.Provider, "base_url", g.BaseURL, "model", g.Model, "fallback_keys", len(g.FallbackAPIKeys))
		return llm.NewOpenAIClient(g.BaseURL, g.APIKey, g.FallbackAPIKeys, logger), nil
	case "anthropic":
		logger.Info("LLM client initialized", "provider", g.Provider, "model", g.Model)
		return llm.NewAnthropicClient(g.APIKey, logger), nil
	case "ollama":
		baseURL := g.BaseURL
		if baseURL == "" {
			baseURL = llm.DefaultOllamaURL
		}
		logger.Info("LLM client initialized", "provider", g.Provider, "base_url", baseURL, "model", g.Model)
		return llm.NewOllamaClient(baseURL, logger), nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q", g.Provider)
	}
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Any format other than "json" means text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// configuredLevel returns cfg's log level. Load has already validated
// it, so a parse error falls back to Info.
func configuredLevel(cfg *config.Config) slog.Level {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used and must exist.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// loadConfigOrDefault is loadConfig for the one-shot commands: with no
// explicit path and no file on the search path it falls back to
// [config.Default].
func loadConfigOrDefault(explicit string) (*config.Config, error) {
	cfg, _, err := loadConfig(explicit)
	if err == nil {
		return cfg, nil
	}
	if explicit != "" || !errors.Is(err, config.ErrNoConfig) {
		return nil, err
	}
	return config.Default(), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
