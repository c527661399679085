package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFindConfig(t *testing.T) {
	dir := t.TempDir()
	explicit := filepath.Join(dir, "tubeblog.yaml")
	if err := os.WriteFile(explicit, []byte("listen:\n  port: 9999\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Run("explicit path", func(t *testing.T) {
		got, err := FindConfig(explicit)
		if err != nil || got != explicit {
			t.Errorf("FindConfig(%q) = %q, %v", explicit, got, err)
		}
	})

	t.Run("explicit path missing", func(t *testing.T) {
		_, err := FindConfig(filepath.Join(dir, "absent.yaml"))
		if err == nil {
			t.Fatal("want error for missing explicit path")
		}
		if errors.Is(err, ErrNoConfig) {
			t.Error("missing explicit path must not be ErrNoConfig")
		}
	})

	t.Run("working directory", func(t *testing.T) {
		cwd := t.TempDir()
		if err := os.WriteFile(filepath.Join(cwd, "config.yaml"), []byte("{}\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		t.Chdir(cwd)
		if got, err := FindConfig(""); err != nil || got != "config.yaml" {
			t.Errorf("FindConfig(\"\") = %q, %v; want config.yaml", got, err)
		}
	})

	t.Run("nothing found", func(t *testing.T) {
		if _, err := os.Stat("/etc/tubeblog/config.yaml"); err == nil {
			t.Skip("system config present")
		}
		t.Chdir(t.TempDir())
		t.Setenv("HOME", t.TempDir())
		if _, err := FindConfig(""); !errors.Is(err, ErrNoConfig) {
			t.Errorf("FindConfig(\"\") err = %v, want ErrNoConfig", err)
		}
	})
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "data_dir: /var/lib/tubeblog\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Listen.Port != DefaultPort {
		t.Errorf("Listen.Port = %d, want %d", cfg.Listen.Port, DefaultPort)
	}
	if cfg.Media.MaxTranscriptChars != 100000 {
		t.Errorf("MaxTranscriptChars = %d, want 100000", cfg.Media.MaxTranscriptChars)
	}
	if got := strings.Join(cfg.Media.SubtitleLanguages, ","); got != "es,en" {
		t.Errorf("SubtitleLanguages = %q, want %q", got, "es,en")
	}
	if cfg.Generation.Model != "llama-3.3-70b-versatile" {
		t.Errorf("Generation.Model = %q", cfg.Generation.Model)
	}
	if cfg.Generation.Temperature == nil || *cfg.Generation.Temperature != 0.7 {
		t.Errorf("Generation.Temperature = %v, want 0.7", cfg.Generation.Temperature)
	}
	if cfg.Generation.MaxTokens != 4000 {
		t.Errorf("Generation.MaxTokens = %d, want 4000", cfg.Generation.MaxTokens)
	}
	if cfg.Generation.BaseURL != DefaultGroqBaseURL {
		t.Errorf("Generation.BaseURL = %q, want %q", cfg.Generation.BaseURL, DefaultGroqBaseURL)
	}
	if cfg.Database.Driver != "sqlite3" {
		t.Errorf("Database.Driver = %q, want sqlite3", cfg.Database.Driver)
	}
	if want := filepath.Join("/var/lib/tubeblog", "tubeblog.db"); cfg.Database.DSN != want {
		t.Errorf("Database.DSN = %q, want %q", cfg.Database.DSN, want)
	}
	if cfg.Auth.CookieName != "access_token" {
		t.Errorf("Auth.CookieName = %q, want access_token", cfg.Auth.CookieName)
	}
	if cfg.Auth.SessionTTL != 24*time.Hour {
		t.Errorf("Auth.SessionTTL = %v, want 24h", cfg.Auth.SessionTTL)
	}
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("TUBEBLOG_TEST_KEY", "gsk-secret")

	cfg, err := Load(writeConfig(t, "generation:\n  api_key: ${TUBEBLOG_TEST_KEY}\n  timeout: 45s\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Generation.APIKey != "gsk-secret" {
		t.Errorf("APIKey = %q, want %q", cfg.Generation.APIKey, "gsk-secret")
	}
	if cfg.Generation.Timeout != 45*time.Second {
		t.Errorf("Timeout = %v, want 45s", cfg.Generation.Timeout)
	}
	if !cfg.Generation.Configured() {
		t.Error("Configured() = false, want true")
	}
}

func TestLoad_ZeroTemperatureKept(t *testing.T) {
	cfg, err := Load(writeConfig(t, "generation:\n  temperature: 0\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Generation.Temperature == nil || *cfg.Generation.Temperature != 0 {
		t.Errorf("Generation.Temperature = %v, want explicit 0", cfg.Generation.Temperature)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad provider", "generation:\n  provider: cohere\n", "generation.provider"},
		{"bad log level", "log_level: loud\n", "unknown log level"},
		{"bad log format", "log_format: xml\n", "log_format"},
		{"pgx without dsn", "database:\n  driver: pgx\n", "database.dsn"},
		{"bad driver", "database:\n  driver: mysql\n", "database.driver"},
		{"bad temperature", "generation:\n  temperature: 3.5\n", "temperature"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("Load() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestGenerationConfigured(t *testing.T) {
	if (GenerationConfig{Provider: "openai"}).Configured() {
		t.Error("openai without key should not be configured")
	}
	if !(GenerationConfig{Provider: "ollama"}).Configured() {
		t.Error("ollama without key should be configured")
	}
}
