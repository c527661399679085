package media

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/nugget/tubeblog/internal/failure"
)

// DefaultMaxChars bounds transcript length when no limit is configured.
const DefaultMaxChars = 100000

// Transcript sources.
const (
	SourceSubtitles   = "subtitles"
	SourceDescription = "description"
	SourceEmpty       = "empty"
)

// Transcript is the normalized text extracted from a video.
type Transcript struct {
	Text    string `json:"text"`
	Title   string `json:"title"`
	Source  string `json:"source"`
	VideoID string `json:"video_id,omitempty"`
}

// ExtractorConfig configures an [Extractor].
type ExtractorConfig struct {
	// WorkDir is the parent of per-call scratch directories. Empty
	// means the OS temp directory.
	WorkDir string

	// Languages is the subtitle preference order used to pick between
	// several downloaded tracks.
	Languages []string

	// MaxChars is the default length limit, used when Extract is
	// called with maxChars <= 0.
	MaxChars int
}

// Extractor produces a [Transcript] from a video URL.
type Extractor struct {
	fetcher   Fetcher
	workDir   string
	languages []string
	maxChars  int
	logger    *slog.Logger
}

// NewExtractor creates an Extractor backed by f.
func NewExtractor(f Fetcher, cfg ExtractorConfig, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = DefaultLanguages
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = DefaultMaxChars
	}
	return &Extractor{
		fetcher:   f,
		workDir:   cfg.WorkDir,
		languages: cfg.Languages,
		maxChars:  cfg.MaxChars,
		logger:    logger,
	}
}

// Extract fetches rawURL and returns its transcript. A subtitle track,
// when one was written, is used even if it parses to nothing; otherwise
// the video description is used. A video with neither yields
// an empty transcript, not an error.
//
// Each call works in its own scratch directory, so concurrent calls for
// the same video never touch each other's subtitle files. Everything
// written there is removed before Extract returns, on every path.
//
// Text longer than maxChars runes fails with [failure.LengthExceeded].
// maxChars <= 0 selects the configured default.
func (e *Extractor) Extract(ctx context.Context, rawURL string, maxChars int) (*Transcript, error) {
	const op = "extract"

	if strings.TrimSpace(rawURL) == "" {
		return nil, failure.Errorf(failure.InputMissing, op, "url is required")
	}
	if maxChars <= 0 {
		maxChars = e.maxChars
	}

	if e.workDir != "" {
		if err := os.MkdirAll(e.workDir, 0o755); err != nil {
			return nil, failure.New(failure.Extraction, op, fmt.Errorf("create work dir: %w", err))
		}
	}
	dir, err := os.MkdirTemp(e.workDir, "tubeblog-*")
	if err != nil {
		return nil, failure.New(failure.Extraction, op, fmt.Errorf("create scratch dir: %w", err))
	}

	var candidates []string
	defer func() {
		for _, path := range candidates {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				e.logger.Warn("failed to remove subtitle file", "path", path, "error", err)
			}
		}
		if err := os.RemoveAll(dir); err != nil {
			e.logger.Warn("failed to remove scratch dir", "path", dir, "error", err)
		}
	}()

	meta, err := e.fetcher.Fetch(ctx, rawURL, dir, true)
	if err != nil {
		if failure.KindOf(err) == failure.Unknown {
			err = failure.New(failure.Extraction, op, err)
		}
		return nil, err
	}

	videoID := meta.ID
	if videoID == "" {
		return nil, failure.Errorf(failure.Extraction, op, "no video id for %s", rawURL)
	}

	candidates, err = subtitleFiles(dir, videoID, e.languages)
	if err != nil {
		return nil, failure.New(failure.Extraction, op, err)
	}

	t := &Transcript{
		Title:   meta.Title,
		VideoID: videoID,
	}
	if t.Title == "" {
		t.Title = DefaultTitle
	}

	if len(candidates) > 0 {
		raw, err := os.ReadFile(candidates[0])
		if err != nil {
			return nil, failure.New(failure.Extraction, op, fmt.Errorf("read subtitle file: %w", err))
		}
		t.Text = ParseVTT(string(raw))
		t.Source = SourceSubtitles
		e.logger.Debug("parsed subtitles",
			"video_id", videoID,
			"file", filepath.Base(candidates[0]),
			"tracks", len(candidates),
			"raw_bytes", len(raw),
		)
	}

	if len(candidates) == 0 {
		t.Text = strings.TrimSpace(meta.Description)
		t.Source = SourceDescription
		if t.Text == "" {
			t.Source = SourceEmpty
		}
	}

	if n := utf8.RuneCountInString(t.Text); n > maxChars {
		return nil, failure.New(failure.LengthExceeded, op, &failure.LengthError{Limit: maxChars, Length: n})
	}

	e.logger.Info("transcript extracted",
		"url", rawURL,
		"video_id", videoID,
		"source", t.Source,
		"chars", utf8.RuneCountInString(t.Text),
	)
	return t, nil
}

// subtitleFiles returns the <id>*.vtt files in dir ordered by language
// preference, then filename.
func subtitleFiles(dir, videoID string, languages []string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, escapeGlob(videoID)+"*.vtt"))
	if err != nil {
		return nil, fmt.Errorf("list subtitle files: %w", err)
	}

	rank := func(path string) int {
		lang := subtitleLanguage(filepath.Base(path), videoID)
		for i, want := range languages {
			if lang == want || strings.HasPrefix(lang, want+"-") {
				return i
			}
		}
		return len(languages)
	}

	slices.SortFunc(matches, func(a, b string) int {
		return cmp.Or(cmp.Compare(rank(a), rank(b)), strings.Compare(a, b))
	})
	return matches, nil
}

// subtitleLanguage extracts "en" from "<id>.en.vtt".
func subtitleLanguage(name, videoID string) string {
	name = strings.TrimSuffix(strings.TrimPrefix(name, videoID), ".vtt")
	return strings.TrimPrefix(name, ".")
}

// escapeGlob quotes filepath.Match metacharacters.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
