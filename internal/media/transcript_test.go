package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/nugget/tubeblog/internal/failure"
)

// fakeFetcher writes the configured subtitle files into the scratch dir
// and returns fixed metadata.
type fakeFetcher struct {
	meta      *VideoMetadata
	subtitles map[string]string // filename -> content
	err       error

	mu   sync.Mutex
	dirs []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL, dir string, wantSubtitles bool) (*VideoMetadata, error) {
	f.mu.Lock()
	f.dirs = append(f.dirs, dir)
	f.mu.Unlock()

	if wantSubtitles {
		for name, content := range f.subtitles {
			if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
				return nil, err
			}
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := *f.meta
	return &m, nil
}

func newTestExtractor(t *testing.T, f Fetcher) (*Extractor, string) {
	t.Helper()
	work := t.TempDir()
	return NewExtractor(f, ExtractorConfig{WorkDir: work}, nil), work
}

// assertNoArtifacts checks that the work dir is empty and no subtitle
// file for id survives anywhere under it.
func assertNoArtifacts(t *testing.T, work, id string) {
	t.Helper()
	entries, err := os.ReadDir(work)
	if err != nil {
		t.Fatalf("read work dir: %v", err)
	}
	if len(entries) != 0 {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("work dir not cleaned up: %v", names)
	}
	matches, _ := filepath.Glob(filepath.Join(work, "*", id+"*.vtt"))
	if len(matches) != 0 {
		t.Errorf("subtitle files left behind: %v", matches)
	}
}

func TestExtract_Subtitles(t *testing.T) {
	f := &fakeFetcher{
		meta:      &VideoMetadata{ID: "abc123", Title: "Go Concurrency", Description: "ignored"},
		subtitles: map[string]string{"abc123.en.vtt": rollingVTT},
	}
	e, work := newTestExtractor(t, f)

	got, err := e.Extract(context.Background(), "https://youtu.be/abc123", 0)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.Text != "Hello Hello world" {
		t.Errorf("Text = %q", got.Text)
	}
	if got.Title != "Go Concurrency" {
		t.Errorf("Title = %q", got.Title)
	}
	if got.Source != SourceSubtitles {
		t.Errorf("Source = %q, want %q", got.Source, SourceSubtitles)
	}
	if got.VideoID != "abc123" {
		t.Errorf("VideoID = %q", got.VideoID)
	}
	assertNoArtifacts(t, work, "abc123")
}

func TestExtract_PrefersLanguageOrder(t *testing.T) {
	f := &fakeFetcher{
		meta: &VideoMetadata{ID: "vid", Title: "T"},
		subtitles: map[string]string{
			"vid.de.vtt":     "WEBVTT\n\nGuten Tag\n",
			"vid.en.vtt":     "WEBVTT\n\nGood day\n",
			"vid.es-419.vtt": "WEBVTT\n\nBuen día\n",
		},
	}
	e, work := newTestExtractor(t, f)

	got, err := e.Extract(context.Background(), "https://youtu.be/vid", 0)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.Text != "Buen día" {
		t.Errorf("Text = %q, want the es track", got.Text)
	}
	assertNoArtifacts(t, work, "vid")
}

func TestExtract_UnrankedTracksOrderedByName(t *testing.T) {
	f := &fakeFetcher{
		meta: &VideoMetadata{ID: "vid", Title: "T"},
		subtitles: map[string]string{
			"vid.fr.vtt": "WEBVTT\n\nBonjour\n",
			"vid.de.vtt": "WEBVTT\n\nHallo\n",
		},
	}
	e, _ := newTestExtractor(t, f)

	got, err := e.Extract(context.Background(), "https://youtu.be/vid", 0)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.Text != "Hallo" {
		t.Errorf("Text = %q, want the lexicographically first track", got.Text)
	}
}

func TestExtract_FallbackChain(t *testing.T) {
	tests := []struct {
		name       string
		meta       VideoMetadata
		subtitles  map[string]string
		wantText   string
		wantSource string
		wantTitle  string
	}{
		{
			name:       "description when no subtitles",
			meta:       VideoMetadata{ID: "abc123", Title: "Talk", Description: "Hello world"},
			wantText:   "Hello world",
			wantSource: SourceDescription,
			wantTitle:  "Talk",
		},
		{
			name:       "empty when neither",
			meta:       VideoMetadata{ID: "abc123", Title: "Talk"},
			wantText:   "",
			wantSource: SourceEmpty,
			wantTitle:  "Talk",
		},
		{
			name:       "subtitles that parse empty win over description",
			meta:       VideoMetadata{ID: "abc123", Title: "Talk", Description: "from description"},
			subtitles:  map[string]string{"abc123.en.vtt": "WEBVTT\n\n00:00:00.000 --> 00:00:01.000\n<c>only markup</c>\n"},
			wantText:   "",
			wantSource: SourceSubtitles,
			wantTitle:  "Talk",
		},
		{
			name:       "placeholder title",
			meta:       VideoMetadata{ID: "abc123", Description: "text"},
			wantText:   "text",
			wantSource: SourceDescription,
			wantTitle:  DefaultTitle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta := tt.meta
			e, work := newTestExtractor(t, &fakeFetcher{meta: &meta, subtitles: tt.subtitles})

			got, err := e.Extract(context.Background(), "https://youtu.be/abc123", 0)
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if got.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", got.Text, tt.wantText)
			}
			if got.Source != tt.wantSource {
				t.Errorf("Source = %q, want %q", got.Source, tt.wantSource)
			}
			if got.Title != tt.wantTitle {
				t.Errorf("Title = %q, want %q", got.Title, tt.wantTitle)
			}
			assertNoArtifacts(t, work, "abc123")
		})
	}
}

func TestExtract_LengthGate(t *testing.T) {
	const limit = 20

	tests := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{"under limit", strings.Repeat("a", limit-1), false},
		{"exactly limit", strings.Repeat("a", limit), false},
		{"one over", strings.Repeat("a", limit+1), true},
		{"multibyte counted as characters", strings.Repeat("ñ", limit), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeFetcher{
				meta:      &VideoMetadata{ID: "len", Title: "T"},
				subtitles: map[string]string{"len.en.vtt": "WEBVTT\n\n" + tt.text + "\n"},
			}
			e, work := newTestExtractor(t, f)

			got, err := e.Extract(context.Background(), "https://youtu.be/len", limit)
			assertNoArtifacts(t, work, "len")

			if !tt.wantErr {
				if err != nil {
					t.Fatalf("Extract: %v", err)
				}
				if got.Text != tt.text {
					t.Errorf("Text truncated or altered: %q", got.Text)
				}
				return
			}

			if !failure.Is(err, failure.LengthExceeded) {
				t.Fatalf("error = %v, want LengthExceeded", err)
			}
			var le *failure.LengthError
			if !errors.As(err, &le) {
				t.Fatalf("error %v does not wrap *failure.LengthError", err)
			}
			if le.Limit != limit || le.Length != limit+1 {
				t.Errorf("LengthError = %+v", le)
			}
		})
	}
}

func TestExtract_DefaultLimit(t *testing.T) {
	f := &fakeFetcher{meta: &VideoMetadata{ID: "x", Title: "T", Description: strings.Repeat("b", 11)}}
	e := NewExtractor(f, ExtractorConfig{WorkDir: t.TempDir(), MaxChars: 10}, nil)

	if _, err := e.Extract(context.Background(), "https://youtu.be/x", 0); !failure.Is(err, failure.LengthExceeded) {
		t.Errorf("error = %v, want LengthExceeded from configured default", err)
	}
	if _, err := e.Extract(context.Background(), "https://youtu.be/x", 11); err != nil {
		t.Errorf("explicit limit should override default: %v", err)
	}
}

func TestExtract_FetchFailureCleansUp(t *testing.T) {
	f := &fakeFetcher{
		subtitles: map[string]string{"abc123.en.vtt": rollingVTT},
		err:       errors.New("video unavailable"),
	}
	e, work := newTestExtractor(t, f)

	_, err := e.Extract(context.Background(), "https://youtu.be/abc123", 0)
	if !failure.Is(err, failure.Extraction) {
		t.Fatalf("error = %v, want Extraction", err)
	}
	if !strings.Contains(err.Error(), "video unavailable") {
		t.Errorf("error %q lost the underlying message", err)
	}
	assertNoArtifacts(t, work, "abc123")
}

func TestExtract_KeepsTypedFetchError(t *testing.T) {
	orig := failure.Errorf(failure.Extraction, "fetch", "private video")
	e, _ := newTestExtractor(t, &fakeFetcher{err: orig})

	_, err := e.Extract(context.Background(), "https://youtu.be/abc123", 0)
	var fe *failure.Error
	if !errors.As(err, &fe) || fe != orig {
		t.Errorf("error = %v, want the fetcher's own *failure.Error", err)
	}
}

func TestExtract_CancelledContext(t *testing.T) {
	f := &fakeFetcher{
		meta:      &VideoMetadata{ID: "abc123", Title: "T"},
		subtitles: map[string]string{"abc123.en.vtt": rollingVTT},
	}
	e, work := newTestExtractor(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Extract(ctx, "https://youtu.be/abc123", 0)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled in chain", err)
	}
	if !failure.Is(err, failure.Extraction) {
		t.Errorf("error = %v, want Extraction kind", err)
	}
	assertNoArtifacts(t, work, "abc123")
}

func TestExtract_EmptyURL(t *testing.T) {
	f := &fakeFetcher{meta: &VideoMetadata{ID: "x"}}
	e, _ := newTestExtractor(t, f)

	if _, err := e.Extract(context.Background(), "  ", 0); !failure.Is(err, failure.InputMissing) {
		t.Errorf("error = %v, want InputMissing", err)
	}
	if len(f.dirs) != 0 {
		t.Error("fetcher called for empty URL")
	}
}

func TestExtract_ConcurrentSameVideoIsolated(t *testing.T) {
	f := &fakeFetcher{
		meta:      &VideoMetadata{ID: "same", Title: "T"},
		subtitles: map[string]string{"same.en.vtt": rollingVTT},
	}
	e, work := newTestExtractor(t, f)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := e.Extract(context.Background(), "https://youtu.be/same", 0)
			if err == nil && got.Text != "Hello Hello world" {
				err = errors.New("unexpected text " + got.Text)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Error(err)
		}
	}

	seen := make(map[string]bool)
	for _, d := range f.dirs {
		if seen[d] {
			t.Errorf("scratch dir %s reused", d)
		}
		seen[d] = true
	}
	assertNoArtifacts(t, work, "same")
}

func TestExtract_MissingVideoID(t *testing.T) {
	f := &fakeFetcher{meta: &VideoMetadata{Title: "T", Description: "text"}}
	e, work := newTestExtractor(t, f)

	_, err := e.Extract(context.Background(), "https://www.youtube.com/watch?v=dQw4w9WgXcQ", 0)
	if !failure.Is(err, failure.Extraction) {
		t.Fatalf("err = %v, want Extraction", err)
	}
	if entries, _ := os.ReadDir(work); len(entries) != 0 {
		t.Errorf("scratch dir left behind: %d entries", len(entries))
	}
}

func TestSubtitleLanguage(t *testing.T) {
	tests := []struct {
		name, id, want string
	}{
		{"abc.en.vtt", "abc", "en"},
		{"abc.es-419.vtt", "abc", "es-419"},
		{"abc.vtt", "abc", ""},
	}
	for _, tt := range tests {
		if got := subtitleLanguage(tt.name, tt.id); got != tt.want {
			t.Errorf("subtitleLanguage(%q, %q) = %q, want %q", tt.name, tt.id, got, tt.want)
		}
	}
}

func TestEscapeGlob(t *testing.T) {
	if got := escapeGlob("a*b?[c]"); got != `a\*b\?\[c\]` {
		t.Errorf("escapeGlob = %q", got)
	}
}
