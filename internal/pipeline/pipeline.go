// Package pipeline runs one video URL through transcript extraction and
// blog post generation.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/tubeblog/internal/failure"
	"github.com/nugget/tubeblog/internal/generate"
	"github.com/nugget/tubeblog/internal/media"
)

// Extractor produces a transcript for a URL.
type Extractor interface {
	Extract(ctx context.Context, rawURL string, maxChars int) (*media.Transcript, error)
}

// Generator writes a post from a transcript.
type Generator interface {
	Generate(ctx context.Context, transcript string) (*generate.Generation, error)
}

// Article is the finished output of a run. The caller owns persistence.
type Article struct {
	Title   string `json:"title"`
	Content string `json:"content"`

	VideoID          string `json:"video_id,omitempty"`
	TranscriptSource string `json:"transcript_source"`
	Model            string `json:"model"`
	InputTokens      int    `json:"input_tokens"`
	OutputTokens     int    `json:"output_tokens"`
}

// Config tunes a Coordinator.
type Config struct {
	// MaxTranscriptChars is passed to the extractor. Zero uses the
	// extractor's default.
	MaxTranscriptChars int

	// Timeout bounds a whole run. Zero means no limit beyond the
	// caller's context.
	Timeout time.Duration
}

// Coordinator sequences extraction and generation.
type Coordinator struct {
	extractor Extractor
	generator Generator
	cfg       Config
	logger    *slog.Logger
}

// New creates a Coordinator.
func New(ex Extractor, gen Generator, cfg Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{extractor: ex, generator: gen, cfg: cfg, logger: logger}
}

// Run turns rawURL into an Article. An empty transcript is still sent
// to the generator. The first failing stage's error is returned as is;
// there is no partial result.
func (c *Coordinator) Run(ctx context.Context, rawURL string) (*Article, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, failure.Errorf(failure.InputMissing, "run", "missing video url")
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	log := c.logger.With("url", rawURL)

	transcript, err := c.extractor.Extract(ctx, rawURL, c.cfg.MaxTranscriptChars)
	if err != nil {
		log.Warn("extraction failed", "kind", failure.KindOf(err), "error", err)
		return nil, err
	}

	gen, err := c.generator.Generate(ctx, transcript.Text)
	if err != nil {
		log.Warn("generation failed", "kind", failure.KindOf(err), "video_id", transcript.VideoID, "error", err)
		return nil, err
	}

	log.Info("pipeline complete",
		"video_id", transcript.VideoID,
		"source", transcript.Source,
		"model", gen.Model,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	return &Article{
		Title:            transcript.Title,
		Content:          gen.Content,
		VideoID:          transcript.VideoID,
		TranscriptSource: transcript.Source,
		Model:            gen.Model,
		InputTokens:      gen.InputTokens,
		OutputTokens:     gen.OutputTokens,
	}, nil
}
