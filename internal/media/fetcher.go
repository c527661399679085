package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/nugget/tubeblog/internal/failure"
)

// DefaultTitle is used when the video source reports no title.
const DefaultTitle = "Untitled video"

// DefaultLanguages is the subtitle preference order when none is
// configured: source language first, then English.
var DefaultLanguages = []string{"es", "en"}

// VideoMetadata is the typed subset of video information tubeblog uses.
// Title is never empty once returned by a Fetcher.
type VideoMetadata struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Channel     string `json:"channel,omitempty"`
	Duration    string `json:"duration,omitempty"`
	UploadDate  string `json:"upload_date,omitempty"`
}

// Fetcher retrieves video metadata and, when wantSubtitles is set,
// writes subtitle files named <id>.<lang>.vtt into dir. The caller owns
// dir and everything written to it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL, dir string, wantSubtitles bool) (*VideoMetadata, error)
}

// YtDlpConfig configures a [YtDlp] fetcher.
type YtDlpConfig struct {
	// Path to the yt-dlp binary. Empty means look it up on PATH.
	Path string

	// CookiesFile is an optional Netscape-format cookie file for
	// age-gated or region-locked videos.
	CookiesFile string

	// Languages is the subtitle preference order.
	Languages []string
}

// YtDlp fetches metadata and subtitles by running yt-dlp.
type YtDlp struct {
	path      string
	cookies   string
	languages []string
	logger    *slog.Logger
}

// NewYtDlp creates a yt-dlp backed Fetcher.
func NewYtDlp(cfg YtDlpConfig, logger *slog.Logger) *YtDlp {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Path == "" {
		if p, err := exec.LookPath("yt-dlp"); err == nil {
			cfg.Path = p
		}
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = DefaultLanguages
	}
	return &YtDlp{
		path:      cfg.Path,
		cookies:   cfg.CookiesFile,
		languages: cfg.Languages,
		logger:    logger,
	}
}

// ytdlpJSON is the subset of yt-dlp --print-json output we decode.
type ytdlpJSON struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Channel     string  `json:"channel"`
	Uploader    string  `json:"uploader"`
	Duration    float64 `json:"duration"`
	UploadDate  string  `json:"upload_date"`
	Description string  `json:"description"`
}

// args builds the yt-dlp argument list. Media streams are never
// downloaded.
func (y *YtDlp) args(rawURL, dir string, wantSubtitles bool) []string {
	var args []string
	if y.cookies != "" {
		args = append(args, "--cookies", y.cookies)
	}
	if wantSubtitles {
		args = append(args,
			"--write-subs",
			"--write-auto-subs",
			"--sub-format", "vtt",
			"--sub-langs", strings.Join(y.languages, ","),
		)
	}
	return append(args,
		"--skip-download",
		"--print-json",
		"--no-warnings",
		"--no-playlist",
		"-o", filepath.Join(dir, "%(id)s"),
		rawURL,
	)
}

// Fetch runs yt-dlp for rawURL. Every failure is reported as
// [failure.Extraction].
func (y *YtDlp) Fetch(ctx context.Context, rawURL, dir string, wantSubtitles bool) (*VideoMetadata, error) {
	const op = "fetch"

	if y.path == "" {
		return nil, failure.Errorf(failure.Extraction, op, "yt-dlp not found (install yt-dlp or set media.yt_dlp_path)")
	}

	y.logger.Info("running yt-dlp",
		"url", rawURL,
		"subtitles", wantSubtitles,
		"languages", y.languages,
	)

	cmd := exec.CommandContext(ctx, y.path, y.args(rawURL, dir, wantSubtitles)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, failure.New(failure.Extraction, op, ctxErr)
		}
		errOutput := strings.TrimSpace(stderr.String())
		if len(errOutput) > 500 {
			errOutput = errOutput[:500]
		}
		return nil, failure.New(failure.Extraction, op, fmt.Errorf("yt-dlp: %w: %s", err, errOutput))
	}

	meta, err := decodeMetadata(stdout.Bytes())
	if err != nil {
		return nil, failure.New(failure.Extraction, op, err)
	}

	y.logger.Debug("yt-dlp metadata",
		"video_id", meta.ID,
		"title", meta.Title,
		"channel", meta.Channel,
		"duration", meta.Duration,
	)
	return meta, nil
}

// decodeMetadata reads the first JSON object yt-dlp printed and
// resolves defaults for absent fields.
func decodeMetadata(out []byte) (*VideoMetadata, error) {
	var raw ytdlpJSON
	if err := json.NewDecoder(bytes.NewReader(out)).Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse yt-dlp output: %w", err)
	}
	if raw.ID == "" {
		return nil, errors.New("yt-dlp output has no video id")
	}

	meta := &VideoMetadata{
		ID:          raw.ID,
		Title:       strings.TrimSpace(raw.Title),
		Description: raw.Description,
		Channel:     firstNonEmpty(raw.Channel, raw.Uploader),
		UploadDate:  formatDate(raw.UploadDate),
	}
	if raw.Duration > 0 {
		meta.Duration = formatDuration(raw.Duration)
	}
	if meta.Title == "" {
		meta.Title = DefaultTitle
	}
	return meta, nil
}

// formatDuration converts seconds to "H:MM:SS" or "M:SS".
func formatDuration(seconds float64) string {
	total := int(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60

	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// formatDate converts yt-dlp's "YYYYMMDD" to "YYYY-MM-DD".
func formatDate(yyyymmdd string) string {
	if len(yyyymmdd) != 8 {
		return yyyymmdd
	}
	return yyyymmdd[:4] + "-" + yyyymmdd[4:6] + "-" + yyyymmdd[6:8]
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
