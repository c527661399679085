package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"

	"github.com/nugget/tubeblog/internal/failure"
)

func TestYtDlpArgs(t *testing.T) {
	y := NewYtDlp(YtDlpConfig{Path: "/usr/bin/yt-dlp", Languages: []string{"es", "en"}}, nil)

	args := y.args("https://youtu.be/abc123", "/tmp/work", true)
	for _, want := range []string{
		"--skip-download", "--print-json", "--no-warnings", "--no-playlist",
		"--write-subs", "--write-auto-subs",
	} {
		if !slices.Contains(args, want) {
			t.Errorf("args missing %s: %v", want, args)
		}
	}
	if i := slices.Index(args, "--sub-langs"); i < 0 || args[i+1] != "es,en" {
		t.Errorf("--sub-langs not es,en: %v", args)
	}
	if i := slices.Index(args, "--sub-format"); i < 0 || args[i+1] != "vtt" {
		t.Errorf("--sub-format not vtt: %v", args)
	}
	if i := slices.Index(args, "-o"); i < 0 || args[i+1] != filepath.Join("/tmp/work", "%(id)s") {
		t.Errorf("output template wrong: %v", args)
	}
	if args[len(args)-1] != "https://youtu.be/abc123" {
		t.Errorf("url not last: %v", args)
	}
	if slices.Contains(args, "--cookies") {
		t.Errorf("--cookies set without a cookies file: %v", args)
	}
}

func TestYtDlpArgs_NoSubtitlesWithCookies(t *testing.T) {
	y := NewYtDlp(YtDlpConfig{Path: "yt-dlp", CookiesFile: "/etc/cookies.txt"}, nil)

	args := y.args("https://youtu.be/x", "/tmp", false)
	if slices.Contains(args, "--write-subs") || slices.Contains(args, "--sub-langs") {
		t.Errorf("subtitle flags present when not wanted: %v", args)
	}
	if i := slices.Index(args, "--cookies"); i < 0 || args[i+1] != "/etc/cookies.txt" {
		t.Errorf("cookies not passed: %v", args)
	}
}

func TestDecodeMetadata(t *testing.T) {
	tests := []struct {
		name    string
		out     string
		want    VideoMetadata
		wantErr bool
	}{
		{
			name: "full",
			out:  `{"id":"abc123","title":"  A Talk ","description":"desc","channel":"Chan","duration":3661,"upload_date":"20240115"}`,
			want: VideoMetadata{ID: "abc123", Title: "A Talk", Description: "desc", Channel: "Chan", Duration: "1:01:01", UploadDate: "2024-01-15"},
		},
		{
			name: "missing title and channel",
			out:  `{"id":"abc123","uploader":"Up"}`,
			want: VideoMetadata{ID: "abc123", Title: DefaultTitle, Channel: "Up"},
		},
		{
			name: "trailing output ignored",
			out:  "{\"id\":\"a\",\"title\":\"t\"}\n{\"id\":\"b\"}\n",
			want: VideoMetadata{ID: "a", Title: "t"},
		},
		{name: "no id", out: `{"title":"t"}`, wantErr: true},
		{name: "not json", out: "ERROR: private video", wantErr: true},
		{name: "empty", out: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeMetadata([]byte(tt.out))
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeMetadata error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && *got != tt.want {
				t.Errorf("decodeMetadata = %+v, want %+v", *got, tt.want)
			}
		})
	}
}

func TestYtDlpFetch_NotInstalled(t *testing.T) {
	y := &YtDlp{languages: DefaultLanguages, logger: slog.Default()}

	_, err := y.Fetch(context.Background(), "https://youtu.be/x", t.TempDir(), true)
	if !failure.Is(err, failure.Extraction) {
		t.Errorf("error = %v, want Extraction", err)
	}
}

// writeScript creates an executable stand-in for yt-dlp.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "yt-dlp")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

// skipIfNotExecutable skips when the temp filesystem refuses to run
// the stand-in script.
func skipIfNotExecutable(t *testing.T, err error) {
	t.Helper()
	if errors.Is(err, os.ErrPermission) || errors.Is(err, exec.ErrNotFound) {
		t.Skipf("cannot execute stand-in script: %v", err)
	}
}

func TestYtDlpFetch_Script(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args")
	script := writeScript(t, fmt.Sprintf(`
echo "$@" > %q
while [ $# -gt 0 ]; do
  if [ "$1" = "-o" ]; then shift; dir=$(dirname "$1"); fi
  shift
done
printf 'WEBVTT\n\n00:00:00.000 --> 00:00:01.000\nHi there\n' > "$dir/vid1.en.vtt"
echo '{"id":"vid1","title":"Script Video","description":"D"}'
`, argsFile))

	y := NewYtDlp(YtDlpConfig{Path: script}, nil)
	dir := t.TempDir()

	meta, err := y.Fetch(context.Background(), "https://youtu.be/vid1", dir, true)
	if err != nil {
		skipIfNotExecutable(t, err)
		t.Fatalf("Fetch: %v", err)
	}
	if meta.ID != "vid1" || meta.Title != "Script Video" || meta.Description != "D" {
		t.Errorf("meta = %+v", meta)
	}
	if _, err := os.Stat(filepath.Join(dir, "vid1.en.vtt")); err != nil {
		t.Errorf("subtitle file not written: %v", err)
	}

	recorded, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(recorded), "--skip-download") {
		t.Errorf("yt-dlp invoked without --skip-download: %s", recorded)
	}
}

func TestYtDlpFetch_ScriptFailure(t *testing.T) {
	script := writeScript(t, `
echo "ERROR: [youtube] abc: Private video" >&2
exit 1
`)
	y := NewYtDlp(YtDlpConfig{Path: script}, nil)

	_, err := y.Fetch(context.Background(), "https://youtu.be/abc", t.TempDir(), true)
	skipIfNotExecutable(t, err)
	if !failure.Is(err, failure.Extraction) {
		t.Fatalf("error = %v, want Extraction", err)
	}
	if !strings.Contains(err.Error(), "Private video") {
		t.Errorf("error %q does not carry stderr", err)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "0:00"},
		{65, "1:05"},
		{3661, "1:01:01"},
		{90.5, "1:30"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.seconds); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func TestFormatDate(t *testing.T) {
	tests := []struct{ in, want string }{
		{"20240115", "2024-01-15"},
		{"", ""},
		{"2024", "2024"},
	}
	for _, tt := range tests {
		if got := formatDate(tt.in); got != tt.want {
			t.Errorf("formatDate(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
