package prompts

import (
	"strings"
	"testing"
)

func TestBlogSystemPrompt(t *testing.T) {
	got := BlogSystemPrompt()
	for _, want := range []string{
		"H1 title",
		"H2 for main sections",
		"H3 for subsections",
		"Remove filler words",
		"Markdown",
		"Spanish, write in Spanish",
		"English, write in English",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
}

func TestBlogUserPrompt(t *testing.T) {
	tests := []struct {
		transcript string
		want       string
	}{
		{"Hello world", "Transcript:\nHello world"},
		{"", "Transcript:\n"},
		{"Hola mundo", "Transcript:\nHola mundo"},
	}
	for _, tt := range tests {
		if got := BlogUserPrompt(tt.transcript); got != tt.want {
			t.Errorf("BlogUserPrompt(%q) = %q, want %q", tt.transcript, got, tt.want)
		}
	}
}
