package media

import (
	"strings"
	"testing"
)

const rollingVTT = `WEBVTT
Kind: captions
Language: en

00:00:00.000 --> 00:00:01.500 align:start position:0%
Hello

00:00:01.500 --> 00:00:03.000 align:start position:0%
Hello world

00:00:03.000 --> 00:00:04.000 align:start position:0%
Hello world
`

func TestParseVTT(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"empty", "", ""},
		{"header only", "WEBVTT\n\n", ""},
		{"rolling duplicates", rollingVTT, "Hello Hello world"},
		{
			name: "crlf line endings",
			raw:  "WEBVTT\r\n\r\n00:00:00.000 --> 00:00:01.000\r\nHola\r\n\r\n00:00:01.000 --> 00:00:02.000\r\nmundo\r\n",
			want: "Hola mundo",
		},
		{
			name: "byte order mark",
			raw:  "\ufeffWEBVTT\n\n00:00:00.000 --> 00:00:01.000\nfirst line\n",
			want: "first line",
		},
		{
			name: "markup lines dropped",
			raw:  "WEBVTT\n\n00:00:00.000 --> 00:00:01.000\n<c>tagged</c> words\nplain words\n",
			want: "plain words",
		},
		{
			name: "header without blank line",
			raw:  "WEBVTT\n00:00:00.000 --> 00:00:01.000\nstill here\n",
			want: "still here",
		},
		{
			name: "caption directly under header",
			raw:  "WEBVTT\nHello\n00:00:00.000 --> 00:00:01.000\nHello world\nHello world\n",
			want: "Hello Hello world",
		},
		{
			name: "header word inside a caption is kept",
			raw:  "WEBVTT\n\n00:00:00.000 --> 00:00:01.000\nWEBVTT files are plain text\n",
			want: "WEBVTT files are plain text",
		},
		{
			name: "metadata prefix only",
			raw:  "WEBVTT\nKind: captions\nLanguage: en\nKindness matters\n",
			want: "Kindness matters",
		},
		{
			name: "no header",
			raw:  "00:00:00.000 --> 00:00:01.000\n  padded  \nnext\n",
			want: "padded next",
		},
		{
			name: "non-adjacent duplicates collapse",
			raw:  "WEBVTT\n\none\ntwo\none\nthree\ntwo\n",
			want: "one two three",
		},
		{
			name: "cue identifiers kept as text",
			raw:  "WEBVTT\n\n1\n00:00:00.000 --> 00:00:01.000\nfirst\n\n2\n00:00:01.000 --> 00:00:02.000\nsecond\n",
			want: "1 first 2 second",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseVTT(tt.raw); got != tt.want {
				t.Errorf("ParseVTT() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseVTT_Idempotent(t *testing.T) {
	inputs := []string{
		rollingVTT,
		"",
		"already clean text",
		"WEBVTT\n\n00:00:00.000 --> 00:00:01.000\n\ufeffBOM inside\nnext\n",
		"a\nb\na\nc\r\n",
		"  leading and trailing  \n\n\n",
	}
	for _, in := range inputs {
		once := ParseVTT(in)
		twice := ParseVTT(once)
		if once != twice {
			t.Errorf("not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestParseVTT_StripsTimingHeaderAndMarkup(t *testing.T) {
	raw := `WEBVTT
Kind: captions
Language: es

00:00:00.000 --> 00:00:02.000
<00:00:00.400><c> hola</c><00:00:00.800><c> a</c>
hola a todos

00:00:02.000 --> 00:00:04.000
WEBVTT
bienvenidos
`
	got := ParseVTT(raw)
	for _, banned := range []string{"-->", "WEBVTT", "<", "Kind:", "Language:"} {
		if strings.Contains(got, banned) {
			t.Errorf("output %q contains %q", got, banned)
		}
	}
	if got != "hola a todos bienvenidos" {
		t.Errorf("ParseVTT() = %q", got)
	}
}

func TestParseVTT_PreservesFirstSeenOrder(t *testing.T) {
	raw := "WEBVTT\n\ngamma\nalpha\nbeta\nalpha\ngamma\ndelta\n"
	if got, want := ParseVTT(raw), "gamma alpha beta delta"; got != want {
		t.Errorf("ParseVTT() = %q, want %q", got, want)
	}
}
