package httpkit

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/nugget/tubeblog/internal/buildinfo"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name        string
		opts        []Option
		wantTimeout time.Duration
		wantHeader  time.Duration
		wantRetry   bool
	}{
		{"defaults", nil, DefaultTimeout, DefaultResponseHeader, false},
		{"context deadline only", []Option{WithTimeout(0)}, 0, DefaultResponseHeader, false},
		{"slow provider", []Option{WithTimeout(0), WithResponseHeaderTimeout(2 * time.Minute)}, 0, 2 * time.Minute, false},
		{"retrying", []Option{WithRetry(2, time.Millisecond)}, DefaultTimeout, DefaultResponseHeader, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(tt.opts...)
			if c.Timeout != tt.wantTimeout {
				t.Errorf("Timeout = %v, want %v", c.Timeout, tt.wantTimeout)
			}

			rt := c.Transport
			if r, ok := rt.(*retryTransport); ok != tt.wantRetry {
				t.Fatalf("retry wrapper present = %v, want %v", ok, tt.wantRetry)
			} else if ok {
				rt = r.base
			}
			ua, ok := rt.(*userAgentTransport)
			if !ok {
				t.Fatalf("transport = %T, want *userAgentTransport", rt)
			}
			if got := ua.base.(*http.Transport).ResponseHeaderTimeout; got != tt.wantHeader {
				t.Errorf("ResponseHeaderTimeout = %v, want %v", got, tt.wantHeader)
			}
		})
	}
}

func TestUserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, r.Header.Get("User-Agent"))
	}))
	t.Cleanup(srv.Close)

	for _, preset := range []string{"", "curl/8.0"} {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		if preset != "" {
			req.Header.Set("User-Agent", preset)
		}
		resp, err := NewClient().Do(req)
		if err != nil {
			t.Fatal(err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		want := preset
		if want == "" {
			want = buildinfo.UserAgent()
		}
		if string(body) != want {
			t.Errorf("preset %q: User-Agent = %q, want %q", preset, body, want)
		}
	}
}

func TestReadErrorBody(t *testing.T) {
	tests := []struct {
		name  string
		rc    io.ReadCloser
		limit int64
		want  string
	}{
		{"whole body", io.NopCloser(strings.NewReader("rate limit reached")), 100, "rate limit reached"},
		{"truncated", io.NopCloser(strings.NewReader("model overloaded")), 5, "model"},
		{"nil", nil, 10, ""},
	}
	for _, tt := range tests {
		if got := ReadErrorBody(tt.rc, tt.limit); got != tt.want {
			t.Errorf("%s: ReadErrorBody = %q, want %q", tt.name, got, tt.want)
		}
	}
}

// scriptedTransport fails with errs in order, then succeeds.
type scriptedTransport struct {
	errs   []error
	calls  int
	bodies []string
}

func (s *scriptedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	s.calls++
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		s.bodies = append(s.bodies, string(b))
	}
	if s.calls <= len(s.errs) {
		return nil, s.errs[s.calls-1]
	}
	return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody, Request: req}, nil
}

func dialErr(errno syscall.Errno) error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: fmt.Errorf("connect: %w", errno)}
}

func TestRetryTransport(t *testing.T) {
	refused := dialErr(syscall.ECONNREFUSED)

	tests := []struct {
		name      string
		errs      []error
		wantErr   bool
		wantCalls int
	}{
		{"first try", nil, false, 1},
		{"host unreachable once", []error{dialErr(syscall.EHOSTUNREACH)}, false, 2},
		{"network unreachable twice", []error{dialErr(syscall.ENETUNREACH), dialErr(syscall.ENETUNREACH)}, false, 3},
		{"gives up", []error{refused, refused, refused}, true, 3},
		{"reset is final", []error{dialErr(syscall.ECONNRESET)}, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := &scriptedTransport{errs: tt.errs}
			rt := &retryTransport{base: base, retries: 2, backoff: time.Millisecond}

			req, _ := http.NewRequest(http.MethodPost, "http://provider.invalid/chat/completions", strings.NewReader(`{"model":"m"}`))
			resp, err := rt.RoundTrip(req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if resp != nil {
				resp.Body.Close()
			}
			if base.calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", base.calls, tt.wantCalls)
			}
			for i, b := range base.bodies {
				if b != `{"model":"m"}` {
					t.Errorf("attempt %d body = %q, want rewound body", i+1, b)
				}
			}
		})
	}
}

func TestRetryTransport_Cancelled(t *testing.T) {
	base := &scriptedTransport{errs: []error{dialErr(syscall.EHOSTUNREACH)}}
	rt := &retryTransport{base: base, retries: 3, backoff: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://provider.invalid", nil)

	if _, err := rt.RoundTrip(req); err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestRetryTransport_UnrewindableBody(t *testing.T) {
	base := &scriptedTransport{errs: []error{dialErr(syscall.EHOSTUNREACH)}}
	rt := &retryTransport{base: base, retries: 3, backoff: time.Millisecond}

	req, _ := http.NewRequest(http.MethodPost, "http://provider.invalid", io.NopCloser(strings.NewReader("{}")))
	req.GetBody = nil

	if _, err := rt.RoundTrip(req); err == nil {
		t.Fatal("err = nil, want the dial error")
	}
	if base.calls != 1 {
		t.Errorf("calls = %d, want 1", base.calls)
	}
}
