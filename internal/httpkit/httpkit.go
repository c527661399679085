// Package httpkit builds the http.Client used for every outbound call
// tubeblog makes to a text-generation provider. All clients share one
// transport shape, stamp the tubeblog User-Agent, and can retry
// connection-level failures that happen before any bytes reach the
// server.
package httpkit

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/nugget/tubeblog/internal/buildinfo"
)

// Transport defaults.
const (
	DefaultDialTimeout         = 10 * time.Second
	DefaultKeepAlive           = 30 * time.Second
	DefaultTLSHandshakeTimeout = 10 * time.Second
	DefaultResponseHeader      = 15 * time.Second
	DefaultIdleConnTimeout     = 90 * time.Second
	DefaultMaxIdleConnsPerHost = 4

	// DefaultTimeout bounds a whole request unless WithTimeout says
	// otherwise.
	DefaultTimeout = 30 * time.Second
)

// Option configures NewClient.
type Option func(*options)

type options struct {
	timeout        time.Duration
	responseHeader time.Duration
	retries        int
	backoff        time.Duration
	logger         *slog.Logger
}

// WithTimeout sets http.Client.Timeout. Zero leaves the deadline to
// the request context, which is what generation calls want.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithResponseHeaderTimeout raises the wait for the first response
// header. Providers can think for a long time on a large transcript
// before answering.
func WithResponseHeaderTimeout(d time.Duration) Option {
	return func(o *options) { o.responseHeader = d }
}

// WithRetry retries dial failures (host or network unreachable,
// connection refused) up to n times. The wait starts at backoff and
// doubles per attempt.
func WithRetry(n int, backoff time.Duration) Option {
	return func(o *options) {
		o.retries = n
		o.backoff = backoff
	}
}

// WithLogger logs retries at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// NewTransport returns the shared transport. responseHeader of zero
// means DefaultResponseHeader.
func NewTransport(responseHeader time.Duration) *http.Transport {
	if responseHeader <= 0 {
		responseHeader = DefaultResponseHeader
	}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   DefaultDialTimeout,
			KeepAlive: DefaultKeepAlive,
		}).DialContext,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: responseHeader,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		MaxIdleConnsPerHost:   DefaultMaxIdleConnsPerHost,
		ForceAttemptHTTP2:     true,
	}
}

// NewClient builds a provider http.Client.
func NewClient(opts ...Option) *http.Client {
	o := options{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	var rt http.RoundTripper = &userAgentTransport{
		base: NewTransport(o.responseHeader),
		ua:   buildinfo.UserAgent(),
	}
	if o.retries > 0 {
		rt = &retryTransport{
			base:    rt,
			retries: o.retries,
			backoff: o.backoff,
			logger:  o.logger,
		}
	}
	return &http.Client{Timeout: o.timeout, Transport: rt}
}

type userAgentTransport struct {
	base http.RoundTripper
	ua   string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.ua)
	return t.base.RoundTrip(req)
}

// DrainAndClose discards up to limit bytes of rc and closes it so the
// connection can be reused.
func DrainAndClose(rc io.ReadCloser, limit int64) {
	if rc == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, limit))
	_ = rc.Close()
}

// ReadErrorBody returns at most limit bytes of an error response body
// for inclusion in an error message, then drains and closes it.
func ReadErrorBody(rc io.ReadCloser, limit int64) string {
	if rc == nil {
		return ""
	}
	defer DrainAndClose(rc, 1024)
	body, err := io.ReadAll(io.LimitReader(rc, limit))
	if err != nil {
		return fmt.Sprintf("(failed to read error body: %v)", err)
	}
	return string(body)
}

type retryTransport struct {
	base    http.RoundTripper
	retries int
	backoff time.Duration
	logger  *slog.Logger
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rewindable := req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
	wait := t.backoff

	resp, err := t.base.RoundTrip(req)
	for attempt := 1; attempt <= t.retries && err != nil && isDialFailure(err) && rewindable; attempt++ {
		if t.logger != nil {
			t.logger.Debug("provider unreachable, retrying",
				"host", req.URL.Host,
				"attempt", attempt,
				"wait", wait,
				"error", err,
			)
		}

		timer := time.NewTimer(wait)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}
		wait *= 2

		next := req.Clone(req.Context())
		if req.GetBody != nil {
			body, berr := req.GetBody()
			if berr != nil {
				return nil, fmt.Errorf("rewind request body: %w", berr)
			}
			next.Body = body
		}
		resp, err = t.base.RoundTrip(next)
	}
	return resp, err
}

// isDialFailure reports errors where the request never reached the
// server. ECONNRESET is excluded: the server may have acted on it.
func isDialFailure(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	return errno == syscall.EHOSTUNREACH ||
		errno == syscall.ENETUNREACH ||
		errno == syscall.ECONNREFUSED
}
