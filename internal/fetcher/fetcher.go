// Package fetcher verifies externally hosted artifacts. The registry never
// stores plugin bytes: at publish time it downloads each registered URL
// once, streams the body through the digest service, and compares what the
// host actually serves against the publisher's declared digest and size.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/dnscache"

	"github.com/atoll-registry/atoll/pkg/digest"
	"github.com/atoll-registry/atoll/pkg/types"
)

const (
	defaultSizeLimit    = 256 << 20
	defaultMaxRedirects = 10
	defaultHTTPTimeout  = 30 * time.Second
	defaultUserAgent    = "atoll-registry/1.0"
)

var (
	errRedirectLimit    = errors.New("redirect limit exceeded")
	errInsecureRedirect = errors.New("redirect target is not https")
)

// Fetcher downloads and verifies distribution URLs.
type Fetcher struct {
	client       *http.Client
	userAgent    string
	sizeLimit    int64
	maxRedirects int
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets a custom HTTP client. Its redirect policy is
// replaced with the registry's HTTPS-only, bounded-hop policy.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.client = c
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		f.userAgent = ua
	}
}

// WithSizeLimit sets the response-size ceiling in bytes.
func WithSizeLimit(n int64) Option {
	return func(f *Fetcher) {
		f.sizeLimit = n
	}
}

// WithMaxRedirects sets the redirect hop cap.
func WithMaxRedirects(n int) Option {
	return func(f *Fetcher) {
		f.maxRedirects = n
	}
}

// WithHTTPTimeout sets the per-request timeout on the client. Unlike
// WithHTTPClient it keeps the default DNS-cached transport.
func WithHTTPTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		f.client.Timeout = d
	}
}

// NewFetcher creates a new Fetcher with the given options.
func NewFetcher(opts ...Option) *Fetcher {
	// DNS cache with 5 minute refresh, shared across all artifact hosts
	resolver := &dnscache.Resolver{}
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			resolver.Refresh(true)
		}
	}()

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	f := &Fetcher{
		client: &http.Client{
			Timeout: defaultHTTPTimeout,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					host, port, err := net.SplitHostPort(addr)
					if err != nil {
						return nil, err
					}
					ips, err := resolver.LookupHost(ctx, host)
					if err != nil {
						return nil, err
					}
					for _, ip := range ips {
						conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
						if err == nil {
							return conn, nil
						}
					}
					return nil, fmt.Errorf("failed to dial any resolved IP")
				},
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
		userAgent:    defaultUserAgent,
		sizeLimit:    defaultSizeLimit,
		maxRedirects: defaultMaxRedirects,
	}
	for _, opt := range opts {
		opt(f)
	}

	f.client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= f.maxRedirects {
			return errRedirectLimit
		}
		if req.URL.Scheme != "https" {
			return errInsecureRedirect
		}
		return nil
	}

	return f
}

// SizeLimit returns the configured response-size ceiling.
func (f *Fetcher) SizeLimit() int64 {
	return f.sizeLimit
}

// Verify checks one distribution end to end: HTTPS scheme, reachability
// via HEAD, then a full GET streamed through the digest service, and
// finally declared-size and declared-digest agreement. It returns nil when
// the host serves exactly the bytes the publisher declared.
func (f *Fetcher) Verify(ctx context.Context, filename, rawURL, declaredDigest string, declaredSize int64) *types.RegistryError {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return types.ErrURLUnreachable(rawURL, "malformed URL", err)
	}
	if parsed.Scheme != "https" {
		return types.ErrURLNotHTTPS(rawURL)
	}

	if rerr := f.head(ctx, rawURL); rerr != nil {
		return rerr
	}

	w, rerr := f.download(ctx, rawURL)
	if rerr != nil {
		return rerr
	}

	return digest.Verify(filename, declaredDigest, declaredSize, w)
}

// head probes the URL before committing to a full download. A declared
// Content-Length above the ceiling fails here without moving the body.
func (f *Fetcher) head(ctx context.Context, rawURL string) *types.RegistryError {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return types.ErrURLUnreachable(rawURL, "malformed URL", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return f.classify(rawURL, err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return types.ErrURLUnreachable(rawURL, fmt.Sprintf("HTTP %d response", resp.StatusCode), nil)
	}

	if resp.ContentLength > f.sizeLimit {
		return types.ErrSizeLimit(rawURL, f.sizeLimit)
	}

	return nil
}

// download streams the body through a digest writer, aborting mid-stream
// once the byte count passes the ceiling.
func (f *Fetcher) download(ctx context.Context, rawURL string) (*digest.Writer, *types.RegistryError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, types.ErrURLUnreachable(rawURL, "malformed URL", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, f.classify(rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, types.ErrURLUnreachable(rawURL, fmt.Sprintf("HTTP %d response", resp.StatusCode), nil)
	}

	w := digest.NewWriter()
	if _, err := io.Copy(w, io.LimitReader(resp.Body, f.sizeLimit+1)); err != nil {
		return nil, f.classify(rawURL, err)
	}
	if w.Size() > f.sizeLimit {
		return nil, types.ErrSizeLimit(rawURL, f.sizeLimit)
	}

	return w, nil
}

// classify maps a transport error onto the registry's fetch error kinds.
func (f *Fetcher) classify(rawURL string, err error) *types.RegistryError {
	switch {
	case errors.Is(err, errRedirectLimit):
		return types.ErrURLRedirectLimit(rawURL, f.maxRedirects)
	case errors.Is(err, errInsecureRedirect):
		return types.ErrURLNotHTTPS(rawURL)
	case errors.Is(err, context.DeadlineExceeded):
		return types.ErrFetchTimeout(rawURL, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.ErrFetchTimeout(rawURL, err)
	}

	return types.ErrURLUnreachable(rawURL, "could not connect to server", err)
}
