package resolver

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"bitbucket.org/mmdatafocus/pidmonitor_backend/config"
	"github.com/cenkalti/backoff/v4"
)

// Engine performs PID resolution over a shared, connection-pooled client
// pair: one verifying transport and one with certificate verification
// disabled for the fallback attempt. Engines are safe for concurrent use.
type Engine struct {
	verified     *http.Client
	insecure     *http.Client
	userAgent    string
	maxRedirects int
}

// Result is the outcome of an attempt that obtained an HTTP response.
type Result struct {
	StatusCode    int
	ContentType   string
	FinalURL      string
	RedirectCount int
}

// drainLimit caps how much of a response body is read before closing, enough
// to let the transport reuse the connection.
const drainLimit = 512 * 1024

func NewEngine(settings *config.Settings) *Engine {
	e := &Engine{
		userAgent:    settings.ResolverUserAgent,
		maxRedirects: settings.ResolverMaxRedirects,
	}

	dialer := &net.Dialer{Timeout: settings.ResolverTimeout}

	verifiedTransport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		TLSHandshakeTimeout: settings.ResolverTimeout,
	}
	insecureTransport := verifiedTransport.Clone()
	insecureTransport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}

	e.verified = &http.Client{
		Transport:     verifiedTransport,
		Timeout:       settings.ResolverReadTimeout,
		CheckRedirect: e.checkRedirect,
	}
	e.insecure = &http.Client{
		Transport:     insecureTransport,
		Timeout:       settings.ResolverReadTimeout,
		CheckRedirect: e.checkRedirect,
	}
	return e
}

type redirectCounterKey struct{}

// checkRedirect enforces the redirect cap and counts hops through a
// per-request counter carried in the request context, so the shared clients
// stay free of per-call state.
func (e *Engine) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= e.maxRedirects {
		return fmt.Errorf("exceeded maximum of %d redirects", e.maxRedirects)
	}
	if counter, ok := req.Context().Value(redirectCounterKey{}).(*int32); ok {
		atomic.AddInt32(counter, 1)
	}
	return nil
}

func (e *Engine) attempt(ctx context.Context, actionableURL string, verify bool) (*Result, error) {
	var hops int32
	ctx = context.WithValue(ctx, redirectCounterKey{}, &hops)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, actionableURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", e.userAgent)

	client := e.verified
	if !verify {
		client = e.insecure
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))

	return &Result{
		StatusCode:    resp.StatusCode,
		ContentType:   resp.Header.Get("Content-Type"),
		FinalURL:      resp.Request.URL.String(),
		RedirectCount: int(atomic.LoadInt32(&hops)),
	}, nil
}

// Resolve issues the GET with certificate verification on, and on any
// transport-level failure retries exactly once with verification off. The
// loop shape makes the at-most-one-fallback invariant structural. The
// returned bool reports whether verification was on for the reported
// outcome. HTTP error statuses (4xx/5xx) are responses, not failures.
func (e *Engine) Resolve(ctx context.Context, actionableURL string) (*Result, bool, error) {
	var lastErr error
	for _, verify := range []bool{true, false} {
		result, err := e.attempt(ctx, actionableURL, verify)
		if err == nil {
			return result, verify, nil
		}
		lastErr = err
	}
	return nil, false, lastErr
}

// ResolveWithRetry wraps the whole verify-fallback sequence in a short
// jittered backoff (2 tries total) to smooth over transient network blips.
// This is a separate retry axis from the dispatcher's ~24h reschedule.
func (e *Engine) ResolveWithRetry(ctx context.Context, actionableURL string) (*Result, bool, error) {
	var (
		result   *Result
		verified bool
	)
	operation := func() error {
		r, v, err := e.Resolve(ctx, actionableURL)
		if err != nil {
			return err
		}
		result, verified = r, v
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 1), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, false, err
	}
	return result, verified, nil
}

var (
	defaultEngine     *Engine
	defaultEngineOnce sync.Once
)

// DefaultEngine returns the process-wide engine built from the settings.
func DefaultEngine() *Engine {
	defaultEngineOnce.Do(func() {
		defaultEngine = NewEngine(config.GetSettings())
	})
	return defaultEngine
}
