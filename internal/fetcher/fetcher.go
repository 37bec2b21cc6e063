// Package fetcher holds the pieces shared by every page fetcher: pacing
// between requests, browser-like request headers, and failure classification.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	"github.com/JakeFAU/indicator-analyzer/internal/indicator"
)

// DefaultUserAgent mimics a desktop browser.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// DefaultReferer is sent with every page request.
const DefaultReferer = "https://www.tradingview.com/"

// Waiter is the shared rate limiter gate.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Pacer applies the randomized inter-request delay and then the shared rate
// limiter before each outbound request.
type Pacer struct {
	DelayMin time.Duration
	DelayMax time.Duration
	Limiter  Waiter

	// jitter returns a value in [0, 1); overridable in tests.
	jitter func() float64
}

// NewPacer builds a Pacer. A nil limiter disables rate limiting.
func NewPacer(delayMin, delayMax time.Duration, limiter Waiter) *Pacer {
	if delayMax < delayMin {
		delayMax = delayMin
	}
	return &Pacer{DelayMin: delayMin, DelayMax: delayMax, Limiter: limiter, jitter: rand.Float64}
}

// Delay returns a uniformly distributed delay in [DelayMin, DelayMax].
func (p *Pacer) Delay() time.Duration {
	span := p.DelayMax - p.DelayMin
	if span <= 0 {
		return p.DelayMin
	}
	j := p.jitter
	if j == nil {
		j = rand.Float64
	}
	return p.DelayMin + time.Duration(j()*float64(span))
}

// Pace sleeps for a random delay and then waits on the limiter.
func (p *Pacer) Pace(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if d := p.Delay(); d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("request delay canceled: %w", ctx.Err())
		case <-timer.C:
		}
	}
	if p.Limiter != nil {
		if err := p.Limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// BrowserHeaders returns the realistic header set sent with page requests.
// Accept-Encoding is left to the transport so compressed bodies are decoded.
func BrowserHeaders(userAgent, referer string) http.Header {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if referer == "" {
		referer = DefaultReferer
	}
	h := http.Header{}
	h.Set("User-Agent", userAgent)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Connection", "keep-alive")
	h.Set("Referer", referer)
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "same-origin")
	h.Set("Sec-Fetch-User", "?1")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Cache-Control", "max-age=0")
	return h
}

// Classify maps a transport outcome onto the fetch error taxonomy. It returns
// nil for a 2xx response without a transport error.
func Classify(url string, status int, err error) *indicator.FetchError {
	if err != nil {
		kind := indicator.FetchConnection
		if isTimeout(err) {
			kind = indicator.FetchTimeout
		}
		return &indicator.FetchError{URL: url, Kind: kind, StatusCode: status, Err: err}
	}
	if status < 200 || status > 299 {
		return &indicator.FetchError{
			URL:        url,
			Kind:       indicator.FetchHTTPStatus,
			StatusCode: status,
			Err:        fmt.Errorf("unexpected status %d %s", status, http.StatusText(status)),
		}
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
