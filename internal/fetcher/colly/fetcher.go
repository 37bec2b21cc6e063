// Package collyfetcher implements indicator.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/indicator-analyzer/internal/extract"
	"github.com/JakeFAU/indicator-analyzer/internal/fetcher"
	"github.com/JakeFAU/indicator-analyzer/internal/indicator"
	"github.com/JakeFAU/indicator-analyzer/internal/metrics"
)

// DefaultTimeout bounds a single page request.
const DefaultTimeout = 10 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Referer   string
	Timeout   time.Duration
	DelayMin  time.Duration
	DelayMax  time.Duration
	Selectors extract.Selectors
}

// Fetcher implements indicator.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	pacer         *fetcher.Pacer
	extractor     *extract.Extractor
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// page is what the collector callbacks capture for one visit.
type page struct {
	status int
	body   []byte
	err    error
}

// New builds a Fetcher. The limiter is shared with every other outbound
// caller; nil disables rate limiting.
func New(cfg Config, limiter fetcher.Waiter, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	// The same indicator is re-fetched on every run.
	c.AllowURLRevisit = true
	// Non-2xx bodies still reach OnResponse; classification happens here.
	c.ParseHTTPErrorResponse = true

	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
		pacer:         fetcher.NewPacer(cfg.DelayMin, cfg.DelayMax, limiter),
		extractor:     extract.New(cfg.Selectors),
		logger:        logger.Named("colly_fetcher"),
	}
}

// Fetch retrieves one indicator page and extracts its fields.
func (f *Fetcher) Fetch(ctx context.Context, url string) (indicator.FetchedRecord, error) {
	if err := f.pacer.Pace(ctx); err != nil {
		return indicator.FetchedRecord{}, err
	}

	p, err := f.runCollector(ctx, url)
	if err != nil {
		return indicator.FetchedRecord{}, err
	}

	if fe := fetcher.Classify(url, p.status, p.err); fe != nil {
		metrics.ObserveFetch(string(fe.Kind), len(p.body))
		return indicator.FetchedRecord{}, fe
	}
	metrics.ObserveFetch("ok", len(p.body))

	res := f.extractor.Extract(url, p.body)
	for _, w := range res.Warnings {
		metrics.ObserveExtractionFallback(w.Field)
		f.logger.Warn("field extraction fell back to default",
			zap.String("url", url),
			zap.String("field", w.Field),
			zap.Error(w.Err),
		)
	}
	return res.Record, nil
}

func (f *Fetcher) buildCollector(p *page) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.IgnoreRobotsTxt = true
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true
	collector.SetRequestTimeout(f.cfg.Timeout)
	baseTransport := f.transport
	if baseTransport == nil {
		baseTransport = newHTTPTransport()
	}
	collector.WithTransport(baseTransport)
	f.configureCollectorHooks(collector, p)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, p *page) {
	headers := fetcher.BrowserHeaders(f.cfg.UserAgent, f.cfg.Referer)

	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range headers {
			r.Headers.Del(key)
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		p.status = r.StatusCode
		p.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			p.status = r.StatusCode
			p.body = append([]byte(nil), r.Body...)
			return
		}
		p.err = err
	})
}

// runCollector returns only context cancellation; transport failures are
// left in the page for classification. The page belongs to the visiting
// goroutine until it is sent, so a canceled fetch never shares it.
func (f *Fetcher) runCollector(ctx context.Context, url string) (page, error) {
	done := make(chan page, 1)
	go func() {
		var p page
		collector := f.buildCollector(&p)
		if err := collector.Visit(url); err != nil && p.err == nil && p.status == 0 {
			p.err = err
		}
		done <- p
	}()

	select {
	case <-ctx.Done():
		return page{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case p := <-done:
		return p, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
	}
}
