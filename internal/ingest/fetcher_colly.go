package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
)

// HumanPacedFetcher fetches through Colly with randomized inter-request
// delays and a browser-like request fingerprint. Extraction downstream is
// identical to the plain fetcher; only the pacing differs.
type HumanPacedFetcher struct {
	UserAgent      string
	MaxRetries     int
	RequestTimeout time.Duration
	BaseDelay      time.Duration
	RandomDelay    time.Duration
}

// NewHumanPacedFetcher applies a source's fetch config on top of slow,
// jittered defaults.
func NewHumanPacedFetcher(config FetchConfig) *HumanPacedFetcher {
	f := &HumanPacedFetcher{
		UserAgent:      defaultUserAgent,
		MaxRetries:     3,
		RequestTimeout: 30 * time.Second,
		BaseDelay:      2 * time.Second,
		RandomDelay:    3 * time.Second,
	}
	if config.UserAgent != "" {
		f.UserAgent = config.UserAgent
	}
	if config.TimeoutSeconds > 0 {
		f.RequestTimeout = time.Duration(config.TimeoutSeconds) * time.Second
	}
	if config.MaxRetries > 0 {
		f.MaxRetries = config.MaxRetries
	}
	return f
}

func (f *HumanPacedFetcher) buildCollector(host string) *colly.Collector {
	c := colly.NewCollector(
		colly.UserAgent(f.UserAgent),
		colly.AllowedDomains(host),
		colly.AllowURLRevisit(),
		colly.DetectCharset(),
	)

	c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       f.BaseDelay,
		RandomDelay: f.RandomDelay,
	})
	c.SetRequestTimeout(f.RequestTimeout)

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-IN,en;q=0.9,gu;q=0.8")
		r.Headers.Set("Upgrade-Insecure-Requests", "1")
	})

	return c
}

// Fetch implements the Fetcher interface.
func (f *HumanPacedFetcher) Fetch(ctx context.Context, targetURL string) (*FetchedDocument, error) {
	parsedURL, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	// Colly matches allowed domains against the portless hostname.
	c := f.buildCollector(parsedURL.Hostname())

	var result *FetchedDocument
	var fetchErr error

	c.OnResponse(func(r *colly.Response) {
		result = &FetchedDocument{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			Body:        io.NopCloser(bytes.NewReader(r.Body)),
			FetchedAt:   time.Now(),
			Headers:     map[string][]string(r.Headers.Clone()),
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		retries := 0
		if r.Request.Ctx.GetAny("retries") != nil {
			retries = r.Request.Ctx.GetAny("retries").(int)
		}
		if retries < f.MaxRetries {
			r.Request.Ctx.Put("retries", retries+1)
			time.Sleep(time.Duration(retries+1) * time.Second)
			r.Request.Retry()
			return
		}
		fetchErr = &TransientError{Err: fmt.Errorf("fetch failed after %d retries: %w", f.MaxRetries, err)}
	})

	// Visit is synchronous and fires the callbacks before returning. Run
	// it aside so cancellation can abandon a slow request instead of
	// waiting out the full request timeout; the buffered channel lets the
	// abandoned visit finish without anyone receiving.
	visitDone := make(chan error, 1)
	go func() {
		visitDone <- c.Visit(targetURL)
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case visitErr := <-visitDone:
		if visitErr != nil {
			return nil, &TransientError{Err: fmt.Errorf("visit failed: %w", visitErr)}
		}
	}

	if fetchErr != nil {
		return nil, fetchErr
	}
	if result == nil {
		return nil, fmt.Errorf("no response received for %s", targetURL)
	}

	return result, nil
}
