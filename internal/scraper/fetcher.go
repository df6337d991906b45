package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/gocolly/colly/v2"
)

// CollyFetcher downloads listing pages with a colly collector.
type CollyFetcher struct {
	userAgent string
	timeout   time.Duration
}

func NewCollyFetcher(userAgent string, timeout time.Duration) *CollyFetcher {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &CollyFetcher{userAgent: userAgent, timeout: timeout}
}

func (f *CollyFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	c := colly.NewCollector(
		colly.UserAgent(f.userAgent),
		colly.AllowURLRevisit(),
		colly.StdlibContext(ctx),
	)
	c.SetRequestTimeout(f.timeout)

	var (
		body     []byte
		fetchErr error
	)
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fetchErr = fmt.Errorf("HTTP %d fetching %s: %w", r.StatusCode, rawURL, err)
			return
		}
		fetchErr = fmt.Errorf("fetch %s: %w", rawURL, err)
	})
	if err := c.Visit(rawURL); err != nil && fetchErr == nil {
		fetchErr = fmt.Errorf("visit %s: %w", rawURL, err)
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	return body, nil
}
