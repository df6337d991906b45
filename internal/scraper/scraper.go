// Package scraper collects article links from external content sources.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Candidate is one article link found on a listing page.
type Candidate struct {
	Title   string
	URL     string
	Summary string
}

// Extractor parses a listing page. Relative links resolve against base.
type Extractor func(base *url.URL, page []byte) ([]Candidate, error)

// Source is one configured content site.
type Source struct {
	Key         string
	DisplayName string
	ListingURL  string
	// RateLimit is the pause after this source before the next one is fetched.
	RateLimit time.Duration
	// Allowed is false for sites whose robots policy forbids crawling.
	Allowed bool
	Extract Extractor
}

// Fetcher downloads a page body.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// Sink stores one normalized candidate.
type Sink func(ctx context.Context, src Source, c Candidate) error

// Report summarizes one pass over the sources.
type Report struct {
	Upserted      int
	SourcesOK     int
	SourcesFailed int
	Errors        map[string]string
}

// AllFailed reports whether no source succeeded.
func (r Report) AllFailed() bool {
	return r.SourcesOK == 0 && r.SourcesFailed > 0
}

var ErrUnknownSource = errors.New("scraper: unknown source")

// NormalizeURL resolves ref against base and returns its canonical form:
// lower-case scheme and host, no query, no fragment, no trailing slash.
func NormalizeURL(ref string, base *url.URL) (string, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", ref, err)
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported url %q", ref)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", ref)
	}
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil
	if u.Path != "" {
		cleaned := path.Clean(u.Path)
		if cleaned == "/" || cleaned == "." {
			cleaned = ""
		}
		u.Path = cleaned
		u.RawPath = ""
	}
	return u.String(), nil
}

// Select returns the sources named by keys, or every allowed source when
// keys is empty.
func Select(all []Source, keys []string) ([]Source, error) {
	if len(keys) == 0 {
		out := make([]Source, 0, len(all))
		for _, s := range all {
			if s.Allowed {
				out = append(out, s)
			}
		}
		return out, nil
	}
	byKey := make(map[string]Source, len(all))
	for _, s := range all {
		byKey[s.Key] = s
	}
	out := make([]Source, 0, len(keys))
	for _, k := range keys {
		s, ok := byKey[k]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSource, k)
		}
		out = append(out, s)
	}
	return out, nil
}

// Scraper runs the fetch, extract and store cycle across sources.
type Scraper struct {
	fetcher Fetcher
	log     *zap.Logger
}

func New(fetcher Fetcher, log *zap.Logger) *Scraper {
	return &Scraper{fetcher: fetcher, log: log.Named("scraper")}
}

// Run visits every source in order. A failing source is recorded in the
// report and does not stop the others. It returns early only when ctx ends.
func (s *Scraper) Run(ctx context.Context, sources []Source, sink Sink) (Report, error) {
	rep := Report{Errors: make(map[string]string)}
	for i, src := range sources {
		log := s.log.With(zap.String("source", src.Key))
		n, err := s.scrapeSource(ctx, src, sink)
		rep.Upserted += n
		if err != nil {
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
			rep.SourcesFailed++
			rep.Errors[src.Key] = err.Error()
			log.Warn("source failed", zap.Int("upserted", n), zap.Error(err))
		} else {
			rep.SourcesOK++
			log.Info("source scraped", zap.Int("upserted", n))
		}
		if i < len(sources)-1 && src.RateLimit > 0 {
			if err := sleep(ctx, src.RateLimit); err != nil {
				return rep, err
			}
		}
	}
	return rep, nil
}

func (s *Scraper) scrapeSource(ctx context.Context, src Source, sink Sink) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("source panic",
				zap.String("source", src.Key),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if !src.Allowed {
		return 0, errors.New("source is not allowed")
	}
	base, err := url.Parse(src.ListingURL)
	if err != nil {
		return 0, fmt.Errorf("listing url: %w", err)
	}
	page, err := s.fetcher.Fetch(ctx, src.ListingURL)
	if err != nil {
		return 0, err
	}
	candidates, err := src.Extract(base, page)
	if err != nil {
		return 0, fmt.Errorf("extract: %w", err)
	}
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		canonical, err := NormalizeURL(c.URL, base)
		if err != nil || c.Title == "" || seen[canonical] {
			continue
		}
		seen[canonical] = true
		c.URL = canonical
		if err := sink(ctx, src, c); err != nil {
			return n, fmt.Errorf("store %s: %w", canonical, err)
		}
		n++
	}
	return n, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
