package scraper

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// DefaultSources is the built-in site set.
func DefaultSources() []Source {
	return []Source{
		{
			Key:         "who",
			DisplayName: "World Health Organization",
			ListingURL:  "https://www.who.int/mental_health/news",
			RateLimit:   5 * time.Second,
			Allowed:     true,
			Extract:     ExtractWHO,
		},
		{
			Key:         "psychologyToday",
			DisplayName: "Psychology Today",
			ListingURL:  "https://www.psychologytoday.com/us/basics/mental-health/news",
			RateLimit:   8 * time.Second,
			Allowed:     true,
			Extract:     ExtractPsychologyToday,
		},
		{
			Key:         "apa",
			DisplayName: "APA",
			ListingURL:  "https://www.apa.org/news/mental-health",
			RateLimit:   8 * time.Second,
			Allowed:     true,
			Extract:     ExtractAPA,
		},
	}
}

type selectors struct {
	item    string
	title   string
	link    string
	summary string
}

func extractWith(sel selectors, page []byte) ([]Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	var out []Candidate
	doc.Find(sel.item).Each(func(_ int, item *goquery.Selection) {
		link := item.Find(sel.link).First()
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		title := link.Text()
		if sel.title != "" {
			title = item.Find(sel.title).First().Text()
		}
		c := Candidate{
			Title:   collapse(title),
			URL:     strings.TrimSpace(href),
			Summary: collapse(item.Find(sel.summary).First().Text()),
		}
		if c.Title == "" || c.URL == "" {
			return
		}
		out = append(out, c)
	})
	return out, nil
}

// ExtractWHO parses the WHO mental health news listing.
func ExtractWHO(_ *url.URL, page []byte) ([]Candidate, error) {
	return extractWith(selectors{
		item:    ".list-view--item",
		link:    "a",
		summary: ".auto-summary, .article-summary, p",
	}, page)
}

// ExtractPsychologyToday parses the Psychology Today news listing.
func ExtractPsychologyToday(_ *url.URL, page []byte) ([]Candidate, error) {
	return extractWith(selectors{
		item:    ".blog-listing .blog-item",
		title:   ".blog-title",
		link:    "a",
		summary: ".blog-summary",
	}, page)
}

// ExtractAPA parses the APA mental health news listing.
func ExtractAPA(_ *url.URL, page []byte) ([]Candidate, error) {
	return extractWith(selectors{
		item:    ".news-listing .news-item",
		title:   ".news-title",
		link:    "a",
		summary: ".news-summary",
	}, page)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
