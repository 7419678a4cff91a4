// Package extract maps raw news documents to structured article fields.
// Each site integration knows its own markup; everything above it (fetching,
// pagination, persistence) is site-agnostic.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Article holds the structured fields pulled from one article page.
type Article struct {
	Title   string
	Summary string
	Body    string
}

// Extractor parses a raw document into an Article. The second return value
// is false when the expected structural tags are absent, meaning "not an
// article page" rather than an error.
type Extractor interface {
	Extract(body []byte) (*Article, bool)
}

// Site describes one news source integration: where its listing pages live,
// which tag denotes a listing entry, and how to parse its article markup.
type Site struct {
	Name            string
	Source          string
	BaseURL         string
	ListingSelector string
	Extractor       Extractor

	// URLFileSuffix disambiguates discovery artifacts between sources
	// sharing a category slug.
	URLFileSuffix string

	PageURLFunc func(category string, page int) string
	Categories  map[string]string
}

// PageURL returns the absolute listing page URL for a category.
func (s *Site) PageURL(category string, page int) string {
	return s.PageURLFunc(category, page)
}

// CategoryDisplay maps a category slug to its display name, falling back to
// a title-cased slug for categories without a configured mapping.
func (s *Site) CategoryDisplay(slug string) string {
	if display, ok := s.Categories[slug]; ok {
		return display
	}
	if slug == "" {
		return "Tin tức"
	}
	words := strings.Split(strings.ReplaceAll(slug, "-", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// URLFileName names the discovery artifact for one category.
func (s *Site) URLFileName(category string) string {
	if s.URLFileSuffix == "" {
		return category + ".txt"
	}
	return category + "-" + s.URLFileSuffix + ".txt"
}

// ListingLinks parses the article links out of one listing page, in document
// order, with relative hrefs resolved against the site base URL.
func (s *Site) ListingLinks(body []byte) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse listing page: %w", err)
	}
	base, err := url.Parse(s.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	var links []string
	doc.Find(s.ListingSelector).Each(func(_ int, entry *goquery.Selection) {
		href, ok := entry.Find("a").First().Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}
		resolved, err := base.Parse(href)
		if err != nil {
			return
		}
		links = append(links, resolved.String())
	})
	return links, nil
}

// Sites returns the supported site integrations.
func Sites() []*Site {
	return []*Site{VNExpress(), DanTri(), VietnamNet()}
}

// SiteForName looks up an integration by its configured name.
func SiteForName(name string) (*Site, bool) {
	for _, site := range Sites() {
		if site.Name == strings.ToLower(strings.TrimSpace(name)) {
			return site, true
		}
	}
	return nil, false
}
