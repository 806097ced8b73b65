package check

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"resty.dev/v3"
)

// PartnerPage is the digest of a partner's reference site.
type PartnerPage struct {
	URL         string
	Title       string
	Description string
	Headings    []string
	Colors      []string
	Fonts       []string
}

// Digest renders the page as prompt text.
func (p *PartnerPage) Digest() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", p.Title)
	if p.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", p.Description)
	}
	if len(p.Headings) > 0 {
		fmt.Fprintf(&b, "Headings: %s\n", strings.Join(p.Headings, " | "))
	}
	if len(p.Colors) > 0 {
		fmt.Fprintf(&b, "Colors: %s\n", strings.Join(p.Colors, ", "))
	}
	if len(p.Fonts) > 0 {
		fmt.Fprintf(&b, "Fonts: %s\n", strings.Join(p.Fonts, ", "))
	}
	return b.String()
}

// PartnerFetcher loads a partner reference page.
type PartnerFetcher interface {
	Fetch(ctx context.Context, url string) (*PartnerPage, error)
}

// HTTPPartnerFetcher fetches partner pages over HTTP.
type HTTPPartnerFetcher struct {
	client *resty.Client
}

// NewHTTPPartnerFetcher builds a fetcher that follows redirects.
func NewHTTPPartnerFetcher(timeout time.Duration) *HTTPPartnerFetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPPartnerFetcher{client: resty.New().SetTimeout(timeout)}
}

// Fetch downloads url and reduces it to a PartnerPage.
func (f *HTTPPartnerFetcher) Fetch(ctx context.Context, url string) (*PartnerPage, error) {
	resp, err := f.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch partner page: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch partner page: status %d", resp.StatusCode())
	}
	return ParsePartnerPage(url, resp.String())
}

var (
	colorPattern = regexp.MustCompile(`#[0-9A-Fa-f]{6}\b|#[0-9A-Fa-f]{3}\b`)
	fontPattern  = regexp.MustCompile(`font-family\s*:\s*([^;}"]+)`)
)

const maxPartnerItems = 12

// ParsePartnerPage extracts branding cues from an HTML document.
func ParsePartnerPage(url, html string) (*PartnerPage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse partner page: %w", err)
	}
	page := &PartnerPage{
		URL:         url,
		Title:       strings.TrimSpace(doc.Find("title").First().Text()),
		Description: strings.TrimSpace(doc.Find(`meta[name="description"]`).AttrOr("content", "")),
	}
	doc.Find("h1, h2").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if text := strings.Join(strings.Fields(s.Text()), " "); text != "" {
			page.Headings = append(page.Headings, text)
		}
		return len(page.Headings) < maxPartnerItems
	})

	var styles strings.Builder
	doc.Find("style").Each(func(_ int, s *goquery.Selection) {
		styles.WriteString(s.Text())
		styles.WriteString("\n")
	})
	doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		styles.WriteString(s.AttrOr("style", ""))
		styles.WriteString("\n")
	})
	if theme, ok := doc.Find(`meta[name="theme-color"]`).Attr("content"); ok {
		styles.WriteString(theme)
	}
	page.Colors = uniqueMatches(colorPattern.FindAllString(styles.String(), -1), strings.ToUpper)
	var fonts []string
	for _, m := range fontPattern.FindAllStringSubmatch(styles.String(), -1) {
		fonts = append(fonts, strings.TrimSpace(m[1]))
	}
	page.Fonts = uniqueMatches(fonts, strings.TrimSpace)
	return page, nil
}

func uniqueMatches(values []string, normalize func(string) string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, v := range values {
		v = normalize(v)
		if _, ok := seen[v]; ok || v == "" {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
		if len(out) == maxPartnerItems {
			break
		}
	}
	return out
}
