// Package parser extracts entity data from wiki markup. Index pages yield
// links to detail pages; detail pages yield the description and thumbnail
// for one entity. Missing optional fields degrade to sentinel values and
// never fail the record.
package parser

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/digidex/digidex-crawler/internal/crawl"
)

// NoDescription is returned when a detail page has no info-panel
// description field.
const NoDescription = "No description available"

// Detail holds the fields extracted from one detail page. ImageURL is empty
// when the page carries no thumbnail.
type Detail struct {
	Description string
	ImageURL    string
}

// descriptionSelectors are tried in order against the page's info panel.
// Fandom-style portable infoboxes come first, classic table infoboxes after.
var descriptionSelectors = []string{
	`aside.portable-infobox [data-source="description"] .pi-data-value`,
	`table.infobox td.description`,
	`.infobox .description`,
}

// imageSelectors locate the designated thumbnail element.
var imageSelectors = []string{
	`aside.portable-infobox img`,
	`table.infobox img`,
	`.infobox img`,
}

// ParseIndex extracts entity links from an index page. It selects hyperlinks
// inside tabular structures whose resolved target sits on the base origin
// under articlePath, trims the link text, and discards empty-text links and
// namespace pages. Duplicate names are kept; dedup happens at discovery.
func ParseIndex(markup []byte, base *url.URL, articlePath string) ([]crawl.EntityRef, error) {
	doc, err := parseDocument(markup)
	if err != nil {
		return nil, err
	}

	var refs []crawl.EntityRef
	doc.Find("table a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		target, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		resolved := base.ResolveReference(target)
		if resolved.Host != base.Host {
			return
		}
		if !strings.HasPrefix(resolved.Path, articlePath) {
			return
		}
		slug := strings.TrimPrefix(resolved.Path, articlePath)
		// Skip the index itself and namespace pages (File:, Category:, ...).
		if slug == "" || strings.Contains(slug, ":") {
			return
		}
		name := strings.TrimSpace(sel.Text())
		if name == "" {
			return
		}
		resolved.Fragment = ""
		refs = append(refs, crawl.EntityRef{Name: name, SourceURL: resolved.String()})
	})
	return refs, nil
}

// ParseDetail extracts the description and thumbnail URL from a detail page.
// A page without the info-panel field yields the NoDescription sentinel; a
// page without a thumbnail yields an empty ImageURL. Only unparseable input
// fails.
func ParseDetail(markup []byte) (Detail, error) {
	doc, err := parseDocument(markup)
	if err != nil {
		return Detail{}, err
	}

	detail := Detail{Description: NoDescription}
	for _, selector := range descriptionSelectors {
		text := strings.TrimSpace(doc.Find(selector).First().Text())
		if text != "" {
			detail.Description = normalizeWhitespace(text)
			break
		}
	}
	for _, selector := range imageSelectors {
		img := doc.Find(selector).First()
		if src := imageSource(img); src != "" {
			detail.ImageURL = src
			break
		}
	}
	return detail, nil
}

func parseDocument(markup []byte) (*goquery.Document, error) {
	if len(bytes.TrimSpace(markup)) == 0 {
		return nil, &crawl.ParseError{Reason: "empty document"}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return nil, &crawl.ParseError{Reason: "unparseable markup", Err: err}
	}
	return doc, nil
}

// imageSource prefers the lazy-load attribute wikis use over src, which may
// hold a base64 placeholder.
func imageSource(sel *goquery.Selection) string {
	if src, ok := sel.Attr("data-src"); ok && !strings.HasPrefix(src, "data:") {
		return strings.TrimSpace(src)
	}
	if src, ok := sel.Attr("src"); ok && !strings.HasPrefix(src, "data:") {
		return strings.TrimSpace(src)
	}
	return ""
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
