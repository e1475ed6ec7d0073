// Package scrape turns HTML listing pages and article pages of
// RSS-less sources into item candidates.
package scrape

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// Link is one article reference found on a listing page.
type Link struct {
	URL   string
	Title string
}

// Article is the extracted text of a single article page.
type Article struct {
	Title string
	Text  string
}

var (
	wsRe        = regexp.MustCompile(`\s+`)
	blockOpenRe = regexp.MustCompile(`<(?:div|p|br|li|td|tr|h[1-6])[^>]*>`)
	blockEndRe  = regexp.MustCompile(`</(?:div|p|li|td|tr|h[1-6])>`)
)

const minLinkTitleRunes = 20

// Links parses a listing page and returns article links resolved
// against baseURL, newest first as they appear in the document.
func Links(body []byte, baseURL string) ([]Link, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}

	rule, ok := ruleFor(base.Hostname())
	selector := "article a[href], h1 a[href], h2 a[href], h3 a[href]"
	maxLinks := defaultMaxLinks
	if ok {
		selector = rule.ListSelector
		maxLinks = rule.MaxLinks
	}

	var out []Link
	seen := make(map[string]struct{})
	doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, exists := s.Attr("href")
		if !exists {
			return true
		}
		u, err := base.Parse(strings.TrimSpace(href))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return true
		}
		if u.Hostname() != base.Hostname() {
			return true
		}
		title := normalizeText(s.Text())
		if utf8.RuneCountInString(title) < minLinkTitleRunes {
			return true
		}
		key := u.String()
		if _, dup := seen[key]; dup {
			return true
		}
		seen[key] = struct{}{}
		out = append(out, Link{URL: key, Title: title})
		return len(out) < maxLinks
	})
	return out, nil
}

// Extract pulls title and plain text out of an article page. A
// site-specific body selector wins over the generic readability pass
// when it yields a usable amount of text.
func Extract(body []byte, pageURL string) (Article, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return Article{}, err
	}
	html := string(body)

	if rule, ok := ruleFor(parsed.Hostname()); ok && rule.BodySelector != "" {
		if a, ok := extractBySelector(html, rule.BodySelector); ok {
			return a, nil
		}
	}

	art, err := readability.FromReader(strings.NewReader(html), parsed)
	if err != nil {
		return Article{}, err
	}
	text, err := htmlToText(art.Content)
	if err != nil {
		return Article{}, err
	}
	return Article{Title: normalizeText(art.Title), Text: text}, nil
}

const minSelectorTextRunes = 200

func extractBySelector(html, selector string) (Article, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Article{}, false
	}
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return Article{}, false
	}
	sel.Find("script, style, noscript, iframe, figure").Remove()
	inner, err := goquery.OuterHtml(sel)
	if err != nil {
		return Article{}, false
	}
	text, err := htmlToText(inner)
	if err != nil || utf8.RuneCountInString(text) < minSelectorTextRunes {
		return Article{}, false
	}
	title := normalizeText(doc.Find("h1").First().Text())
	if title == "" {
		title = normalizeText(doc.Find("title").First().Text())
	}
	return Article{Title: title, Text: text}, true
}

// htmlToText flattens markup into whitespace-normalized text. Block
// tags get padded with spaces first so adjacent paragraphs do not run
// together.
func htmlToText(html string) (string, error) {
	padded := blockOpenRe.ReplaceAllString(html, " $0")
	padded = blockEndRe.ReplaceAllString(padded, "$0 ")
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(padded))
	if err != nil {
		return "", err
	}
	return normalizeText(doc.Text()), nil
}

func normalizeText(s string) string {
	return strings.TrimSpace(wsRe.ReplaceAllString(s, " "))
}
