// Package feed turns raw RSS/Atom payloads into item candidates.
package feed

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"newsward/internal/news"
)

const maxItemsPerFeed = 10

// Parser wraps gofeed with the candidate shaping the collector expects.
type Parser struct {
	parser *gofeed.Parser
	now    func() time.Time
}

func NewParser() *Parser {
	return &Parser{parser: gofeed.NewParser(), now: time.Now}
}

// Parse returns up to maxItemsPerFeed newest candidates. RawText is the
// feed-provided summary; the extractor decides whether that is enough.
func (p *Parser) Parse(body []byte, sourceName string) ([]*news.Item, error) {
	parsed, err := p.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	if len(parsed.Items) == 0 {
		return nil, nil
	}

	items := parsed.Items
	if len(items) > maxItemsPerFeed {
		items = items[:maxItemsPerFeed]
	}

	out := make([]*news.Item, 0, len(items))
	for _, entry := range items {
		link := strings.TrimSpace(entry.Link)
		if link == "" {
			continue
		}
		it := &news.Item{
			GUID:       strings.TrimSpace(entry.GUID),
			URL:        link,
			Title:      strings.TrimSpace(entry.Title),
			Source:     sourceName,
			SourceType: news.SourceFeed,
			RawText:    pickContent(entry),
		}
		it.PublishedAt, it.PublishedConf = publishedAt(entry, p.now())
		out = append(out, it)
	}
	return out, nil
}

func pickContent(entry *gofeed.Item) string {
	if c := stripHTML(entry.Content); c != "" {
		return c
	}
	return stripHTML(entry.Description)
}

// stripHTML flattens feed-provided markup; many sources ship HTML in
// their description elements.
func stripHTML(s string) string {
	if !strings.ContainsRune(s, '<') {
		return strings.TrimSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// publishedAt grades date trust: a parsed published date is high
// confidence, updated-only is medium, nothing yields a fetch-time
// surrogate.
func publishedAt(entry *gofeed.Item, now time.Time) (time.Time, news.PublishedConfidence) {
	if entry.PublishedParsed != nil {
		return *entry.PublishedParsed, news.ConfidenceHigh
	}
	if entry.UpdatedParsed != nil {
		return *entry.UpdatedParsed, news.ConfidenceMed
	}
	if strings.TrimSpace(entry.Published) != "" || strings.TrimSpace(entry.Updated) != "" {
		// A date string exists but gofeed could not parse it.
		return now, news.ConfidenceLow
	}
	return now, news.ConfidenceSurrogate
}
