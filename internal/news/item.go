package news

import (
	"fmt"
	"strings"
	"time"
)

// Category is the editorial bucket an item is published under.
type Category string

const (
	CategoryWorld        Category = "world"
	CategoryRussia       Category = "russia"
	CategoryMoscow       Category = "moscow"
	CategoryMoscowRegion Category = "moscow_region"
)

func ParseCategory(s string) (Category, error) {
	switch Category(strings.ToLower(strings.TrimSpace(s))) {
	case CategoryWorld:
		return CategoryWorld, nil
	case CategoryRussia:
		return CategoryRussia, nil
	case CategoryMoscow:
		return CategoryMoscow, nil
	case CategoryMoscowRegion:
		return CategoryMoscowRegion, nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// PublishedConfidence grades how trustworthy PublishedAt is.
type PublishedConfidence string

const (
	ConfidenceNone PublishedConfidence = "none"
	ConfidenceLow  PublishedConfidence = "low"
	ConfidenceMed  PublishedConfidence = "medium"
	ConfidenceHigh PublishedConfidence = "high"
	// ConfidenceSurrogate marks a fetch-time stand-in used when the
	// source provides no publication date at all.
	ConfidenceSurrogate PublishedConfidence = "surrogate"
)

// SourceType selects the fetch strategy for a source.
type SourceType string

const (
	SourceFeed   SourceType = "feed"
	SourceScrape SourceType = "scrape"
)

// Item is one ingested article candidate.
//
// Lifecycle: created by the collector per fetch, mutated by the
// extractor (text fields), the quality engine (checksum/simhash/score)
// and the classifier (category/hashtags). Once accepted and persisted
// it is immutable; the delivery engine only ever reads it.
type Item struct {
	ID     int64
	GUID   string
	URL    string
	Title  string
	Source string

	Category   Category
	SourceType SourceType

	RawText   string
	CleanText string

	Checksum      string
	Simhash       uint64
	URLNormalized string
	URLHash       string

	PublishedAt   time.Time
	PublishedConf PublishedConfidence

	QualityScore float64
	Language     string

	// Summary is the AI one-paragraph digest used as the delivery
	// text; empty when the budget refused it.
	Summary string

	// Hashtags are ordered: G0, then G1..G3 for Russia-scoped items,
	// then the R0 rubric tag.
	Hashtags []string

	AcceptedAt time.Time
}

// DropReason is a counted, non-error rejection of a candidate.
type DropReason string

const (
	DropOldPublished    DropReason = "old-published-at"
	DropNoPublishedDate DropReason = "no-published-date"
	DropParseDateFailed DropReason = "parse-date-failed"
	DropLowQuality      DropReason = "low-quality"
	DropDuplicateGUID   DropReason = "duplicate-guid"
	DropDuplicateURL    DropReason = "duplicate-url"
	DropDuplicateHash   DropReason = "duplicate-checksum"
	DropDuplicateNear   DropReason = "duplicate-simhash"
	DropDuplicateTitle  DropReason = "duplicate-title"
)
