// Package extract finalizes item text before quality evaluation:
// picking the working text, flagging title-only fallbacks and running
// the optional AI cleanup pass over scraped articles.
package extract

import (
	"context"
	"strings"
	"unicode/utf8"

	"newsward/internal/enrich"
	"newsward/internal/news"
	"newsward/internal/quality"
	"newsward/pkg/logx"
)

// Gateway is the slice of the enrichment gateway cleanup needs.
type Gateway interface {
	Do(ctx context.Context, req enrich.Request) (enrich.Response, enrich.Outcome, error)
	Enabled() bool
}

// Refiner fills Item.CleanText and reports whether the item fell back
// to its title as body text.
type Refiner struct {
	gw            Gateway
	cleanupMinLen int
	log           logx.Logger
}

func NewRefiner(gw Gateway, cleanupMinLen int, log logx.Logger) *Refiner {
	return &Refiner{gw: gw, cleanupMinLen: cleanupMinLen, log: log}
}

const cleanupSystem = "Ты редактор новостей. Убери из текста навигацию, подписи, рекламу и служебные фразы. Верни только связный текст новости без комментариев."

const cleanupMaxTokens = 1200

// Refine returns true when the item had no body text and its title was
// promoted to body. Cleanup failures never fail the item; the raw text
// is kept.
func (r *Refiner) Refine(ctx context.Context, it *news.Item) bool {
	it.RawText = strings.TrimSpace(it.RawText)
	if it.RawText == "" {
		it.RawText = it.Title
		it.CleanText = it.Title
		return true
	}
	it.CleanText = it.RawText

	if it.SourceType != news.SourceScrape || r.gw == nil || !r.gw.Enabled() {
		return false
	}
	if utf8.RuneCountInString(it.RawText) < r.cleanupMinLen {
		return false
	}

	resp, outcome, err := r.gw.Do(ctx, enrich.Request{
		Task:            enrich.TaskCleanup,
		ContentIdentity: quality.Checksum(it.RawText),
		System:          cleanupSystem,
		Prompt:          it.RawText,
		MaxTokens:       cleanupMaxTokens,
	})
	if err != nil {
		r.log.Warn("cleanup ledger write", logx.String("url", it.URL), logx.Err(err))
	}
	if outcome == enrich.OutcomeUnavailable {
		r.log.Warn("cleanup unavailable, keeping raw text", logx.String("url", it.URL))
		return false
	}
	if outcome != enrich.OutcomeOK && outcome != enrich.OutcomeCacheHit {
		return false
	}
	cleaned := strings.TrimSpace(resp.Text)
	// A cleanup that eats most of the article is worse than none.
	if cleaned == "" || utf8.RuneCountInString(cleaned) < utf8.RuneCountInString(it.RawText)/3 {
		return false
	}
	it.CleanText = cleaned
	return false
}
