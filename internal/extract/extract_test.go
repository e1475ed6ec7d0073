package extract

import (
	"context"
	"strings"
	"testing"

	"newsward/internal/enrich"
	"newsward/internal/news"
	"newsward/pkg/logx"
)

type stubGateway struct {
	enabled bool
	text    string
	outcome enrich.Outcome
	calls   int
}

func (g *stubGateway) Do(_ context.Context, _ enrich.Request) (enrich.Response, enrich.Outcome, error) {
	g.calls++
	return enrich.Response{Text: g.text}, g.outcome, nil
}

func (g *stubGateway) Enabled() bool { return g.enabled }

func TestRefineTitleFallback(t *testing.T) {
	t.Parallel()

	r := NewRefiner(nil, 400, logx.Nop())
	it := &news.Item{Title: "Заголовок", RawText: "  "}
	if !r.Refine(context.Background(), it) {
		t.Fatal("expected title fallback")
	}
	if it.CleanText != "Заголовок" || it.RawText != "Заголовок" {
		t.Errorf("item = %+v", it)
	}
}

func TestRefineFeedItemsSkipCleanup(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{enabled: true, outcome: enrich.OutcomeOK, text: "чистый"}
	r := NewRefiner(gw, 10, logx.Nop())
	it := &news.Item{Title: "t", RawText: strings.Repeat("текст ", 50), SourceType: news.SourceFeed}
	if r.Refine(context.Background(), it) {
		t.Fatal("unexpected title fallback")
	}
	if gw.calls != 0 {
		t.Errorf("gateway called %d times for feed item", gw.calls)
	}
	if it.CleanText != it.RawText {
		t.Errorf("clean text rewritten: %q", it.CleanText)
	}
}

func TestRefineCleanupApplied(t *testing.T) {
	t.Parallel()

	raw := strings.Repeat("Новость про события в городе и области. ", 20)
	cleaned := strings.Repeat("Новость про события в городе. ", 15)
	gw := &stubGateway{enabled: true, outcome: enrich.OutcomeOK, text: cleaned}
	r := NewRefiner(gw, 100, logx.Nop())
	it := &news.Item{Title: "t", RawText: raw, SourceType: news.SourceScrape}
	r.Refine(context.Background(), it)
	if gw.calls != 1 {
		t.Fatalf("gateway calls = %d", gw.calls)
	}
	if it.CleanText != strings.TrimSpace(cleaned) {
		t.Errorf("clean text = %q", it.CleanText)
	}
}

func TestRefineCleanupDegradedKeepsRaw(t *testing.T) {
	t.Parallel()

	raw := strings.Repeat("Новость про события в городе и области. ", 20)
	for _, outcome := range []enrich.Outcome{enrich.OutcomeBudgetExceeded, enrich.OutcomeCycleLimited, enrich.OutcomeUnavailable} {
		gw := &stubGateway{enabled: true, outcome: outcome, text: "обрезок"}
		r := NewRefiner(gw, 100, logx.Nop())
		it := &news.Item{Title: "t", RawText: raw, SourceType: news.SourceScrape}
		r.Refine(context.Background(), it)
		if it.CleanText != strings.TrimSpace(raw) {
			t.Errorf("outcome %s: clean text = %q", outcome, it.CleanText)
		}
	}
}

func TestRefineRejectsOvershrunkCleanup(t *testing.T) {
	t.Parallel()

	raw := strings.Repeat("Новость про события в городе и области. ", 20)
	gw := &stubGateway{enabled: true, outcome: enrich.OutcomeOK, text: "коротко"}
	r := NewRefiner(gw, 100, logx.Nop())
	it := &news.Item{Title: "t", RawText: raw, SourceType: news.SourceScrape}
	r.Refine(context.Background(), it)
	if it.CleanText != strings.TrimSpace(raw) {
		t.Errorf("clean text = %q", it.CleanText)
	}
}
