package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"newsward/internal/enrich"
	"newsward/internal/news"
	logx "newsward/pkg/logx"
)

// Gateway is the slice of the enrichment gateway the classifier needs.
type Gateway interface {
	Do(ctx context.Context, req enrich.Request) (enrich.Response, enrich.Outcome, error)
	Enabled() bool
}

// Classifier resolves category and hashtags; deterministic rules first,
// AI escalation only when the rules come up empty.
type Classifier struct {
	gw  Gateway
	log logx.Logger
}

func New(gw Gateway, log logx.Logger) *Classifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Classifier{gw: gw, log: log}
}

// Apply assigns category and hashtags to an accepted item. The source's
// configured category is the fallback when content carries no signal;
// an unverified fallback is escalated to the model when one is wired.
func (c *Classifier) Apply(ctx context.Context, it *news.Item, fallback news.Category) {
	cat, matched := categorize(it.URL, it.Title, it.CleanText, fallback)
	if !matched && c.gw != nil && c.gw.Enabled() {
		cat = c.verifyCategory(ctx, it, cat)
	}
	it.Category = cat
	it.Hashtags = c.hashtags(ctx, it)
}

// verifyCategory confirms or corrects the fallback category. Anything
// the model answers outside the known set keeps the fallback.
func (c *Classifier) verifyCategory(ctx context.Context, it *news.Item, fallback news.Category) news.Category {
	resp, outcome, err := c.gw.Do(ctx, enrich.Request{
		Task:            enrich.TaskCategory,
		ContentIdentity: it.Checksum,
		Params:          map[string]string{"fallback": string(fallback)},
		System:          "Ты определяешь рубрику новости. Ответь ровно одним словом: world, russia, moscow или moscow_region.",
		Prompt:          fmt.Sprintf("Заголовок: %s\nТекст: %s\n", it.Title, promptSample(it.CleanText, 800)),
		MaxTokens:       10,
	})
	if err != nil {
		c.log.Warn("category verification ledger error", logx.Err(err))
	}
	if outcome != enrich.OutcomeOK && outcome != enrich.OutcomeCacheHit {
		return fallback
	}
	got, perr := news.ParseCategory(strings.ToLower(strings.TrimSpace(resp.Text)))
	if perr != nil {
		c.log.Debug("category verification answered off-list", logx.String("got", resp.Text))
		return fallback
	}
	return got
}

// hashtags resolves the G0..G3 + R0 pack. Escalation fires only for
// Russia-scoped items with no region/city resolved, and AI answers are
// accepted only when every returned tag is on the allow-list.
func (c *Classifier) hashtags(ctx context.Context, it *news.Item) []string {
	sample := strings.ToLower(it.Title + " " + it.CleanText)

	tp := TagPack{
		G0: detectG0(it.Category, sample),
		R0: matchAliases(sample, r0Aliases, r0Order),
	}

	if tp.G0 == TagRussia {
		tp.G2 = matchAliases(sample, g2Aliases, g2Order)
		tp.G3 = matchAliases(sample, g3Aliases, g3Order)
		if tp.G3 != "" && tp.G2 == "" {
			tp.G2 = cityToRegion[tp.G3]
		}
		if tp.G2 != "" || tp.G3 != "" {
			tp.G1 = TagCentralDistrict
		} else {
			tp.G1 = matchAliases(sample, g1Aliases, g1Order)
		}
	}

	needsAI := (tp.G0 == TagRussia && tp.G1 == "") || tp.R0 == ""
	if needsAI && c.gw != nil && c.gw.Enabled() {
		c.escalate(ctx, it, &tp)
	}

	return finalize(tp).Ordered()
}

func detectG0(cat news.Category, sample string) string {
	switch cat {
	case news.CategoryWorld:
		return TagWorld
	case news.CategoryRussia, news.CategoryMoscow, news.CategoryMoscowRegion:
		return TagRussia
	}
	if strings.Contains(sample, "росси") {
		return TagRussia
	}
	return TagWorld
}

// finalize enforces hierarchy invariants regardless of where the values
// came from.
func finalize(tp TagPack) TagPack {
	if !allowlist.G0[tp.G0] {
		tp.G0 = TagWorld
	}
	if tp.G0 != TagRussia {
		tp.G1, tp.G2, tp.G3 = "", "", ""
	}
	if !allowlist.G1[tp.G1] {
		tp.G1 = ""
	}
	// Region/city taxonomy exists only under the Central district.
	if tp.G1 != TagCentralDistrict {
		tp.G2, tp.G3 = "", ""
	}
	if !allowlist.G2[tp.G2] {
		tp.G2 = ""
	}
	if !allowlist.G3[tp.G3] {
		tp.G3 = ""
	}
	if tp.G2 != "" && strings.EqualFold(tp.G2, tp.G3) {
		tp.G3 = ""
	}
	if tp.G1 == "" && (tp.G2 != "" || tp.G3 != "") {
		tp.G1 = TagCentralDistrict
	}
	if !allowlist.R0[tp.R0] {
		tp.R0 = r0Default
	}
	return tp
}

type aiTagResult struct {
	G0 string `json:"g0"`
	G1 string `json:"g1"`
	G2 string `json:"g2"`
	G3 string `json:"g3"`
	R0 string `json:"r0"`
}

func (c *Classifier) escalate(ctx context.Context, it *news.Item, tp *TagPack) {
	resp, outcome, err := c.gw.Do(ctx, enrich.Request{
		Task:            enrich.TaskHashtags,
		ContentIdentity: it.Checksum,
		Params:          map[string]string{"lang": it.Language},
		System:          "Ты классифицируешь новости по тегам. Отвечай только JSON-объектом с ключами g0,g1,g2,g3,r0; значения только из предложенных списков или null.",
		Prompt:          escalationPrompt(it, *tp),
		MaxTokens:       120,
	})
	if err != nil {
		c.log.Warn("hashtag escalation ledger error", logx.Err(err))
	}
	if outcome != enrich.OutcomeOK && outcome != enrich.OutcomeCacheHit {
		return
	}

	var got aiTagResult
	if jerr := json.Unmarshal([]byte(extractJSON(resp.Text)), &got); jerr != nil {
		c.log.Debug("hashtag escalation returned non-json", logx.Err(jerr))
		return
	}

	// Only allow-listed values may fill gaps; invented tags are
	// discarded wholesale.
	fill := func(cur *string, val string, allow map[string]bool) {
		if *cur == "" && allow[normalizeTag(val)] {
			*cur = normalizeTag(val)
		}
	}
	fill(&tp.G1, got.G1, allowlist.G1)
	fill(&tp.G2, got.G2, allowlist.G2)
	fill(&tp.G3, got.G3, allowlist.G3)
	fill(&tp.R0, got.R0, allowlist.R0)
}

func escalationPrompt(it *news.Item, tp TagPack) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Заголовок: %s\n", it.Title)
	fmt.Fprintf(&sb, "Текст: %s\n\n", promptSample(it.CleanText, 1200))
	fmt.Fprintf(&sb, "Уже определено: g0=%s g1=%s g2=%s g3=%s r0=%s\n", orNull(tp.G0), orNull(tp.G1), orNull(tp.G2), orNull(tp.G3), orNull(tp.R0))
	fmt.Fprintf(&sb, "Допустимые g1: %s\n", strings.Join(g1Districts, " "))
	fmt.Fprintf(&sb, "Допустимые g2: %s\n", strings.Join(g2Order, " "))
	fmt.Fprintf(&sb, "Допустимые g3: %s\n", strings.Join(g3Order, " "))
	fmt.Fprintf(&sb, "Допустимые r0: %s\n", strings.Join(r0Tags, " "))
	return sb.String()
}

// promptSample trims s to limit runes; a byte slice could split a
// multi-byte rune mid-sequence.
func promptSample(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

func orNull(s string) string {
	if s == "" {
		return "null"
	}
	return s
}

func normalizeTag(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return ""
	}
	if !strings.HasPrefix(s, "#") {
		s = "#" + s
	}
	// Canonical casing comes from the allow-list itself.
	for _, set := range []map[string]bool{allowlist.G0, allowlist.G1, allowlist.G2, allowlist.G3, allowlist.R0} {
		for tag := range set {
			if strings.EqualFold(tag, s) {
				return tag
			}
		}
	}
	return s
}

// extractJSON tolerates models that wrap JSON in prose or code fences.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

// AllowedR0 exposes the rubric allow-list for diagnostics and tests.
func AllowedR0() []string {
	out := make([]string, 0, len(allowlist.R0))
	for t := range allowlist.R0 {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
