// Package classify assigns the editorial category and the hierarchical
// hashtag set to accepted items.
package classify

import (
	"regexp"
	"strings"

	"newsward/internal/news"
)

// categoryPatterns score candidate categories by match count against
// title+text. Patterns are ordered most-specific-first inside each set.
var categoryPatterns = map[news.Category][]*regexp.Regexp{
	news.CategoryMoscow: compileAll(
		`москв[аеуы]`, `столиц[аеуы]`, `мэр москвы`, `собянин`,
		`кремл[ьяе]`, `красн(ая|ой|ую) площад`, `столичн`,
	),
	news.CategoryMoscowRegion: compileAll(
		`подмосковь[ея]`, `московск(ая|ой|ую) област`, `мособласт`,
		`химк`, `мытищ`, `балаших`, `люберц`, `одинцов`, `красногорск`,
		`подольск`, `серпухов`, `коломн`, `долгопрудн`, `зеленоград`,
	),
	news.CategoryWorld: compileAll(
		`сша`, `америк[аеи]`, `трамп`, `европ[аеы]`, `нато`,
		`кита[йя]`, `пекин`, `япони[яи]`, `израил`, `иран`,
		`турци[яи]`, `германи[яи]`, `франци[яи]`, `британи[яи]`,
		`оон`, `брюссел`, `вашингтон`,
	),
	news.CategoryRussia: compileAll(
		`росси[яи]`, `госдум`, `правительств`, `путин`, `кабмин`,
		`минфин`, `центробанк`, `регион[ае]?`, `федеральн`,
	),
}

// urlMarkers take priority over content matching: a geographic path
// segment is a stronger signal than keyword counts.
var urlMarkers = []struct {
	marker string
	cat    news.Category
}{
	{"mosobl", news.CategoryMoscowRegion},
	{"moskovskaya", news.CategoryMoscowRegion},
	{"podmoskov", news.CategoryMoscowRegion},
	{"mosreg", news.CategoryMoscowRegion},
	{"moscow-region", news.CategoryMoscowRegion},
	{"/moskva", news.CategoryMoscow},
	{"/moscow", news.CategoryMoscow},
	{"/world", news.CategoryWorld},
	{"/international", news.CategoryWorld},
	{"/russia", news.CategoryRussia},
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

// Categorize picks the category for an item. URL path markers win over
// content scores; fallback is the source's configured category when no
// signal is found.
func Categorize(url, title, text string, fallback news.Category) news.Category {
	cat, _ := categorize(url, title, text, fallback)
	return cat
}

// categorize additionally reports whether any deterministic signal was
// found; false means the fallback was returned unverified.
func categorize(url, title, text string, fallback news.Category) (news.Category, bool) {
	lowerURL := strings.ToLower(url)
	for _, m := range urlMarkers {
		if strings.Contains(lowerURL, m.marker) {
			return m.cat, true
		}
	}

	sample := strings.ToLower(title + " " + text)
	best := fallback
	bestScore := 0
	// Deterministic check order so equal scores resolve stably.
	for _, cat := range []news.Category{
		news.CategoryMoscow,
		news.CategoryMoscowRegion,
		news.CategoryWorld,
		news.CategoryRussia,
	} {
		score := 0
		for _, re := range categoryPatterns[cat] {
			score += len(re.FindAllStringIndex(sample, -1))
		}
		if score > bestScore {
			bestScore = score
			best = cat
		}
	}
	return best, bestScore > 0
}
