package scrape

// siteRules hold per-host CSS selectors for the high-volume sources
// that need them. Hosts not listed here go through the generic path.
type siteRule struct {
	// ListSelector picks anchor elements on the listing page.
	ListSelector string
	// BodySelector picks the article body on the article page; empty
	// means readability-only.
	BodySelector string
	// MaxLinks caps how many article pages one cycle fetches.
	MaxLinks int
}

var siteRules = map[string]siteRule{
	"ren.tv": {
		ListSelector: "a.news-item__title, .card a",
		BodySelector: ".text-block, article",
	},
	"360.ru": {
		ListSelector: "article a, a.news-card",
		BodySelector: "article .article__text",
	},
	"riamo.ru": {
		ListSelector: "a.list-item__title, article a",
		BodySelector: "article",
	},
	"regions.ru": {
		ListSelector: ".news-list a",
		BodySelector: ".news-detail, article",
	},
	"mosregtoday.ru": {
		ListSelector: "a.article-card, article a",
		BodySelector: ".article-body, article",
	},
}

const defaultMaxLinks = 8

func ruleFor(host string) (siteRule, bool) {
	r, ok := siteRules[host]
	if ok && r.MaxLinks <= 0 {
		r.MaxLinks = defaultMaxLinks
	}
	return r, ok
}
