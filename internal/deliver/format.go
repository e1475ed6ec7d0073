package deliver

import (
	"html"
	"strings"
	"unicode/utf8"

	"newsward/internal/news"
)

const bodyLimitRunes = 500

// Format renders one item as Telegram HTML. The AI summary is the
// preferred body; without one the cleaned text is trimmed at a word
// boundary.
func Format(it *news.Item) string {
	var b strings.Builder
	b.WriteString("<b>")
	b.WriteString(html.EscapeString(it.Title))
	b.WriteString("</b>")

	body := it.Summary
	if body == "" {
		body = snippet(it.CleanText, bodyLimitRunes)
	}
	if body != "" && body != it.Title {
		b.WriteString("\n\n")
		b.WriteString(html.EscapeString(body))
	}

	b.WriteString("\n\n<a href=\"")
	b.WriteString(it.URL)
	b.WriteString("\">")
	b.WriteString(html.EscapeString(it.Source))
	b.WriteString("</a>")

	if len(it.Hashtags) > 0 {
		b.WriteString("\n")
		b.WriteString(strings.Join(it.Hashtags, " "))
	}
	return b.String()
}

// snippet trims s to limit runes at the last word boundary, appending
// an ellipsis when anything was cut.
func snippet(s string, limit int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	cut := string(runes[:limit])
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,;:—-") + "…"
}
