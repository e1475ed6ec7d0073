package scrape

import (
	"strings"
	"testing"
)

const listingHTML = `<html><body>
<article><h2><a href="/news/1">Первая новость дня о событиях в регионе</a></h2></article>
<article><h2><a href="https://example.com/news/2">Вторая новость дня о событиях в столице</a></h2></article>
<article><h2><a href="https://other.example.org/news/3">Чужая новость с другого домена и сайта</a></h2></article>
<article><h2><a href="/news/1">Первая новость дня о событиях в регионе</a></h2></article>
<h3><a href="/tag">Тэг</a></h3>
</body></html>`

func TestLinks(t *testing.T) {
	t.Parallel()

	links, err := Links([]byte(listingHTML), "https://example.com/news")
	if err != nil {
		t.Fatalf("Links: %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("got %d links, want 2: %+v", len(links), links)
	}
	if links[0].URL != "https://example.com/news/1" {
		t.Errorf("first link = %q", links[0].URL)
	}
	if links[1].URL != "https://example.com/news/2" {
		t.Errorf("second link = %q", links[1].URL)
	}
	if !strings.Contains(links[0].Title, "Первая новость") {
		t.Errorf("first title = %q", links[0].Title)
	}
}

func TestLinksRejectsRelativeGarbage(t *testing.T) {
	t.Parallel()

	html := `<article><h2><a href="javascript:void(0)">Ссылка с достаточно длинным заголовком</a></h2></article>`
	links, err := Links([]byte(html), "https://example.com")
	if err != nil {
		t.Fatalf("Links: %v", err)
	}
	if len(links) != 0 {
		t.Fatalf("got %d links, want 0", len(links))
	}
}

func TestExtractReadability(t *testing.T) {
	t.Parallel()

	para := strings.Repeat("Это содержательное предложение статьи про городские события. ", 12)
	html := `<html><head><title>Заголовок статьи</title></head><body>
<article><h1>Заголовок статьи</h1><p>` + para + `</p><p>` + para + `</p></article>
</body></html>`

	a, err := Extract([]byte(html), "https://example.com/news/1")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.Contains(a.Text, "содержательное предложение") {
		t.Errorf("text missing body content: %q", a.Text[:min(len(a.Text), 120)])
	}
	if strings.Contains(a.Text, "<p>") {
		t.Errorf("text contains markup: %q", a.Text[:min(len(a.Text), 120)])
	}
}

func TestHTMLToTextSeparatesBlocks(t *testing.T) {
	t.Parallel()

	text, err := htmlToText("<div>первый</div><div>второй</div>")
	if err != nil {
		t.Fatalf("htmlToText: %v", err)
	}
	if text != "первый второй" {
		t.Errorf("got %q", text)
	}
}
