package feed

import (
	"testing"
	"time"

	"newsward/internal/news"
)

const rssFixture = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel>
<title>Лента</title>
<item>
  <guid>tag:example.com,1</guid>
  <title> Первая новость </title>
  <link>https://example.com/news/1</link>
  <description><![CDATA[<p>Описание <b>первой</b> новости.</p>]]></description>
  <pubDate>Mon, 24 Aug 2026 10:00:00 +0300</pubDate>
</item>
<item>
  <title>Вторая новость</title>
  <link>https://example.com/news/2</link>
  <description>Описание второй новости.</description>
  <pubDate>не дата</pubDate>
</item>
<item>
  <title>Третья новость</title>
  <link>https://example.com/news/3</link>
  <description>Описание третьей новости.</description>
</item>
<item>
  <title>Без ссылки</title>
  <description>Пропускается.</description>
</item>
</channel></rss>`

func TestParse(t *testing.T) {
	t.Parallel()

	p := NewParser()
	fetchedAt := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fetchedAt }

	items, err := p.Parse([]byte(rssFixture), "lenta")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3", len(items))
	}

	first := items[0]
	if first.GUID != "tag:example.com,1" || first.Title != "Первая новость" {
		t.Errorf("first item = %+v", first)
	}
	if first.Source != "lenta" || first.SourceType != news.SourceFeed {
		t.Errorf("source fields = %q %q", first.Source, first.SourceType)
	}
	if first.RawText != "Описание первой новости." {
		t.Errorf("raw text = %q", first.RawText)
	}
	if first.PublishedConf != news.ConfidenceHigh {
		t.Errorf("first confidence = %q", first.PublishedConf)
	}
	if first.PublishedAt.UTC().Hour() != 7 {
		t.Errorf("published at = %v", first.PublishedAt)
	}

	if items[1].PublishedConf != news.ConfidenceLow || !items[1].PublishedAt.Equal(fetchedAt) {
		t.Errorf("unparseable date: conf=%q at=%v", items[1].PublishedConf, items[1].PublishedAt)
	}
	if items[2].PublishedConf != news.ConfidenceSurrogate {
		t.Errorf("missing date: conf=%q", items[2].PublishedConf)
	}
}

func TestParseCapsItems(t *testing.T) {
	t.Parallel()

	var b []byte
	b = append(b, `<rss version="2.0"><channel><title>x</title>`...)
	for i := 0; i < 15; i++ {
		b = append(b, `<item><title>n</title><link>https://example.com/`...)
		b = append(b, byte('a'+i))
		b = append(b, `</link></item>`...)
	}
	b = append(b, `</channel></rss>`...)

	items, err := NewParser().Parse(b, "s")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(items) != maxItemsPerFeed {
		t.Fatalf("got %d items, want %d", len(items), maxItemsPerFeed)
	}
}

func TestParseInvalid(t *testing.T) {
	t.Parallel()

	if _, err := NewParser().Parse([]byte("not xml at all"), "s"); err == nil {
		t.Fatal("expected error")
	}
}
