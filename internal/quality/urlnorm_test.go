package quality

import "testing"

func TestNormalizeURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "lowercase host, default port, tracking params, fragment, sorted query",
			in:   "https://EX.com:443/a?utm_source=x&b=2&a=1#f",
			want: "https://ex.com/a?a=1&b=2",
		},
		{
			name: "http default port",
			in:   "http://Example.COM:80/news",
			want: "http://example.com/news",
		},
		{
			name: "fbclid and gclid stripped",
			in:   "https://site.ru/article?fbclid=abc&gclid=def&id=5",
			want: "https://site.ru/article?id=5",
		},
		{
			name: "no query untouched",
			in:   "https://site.ru/article/2024/01/01",
			want: "https://site.ru/article/2024/01/01",
		},
		{
			name: "non-default port kept",
			in:   "https://site.ru:8443/a",
			want: "https://site.ru:8443/a",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeURL(tt.in)
			if got != tt.want {
				t.Fatalf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeURLIdempotent(t *testing.T) {
	t.Parallel()
	urls := []string{
		"https://EX.com:443/a?utm_source=x&b=2&a=1#f",
		"http://site.ru/path?z=1&y=2&utm_medium=rss",
		"https://news.example.org/",
		"not a url at all",
	}
	for _, u := range urls {
		once := NormalizeURL(u)
		twice := NormalizeURL(once)
		if once != twice {
			t.Fatalf("not idempotent for %q: first %q, second %q", u, once, twice)
		}
	}
}

func TestURLHashStable(t *testing.T) {
	t.Parallel()
	a := URLHash("https://ex.com/a")
	b := URLHash("https://ex.com/a")
	if a != b {
		t.Fatalf("URLHash not deterministic: %s vs %s", a, b)
	}
	if a == URLHash("https://ex.com/b") {
		t.Fatal("distinct URLs must not collide trivially")
	}
}
