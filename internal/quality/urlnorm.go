package quality

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// trackingParams are query parameters that never change the resource
// identity and only churn dedup keys.
var trackingParams = map[string]bool{
	"fbclid":    true,
	"gclid":     true,
	"yclid":     true,
	"ysclid":    true,
	"_openstat": true,
	"from":      true,
	"ref":       true,
}

// NormalizeURL canonicalizes a URL for dedup: lower-case scheme/host,
// default ports stripped, fragment dropped, tracking params removed,
// remaining query params sorted. Idempotent by construction:
// NormalizeURL(NormalizeURL(u)) == NormalizeURL(u).
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	switch {
	case u.Scheme == "http" && strings.HasSuffix(u.Host, ":80"):
		u.Host = strings.TrimSuffix(u.Host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(u.Host, ":443"):
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	if u.RawQuery != "" {
		q := u.Query()
		kept := url.Values{}
		for k, vs := range q {
			lk := strings.ToLower(k)
			if strings.HasPrefix(lk, "utm_") || trackingParams[lk] {
				continue
			}
			for _, v := range vs {
				kept.Add(k, v)
			}
		}
		// Encode() sorts keys; sort values inside a key for stability.
		for k := range kept {
			sort.Strings(kept[k])
		}
		u.RawQuery = kept.Encode()
	}

	return u.String()
}

// URLHash is the dedup key for a normalized URL.
func URLHash(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
