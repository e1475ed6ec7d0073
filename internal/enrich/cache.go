package enrich

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// CacheKey derives the deterministic key for one (task,
// content-identity, params) tuple. Params are folded in sorted order so
// the key is insensitive to map iteration.
func CacheKey(task Task, contentIdentity string, params map[string]string) string {
	var sb strings.Builder
	sb.WriteString(string(task))
	sb.WriteByte('|')
	sb.WriteString(contentIdentity)

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteByte('|')
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(params[k])
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}
