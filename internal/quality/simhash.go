package quality

import (
	"hash/fnv"
	"math/bits"
	"strings"
	"unicode"
)

// Simhash builds a 64-bit near-duplicate fingerprint from weighted
// token shingles of title+text.
//
// Identical text hashes to identical fingerprints; a minor rewrite
// moves only the bits owned by the changed shingles, keeping the
// Hamming distance small. Unrelated text diverges on most bits.
func Simhash(title, text string) uint64 {
	var acc [64]int

	// Title tokens carry extra weight: headlines are short and the
	// strongest duplicate signal.
	addTokens(&acc, tokenize(title), 3)
	addTokens(&acc, tokenize(text), 1)

	var fp uint64
	for i := 0; i < 64; i++ {
		if acc[i] > 0 {
			fp |= 1 << uint(i)
		}
	}
	return fp
}

// HammingDistance counts differing bits between two fingerprints.
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

func addTokens(acc *[64]int, tokens []string, weight int) {
	// Shingles of 2 adjacent tokens smooth over word-level edits.
	for i := 0; i < len(tokens); i++ {
		shingle := tokens[i]
		if i+1 < len(tokens) {
			shingle = tokens[i] + " " + tokens[i+1]
		}
		h := fnv.New64a()
		_, _ = h.Write([]byte(shingle))
		v := h.Sum64()
		for b := 0; b < 64; b++ {
			if v&(1<<uint(b)) != 0 {
				acc[b] += weight
			} else {
				acc[b] -= weight
			}
		}
	}
}

func tokenize(s string) []string {
	s = strings.ToLower(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) >= 3 {
			out = append(out, f)
		}
	}
	return out
}
