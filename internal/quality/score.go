// Package quality scores content and rejects duplicates before an item
// is accepted into the pipeline.
package quality

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var sentenceSplitRe = regexp.MustCompile(`[.!?]+\s+`)

// noisePhrases are boilerplate markers common in Russian news pages:
// subscription prompts, social links, "read also" blocks.
var noisePhrases = []string{
	"подпис", "реклам", "telegram", "t.me", "vk", "ok.ru", "youtube",
	"читайте также", "смотрите также", "подробнее", "партнер",
	"поделиться", "войти", "зарегистр", "новости партнеров",
	"материалы по теме", "похожие материалы", "нашли опечатку",
	"что думаешь", "комментируй", "подпишись", "картина дня",
}

const (
	refLength    = 900.0
	refSentences = 5.0
)

// ScoreDetails carries the per-component breakdown for diagnostics.
type ScoreDetails struct {
	Length        int
	SentenceCount int
	NoiseRatio    float64
	RepeatRatio   float64
}

// Score rates content quality from 0.0 to 1.0.
//
// Length and sentence count add score (capped at reference values);
// boilerplate-phrase density and duplicated lines subtract.
func Score(text string) (float64, ScoreDetails) {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return 0, ScoreDetails{}
	}

	length := len([]rune(raw))
	sentences := 0
	for _, s := range sentenceSplitRe.Split(raw, -1) {
		if strings.TrimSpace(s) != "" {
			sentences++
		}
	}
	if sentences == 0 {
		sentences = 1
	}

	lower := strings.ToLower(raw)
	noiseHits := 0
	for _, p := range noisePhrases {
		if strings.Contains(lower, p) {
			noiseHits++
		}
	}
	noiseRatio := float64(noiseHits) / float64(sentences)
	if noiseRatio > 1 {
		noiseRatio = 1
	}

	var lines []string
	for _, l := range strings.Split(raw, "\n") {
		if t := strings.TrimSpace(l); t != "" {
			lines = append(lines, t)
		}
	}
	repeatRatio := 0.0
	if len(lines) > 0 {
		uniq := make(map[string]struct{}, len(lines))
		for _, l := range lines {
			uniq[l] = struct{}{}
		}
		repeatRatio = 1 - float64(len(uniq))/float64(len(lines))
	}

	lengthScore := minF(1, float64(length)/refLength) * 0.5
	sentenceScore := minF(1, float64(sentences)/refSentences) * 0.3
	penalty := noiseRatio*0.1 + repeatRatio*0.1

	score := lengthScore + sentenceScore - penalty
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	return score, ScoreDetails{
		Length:        length,
		SentenceCount: sentences,
		NoiseRatio:    noiseRatio,
		RepeatRatio:   repeatRatio,
	}
}

// Checksum returns the hex sha256 of text. Deterministic and stable
// across runs.
func Checksum(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// DetectLanguage guesses "ru" or "en" from the Cyrillic/Latin letter
// ratio; Russian wins ties since that is the dominant corpus.
func DetectLanguage(title, text string) string {
	sample := strings.TrimSpace(title + " " + text)
	if sample == "" {
		return "ru"
	}
	var cyr, lat int
	for _, r := range strings.ToLower(sample) {
		switch {
		case (r >= 'а' && r <= 'я') || r == 'ё':
			cyr++
		case r >= 'a' && r <= 'z':
			lat++
		}
	}
	if float64(lat) > float64(cyr)*1.2 {
		return "en"
	}
	return "ru"
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
