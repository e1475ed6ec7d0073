package quality

import (
	"context"
	"time"

	"newsward/internal/news"
	logx "newsward/pkg/logx"
)

// History is the slice of the persistence layer the dedup engine reads.
// Writes happen only after acceptance, in the pipeline.
type History interface {
	SeenGUID(ctx context.Context, guid string) (bool, error)
	SeenURLHash(ctx context.Context, urlHash string) (bool, error)
	ChecksumSeen(ctx context.Context, checksum string, since time.Time) (bool, error)
	RecentSimhashes(ctx context.Context, since time.Time) ([]uint64, error)
	RecentTitles(ctx context.Context, since time.Time) ([]string, error)
}

type Config struct {
	MinScore      float64 // default 0.55
	MinScoreNoisy float64 // stricter threshold for noisy-tier sources

	MinTextLen     int // scrape-sourced minimum, default 80
	MinTextLenFeed int // feed-sourced minimum, default 40

	DedupWindow time.Duration // checksum+simhash window, default 48h
	TitleWindow time.Duration // title similarity window, default 24h

	SimhashDistance int     // default 20
	TitleJaccard    float64 // default 0.85

	MaxItemAge time.Duration // default 24h
}

func (c Config) withDefaults() Config {
	if c.MinScore <= 0 {
		c.MinScore = 0.55
	}
	if c.MinScoreNoisy <= 0 {
		c.MinScoreNoisy = 0.65
	}
	if c.MinTextLen <= 0 {
		c.MinTextLen = 80
	}
	if c.MinTextLenFeed <= 0 {
		c.MinTextLenFeed = 40
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = 48 * time.Hour
	}
	if c.TitleWindow <= 0 {
		c.TitleWindow = 24 * time.Hour
	}
	if c.SimhashDistance <= 0 {
		c.SimhashDistance = 20
	}
	if c.TitleJaccard <= 0 {
		c.TitleJaccard = 0.85
	}
	if c.MaxItemAge <= 0 {
		c.MaxItemAge = 24 * time.Hour
	}
	return c
}

// Engine runs the quality gate and the ordered dedup layers.
type Engine struct {
	cfg  Config
	hist History
	log  logx.Logger
	now  func() time.Time
}

func NewEngine(cfg Config, hist History, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{cfg: cfg.withDefaults(), hist: hist, log: log, now: time.Now}
}

// EvalInput carries per-item context the engine needs beyond the item
// itself.
type EvalInput struct {
	Tier          string // "" or "noisy"
	FromFeed      bool   // feed-native text gets the lenient length floor
	TitleFallback bool   // cleanText degraded to the title by the extractor
}

// Evaluate fills the item's derived fields (checksum, simhash,
// normalized URL, quality score) and returns a non-empty DropReason if
// the item must be rejected. A returned error means the history store
// failed; the item is neither accepted nor counted as dropped.
func (e *Engine) Evaluate(ctx context.Context, it *news.Item, in EvalInput) (news.DropReason, error) {
	now := e.now()

	// Stale or undatable items are deliberate drops, not errors.
	if !it.PublishedAt.IsZero() && it.PublishedConf != news.ConfidenceSurrogate {
		if now.Sub(it.PublishedAt) > e.cfg.MaxItemAge {
			return news.DropOldPublished, nil
		}
	}
	// Noisy feeds must carry a trustworthy timestamp. Scrape sources
	// never do, so only feed items are held to it.
	if in.FromFeed && in.Tier == "noisy" {
		switch it.PublishedConf {
		case news.ConfidenceLow:
			return news.DropParseDateFailed, nil
		case news.ConfidenceSurrogate, news.ConfidenceNone:
			return news.DropNoPublishedDate, nil
		}
	}

	it.URLNormalized = NormalizeURL(it.URL)
	it.URLHash = URLHash(it.URLNormalized)
	it.Checksum = Checksum(it.CleanText)
	it.Simhash = Simhash(it.Title, it.CleanText)
	it.Language = DetectLanguage(it.Title, it.CleanText)

	score, details := Score(it.CleanText)
	it.QualityScore = score

	minLen := e.cfg.MinTextLen
	if in.FromFeed {
		minLen = e.cfg.MinTextLenFeed
	}
	threshold := e.cfg.MinScore
	if in.Tier == "noisy" {
		threshold = e.cfg.MinScoreNoisy
	}
	if in.TitleFallback {
		// Title-only items still carry signal; halve both bars so only
		// obviously-thin ones fall through.
		minLen /= 2
		threshold /= 2
	}

	if len([]rune(it.CleanText)) < minLen || score < threshold {
		e.log.Debug("low quality",
			logx.String("source", it.Source),
			logx.Float64("score", score),
			logx.Int("length", details.Length),
			logx.Int("sentences", details.SentenceCount))
		return news.DropLowQuality, nil
	}

	// Dedup layers in fixed order; first hit rejects.
	if it.GUID != "" {
		seen, err := e.hist.SeenGUID(ctx, it.GUID)
		if err != nil {
			return "", err
		}
		if seen {
			return news.DropDuplicateGUID, nil
		}
	}

	seen, err := e.hist.SeenURLHash(ctx, it.URLHash)
	if err != nil {
		return "", err
	}
	if seen {
		return news.DropDuplicateURL, nil
	}

	dup, err := e.hist.ChecksumSeen(ctx, it.Checksum, now.Add(-e.cfg.DedupWindow))
	if err != nil {
		return "", err
	}
	if dup {
		return news.DropDuplicateHash, nil
	}

	hashes, err := e.hist.RecentSimhashes(ctx, now.Add(-e.cfg.DedupWindow))
	if err != nil {
		return "", err
	}
	for _, h := range hashes {
		if HammingDistance(it.Simhash, h) <= e.cfg.SimhashDistance {
			return news.DropDuplicateNear, nil
		}
	}

	titles, err := e.hist.RecentTitles(ctx, now.Add(-e.cfg.TitleWindow))
	if err != nil {
		return "", err
	}
	for _, t := range titles {
		if TitleSimilar(it.Title, t, e.cfg.TitleJaccard) {
			return news.DropDuplicateTitle, nil
		}
	}

	return "", nil
}
