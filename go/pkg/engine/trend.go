package engine

import (
	"sort"
	"time"
)

// TopicScore is one ranked trending topic.
type TopicScore struct {
	Topic      string   `json:"topic"`
	Mentions   int64    `json:"mentions"`
	Sentiment  float64  `json:"sentiment_score"`
	GrowthRate float64  `json:"growth_rate"`
	Platforms  []string `json:"platforms"`
}

type topicAccum struct {
	mentions     int64
	sentimentSum float64
	platforms    map[string]struct{}
}

// RankTrending ranks topics over the last windowHours against the
// immediately preceding window of equal length. Order is mentions desc,
// growth desc, topic asc: a deterministic total order, so pagination and
// tests are stable. A zero baseline is substituted with 1, never divided
// through as zero.
func (e *Engine) RankTrending(platform string, windowHours, limit int) ([]TopicScore, error) {
	if windowHours <= 0 {
		return nil, ErrInvalidWindow
	}
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	if limit > e.cfg.TrendMaxLimit {
		limit = e.cfg.TrendMaxLimit
	}

	now := e.now()
	window := time.Duration(windowHours) * time.Hour
	from := now.Add(-window)

	current := make(map[string]*topicAccum)
	e.collect(platform, from, now, func(k BucketKey, a BucketAggregate) {
		acc := current[k.Topic]
		if acc == nil {
			acc = &topicAccum{platforms: make(map[string]struct{})}
			current[k.Topic] = acc
		}
		acc.mentions += a.Mentions
		acc.sentimentSum += a.SentimentSum
		acc.platforms[k.Platform] = struct{}{}
	})

	baseline := make(map[string]int64)
	e.collect(platform, from.Add(-window), from, func(k BucketKey, a BucketAggregate) {
		baseline[k.Topic] += a.Mentions
	})

	scores := make([]TopicScore, 0, len(current))
	for topic, acc := range current {
		if acc.mentions == 0 {
			continue
		}
		prev := baseline[topic]
		if prev < 1 {
			prev = 1
		}
		platforms := make([]string, 0, len(acc.platforms))
		for p := range acc.platforms {
			platforms = append(platforms, p)
		}
		sort.Strings(platforms)
		scores = append(scores, TopicScore{
			Topic:      topic,
			Mentions:   acc.mentions,
			Sentiment:  acc.sentimentSum / float64(acc.mentions),
			GrowthRate: float64(acc.mentions) / float64(prev),
			Platforms:  platforms,
		})
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Mentions != scores[j].Mentions {
			return scores[i].Mentions > scores[j].Mentions
		}
		if scores[i].GrowthRate != scores[j].GrowthRate {
			return scores[i].GrowthRate > scores[j].GrowthRate
		}
		return scores[i].Topic < scores[j].Topic
	})

	if len(scores) > limit {
		scores = scores[:limit]
	}
	return scores, nil
}
