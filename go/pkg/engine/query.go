package engine

import (
	"errors"
	"sort"
	"time"
)

var (
	// ErrInvalidWindow rejects non-positive query windows.
	ErrInvalidWindow = errors.New("window must be a positive number of hours")
	// ErrInvalidLimit rejects non-positive trending limits.
	ErrInvalidLimit = errors.New("limit must be positive")
	// ErrInvalidInterval rejects intervals larger than the query window or
	// not a multiple of every resolution serving the window. Old parts of a
	// window are read from rollups, so a long window cannot be sliced finer
	// than the rollups retaining it.
	ErrInvalidInterval = errors.New("interval must fit the window and be a multiple of every resolution serving it")
	// ErrUnknownMetric rejects time-series metrics the engine does not track.
	ErrUnknownMetric = errors.New("unknown time-series metric")
)

// Time-series metrics.
const (
	MetricPostVolume     = "post_volume"
	MetricSentimentTrend = "sentiment_trend"
	MetricEngagement     = "engagement"
)

type segment struct {
	res      time.Duration
	from, to time.Time
}

// segments splits [from, to) at the rollup-aligned retention cutoffs so each
// part of the window is read from the finest resolution still retained there.
// Boundaries are aligned up to the parent resolution, so no bucket of either
// resolution straddles a boundary and nothing is counted twice.
func (e *Engine) segments(from, to, now time.Time) []segment {
	segs := make([]segment, 0, len(e.resolutions))
	hi := to
	for i, res := range e.resolutions {
		if !hi.After(from) {
			break
		}
		if i == len(e.resolutions)-1 {
			segs = append(segs, segment{res: res, from: from, to: hi})
			break
		}
		cutoff := now.Add(-e.cfg.Retention[res])
		if !from.Before(cutoff) {
			segs = append(segs, segment{res: res, from: from, to: hi})
			return segs
		}
		lo := alignUp(cutoff, e.resolutions[i+1])
		if lo.Before(hi) {
			segs = append(segs, segment{res: res, from: lo, to: hi})
			hi = lo
		}
	}
	return segs
}

func alignUp(t time.Time, res time.Duration) time.Time {
	aligned := t.Truncate(res)
	if aligned.Before(t) {
		aligned = aligned.Add(res)
	}
	return aligned
}

// collect visits a copy of every bucket whose interval intersects its segment
// of [from, to), optionally filtered by platform. Each visit carries the
// resolution the value was read at.
func (e *Engine) collect(platform string, from, to time.Time, visit func(BucketKey, BucketAggregate)) {
	now := e.now()
	for _, seg := range e.segments(from, to, now) {
		seg := seg
		e.store.visit(seg.res, func(k BucketKey, a BucketAggregate) {
			if platform != "" && k.Platform != platform {
				return
			}
			if k.StartTime().Before(seg.to) && k.EndTime().After(seg.from) {
				visit(k, a)
			}
		})
	}
}

// SentimentSlice is one label of a sentiment distribution.
type SentimentSlice struct {
	Count      int64   `json:"count"`
	Percentage float64 `json:"percentage"`
}

// SentimentDistribution buckets mentions into positive/negative/neutral.
// Percentages sum to 100 within float rounding; an empty range yields an
// all-zero distribution rather than an error.
type SentimentDistribution struct {
	Positive SentimentSlice `json:"positive"`
	Negative SentimentSlice `json:"negative"`
	Neutral  SentimentSlice `json:"neutral"`
	Total    int64          `json:"total_posts"`
}

func (e *Engine) SentimentDistribution(platform string, windowHours int) (SentimentDistribution, error) {
	if windowHours <= 0 {
		return SentimentDistribution{}, ErrInvalidWindow
	}
	now := e.now()
	from := now.Add(-time.Duration(windowHours) * time.Hour)

	var dist SentimentDistribution
	e.collect(platform, from, now, func(_ BucketKey, a BucketAggregate) {
		dist.Positive.Count += a.Positive
		dist.Negative.Count += a.Negative
		dist.Neutral.Count += a.Neutral
	})
	dist.Total = dist.Positive.Count + dist.Negative.Count + dist.Neutral.Count
	if dist.Total > 0 {
		dist.Positive.Percentage = 100 * float64(dist.Positive.Count) / float64(dist.Total)
		dist.Negative.Percentage = 100 * float64(dist.Negative.Count) / float64(dist.Total)
		dist.Neutral.Percentage = 100 * float64(dist.Neutral.Count) / float64(dist.Total)
	}
	return dist, nil
}

// TimePoint is one time-series sample.
type TimePoint struct {
	BucketStart time.Time `json:"timestamp"`
	Value       float64   `json:"value"`
}

// TimeSeries returns window/interval points ordered by bucket start,
// zero-filled where no events landed, the last point being the current
// (still open) interval.
func (e *Engine) TimeSeries(metric, platform string, windowHours int, interval time.Duration) ([]TimePoint, error) {
	switch metric {
	case MetricPostVolume, MetricSentimentTrend, MetricEngagement:
	default:
		return nil, ErrUnknownMetric
	}
	if windowHours <= 0 {
		return nil, ErrInvalidWindow
	}
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}
	window := time.Duration(windowHours) * time.Hour
	n := int(window / interval)
	if n < 1 {
		return nil, ErrInvalidInterval
	}

	now := e.now()
	p0 := now.Truncate(interval).Add(-time.Duration(n-1) * interval)
	// Every segment's resolution must divide the interval, or a coarse
	// bucket read from a rollup could not be attributed to a single point.
	for _, seg := range e.segments(p0, p0.Add(time.Duration(n)*interval), now) {
		if interval < seg.res || interval%seg.res != 0 {
			return nil, ErrInvalidInterval
		}
	}

	points := make([]TimePoint, n)
	mentions := make([]int64, n)
	sums := make([]float64, n)
	engagement := make([]int64, n)
	for i := range points {
		points[i].BucketStart = p0.Add(time.Duration(i) * interval)
	}

	// Buckets are assigned to points by start time; every serving
	// resolution divides interval, so a bucket never spans two points.
	e.collect(platform, p0, p0.Add(time.Duration(n)*interval), func(k BucketKey, a BucketAggregate) {
		idx := int(k.StartTime().Sub(p0) / interval)
		if idx < 0 || idx >= n {
			return
		}
		mentions[idx] += a.Mentions
		sums[idx] += a.SentimentSum
		engagement[idx] += a.EngagementSum
	})

	for i := range points {
		switch metric {
		case MetricPostVolume:
			points[i].Value = float64(mentions[i])
		case MetricSentimentTrend:
			if mentions[i] > 0 {
				points[i].Value = sums[i] / float64(mentions[i])
			}
		case MetricEngagement:
			if mentions[i] > 0 {
				points[i].Value = float64(engagement[i]) / float64(mentions[i])
			}
		}
	}
	return points, nil
}

// RealtimeStats is a fresh snapshot of the last hour, recomputed on each call.
type RealtimeStats struct {
	PostsLastHour  int64                 `json:"posts_last_hour"`
	ActiveTopics   int                   `json:"active_topics_last_hour"`
	PostsPerMinute float64               `json:"posts_per_minute"`
	Sentiment      SentimentDistribution `json:"sentiment_distribution"`
	GeneratedAt    time.Time             `json:"timestamp"`
}

func (e *Engine) RealtimeStats() RealtimeStats {
	now := e.now()
	from := now.Add(-time.Hour)
	lastMinute := now.Add(-time.Minute)

	stats := RealtimeStats{GeneratedAt: now}
	topics := make(map[string]struct{})
	var lastMinuteMentions float64

	e.collect("", from, now, func(k BucketKey, a BucketAggregate) {
		stats.PostsLastHour += a.Mentions
		stats.Sentiment.Positive.Count += a.Positive
		stats.Sentiment.Negative.Count += a.Negative
		stats.Sentiment.Neutral.Count += a.Neutral
		if a.Mentions > 0 {
			topics[k.Topic] = struct{}{}
		}
		// A bucket overlapping the last minute only partially contributes
		// its prorated share, assuming events spread evenly within it.
		if overlap := overlapSeconds(k, lastMinute, now); overlap > 0 {
			lastMinuteMentions += float64(a.Mentions) * overlap / k.Res.Seconds()
		}
	})

	stats.ActiveTopics = len(topics)
	stats.PostsPerMinute = lastMinuteMentions / 60
	total := stats.Sentiment.Positive.Count + stats.Sentiment.Negative.Count + stats.Sentiment.Neutral.Count
	stats.Sentiment.Total = total
	if total > 0 {
		stats.Sentiment.Positive.Percentage = 100 * float64(stats.Sentiment.Positive.Count) / float64(total)
		stats.Sentiment.Negative.Percentage = 100 * float64(stats.Sentiment.Negative.Count) / float64(total)
		stats.Sentiment.Neutral.Percentage = 100 * float64(stats.Sentiment.Neutral.Count) / float64(total)
	}
	return stats
}

// overlapSeconds returns how many seconds of the bucket's interval fall
// inside [from, to).
func overlapSeconds(k BucketKey, from, to time.Time) float64 {
	start, end := k.StartTime(), k.EndTime()
	if start.Before(from) {
		start = from
	}
	if end.After(to) {
		end = to
	}
	if !end.After(start) {
		return 0
	}
	return end.Sub(start).Seconds()
}

// PlatformMetrics is one platform's aggregate over a query window.
type PlatformMetrics struct {
	Platform      string                `json:"platform"`
	TotalPosts    int64                 `json:"total_posts"`
	AvgEngagement float64               `json:"avg_engagement"`
	Sentiment     SentimentDistribution `json:"sentiment_distribution"`
}

// PlatformBreakdown aggregates the window per platform, most active first
// (platform name breaking ties).
func (e *Engine) PlatformBreakdown(windowHours int) ([]PlatformMetrics, error) {
	if windowHours <= 0 {
		return nil, ErrInvalidWindow
	}
	now := e.now()
	from := now.Add(-time.Duration(windowHours) * time.Hour)

	type platformAccum struct {
		mentions   int64
		engagement int64
		positive   int64
		negative   int64
		neutral    int64
	}
	accum := make(map[string]*platformAccum)
	e.collect("", from, now, func(k BucketKey, a BucketAggregate) {
		acc := accum[k.Platform]
		if acc == nil {
			acc = &platformAccum{}
			accum[k.Platform] = acc
		}
		acc.mentions += a.Mentions
		acc.engagement += a.EngagementSum
		acc.positive += a.Positive
		acc.negative += a.Negative
		acc.neutral += a.Neutral
	})

	out := make([]PlatformMetrics, 0, len(accum))
	for platform, acc := range accum {
		if acc.mentions == 0 {
			continue
		}
		m := PlatformMetrics{
			Platform:      platform,
			TotalPosts:    acc.mentions,
			AvgEngagement: float64(acc.engagement) / float64(acc.mentions),
			Sentiment: SentimentDistribution{
				Positive: SentimentSlice{Count: acc.positive, Percentage: 100 * float64(acc.positive) / float64(acc.mentions)},
				Negative: SentimentSlice{Count: acc.negative, Percentage: 100 * float64(acc.negative) / float64(acc.mentions)},
				Neutral:  SentimentSlice{Count: acc.neutral, Percentage: 100 * float64(acc.neutral) / float64(acc.mentions)},
				Total:    acc.mentions,
			},
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalPosts != out[j].TotalPosts {
			return out[i].TotalPosts > out[j].TotalPosts
		}
		return out[i].Platform < out[j].Platform
	})
	return out, nil
}
