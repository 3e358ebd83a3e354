package engine

import "time"

// BucketKey identifies one aggregate: a topic on a platform within the
// half-open interval [Start, Start+Res).
type BucketKey struct {
	Topic    string
	Platform string
	Start    int64 // unix seconds, aligned to Res
	Res      time.Duration
}

func (k BucketKey) StartTime() time.Time { return time.Unix(k.Start, 0) }
func (k BucketKey) EndTime() time.Time   { return time.Unix(k.Start, 0).Add(k.Res) }

// bucketKeyAt builds the key whose interval contains ts at the given resolution.
func bucketKeyAt(topic, platform string, ts time.Time, res time.Duration) BucketKey {
	return BucketKey{
		Topic:    topic,
		Platform: platform,
		Start:    ts.Truncate(res).Unix(),
		Res:      res,
	}
}

// BucketAggregate accumulates per-bucket counters. Accumulation is
// commutative: any arrival order of the same events yields the same final
// value, which is what allows per-key locking instead of global ordering.
type BucketAggregate struct {
	Mentions      int64
	SentimentSum  float64
	SentimentSq   float64
	EngagementSum int64
	Positive      int64
	Negative      int64
	Neutral       int64
	FirstSeen     int64 // unix seconds of earliest contributing event, 0 = unset
	LastSeen      int64 // unix seconds of latest contributing event

	folded bool
}

// add records a single mention. class is +1 positive, 0 neutral, -1 negative.
func (a *BucketAggregate) add(ts int64, score float64, engagement int64, class int) {
	a.Mentions++
	a.SentimentSum += score
	a.SentimentSq += score * score
	a.EngagementSum += engagement
	switch {
	case class > 0:
		a.Positive++
	case class < 0:
		a.Negative++
	default:
		a.Neutral++
	}
	if a.FirstSeen == 0 || ts < a.FirstSeen {
		a.FirstSeen = ts
	}
	if ts > a.LastSeen {
		a.LastSeen = ts
	}
}

// merge folds another aggregate's counters into a. Sums add, FirstSeen takes
// the min, LastSeen the max.
func (a *BucketAggregate) merge(o BucketAggregate) {
	a.Mentions += o.Mentions
	a.SentimentSum += o.SentimentSum
	a.SentimentSq += o.SentimentSq
	a.EngagementSum += o.EngagementSum
	a.Positive += o.Positive
	a.Negative += o.Negative
	a.Neutral += o.Neutral
	if o.FirstSeen != 0 && (a.FirstSeen == 0 || o.FirstSeen < a.FirstSeen) {
		a.FirstSeen = o.FirstSeen
	}
	if o.LastSeen > a.LastSeen {
		a.LastSeen = o.LastSeen
	}
}

// diff returns the contribution added to a since prev was snapshotted.
func (a BucketAggregate) diff(prev BucketAggregate) BucketAggregate {
	d := BucketAggregate{
		Mentions:      a.Mentions - prev.Mentions,
		SentimentSum:  a.SentimentSum - prev.SentimentSum,
		SentimentSq:   a.SentimentSq - prev.SentimentSq,
		EngagementSum: a.EngagementSum - prev.EngagementSum,
		Positive:      a.Positive - prev.Positive,
		Negative:      a.Negative - prev.Negative,
		Neutral:       a.Neutral - prev.Neutral,
	}
	if d.Mentions != 0 {
		d.FirstSeen = a.FirstSeen
		d.LastSeen = a.LastSeen
	}
	return d
}

func (a BucketAggregate) empty() bool { return a.Mentions == 0 }

// Folded reports whether this bucket's contents have been folded into its
// coarser parent.
func (a BucketAggregate) Folded() bool { return a.folded }
