package engine

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"social-pulse/go/pkg/shared"
)

// IngestResult classifies the outcome of a single Ingest call.
type IngestResult int8

const (
	IngestAccepted IngestResult = iota
	IngestAcceptedLate
	IngestRejectedTooOld
	IngestInvalid
)

func (r IngestResult) String() string {
	switch r {
	case IngestAccepted:
		return "accepted"
	case IngestAcceptedLate:
		return "accepted_late"
	case IngestRejectedTooOld:
		return "rejected_too_old"
	default:
		return "invalid"
	}
}

// Config holds the windowing and scoring knobs.
type Config struct {
	FineResolution time.Duration
	// Rollups are the coarser resolutions, ascending. Each must be an
	// integer multiple of the next finer resolution.
	Rollups []time.Duration
	// Retention maps each resolution to its max age. Ages must strictly
	// increase with coarseness, and each non-coarsest resolution must be
	// retained at least as long as its parent resolution so range queries
	// can fall back to the parent seamlessly.
	Retention map[time.Duration]time.Duration
	LateGrace time.Duration

	PositiveThreshold float64
	NegativeThreshold float64
	TrendMaxLimit     int

	// Now is the clock, overridable in tests.
	Now func() time.Time
}

// FromShared maps the envconfig section onto an engine Config.
func FromShared(sc shared.EngineConfig) Config {
	retention := map[time.Duration]time.Duration{sc.FineResolution: sc.RetentionFine}
	for i, res := range sc.RollupResolutions {
		if i < len(sc.RetentionRollups) {
			retention[res] = sc.RetentionRollups[i]
		}
	}
	return Config{
		FineResolution:    sc.FineResolution,
		Rollups:           sc.RollupResolutions,
		Retention:         retention,
		LateGrace:         sc.LateGrace,
		PositiveThreshold: sc.PositiveThreshold,
		NegativeThreshold: sc.NegativeThreshold,
		TrendMaxLimit:     sc.TrendMaxLimit,
	}
}

// Engine is the real-time windowed aggregation and trend-scoring core.
// Ingest writers, background fold/sweep passes and readers all share the
// bucket store; none of them takes a store-wide lock.
type Engine struct {
	cfg         Config
	resolutions []time.Duration // fine first, then rollups ascending
	store       *bucketStore

	// foldMu serializes fold passes so a closed bucket is folded exactly once.
	foldMu sync.Mutex

	ingested    atomic.Int64
	accepted    atomic.Int64
	late        atomic.Int64
	rejected    atomic.Int64
	invalid     atomic.Int64
	emptyTopics atomic.Int64
}

func New(cfg Config) (*Engine, error) {
	if cfg.FineResolution <= 0 {
		return nil, errors.New("fine resolution must be positive")
	}
	if cfg.LateGrace < 0 {
		return nil, errors.New("late grace must not be negative")
	}
	if cfg.PositiveThreshold <= cfg.NegativeThreshold {
		return nil, errors.New("positive threshold must exceed negative threshold")
	}
	if cfg.TrendMaxLimit <= 0 {
		cfg.TrendMaxLimit = 500
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	resolutions := append([]time.Duration{cfg.FineResolution}, cfg.Rollups...)
	for i := 1; i < len(resolutions); i++ {
		prev, cur := resolutions[i-1], resolutions[i]
		if cur <= prev || cur%prev != 0 {
			return nil, fmt.Errorf("rollup %s must be a multiple of the finer resolution %s", cur, prev)
		}
	}
	prevAge := time.Duration(0)
	for i, res := range resolutions {
		age, ok := cfg.Retention[res]
		if !ok || age <= 0 {
			return nil, fmt.Errorf("retention missing for resolution %s", res)
		}
		if age <= prevAge {
			return nil, errors.New("retention must strictly increase with coarseness")
		}
		if i+1 < len(resolutions) && age < resolutions[i+1] {
			return nil, fmt.Errorf("retention for %s must cover the parent resolution %s", res, resolutions[i+1])
		}
		prevAge = age
	}

	return &Engine{
		cfg:         cfg,
		resolutions: resolutions,
		store:       newBucketStore(),
	}, nil
}

func (e *Engine) now() time.Time { return e.cfg.Now() }

func (e *Engine) classify(score float64) int {
	switch {
	case score > e.cfg.PositiveThreshold:
		return 1
	case score < e.cfg.NegativeThreshold:
		return -1
	default:
		return 0
	}
}

// Ingest applies one classified post event to the store: one update per
// (topic, platform) pair, all-or-nothing per key. Events older than the fine
// horizon but within the grace period are folded straight into the coarse
// rollups; anything older is rejected and only counted.
func (e *Engine) Ingest(ev shared.PostEvent) IngestResult {
	if ev.Platform == "" || ev.EventTS <= 0 {
		e.invalid.Add(1)
		return IngestInvalid
	}
	e.ingested.Add(1)

	now := e.now()
	horizon := now.Truncate(e.cfg.FineResolution)
	ts := ev.EventTime()
	if ts.Before(horizon.Add(-e.cfg.LateGrace)) {
		e.rejected.Add(1)
		return IngestRejectedTooOld
	}

	topics := nonEmptyTopics(ev.Topics)
	if len(topics) == 0 {
		// Counted above in the global ingestion counter; nothing to aggregate.
		e.emptyTopics.Add(1)
		e.accepted.Add(1)
		return IngestAccepted
	}

	score := clampScore(ev.Sentiment)
	class := e.classify(score)
	tsSec := ts.Unix()
	apply := func(b *BucketAggregate) { b.add(tsSec, score, ev.Engagement, class) }

	if ts.Before(horizon) {
		for _, topic := range topics {
			e.applyRollup(topic, ev.Platform, ts, e.cfg.FineResolution, apply)
		}
		e.late.Add(1)
		return IngestAcceptedLate
	}

	for _, topic := range topics {
		key := bucketKeyAt(topic, ev.Platform, ts, e.cfg.FineResolution)
		if !e.store.update(key, apply) {
			// The fine bucket closed and folded under us; treat as late.
			e.applyRollup(topic, ev.Platform, ts, e.cfg.FineResolution, apply)
		}
	}
	e.accepted.Add(1)
	return IngestAccepted
}

// applyRollup adds a contribution to the finest resolution coarser than
// fromRes whose bucket still accepts writes. The coarsest resolution never
// folds, so the walk always lands somewhere.
func (e *Engine) applyRollup(topic, platform string, ts time.Time, fromRes time.Duration, fn func(*BucketAggregate)) bool {
	for _, res := range e.resolutions {
		if res <= fromRes {
			continue
		}
		if e.store.update(bucketKeyAt(topic, platform, ts, res), fn) {
			return true
		}
	}
	return false
}

// IngestStats is a snapshot of the engine's ingestion counters.
type IngestStats struct {
	Ingested    int64
	Accepted    int64
	Late        int64
	Rejected    int64
	Invalid     int64
	EmptyTopics int64
}

func (e *Engine) Stats() IngestStats {
	return IngestStats{
		Ingested:    e.ingested.Load(),
		Accepted:    e.accepted.Load(),
		Late:        e.late.Load(),
		Rejected:    e.rejected.Load(),
		Invalid:     e.invalid.Load(),
		EmptyTopics: e.emptyTopics.Load(),
	}
}

// OpenBuckets reports the number of live buckets across all resolutions.
func (e *Engine) OpenBuckets() int { return e.store.size() }

// Resolutions returns the configured resolutions, finest first.
func (e *Engine) Resolutions() []time.Duration {
	out := make([]time.Duration, len(e.resolutions))
	copy(out, e.resolutions)
	return out
}

func nonEmptyTopics(topics []string) []string {
	out := topics[:0:0]
	for _, t := range topics {
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func clampScore(s float64) float64 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}
