package engine

import "time"

// EvictionReport summarizes one retention sweep.
type EvictionReport struct {
	Evicted map[time.Duration]int
	Total   int
}

// Sweep evicts buckets older than their resolution's retention horizon.
// A bucket is only removed once its contribution has been folded upward;
// the coarsest resolution has no parent and is evicted on age alone.
// Candidates are collected from a key-set snapshot and re-checked under the
// shard write lock, so sweeping never blocks ingest or queries and never
// removes a bucket that is mid-fold.
func (e *Engine) Sweep(now time.Time) EvictionReport {
	report := EvictionReport{Evicted: make(map[time.Duration]int, len(e.resolutions))}
	coarsest := e.resolutions[len(e.resolutions)-1]

	for _, res := range e.resolutions {
		maxAge := e.cfg.Retention[res]
		res := res
		expired := func(k BucketKey, a BucketAggregate) bool {
			if k.Res != res || k.EndTime().Add(maxAge).After(now) {
				return false
			}
			return a.Folded() || res == coarsest
		}
		evictable := func(a BucketAggregate) bool { return a.Folded() || res == coarsest }

		for _, key := range e.store.keysWhere(expired) {
			if e.store.remove(key, evictable) {
				report.Evicted[res]++
				report.Total++
			}
		}
	}
	return report
}
