package engine

import (
	"fmt"
	"time"
)

// FoldedBucket is the final value of a child bucket at the moment it was
// marked folded, exported for archival.
type FoldedBucket struct {
	Key BucketKey
	Agg BucketAggregate
}

// FoldReport summarizes one fold pass over a child resolution.
type FoldReport struct {
	Resolution time.Duration
	Folded     int
	Conflicts  int
	Buckets    []FoldedBucket
}

// Fold merges every closed, not-yet-folded bucket of childRes into its parent
// bucket at the next coarser resolution. Folding is idempotent: a bucket is
// marked folded under its shard lock and subsequent passes skip it, so coarse
// aggregates stay derivable by re-summing their children exactly once.
//
// Per bucket the order is: snapshot the child, merge the snapshot into the
// parent, then mark the child folded and merge any straggler writes that
// landed in between. The child is therefore only marked after the parent
// update is visible, and no contribution is lost or double counted.
func (e *Engine) Fold(childRes time.Duration) (FoldReport, error) {
	parentIdx := -1
	for i, res := range e.resolutions[:len(e.resolutions)-1] {
		if res == childRes {
			parentIdx = i + 1
			break
		}
	}
	if parentIdx < 0 {
		return FoldReport{}, fmt.Errorf("no coarser resolution to fold %s into", childRes)
	}

	e.foldMu.Lock()
	defer e.foldMu.Unlock()

	now := e.now()
	closed := func(k BucketKey, a BucketAggregate) bool {
		return k.Res == childRes && !a.Folded() && !k.EndTime().After(now)
	}

	report := FoldReport{Resolution: childRes}
	for _, key := range e.store.keysWhere(closed) {
		snap, ok := e.store.beginFold(key)
		if !ok {
			// Another pass folded it after we took the key set.
			report.Conflicts++
			continue
		}
		e.foldInto(key, parentIdx, snap)
		delta, final := e.store.finishFold(key, snap)
		if !delta.empty() {
			e.foldInto(key, parentIdx, delta)
		}
		report.Folded++
		report.Buckets = append(report.Buckets, FoldedBucket{Key: key, Agg: final})
	}
	return report, nil
}

// foldInto merges contribution into the parent bucket of key, escalating to a
// still-coarser bucket when the parent itself has already folded.
func (e *Engine) foldInto(key BucketKey, parentIdx int, contribution BucketAggregate) {
	merge := func(b *BucketAggregate) { b.merge(contribution) }
	for i := parentIdx; i < len(e.resolutions); i++ {
		parent := bucketKeyAt(key.Topic, key.Platform, key.StartTime(), e.resolutions[i])
		if e.store.update(parent, merge) {
			return
		}
	}
}

// FoldAll runs one fold pass per foldable resolution, finest first, so a
// coarse bucket that closes in the same tick already contains its children.
func (e *Engine) FoldAll() []FoldReport {
	reports := make([]FoldReport, 0, len(e.resolutions)-1)
	for _, res := range e.resolutions[:len(e.resolutions)-1] {
		rep, err := e.Fold(res)
		if err != nil {
			continue
		}
		reports = append(reports, rep)
	}
	return reports
}
