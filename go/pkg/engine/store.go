package engine

import (
	"encoding/binary"
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 64

// bucketStore is the single shared mutable structure: a time-partitioned map
// from BucketKey to aggregate, sharded so writers on different keys do not
// contend. Per-key atomicity is the shard mutex; readers copy values out
// under the read lock and never observe a half-evicted state.
type bucketStore struct {
	shards [numShards]storeShard
}

type storeShard struct {
	mu      sync.RWMutex
	buckets map[BucketKey]*BucketAggregate
}

func newBucketStore() *bucketStore {
	s := &bucketStore{}
	for i := range s.shards {
		s.shards[i].buckets = make(map[BucketKey]*BucketAggregate)
	}
	return s
}

func (s *bucketStore) shard(k BucketKey) *storeShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k.Topic))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(k.Platform))
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(k.Start))
	binary.LittleEndian.PutUint64(buf[8:], uint64(k.Res))
	_, _ = h.Write(buf[:])
	return &s.shards[h.Sum32()%numShards]
}

// update applies fn to the aggregate for k, creating the bucket lazily.
// It refuses buckets that have already been folded, so a closed-and-folded
// bucket is never reopened; callers escalate to a coarser resolution instead.
func (s *bucketStore) update(k BucketKey, fn func(*BucketAggregate)) bool {
	sh := s.shard(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	b, ok := sh.buckets[k]
	if !ok {
		b = &BucketAggregate{}
		sh.buckets[k] = b
	} else if b.folded {
		return false
	}
	fn(b)
	return true
}

// get returns a copy of the aggregate for k.
func (s *bucketStore) get(k BucketKey) (BucketAggregate, bool) {
	sh := s.shard(k)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	b, ok := sh.buckets[k]
	if !ok {
		return BucketAggregate{}, false
	}
	return *b, true
}

// beginFold snapshots an unfolded bucket. The caller merges the snapshot into
// the parent and then calls finishFold; any writes that land between the two
// are returned by finishFold as a delta.
func (s *bucketStore) beginFold(k BucketKey) (BucketAggregate, bool) {
	sh := s.shard(k)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	b, ok := sh.buckets[k]
	if !ok || b.folded {
		return BucketAggregate{}, false
	}
	return *b, true
}

// finishFold marks the bucket folded and returns the straggler delta since
// snap along with the final value. After this no writer touches the bucket.
func (s *bucketStore) finishFold(k BucketKey, snap BucketAggregate) (delta, final BucketAggregate) {
	sh := s.shard(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	b, ok := sh.buckets[k]
	if !ok {
		return BucketAggregate{}, snap
	}
	b.folded = true
	return b.diff(snap), *b
}

// visit calls fn with a copy of every bucket at the given resolution.
func (s *bucketStore) visit(res time.Duration, fn func(BucketKey, BucketAggregate)) {
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for k, b := range sh.buckets {
			if k.Res == res {
				fn(k, *b)
			}
		}
		sh.mu.RUnlock()
	}
}

// keysWhere snapshots the keys matching the predicate. Taking the key set up
// front lets fold and sweep passes work key by key without holding locks
// across the whole store.
func (s *bucketStore) keysWhere(match func(BucketKey, BucketAggregate) bool) []BucketKey {
	var out []BucketKey
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for k, b := range sh.buckets {
			if match(k, *b) {
				out = append(out, k)
			}
		}
		sh.mu.RUnlock()
	}
	return out
}

// remove deletes k when cond still holds under the write lock.
func (s *bucketStore) remove(k BucketKey, cond func(BucketAggregate) bool) bool {
	sh := s.shard(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	b, ok := sh.buckets[k]
	if !ok || !cond(*b) {
		return false
	}
	delete(sh.buckets, k)
	return true
}

func (s *bucketStore) size() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		n += len(sh.buckets)
		sh.mu.RUnlock()
	}
	return n
}
