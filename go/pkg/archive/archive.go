// Package archive persists folded bucket aggregates to Postgres. The engine
// never reads them back; the table exists so query answers can be
// reconstructed by external consumers after in-memory eviction.
package archive

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"social-pulse/go/pkg/engine"
	"social-pulse/go/pkg/shared"
)

const upsertSQL = `
INSERT INTO topic_buckets(topic, platform, bucket_start, resolution_seconds,
    mentions, sentiment_sum, sentiment_sq_sum, engagement_sum,
    positive_count, negative_count, neutral_count, first_seen, last_seen)
VALUES($1, $2, to_timestamp($3), $4, $5, $6, $7, $8, $9, $10, $11, to_timestamp($12), to_timestamp($13))
ON CONFLICT(topic, platform, bucket_start, resolution_seconds) DO UPDATE
SET mentions = topic_buckets.mentions + EXCLUDED.mentions,
    sentiment_sum = topic_buckets.sentiment_sum + EXCLUDED.sentiment_sum,
    sentiment_sq_sum = topic_buckets.sentiment_sq_sum + EXCLUDED.sentiment_sq_sum,
    engagement_sum = topic_buckets.engagement_sum + EXCLUDED.engagement_sum,
    positive_count = topic_buckets.positive_count + EXCLUDED.positive_count,
    negative_count = topic_buckets.negative_count + EXCLUDED.negative_count,
    neutral_count = topic_buckets.neutral_count + EXCLUDED.neutral_count,
    first_seen = LEAST(topic_buckets.first_seen, EXCLUDED.first_seen),
    last_seen = GREATEST(topic_buckets.last_seen, EXCLUDED.last_seen);
`

// Writer batches folded buckets into Postgres from a background goroutine so
// fold ticks never wait on the database.
type Writer struct {
	db         *shared.PgxDB
	log        shared.Logger
	in         chan engine.FoldedBucket
	maxBatch   int
	flushEvery time.Duration
	wg         sync.WaitGroup
}

func NewWriter(db *shared.PgxDB, log shared.Logger) *Writer {
	return &Writer{
		db:         db,
		log:        log,
		in:         make(chan engine.FoldedBucket, 4096),
		maxBatch:   500,
		flushEvery: 2 * time.Second,
	}
}

// Enqueue hands folded buckets to the writer, dropping on a full queue
// rather than stalling the fold pass.
func (w *Writer) Enqueue(buckets []engine.FoldedBucket) (dropped int) {
	for _, b := range buckets {
		select {
		case w.in <- b:
		default:
			dropped++
		}
	}
	return dropped
}

// Run drains the queue until Close. Flushes on batch size or timer.
func (w *Writer) Run(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		batch := make([]engine.FoldedBucket, 0, w.maxBatch)
		ticker := time.NewTicker(w.flushEvery)
		defer ticker.Stop()
		done := ctx.Done()

		flush := func() {
			if len(batch) == 0 {
				return
			}
			if err := w.writeBatch(batch); err != nil {
				w.log.Printf("archive batch write failed: %v", err)
			}
			batch = batch[:0]
		}

		for {
			select {
			case b, ok := <-w.in:
				if !ok {
					flush()
					return
				}
				batch = append(batch, b)
				if len(batch) >= w.maxBatch {
					flush()
				}
			case <-ticker.C:
				flush()
			case <-done:
				// Stop selecting on ctx.Done; channel close finishes the drain.
				done = nil
			}
		}
	}()
}

// Close flushes remaining rows and waits for the worker to exit.
func (w *Writer) Close() {
	close(w.in)
	w.wg.Wait()
}

func (w *Writer) writeBatch(buckets []engine.FoldedBucket) error {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()

	conn, err := w.db.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	pgBatch := &pgx.Batch{}
	for _, fb := range buckets {
		k, a := fb.Key, fb.Agg
		pgBatch.Queue(upsertSQL,
			k.Topic, k.Platform, k.Start, int64(k.Res/time.Second),
			a.Mentions, a.SentimentSum, a.SentimentSq, a.EngagementSum,
			a.Positive, a.Negative, a.Neutral, a.FirstSeen, a.LastSeen,
		)
	}

	br := conn.SendBatch(ctx, pgBatch)
	defer br.Close()
	for range buckets {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}
