package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fillHour ingests count events for a topic spread through [start, start+1h).
func fillHour(t *testing.T, eng *Engine, clock *fakeClock, platform, topic string, start time.Time, count int, score float64) {
	t.Helper()
	for i := 0; i < count; i++ {
		ts := start.Add(time.Duration(i) * 90 * time.Second)
		clock.Set(ts)
		require.Equal(t, IngestAccepted, eng.Ingest(post(platform, ts, score, topic)))
	}
}

func TestRankTrendingGrowthBreaksMentionTies(t *testing.T) {
	eng, clock := newTestEngine(t)
	t0 := baseTime.Add(4 * time.Hour)

	// Baseline hour: ai 10, ml 5. Current hour: both 20.
	fillHour(t, eng, clock, "twitter", "ai", t0, 10, 0.5)
	fillHour(t, eng, clock, "twitter", "ml", t0, 5, 0.5)
	fillHour(t, eng, clock, "twitter", "ai", t0.Add(time.Hour), 20, 0.5)
	fillHour(t, eng, clock, "twitter", "ml", t0.Add(time.Hour), 20, 0.5)

	clock.Set(t0.Add(2 * time.Hour))
	scores, err := eng.RankTrending("", 1, 10)
	require.NoError(t, err)
	require.Len(t, scores, 2)

	assert.Equal(t, "ml", scores[0].Topic)
	assert.Equal(t, int64(20), scores[0].Mentions)
	assert.InDelta(t, 4.0, scores[0].GrowthRate, 1e-9)

	assert.Equal(t, "ai", scores[1].Topic)
	assert.Equal(t, int64(20), scores[1].Mentions)
	assert.InDelta(t, 2.0, scores[1].GrowthRate, 1e-9)
}

func TestRankTrendingZeroBaselineFloor(t *testing.T) {
	eng, clock := newTestEngine(t)
	t0 := baseTime.Add(4 * time.Hour)

	fillHour(t, eng, clock, "twitter", "newtopic", t0.Add(time.Hour), 3, 0.5)
	fillHour(t, eng, clock, "twitter", "singleton", t0.Add(time.Hour), 1, 0.5)

	clock.Set(t0.Add(2 * time.Hour))
	scores, err := eng.RankTrending("", 1, 10)
	require.NoError(t, err)
	require.Len(t, scores, 2)

	// With an empty baseline the divisor is substituted with 1, never zero.
	assert.Equal(t, "newtopic", scores[0].Topic)
	assert.InDelta(t, 3.0, scores[0].GrowthRate, 1e-9)
	assert.Equal(t, "singleton", scores[1].Topic)
	assert.InDelta(t, 1.0, scores[1].GrowthRate, 1e-9)
}

func TestRankTrendingLexicographicTieBreak(t *testing.T) {
	eng, clock := newTestEngine(t)
	t0 := baseTime.Add(4 * time.Hour)

	fillHour(t, eng, clock, "twitter", "zebra", t0.Add(time.Hour), 5, 0.5)
	fillHour(t, eng, clock, "twitter", "alpha", t0.Add(time.Hour), 5, 0.5)

	clock.Set(t0.Add(2 * time.Hour))
	scores, err := eng.RankTrending("", 1, 10)
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Equal(t, "alpha", scores[0].Topic)
	assert.Equal(t, "zebra", scores[1].Topic)
}

func TestRankTrendingPlatforms(t *testing.T) {
	eng, clock := newTestEngine(t)
	t0 := baseTime.Add(4 * time.Hour)

	fillHour(t, eng, clock, "twitter", "ai", t0.Add(time.Hour), 4, 0.6)
	fillHour(t, eng, clock, "reddit", "ai", t0.Add(time.Hour), 2, -0.6)

	clock.Set(t0.Add(2 * time.Hour))

	all, err := eng.RankTrending("", 1, 10)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, int64(6), all[0].Mentions)
	assert.Equal(t, []string{"reddit", "twitter"}, all[0].Platforms)
	assert.InDelta(t, (4*0.6-2*0.6)/6, all[0].Sentiment, 1e-9)

	reddit, err := eng.RankTrending("reddit", 1, 10)
	require.NoError(t, err)
	require.Len(t, reddit, 1)
	assert.Equal(t, int64(2), reddit[0].Mentions)
	assert.Equal(t, []string{"reddit"}, reddit[0].Platforms)
}

func TestRankTrendingLimitAndValidation(t *testing.T) {
	clock := &fakeClock{t: baseTime}
	cfg := testConfig(clock)
	cfg.TrendMaxLimit = 2
	eng, err := New(cfg)
	require.NoError(t, err)

	t0 := baseTime.Add(4 * time.Hour)
	for i, topic := range []string{"a", "b", "c", "d"} {
		fillHour(t, eng, clock, "twitter", topic, t0.Add(time.Hour), i+1, 0.0)
	}
	clock.Set(t0.Add(2 * time.Hour))

	scores, err := eng.RankTrending("", 1, 3)
	require.NoError(t, err)
	assert.Len(t, scores, 2, "limit is clamped to the configured maximum")
	assert.Equal(t, "d", scores[0].Topic)

	scores, err = eng.RankTrending("", 1, 1)
	require.NoError(t, err)
	assert.Len(t, scores, 1)

	_, err = eng.RankTrending("", 0, 10)
	assert.ErrorIs(t, err, ErrInvalidWindow)
	_, err = eng.RankTrending("", 1, 0)
	assert.ErrorIs(t, err, ErrInvalidLimit)
}
