package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social-pulse/go/pkg/engine"
	"social-pulse/go/pkg/shared"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var apiNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

// fakeClock lets the fixture drive the engine's notion of now, so events can
// be seeded at their own timestamps and queried from apiNow.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func newTestRouter(t *testing.T, cache *Cache) (*gin.Engine, *engine.Engine, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: apiNow}
	eng, err := engine.New(engine.Config{
		FineResolution: time.Minute,
		Rollups:        []time.Duration{time.Hour, 24 * time.Hour},
		Retention: map[time.Duration]time.Duration{
			time.Minute:    2 * time.Hour,
			time.Hour:      48 * time.Hour,
			24 * time.Hour: 30 * 24 * time.Hour,
		},
		LateGrace:         5 * time.Minute,
		PositiveThreshold: 0.1,
		NegativeThreshold: -0.1,
		Now:               clock.Now,
	})
	require.NoError(t, err)

	h := New(eng, cache, shared.NewLogger("api-test"), nil)
	return h.Router(), eng, clock
}

func seedEngine(t *testing.T, eng *engine.Engine, clock *fakeClock) {
	t.Helper()
	ts := apiNow.Add(-30 * time.Minute)
	clock.Set(ts)
	defer clock.Set(apiNow)
	for i := 0; i < 4; i++ {
		require.Equal(t, engine.IngestAccepted, eng.Ingest(shared.PostEvent{
			PostID:     "p1",
			Platform:   "twitter",
			EventTS:    ts.UnixNano(),
			Topics:     []string{"ai"},
			Sentiment:  0.5,
			Engagement: 10,
		}))
	}
	require.Equal(t, engine.IngestAccepted, eng.Ingest(shared.PostEvent{
		PostID:     "p2",
		Platform:   "reddit",
		EventTS:    ts.UnixNano(),
		Topics:     []string{"ml"},
		Sentiment:  -0.5,
		Engagement: 3,
	}))
}

func doGET(t *testing.T, r *gin.Engine, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestTrendingEndpoint(t *testing.T) {
	r, eng, clock := newTestRouter(t, nil)
	seedEngine(t, eng, clock)

	w, body := doGET(t, r, "/trending?hours=1&limit=10")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, body["success"])

	data := body["data"].(map[string]any)
	assert.Equal(t, "1h", data["timeframe"])
	assert.Equal(t, "all", data["platform"])
	assert.Equal(t, float64(2), data["total_topics"])

	topics := data["topics"].([]any)
	require.Len(t, topics, 2)
	first := topics[0].(map[string]any)
	assert.Equal(t, "ai", first["topic"])
	assert.Equal(t, float64(4), first["mentions"])
}

func TestTrendingPlatformFilter(t *testing.T) {
	r, eng, clock := newTestRouter(t, nil)
	seedEngine(t, eng, clock)

	w, body := doGET(t, r, "/trending?hours=1&platform=reddit")
	require.Equal(t, http.StatusOK, w.Code)
	data := body["data"].(map[string]any)
	assert.Equal(t, "reddit", data["platform"])
	topics := data["topics"].([]any)
	require.Len(t, topics, 1)
	assert.Equal(t, "ml", topics[0].(map[string]any)["topic"])
}

func TestTrendingValidation(t *testing.T) {
	r, _, _ := newTestRouter(t, nil)

	for _, path := range []string{
		"/trending?hours=0",
		"/trending?hours=200",
		"/trending?hours=abc",
		"/trending?limit=0",
		"/trending?limit=-3",
	} {
		w, body := doGET(t, r, path)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.Equal(t, false, body["success"], path)
		assert.NotEmpty(t, body["error"], path)
	}
}

func TestSentimentOverviewEndpoint(t *testing.T) {
	r, eng, clock := newTestRouter(t, nil)
	seedEngine(t, eng, clock)

	w, body := doGET(t, r, "/sentiment-overview?hours=1")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, body["success"])

	data := body["data"].(map[string]any)
	assert.Equal(t, float64(5), data["total_posts"])
	dist := data["distribution"].(map[string]any)
	positive := dist["positive"].(map[string]any)
	assert.Equal(t, float64(4), positive["count"])
	assert.InDelta(t, 80.0, positive["percentage"].(float64), 1e-9)
}

func TestPlatformMetricsEndpoint(t *testing.T) {
	r, eng, clock := newTestRouter(t, nil)
	seedEngine(t, eng, clock)

	w, body := doGET(t, r, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, body["success"])

	data := body["data"].(map[string]any)
	assert.Equal(t, "24h", data["timeframe"])

	summary := data["summary"].(map[string]any)
	assert.Equal(t, float64(5), summary["total_posts"])
	assert.Equal(t, float64(2), summary["active_platforms"])

	platforms := data["platforms"].([]any)
	require.Len(t, platforms, 2)
	first := platforms[0].(map[string]any)
	assert.Equal(t, "twitter", first["platform"])
	assert.Equal(t, float64(4), first["total_posts"])
	assert.InDelta(t, 10.0, first["avg_engagement"].(float64), 1e-9)

	topics := data["top_topics"].([]any)
	require.NotEmpty(t, topics)
	assert.Equal(t, "ai", topics[0].(map[string]any)["topic"])
}

func TestInsightsSummaryEndpoint(t *testing.T) {
	r, eng, clock := newTestRouter(t, nil)
	seedEngine(t, eng, clock)

	w, body := doGET(t, r, "/insights/summary?hours=1")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, body["success"])

	data := body["data"].(map[string]any)
	insights := data["insights"].([]any)
	require.Len(t, insights, 3)
	assert.Contains(t, insights[0], "'ai' is trending with 4 mentions")
	assert.Contains(t, insights[1], "80.0% of posts are positive")
	assert.Contains(t, insights[2], "twitter is the most active platform")

	sources := data["data_sources"].(map[string]any)
	assert.Equal(t, float64(2), sources["trending_topics"])
	assert.Equal(t, float64(5), sources["sentiment_posts"])

	w, body = doGET(t, r, "/insights/summary?hours=0")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, false, body["success"])
}

func TestTimeSeriesEndpoint(t *testing.T) {
	r, eng, clock := newTestRouter(t, nil)
	seedEngine(t, eng, clock)

	w, body := doGET(t, r, "/time-series/post_volume?hours=2&interval=1h")
	require.Equal(t, http.StatusOK, w.Code)
	data := body["data"].(map[string]any)
	assert.Equal(t, "post_volume", data["metric"])
	assert.Equal(t, "1h", data["interval"])
	assert.Equal(t, float64(2), data["data_points"])

	points := data["time_series"].([]any)
	require.Len(t, points, 2)
	// All seeded events are 30 minutes old, landing in the first point.
	assert.Equal(t, float64(5), points[0].(map[string]any)["value"])
	assert.Equal(t, float64(0), points[1].(map[string]any)["value"])
}

func TestTimeSeriesValidation(t *testing.T) {
	r, _, _ := newTestRouter(t, nil)

	w, body := doGET(t, r, "/time-series/post_volume?interval=2m")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, false, body["success"])

	w, body = doGET(t, r, "/time-series/likes?hours=1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, false, body["success"])
}

func TestRealtimeStatsEndpoint(t *testing.T) {
	r, eng, clock := newTestRouter(t, nil)
	seedEngine(t, eng, clock)

	w, body := doGET(t, r, "/realtime/stats")
	require.Equal(t, http.StatusOK, w.Code)
	data := body["data"].(map[string]any)
	assert.Equal(t, float64(5), data["posts_last_hour"])
	assert.Equal(t, float64(2), data["active_topics_last_hour"])
}

func TestHealthEndpoint(t *testing.T) {
	r, eng, clock := newTestRouter(t, nil)
	seedEngine(t, eng, clock)

	w, body := doGET(t, r, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(5), body["ingested"])
}

func TestResponsesAreCached(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r, eng, clock := newTestRouter(t, NewCache(client))
	seedEngine(t, eng, clock)

	w1, body1 := doGET(t, r, "/trending?hours=1&limit=10")
	require.Equal(t, http.StatusOK, w1.Code)

	// New data after the first request must not show up until the TTL expires.
	clock.Set(apiNow.Add(-time.Minute))
	require.Equal(t, engine.IngestAccepted, eng.Ingest(shared.PostEvent{
		Platform:  "twitter",
		EventTS:   apiNow.Add(-time.Minute).UnixNano(),
		Topics:    []string{"ai"},
		Sentiment: 0.5,
	}))
	clock.Set(apiNow)

	w2, body2 := doGET(t, r, "/trending?hours=1&limit=10")
	require.Equal(t, http.StatusOK, w2.Code)
	assert.Equal(t, body1["data"], body2["data"])

	mr.FastForward(trendingTTL + time.Second)
	_, body3 := doGET(t, r, "/trending?hours=1&limit=10")
	data := body3["data"].(map[string]any)
	topics := data["topics"].([]any)
	assert.Equal(t, float64(5), topics[0].(map[string]any)["mentions"])
}

func TestCacheKeyVariesByQuery(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r, eng, clock := newTestRouter(t, NewCache(client))
	seedEngine(t, eng, clock)

	_, all := doGET(t, r, "/trending?hours=1")
	_, reddit := doGET(t, r, "/trending?hours=1&platform=reddit")
	assert.NotEqual(t, all["data"], reddit["data"])
}
