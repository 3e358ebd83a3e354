package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"social-pulse/go/pkg/engine"
	"social-pulse/go/pkg/shared"
)

// Per-endpoint cache TTLs.
const (
	trendingTTL   = 5 * time.Minute
	sentimentTTL  = 5 * time.Minute
	metricsTTL    = 10 * time.Minute
	insightsTTL   = 5 * time.Minute
	timeSeriesTTL = 2 * time.Minute
	realtimeTTL   = 30 * time.Second
)

var intervals = map[string]time.Duration{
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"1h":  time.Hour,
	"6h":  6 * time.Hour,
	"1d":  24 * time.Hour,
}

// Handlers serves the analytics read endpoints on top of the engine.
type Handlers struct {
	eng      *engine.Engine
	cache    *Cache
	log      shared.Logger
	queryDur *prometheus.HistogramVec // optional, labeled by endpoint
}

func New(eng *engine.Engine, cache *Cache, log shared.Logger, queryDur *prometheus.HistogramVec) *Handlers {
	return &Handlers{eng: eng, cache: cache, log: log, queryDur: queryDur}
}

// Router builds the gin engine with all read endpoints mounted.
func (h *Handlers) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/health", h.Health)
	r.GET("/trending", h.Trending)
	r.GET("/sentiment-overview", h.SentimentOverview)
	r.GET("/metrics", h.PlatformMetrics)
	r.GET("/time-series/:metric", h.TimeSeries)
	r.GET("/realtime/stats", h.RealtimeStats)
	r.GET("/insights/summary", h.InsightsSummary)
	return r
}

func (h *Handlers) observe(endpoint string, start time.Time) {
	if h.queryDur != nil {
		h.queryDur.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func respondErr(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "error": msg})
}

func parseHours(c *gin.Context) (int, bool) {
	raw := c.DefaultQuery("hours", "24")
	hours, err := strconv.Atoi(raw)
	if err != nil || hours < 1 || hours > 168 {
		respondErr(c, http.StatusBadRequest, "hours must be an integer between 1 and 168")
		return 0, false
	}
	return hours, true
}

// serveCached writes a previously cached envelope if present; otherwise it
// computes the data, responds and stores the envelope.
func (h *Handlers) serveCached(c *gin.Context, key string, ttl time.Duration, compute func() (any, error)) {
	if raw, ok := h.cache.Get(c.Request.Context(), key); ok {
		c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
		return
	}
	data, err := compute()
	if err != nil {
		respondErr(c, http.StatusBadRequest, err.Error())
		return
	}
	envelope := gin.H{"success": true, "data": data}
	raw, err := json.Marshal(envelope)
	if err != nil {
		h.log.Printf("response marshal failed: %v", err)
		respondErr(c, http.StatusInternalServerError, "failed to encode response")
		return
	}
	h.cache.Set(c.Request.Context(), key, raw, ttl)
	c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
}

// Health reports liveness plus the engine's ingestion counters.
func (h *Handlers) Health(c *gin.Context) {
	stats := h.eng.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"open_buckets": h.eng.OpenBuckets(),
		"ingested":     stats.Ingested,
		"rejected":     stats.Rejected,
		"timestamp":    time.Now().UTC(),
	})
}

// Trending returns the ranked trending topics for the requested window.
func (h *Handlers) Trending(c *gin.Context) {
	defer h.observe("trending", time.Now())

	platform := c.Query("platform")
	hours, ok := parseHours(c)
	if !ok {
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil || limit < 1 {
		respondErr(c, http.StatusBadRequest, "limit must be a positive integer")
		return
	}

	key := fmt.Sprintf("trending:%s:%d:%d", orAll(platform), hours, limit)
	h.serveCached(c, key, trendingTTL, func() (any, error) {
		topics, err := h.eng.RankTrending(platform, hours, limit)
		if err != nil {
			return nil, err
		}
		return gin.H{
			"topics":       topics,
			"timeframe":    fmt.Sprintf("%dh", hours),
			"platform":     orAll(platform),
			"total_topics": len(topics),
			"last_updated": time.Now().UTC(),
		}, nil
	})
}

// SentimentOverview returns the sentiment distribution for the window.
func (h *Handlers) SentimentOverview(c *gin.Context) {
	defer h.observe("sentiment_overview", time.Now())

	platform := c.Query("platform")
	hours, ok := parseHours(c)
	if !ok {
		return
	}

	key := fmt.Sprintf("sentiment_dist:%s:%d", orAll(platform), hours)
	h.serveCached(c, key, sentimentTTL, func() (any, error) {
		dist, err := h.eng.SentimentDistribution(platform, hours)
		if err != nil {
			return nil, err
		}
		return gin.H{
			"distribution": gin.H{
				"positive": dist.Positive,
				"negative": dist.Negative,
				"neutral":  dist.Neutral,
			},
			"total_posts":  dist.Total,
			"timeframe":    fmt.Sprintf("%dh", hours),
			"platform":     orAll(platform),
			"last_updated": time.Now().UTC(),
		}, nil
	})
}

// PlatformMetrics returns the per-platform breakdown of the last 24 hours
// together with the most mentioned topics.
func (h *Handlers) PlatformMetrics(c *gin.Context) {
	defer h.observe("platform_metrics", time.Now())

	h.serveCached(c, "platform_metrics", metricsTTL, func() (any, error) {
		platforms, err := h.eng.PlatformBreakdown(24)
		if err != nil {
			return nil, err
		}
		topics, err := h.eng.RankTrending("", 24, 20)
		if err != nil {
			return nil, err
		}
		var totalPosts int64
		for _, p := range platforms {
			totalPosts += p.TotalPosts
		}
		topTopics := make([]gin.H, 0, len(topics))
		for _, t := range topics {
			topTopics = append(topTopics, gin.H{"topic": t.Topic, "mentions": t.Mentions})
		}
		return gin.H{
			"platforms": platforms,
			"summary": gin.H{
				"total_posts":      totalPosts,
				"active_platforms": len(platforms),
			},
			"top_topics":   topTopics,
			"timeframe":    "24h",
			"last_updated": time.Now().UTC(),
		}, nil
	})
}

// InsightsSummary composes trending, sentiment and platform data into a
// short list of plain-text observations.
func (h *Handlers) InsightsSummary(c *gin.Context) {
	defer h.observe("insights_summary", time.Now())

	platform := c.Query("platform")
	hours, ok := parseHours(c)
	if !ok {
		return
	}

	key := fmt.Sprintf("insights:%s:%d", orAll(platform), hours)
	h.serveCached(c, key, insightsTTL, func() (any, error) {
		trending, err := h.eng.RankTrending(platform, hours, 5)
		if err != nil {
			return nil, err
		}
		dist, err := h.eng.SentimentDistribution(platform, hours)
		if err != nil {
			return nil, err
		}
		platforms, err := h.eng.PlatformBreakdown(hours)
		if err != nil {
			return nil, err
		}

		insights := make([]string, 0, 3)
		if len(trending) > 0 {
			insights = append(insights, fmt.Sprintf("'%s' is trending with %d mentions", trending[0].Topic, trending[0].Mentions))
		}
		if dist.Total > 0 {
			label, slice := dominantSentiment(dist)
			insights = append(insights, fmt.Sprintf("%.1f%% of posts are %s", slice.Percentage, label))
		}
		if len(platforms) > 0 {
			insights = append(insights, fmt.Sprintf("%s is the most active platform with %d posts", platforms[0].Platform, platforms[0].TotalPosts))
		}

		return gin.H{
			"insights": insights,
			"data_sources": gin.H{
				"trending_topics":  len(trending),
				"sentiment_posts":  dist.Total,
				"active_platforms": len(platforms),
			},
			"timeframe":    fmt.Sprintf("%dh", hours),
			"generated_at": time.Now().UTC(),
		}, nil
	})
}

func dominantSentiment(dist engine.SentimentDistribution) (string, engine.SentimentSlice) {
	label, slice := "positive", dist.Positive
	if dist.Negative.Count > slice.Count {
		label, slice = "negative", dist.Negative
	}
	if dist.Neutral.Count > slice.Count {
		label, slice = "neutral", dist.Neutral
	}
	return label, slice
}

// TimeSeries returns one metric bucketed at the requested interval.
func (h *Handlers) TimeSeries(c *gin.Context) {
	defer h.observe("time_series", time.Now())

	metric := c.Param("metric")
	platform := c.Query("platform")
	hours, ok := parseHours(c)
	if !ok {
		return
	}
	rawInterval := c.DefaultQuery("interval", "1h")
	interval, ok := intervals[rawInterval]
	if !ok {
		respondErr(c, http.StatusBadRequest, "interval must be one of 5m, 15m, 1h, 6h, 1d")
		return
	}

	key := fmt.Sprintf("timeseries:%s:%s:%d:%s", metric, orAll(platform), hours, rawInterval)
	h.serveCached(c, key, timeSeriesTTL, func() (any, error) {
		points, err := h.eng.TimeSeries(metric, platform, hours, interval)
		if err != nil {
			return nil, err
		}
		return gin.H{
			"metric":       metric,
			"platform":     orAll(platform),
			"interval":     rawInterval,
			"timeframe":    fmt.Sprintf("%dh", hours),
			"data_points":  len(points),
			"time_series":  points,
			"last_updated": time.Now().UTC(),
		}, nil
	})
}

// RealtimeStats returns the fresh last-hour snapshot.
func (h *Handlers) RealtimeStats(c *gin.Context) {
	defer h.observe("realtime_stats", time.Now())

	key := "realtime_stats"
	h.serveCached(c, key, realtimeTTL, func() (any, error) {
		return h.eng.RealtimeStats(), nil
	})
}

func orAll(platform string) string {
	if platform == "" {
		return "all"
	}
	return platform
}
