package main

import (
	"context"
	"encoding/json"
	"math/rand"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"social-pulse/go/pkg/shared"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
)

// Config specific to the simulated feed.
type Config struct {
	Kafka       shared.KafkaConfig
	Metrics     shared.MetricsConfig
	PostsTopic  string  `envconfig:"POSTS_TOPIC" default:"posts.classified"`
	RateTPS     float64 `envconfig:"SIM_RATE_TPS" default:"20.0"`
	MaxBatch    int     `envconfig:"MAX_BATCH" default:"256"`
	FlushMS     int     `envconfig:"BATCH_FLUSH_MS" default:"200"`
	LateJitterS int     `envconfig:"SIM_LATE_JITTER_SEC" default:"30"`
}

var platforms = []string{"twitter", "reddit", "instagram"}

var topicPool = []string{
	"ai", "climatechange", "cryptocurrency", "electricvehicles",
	"remotework", "socialmedia", "chatgpt", "spacex", "netflix", "iphone",
}

// Metrics bundle.
type metrics struct {
	postsOut *prometheus.CounterVec
	dropped  prometheus.Counter
	batchSz  prometheus.Histogram
}

func newMetrics() metrics {
	return metrics{
		postsOut: shared.NewCounterVec(prometheus.CounterOpts{Name: "simfeed_posts_total", Help: "Posts published"}, []string{"platform"}),
		dropped:  shared.NewCounter(prometheus.CounterOpts{Name: "simfeed_dropped_total", Help: "Posts dropped on publish failure"}),
		batchSz:  shared.NewHist(prometheus.HistogramOpts{Name: "simfeed_batch_size", Help: "Batch size", Buckets: []float64{1, 5, 10, 25, 50, 100, 250}}),
	}
}

// generator produces classified posts with a realistic platform and
// sentiment mix: 40% positive, 30% negative, 30% neutral.
type generator struct {
	rng        *rand.Rand
	lateJitter time.Duration
}

func (g *generator) next() shared.PostEvent {
	platform := platforms[g.rng.Intn(len(platforms))]

	var score float64
	switch r := g.rng.Float64(); {
	case r < 0.4:
		score = 0.15 + g.rng.Float64()*0.85
	case r < 0.7:
		score = -0.15 - g.rng.Float64()*0.85
	default:
		score = -0.1 + g.rng.Float64()*0.2
	}

	nTopics := 1 + g.rng.Intn(3)
	topics := make([]string, 0, nTopics)
	seen := map[string]struct{}{}
	for len(topics) < nTopics {
		t := topicPool[g.rng.Intn(len(topicPool))]
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		topics = append(topics, t)
	}

	var engagement int64
	switch platform {
	case "twitter":
		engagement = int64(g.rng.Intn(1500))
	case "reddit":
		engagement = int64(g.rng.Intn(750))
	default:
		engagement = int64(g.rng.Intn(2200))
	}

	ts := time.Now()
	if g.lateJitter > 0 {
		ts = ts.Add(-time.Duration(g.rng.Int63n(int64(g.lateJitter))))
	}

	return shared.PostEvent{
		PostID:     platform + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		Platform:   platform,
		EventTS:    ts.UnixNano(),
		Topics:     topics,
		Sentiment:  score,
		Engagement: engagement,
	}
}

func main() {
	var cfg Config
	envconfig.MustProcess("", &cfg)
	logger := shared.NewLogger("simfeed")
	m := newMetrics()
	ms := shared.NewMetricsServer(cfg.Metrics.Port)
	ms.Start()

	ctx, stopSig := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stopSig()

	producer, err := shared.NewProducer(cfg.Kafka, cfg.PostsTopic)
	if err != nil {
		logger.Fatalf("producer init: %v", err)
	}
	defer producer.Close()

	gen := &generator{
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		lateJitter: time.Duration(cfg.LateJitterS) * time.Second,
	}

	rate := cfg.RateTPS
	if rate <= 0 {
		rate = 1
	}
	flushEvery := time.Duration(cfg.FlushMS) * time.Millisecond
	if flushEvery <= 0 {
		flushEvery = 200 * time.Millisecond
	}
	perFlush := int(rate * flushEvery.Seconds())
	if perFlush < 1 {
		perFlush = 1
	}
	if perFlush > cfg.MaxBatch && cfg.MaxBatch > 0 {
		perFlush = cfg.MaxBatch
	}

	logger.Printf("running sim feed topic=%s rate=%.1f/s batch=%d", cfg.PostsTopic, rate, perFlush)

	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Printf("sim feed shutdown")
			return
		case <-ticker.C:
			records := make([]shared.Record, 0, perFlush)
			events := make([]shared.PostEvent, 0, perFlush)
			for i := 0; i < perFlush; i++ {
				ev := gen.next()
				raw, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				records = append(records, shared.Record{Key: []byte(ev.Platform), Value: raw, Time: time.Now().UTC()})
				events = append(events, ev)
			}
			m.batchSz.Observe(float64(len(records)))
			writeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := producer.ProduceBatch(writeCtx, records)
			cancel()
			if err != nil {
				m.dropped.Add(float64(len(records)))
				logger.Printf("publish failed: %v", err)
				continue
			}
			for _, ev := range events {
				m.postsOut.WithLabelValues(ev.Platform).Inc()
			}
		}
	}
}
