package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"social-pulse/go/pkg/api"
	"social-pulse/go/pkg/archive"
	"social-pulse/go/pkg/engine"
	"social-pulse/go/pkg/shared"

	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
)

// Config for the trend engine service.
type Config struct {
	Kafka          shared.KafkaConfig
	PG             shared.PostgresConfig
	Redis          shared.RedisConfig
	Metrics        shared.MetricsConfig
	Engine         shared.EngineConfig
	PostsTopic     string `envconfig:"POSTS_TOPIC" default:"posts.classified"`
	APIPort        int    `envconfig:"API_PORT" default:"8080"`
	ArchiveEnabled bool   `envconfig:"ARCHIVE_ENABLED" default:"false"`
}

// Metrics bundle.
type metrics struct {
	events      *prometheus.CounterVec
	folds       *prometheus.CounterVec
	evictions   prometheus.Counter
	openBuckets prometheus.Gauge
	foldDur     prometheus.Histogram
	sweepDur    prometheus.Histogram
	queryDur    *prometheus.HistogramVec
	archiveDrop prometheus.Counter
}

func newMetrics() metrics {
	return metrics{
		events:      shared.NewCounterVec(prometheus.CounterOpts{Name: "trend_events_total", Help: "Ingested events by outcome"}, []string{"outcome"}),
		folds:       shared.NewCounterVec(prometheus.CounterOpts{Name: "trend_folds_total", Help: "Folded buckets by child resolution"}, []string{"resolution"}),
		evictions:   shared.NewCounter(prometheus.CounterOpts{Name: "trend_evictions_total", Help: "Evicted buckets"}),
		openBuckets: shared.NewGauge(prometheus.GaugeOpts{Name: "trend_open_buckets", Help: "Live buckets across resolutions"}),
		foldDur:     shared.NewHist(prometheus.HistogramOpts{Name: "trend_fold_seconds", Help: "Fold pass duration", Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5}}),
		sweepDur:    shared.NewHist(prometheus.HistogramOpts{Name: "trend_sweep_seconds", Help: "Sweep pass duration", Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5}}),
		queryDur:    shared.NewHistVec(prometheus.HistogramOpts{Name: "trend_query_seconds", Help: "Query duration", Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1}}, []string{"endpoint"}),
		archiveDrop: shared.NewCounter(prometheus.CounterOpts{Name: "trend_archive_dropped_total", Help: "Folded buckets dropped on full archive queue"}),
	}
}

func main() {
	var cfg Config
	envconfig.MustProcess("", &cfg)
	logger := shared.NewLogger("trendengine")
	m := newMetrics()
	ms := shared.NewMetricsServer(cfg.Metrics.Port)
	ms.Start()

	ctx, stopSig := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stopSig()

	eng, err := engine.New(engine.FromShared(cfg.Engine))
	if err != nil {
		logger.Fatalf("engine init: %v", err)
	}

	consumer, err := shared.NewConsumer(cfg.Kafka, cfg.PostsTopic)
	if err != nil {
		logger.Fatalf("consumer init: %v", err)
	}
	defer consumer.Close()

	var archiver *archive.Writer
	if cfg.ArchiveEnabled {
		db, err := shared.NewPgxPool(ctx, cfg.PG)
		if err != nil {
			logger.Fatalf("db init: %v", err)
		}
		defer db.Close()
		archiver = archive.NewWriter(db, logger)
		archiver.Run(ctx)
		defer archiver.Close()
	}

	redisClient, err := shared.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Printf("redis unavailable, cache disabled: %v", err)
	}
	cache := api.NewCache(redisClient)

	handlers := api.New(eng, cache, logger, m.queryDur)
	srv := &http.Server{Addr: ":" + strconv.Itoa(cfg.APIPort), Handler: handlers.Router()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("api server: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go runBackground(ctx, cfg, eng, archiver, m, logger)

	logger.Printf("running trend engine topic=%s api=:%d fine=%s rollups=%v archive=%v",
		cfg.PostsTopic, cfg.APIPort, cfg.Engine.FineResolution, cfg.Engine.RollupResolutions, cfg.ArchiveEnabled)

	for {
		msg, err := consumer.Poll(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				logger.Printf("trend engine shutdown")
				return
			}
			continue
		}
		var ev shared.PostEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			m.events.WithLabelValues("invalid").Inc()
			_ = shared.CommitSingle(consumer, msg)
			continue
		}
		result := eng.Ingest(ev)
		m.events.WithLabelValues(result.String()).Inc()
		if err := shared.CommitSingle(consumer, msg); err != nil {
			logger.Printf("commit failed: %v", err)
		}
	}
}

// runBackground drives the fold and sweep tickers. A panic inside one tick is
// isolated and the pass retries on the next schedule.
func runBackground(ctx context.Context, cfg Config, eng *engine.Engine, archiver *archive.Writer, m metrics, logger shared.Logger) {
	foldTicker := time.NewTicker(cfg.Engine.FoldTick)
	defer foldTicker.Stop()
	sweepTicker := time.NewTicker(cfg.Engine.SweepTick)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-foldTicker.C:
			safeTick(logger, "fold", func() {
				start := time.Now()
				for _, rep := range eng.FoldAll() {
					if rep.Folded > 0 {
						m.folds.WithLabelValues(rep.Resolution.String()).Add(float64(rep.Folded))
					}
					if rep.Conflicts > 0 {
						logger.Printf("fold conflicts res=%s n=%d", rep.Resolution, rep.Conflicts)
					}
					if archiver != nil && len(rep.Buckets) > 0 {
						if dropped := archiver.Enqueue(rep.Buckets); dropped > 0 {
							m.archiveDrop.Add(float64(dropped))
						}
					}
				}
				m.foldDur.Observe(time.Since(start).Seconds())
				m.openBuckets.Set(float64(eng.OpenBuckets()))
			})
		case <-sweepTicker.C:
			safeTick(logger, "sweep", func() {
				start := time.Now()
				rep := eng.Sweep(time.Now())
				m.evictions.Add(float64(rep.Total))
				m.sweepDur.Observe(time.Since(start).Seconds())
				m.openBuckets.Set(float64(eng.OpenBuckets()))
			})
		}
	}
}

func safeTick(logger shared.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Printf("%s tick panic recovered: %v", name, r)
		}
	}()
	fn()
}
