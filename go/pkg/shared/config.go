package shared

import (
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// KafkaConfig holds broker and topic details.
type KafkaConfig struct {
	Brokers      string `envconfig:"KAFKA_BROKER" default:"localhost:9092"`
	GroupID      string `envconfig:"KAFKA_GROUP" default:"go-default-group"`
	InTopic      string `envconfig:"IN_TOPIC"`
	OutTopic     string `envconfig:"OUT_TOPIC"`
	ProducerAcks string `envconfig:"KAFKA_ACKS" default:"all"`
	LingerMS     int    `envconfig:"KAFKA_LINGER_MS" default:"5"`
	BatchBytes   int    `envconfig:"KAFKA_BATCH_BYTES" default:"1048576"` // 1MB
}

func (k KafkaConfig) BrokerList() []string {
	parts := strings.Split(k.Brokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"localhost:9092"}
	}
	return out
}

// PostgresConfig holds DB connection details for the archive sink.
type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	Database string `envconfig:"POSTGRES_DB" default:"social_analytics"`
	User     string `envconfig:"POSTGRES_USER" default:"analytics_user"`
	Password string `envconfig:"POSTGRES_PASSWORD" default:"analytics_pass"`
	PoolMax  int    `envconfig:"PG_POOL_MAX" default:"8"`
}

// RedisConfig controls the optional API response cache.
// An empty Addr disables caching.
type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR" default:""`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

// MetricsConfig controls the Prometheus listener.
type MetricsConfig struct {
	Port int `envconfig:"METRICS_PORT" default:"9000"`
}

// EngineConfig holds the windowing knobs of the aggregation engine.
type EngineConfig struct {
	FineResolution    time.Duration   `envconfig:"FINE_RESOLUTION" default:"1m"`
	RollupResolutions []time.Duration `envconfig:"ROLLUP_RESOLUTIONS" default:"1h,24h"`
	RetentionFine     time.Duration   `envconfig:"RETENTION_FINE" default:"2h"`
	RetentionRollups  []time.Duration `envconfig:"RETENTION_ROLLUPS" default:"48h,720h"`
	LateGrace         time.Duration   `envconfig:"LATE_GRACE" default:"5m"`
	PositiveThreshold float64         `envconfig:"SENTIMENT_POSITIVE" default:"0.1"`
	NegativeThreshold float64         `envconfig:"SENTIMENT_NEGATIVE" default:"-0.1"`
	TrendMaxLimit     int             `envconfig:"TREND_MAX_LIMIT" default:"500"`
	FoldTick          time.Duration   `envconfig:"FOLD_TICK" default:"10s"`
	SweepTick         time.Duration   `envconfig:"SWEEP_TICK" default:"60s"`
}

// Load fills the given struct from environment.
func Load[T any](prefix string) (T, error) {
	var cfg T
	err := envconfig.Process(prefix, &cfg)
	return cfg, err
}
