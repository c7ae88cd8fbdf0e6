package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"
)

// BrokerConfig holds per-activity broker tuning (spec.md §3's queue/exchange model).
// internal/activity does not read these values: its inbound consumers use a
// fixed prefetch of 1, or 1000 for a parallel join (the same as the defaults).
type BrokerConfig struct {
	InboundPrefetch    int `json:"inbound_prefetch"`     // default consumer prefetch for non-join activities
	ParallelJoinPrefetch int `json:"parallel_join_prefetch"` // prefetch for parallel-join inbound consumers
}

// EngineConfig holds state-machine and recovery-sweep tuning (spec.md §4.4/§6).
type EngineConfig struct {
	Step          bool          `json:"step"`           // step-mode flag (spec.md §4.4 "Next (step mode)"); no package reads it, so it puts no Activity in step mode
	Workers       int           `json:"workers"`        // RecoverySweeper worker goroutines
	PollInterval  time.Duration `json:"poll_interval"`  // RecoverySweeper tick interval
	LeaseDuration time.Duration `json:"lease_duration"` // RecoverySweeper per-activity lease
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `json:"enabled"`      // Default: false
	Exporter    string  `json:"exporter"`     // otlp-http (or otlp), stdout
	Endpoint    string  `json:"endpoint"`     // localhost:4318
	ServiceName string  `json:"service_name"` // actrt
	SampleRate  float64 `json:"sample_rate"`  // 1.0
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled          bool      `json:"enabled"`           // Default: true
	Namespace        string    `json:"namespace"`         // actrt
	HistogramBuckets []float64 `json:"histogram_buckets"` // Duration buckets in ms
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level          string `json:"level"`            // debug, info, warn, error
	Format         string `json:"format"`           // text, json
	IncludeTraceID bool   `json:"include_trace_id"` // Correlate with traces
	RunLogPath     string `json:"run_log_path"`     // JSON run-audit file path; loaded here, but cmd/actrtd opens no file sink from it
}

// OutputCaptureConfig holds per-execution behaviour output capture settings.
type OutputCaptureConfig struct {
	Enabled    bool   `json:"enabled"`     // Default: false
	MaxSize    int64  `json:"max_size"`    // 1MB
	StorageDir string `json:"storage_dir"` // /tmp/actrt/output
	RetentionS int    `json:"retention_s"` // 3600
}

// ObservabilityConfig holds all observability-related settings.
type ObservabilityConfig struct {
	Tracing       TracingConfig       `json:"tracing"`
	Metrics       MetricsConfig       `json:"metrics"`
	Logging       LoggingConfig       `json:"logging"`
	OutputCapture OutputCaptureConfig `json:"output_capture"`
}

// SnapshotConfig holds the snapshot.Store backend settings (spec.md §3.1/§4.13).
type SnapshotConfig struct {
	Backend  string `json:"backend"`   // memory, redis
	RedisDSN string `json:"redis_dsn"` // redis://localhost:6379/0
}

// NotifierConfig holds the queue.Notifier backend settings (spec.md §4.13).
type NotifierConfig struct {
	Backend  string `json:"backend"`   // noop, channel, redis, redis-list
	RedisDSN string `json:"redis_dsn"` // redis://localhost:6379/0
}

// WebhookConfig holds the eventapi.WebhookSink settings (spec.md §4.14).
type WebhookConfig struct {
	Enabled       bool          `json:"enabled"`
	URL           string        `json:"url"`
	SigningSecret string        `json:"signing_secret"`
	Timeout       time.Duration `json:"timeout"`
}

// Config is the central configuration struct for the activity runtime host.
type Config struct {
	Broker        BrokerConfig        `json:"broker"`
	Engine        EngineConfig        `json:"engine"`
	Observability ObservabilityConfig `json:"observability"`
	Snapshot      SnapshotConfig      `json:"snapshot"`
	Notifier      NotifierConfig      `json:"notifier"`
	Webhook       WebhookConfig       `json:"webhook"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Broker: BrokerConfig{
			InboundPrefetch:      1,
			ParallelJoinPrefetch: 1000,
		},
		Engine: EngineConfig{
			Step:          false,
			Workers:       2,
			PollInterval:  2 * time.Second,
			LeaseDuration: 30 * time.Second,
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Enabled:     false,
				Exporter:    "otlp-http",
				Endpoint:    "localhost:4318",
				ServiceName: "actrt",
				SampleRate:  1.0,
			},
			Metrics: MetricsConfig{
				Enabled:          true,
				Namespace:        "actrt",
				HistogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
			},
			Logging: LoggingConfig{
				Level:          "info",
				Format:         "text",
				IncludeTraceID: true,
				RunLogPath:     "",
			},
			OutputCapture: OutputCaptureConfig{
				Enabled:    false,
				MaxSize:    1 << 20, // 1MB
				StorageDir: "/tmp/actrt/output",
				RetentionS: 3600,
			},
		},
		Snapshot: SnapshotConfig{
			Backend: "memory",
		},
		Notifier: NotifierConfig{
			Backend: "channel",
		},
		Webhook: WebhookConfig{
			Enabled: false,
			Timeout: 30 * time.Second,
		},
	}
}

// LoadFromFile loads configuration from a JSON file, overlaid on DefaultConfig.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config.
func LoadFromEnv(cfg *Config) {
	// Broker overrides
	if v := os.Getenv("ACTRT_BROKER_INBOUND_PREFETCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Broker.InboundPrefetch = n
		}
	}
	if v := os.Getenv("ACTRT_BROKER_PARALLEL_JOIN_PREFETCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Broker.ParallelJoinPrefetch = n
		}
	}

	// Engine overrides
	if v := os.Getenv("ACTRT_ENGINE_STEP"); v != "" {
		cfg.Engine.Step = parseBool(v)
	}
	if v := os.Getenv("ACTRT_ENGINE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.Workers = n
		}
	}
	if v := os.Getenv("ACTRT_ENGINE_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.PollInterval = d
		}
	}
	if v := os.Getenv("ACTRT_ENGINE_LEASE_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.LeaseDuration = d
		}
	}

	// Tracing overrides
	if v := os.Getenv("ACTRT_TRACING_ENABLED"); v != "" {
		cfg.Observability.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("ACTRT_TRACING_ENDPOINT"); v != "" {
		cfg.Observability.Tracing.Endpoint = v
	}
	if v := os.Getenv("ACTRT_TRACING_EXPORTER"); v != "" {
		cfg.Observability.Tracing.Exporter = v
	}
	if v := os.Getenv("ACTRT_TRACING_SERVICE_NAME"); v != "" {
		cfg.Observability.Tracing.ServiceName = v
	}
	if v := os.Getenv("ACTRT_TRACING_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Observability.Tracing.SampleRate = f
		}
	}

	// Metrics overrides
	if v := os.Getenv("ACTRT_METRICS_ENABLED"); v != "" {
		cfg.Observability.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("ACTRT_METRICS_NAMESPACE"); v != "" {
		cfg.Observability.Metrics.Namespace = v
	}

	// Logging overrides
	if v := os.Getenv("ACTRT_LOG_LEVEL"); v != "" {
		cfg.Observability.Logging.Level = v
	}
	if v := os.Getenv("ACTRT_LOG_FORMAT"); v != "" {
		cfg.Observability.Logging.Format = v
	}
	if v := os.Getenv("ACTRT_LOG_INCLUDE_TRACE_ID"); v != "" {
		cfg.Observability.Logging.IncludeTraceID = parseBool(v)
	}
	if v := os.Getenv("ACTRT_RUN_LOG_PATH"); v != "" {
		cfg.Observability.Logging.RunLogPath = v
	}

	// Output capture overrides
	if v := os.Getenv("ACTRT_OUTPUT_CAPTURE_ENABLED"); v != "" {
		cfg.Observability.OutputCapture.Enabled = parseBool(v)
	}
	if v := os.Getenv("ACTRT_OUTPUT_CAPTURE_DIR"); v != "" {
		cfg.Observability.OutputCapture.StorageDir = v
	}
	if v := os.Getenv("ACTRT_OUTPUT_CAPTURE_MAX_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Observability.OutputCapture.MaxSize = n
		}
	}
	if v := os.Getenv("ACTRT_OUTPUT_CAPTURE_RETENTION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Observability.OutputCapture.RetentionS = n
		}
	}

	// Snapshot store overrides
	if v := os.Getenv("ACTRT_SNAPSHOT_BACKEND"); v != "" {
		cfg.Snapshot.Backend = v
	}
	if v := os.Getenv("ACTRT_SNAPSHOT_REDIS_DSN"); v != "" {
		cfg.Snapshot.RedisDSN = v
		if cfg.Snapshot.Backend == "" {
			cfg.Snapshot.Backend = "redis"
		}
	}

	// Notifier overrides
	if v := os.Getenv("ACTRT_NOTIFIER_BACKEND"); v != "" {
		cfg.Notifier.Backend = v
	}
	if v := os.Getenv("ACTRT_NOTIFIER_REDIS_DSN"); v != "" {
		cfg.Notifier.RedisDSN = v
	}

	// Webhook overrides
	if v := os.Getenv("ACTRT_WEBHOOK_URL"); v != "" {
		cfg.Webhook.URL = v
		cfg.Webhook.Enabled = true
	}
	if v := os.Getenv("ACTRT_WEBHOOK_SIGNING_SECRET"); v != "" {
		cfg.Webhook.SigningSecret = v
	}
	if v := os.Getenv("ACTRT_WEBHOOK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Webhook.Timeout = d
		}
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}
