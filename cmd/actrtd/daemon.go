package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/flowforge/actrt/internal/activity"
	"github.com/flowforge/actrt/internal/behavior"
	"github.com/flowforge/actrt/internal/config"
	"github.com/flowforge/actrt/internal/domain"
	"github.com/flowforge/actrt/internal/eventapi"
	"github.com/flowforge/actrt/internal/logging"
	"github.com/flowforge/actrt/internal/metrics"
	"github.com/flowforge/actrt/internal/observability"
	"github.com/flowforge/actrt/internal/queue"
	"github.com/flowforge/actrt/internal/snapshot"
)

// registry is the daemon's in-memory lookup of live activities, wired into
// the RecoverySweeper's Lookup callback (internal/activity/recovery.go).
type registry struct {
	mu         sync.RWMutex
	activities map[string]*activity.Activity
}

func newRegistry() *registry {
	return &registry{activities: make(map[string]*activity.Activity)}
}

func (r *registry) register(a *activity.Activity, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activities[id] = a
}

func (r *registry) lookup(activityID string) (*activity.Activity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.activities[activityID]
	return a, ok
}

func daemonCmd() *cobra.Command {
	var (
		httpAddr string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the activity runtime host",
		Long:  "Wires the snapshot store, notifier, recovery sweeper, and metrics endpoints and blocks until signaled.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if configFile != "" {
				var err error
				cfg, err = config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}
			config.LoadFromEnv(cfg)

			if cmd.Flags().Changed("log-level") {
				cfg.Observability.Logging.Level = logLevel
			}

			logging.SetLevelFromString(cfg.Observability.Logging.Level)
			logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := observability.Init(ctx, observability.Config{
				Enabled:     cfg.Observability.Tracing.Enabled,
				Exporter:    cfg.Observability.Tracing.Exporter,
				Endpoint:    cfg.Observability.Tracing.Endpoint,
				ServiceName: cfg.Observability.Tracing.ServiceName,
				SampleRate:  cfg.Observability.Tracing.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(context.Background())

			if cfg.Observability.Metrics.Enabled {
				metrics.InitPrometheus(cfg.Observability.Metrics.Namespace, cfg.Observability.Metrics.HistogramBuckets)
			}

			if cfg.Observability.OutputCapture.Enabled {
				if err := logging.InitOutputStore(
					cfg.Observability.OutputCapture.StorageDir,
					cfg.Observability.OutputCapture.MaxSize,
					cfg.Observability.OutputCapture.RetentionS,
				); err != nil {
					logging.Op().Warn("failed to init output capture", "error", err)
				}
			}

			var redisClient *redis.Client
			needsRedis := cfg.Snapshot.Backend == "redis" || cfg.Notifier.Backend == "redis" || cfg.Notifier.Backend == "redis-list"
			if needsRedis {
				redisClient = redis.NewClient(&redis.Options{
					Addr:     redisAddr,
					Password: redisPass,
					DB:       redisDB,
				})
				if err := redisClient.Ping(ctx).Err(); err != nil {
					return fmt.Errorf("redis connection failed: %w", err)
				}
				defer redisClient.Close()
			}

			store, err := buildSnapshotStore(cfg, redisClient)
			if err != nil {
				return err
			}
			defer store.Close()

			notifier, err := buildNotifier(cfg, redisClient)
			if err != nil {
				return err
			}
			defer notifier.Close()

			var webhook *eventapi.WebhookSink
			if cfg.Webhook.Enabled {
				webhook = &eventapi.WebhookSink{
					URL:           cfg.Webhook.URL,
					SigningSecret: cfg.Webhook.SigningSecret,
					Timeout:       cfg.Webhook.Timeout,
				}
			}

			reg := newRegistry()
			bootstrapActivity(reg, store, notifier, webhook)

			sweeper := activity.NewRecoverySweeper(store, reg.lookup, activity.RecoverySweeperConfig{
				Workers:       cfg.Engine.Workers,
				PollInterval:  cfg.Engine.PollInterval,
				LeaseDuration: cfg.Engine.LeaseDuration,
			})
			sweeper.Start()
			defer sweeper.Stop()

			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.PrometheusHandler())
			mux.Handle("/debug/metrics.json", metrics.Global().JSONHandler())
			mux.Handle("/debug/timeseries.json", metrics.Global().TimeSeriesHandler())

			srv := &http.Server{Addr: httpAddr, Handler: mux}

			go func() {
				logging.Op().Info("actrtd listening", "addr", httpAddr)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logging.Op().Error("http server failed", "error", err)
				}
			}()

			<-ctx.Done()
			logging.Op().Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http", ":8090", "HTTP listen address for metrics endpoints")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level override")

	return cmd
}

func buildSnapshotStore(cfg *config.Config, client *redis.Client) (snapshot.Store, error) {
	switch cfg.Snapshot.Backend {
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("snapshot backend redis requires a redis connection")
		}
		return snapshot.NewRedisStore(client), nil
	default:
		return snapshot.NewMemoryStore(), nil
	}
}

func buildNotifier(cfg *config.Config, client *redis.Client) (queue.Notifier, error) {
	switch cfg.Notifier.Backend {
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("notifier backend redis requires a redis connection")
		}
		return queue.NewRedisNotifier(client), nil
	case "redis-list":
		if client == nil {
			return nil, fmt.Errorf("notifier backend redis-list requires a redis connection")
		}
		return queue.NewRedisListNotifier(client), nil
	case "channel":
		return queue.NewChannelNotifier(), nil
	default:
		return queue.NewNoopNotifier(), nil
	}
}

// bootstrapActivity registers a single demo activity so the recovery sweeper
// and metrics endpoints have something to observe immediately after start.
// A real deployment registers activities as process definitions arrive over
// whatever control-plane surface sits in front of this daemon.
func bootstrapActivity(reg *registry, store snapshot.Store, notifier queue.Notifier, webhook *eventapi.WebhookSink) {
	def := domain.Definition{
		ID:       "bootstrap-task",
		Type:     "userTask",
		Outbound: []domain.SequenceFlow{{ID: "f1"}},
	}

	a := activity.New(def, behavior.NewWaitBehavior(), nil)
	a.SetNotifier(notifier)
	a.SetRunLogger(logging.Default())
	if out := logging.GetOutputStore(); out != nil {
		a.SetOutputStore(out)
	}
	if webhook != nil {
		a.OnFatal(webhook.OnFatal)
	}

	reg.register(a, def.ID)

	a.Activate()
	if err := a.Run(domain.Content{"bootstrap": true}); err != nil {
		logging.Op().Error("bootstrap activity run failed", "error", err)
		return
	}

	if state, err := json.Marshal(a.GetState()); err == nil {
		logging.Op().Info("bootstrap activity entered", "state", string(state))
	}
	if _, err := a.SaveSnapshot(context.Background(), store, 0); err != nil {
		logging.Op().Warn("bootstrap snapshot save failed", "error", err)
	}
}
