package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"order-workers/internal/common/aws"
	"order-workers/internal/common/camunda"
	"order-workers/internal/common/config"
	"order-workers/internal/common/database"
	apperrors "order-workers/internal/common/errors"
	"order-workers/internal/common/logger"
	"order-workers/internal/common/observability"
	"order-workers/internal/ordering/catalog"
	"order-workers/internal/ordering/conversation"
	"order-workers/internal/ordering/extractor"
	"order-workers/internal/ordering/guard"
	"order-workers/internal/ordering/interpreter"
	"order-workers/internal/ordering/orders"
	"order-workers/internal/ordering/resolver"
	"order-workers/internal/ordering/router"
	"order-workers/internal/ordering/session"
	"order-workers/internal/ordering/validator"
	"order-workers/internal/transport/whatsapp"
	pcm "order-workers/internal/workers/conversation/process-chat-message"
	soc "order-workers/internal/workers/ordering/send-order-confirmation"
	"order-workers/pkg/menu"
)

func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

// orderStore places orders for the router and reads them back for the
// confirmation worker.
type orderStore interface {
	router.OrderPlacer
	soc.OrderSource
}

// pinger is implemented by every datastore client checked by /ready.
type pinger interface {
	Ping(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting order workers...", zap.String("business", cfg.App.BusinessName))

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checks := map[string]pinger{}

	// --- PostgreSQL (sessions, menu or orders) ---
	var pg *database.PostgresClient
	if needsPostgres(cfg) {
		err = retryWithBackoff(func() error {
			var err error
			pg, err = database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			return pg.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			zapLog.Fatal("postgres migration failed", zap.Error(err))
		}
		checks["postgres"] = pg
		zapLog.Info("PostgreSQL connected successfully")
	}

	// --- Redis (sessions, dedup, locks, menu cache) ---
	var rc *database.RedisClient
	if cfg.Database.Redis.Address != "" {
		err = retryWithBackoff(func() error {
			var err error
			rc, err = database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			return rc.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer rc.Close()
		checks["redis"] = rc
		zapLog.Info("Redis connected successfully")
	}

	// --- Menu catalog ---
	var source *catalog.SQLCatalog
	if cfg.Catalog.Source == config.CatalogPostgres {
		source = catalog.NewPostgresCatalog(pg)
	} else {
		sq, err := database.NewSQLite(cfg.Database.SQLite)
		if err != nil {
			zapLog.Fatal("sqlite open failed", zap.Error(err))
		}
		defer sq.Close()
		if err := sq.Migrate(ctx); err != nil {
			zapLog.Fatal("sqlite migration failed", zap.Error(err))
		}
		checks["sqlite"] = sq
		source = catalog.NewSQLiteCatalog(sq)
	}
	if err := seedIfEmpty(ctx, source, cfg.Catalog.MenuFile, log); err != nil {
		zapLog.Fatal("menu seed failed", zap.Error(err))
	}

	var cat catalog.Catalog = source
	if cfg.Catalog.SearchEnabled {
		var es *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			es, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return es.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		checks["elasticsearch"] = es
		cat = catalog.NewSearchCatalog(cat, es.Client, cfg.Catalog.SearchIndex, log)
		zapLog.Info("Elasticsearch connected successfully")
	}
	if rc != nil {
		cat = catalog.NewCachedCatalog(cat, rc, config.GetDuration(cfg.Catalog.CacheTTL), log)
	}

	// --- Conversation core ---
	ai, err := interpreter.New(ctx, cfg.APIs.GenAI, cfg.App.BusinessName, log)
	if err != nil {
		zapLog.Fatal("interpreter init failed", zap.Error(err))
	}
	ext := extractor.New(ai, extractor.Config{
		Timeout:          config.GetDuration(cfg.APIs.GenAI.Timeout),
		FailureThreshold: cfg.APIs.GenAI.FailureThreshold,
		Cooldown:         config.GetDuration(cfg.APIs.GenAI.Cooldown),
	}, log)
	val := validator.New(cat, validator.Config{MaxTableNumber: cfg.Catalog.MaxTableNumber}, log)
	res := resolver.New(ext, val, log)

	var repo orderStore = orders.NewMemoryRepository()
	if pg != nil && cfg.Database.Postgres.Enabled {
		repo = orders.NewPostgresRepository(pg)
	}
	rt := router.New(repo, router.Config{
		BusinessName:   cfg.App.BusinessName,
		MaxTableNumber: cfg.Catalog.MaxTableNumber,
	}, log)

	gd := guard.New(cfg.RateLimit, log, time.Now)

	store, locker, dedup, err := session.NewBackends(cfg.Session, rc, pg)
	if err != nil {
		zapLog.Fatal("session backends failed", zap.Error(err))
	}
	coord := session.NewCoordinator(store, locker, dedup, session.ConfigFrom(cfg.Session), log)

	opts := []conversation.Option{conversation.WithRecorder(obs)}

	// --- Camunda (optional) ---
	var workers *camunda.Workers
	if cfg.Camunda.Enabled {
		var zb *camunda.Client
		err = retryWithBackoff(func() error {
			var err error
			zb, err = camunda.NewClient(cfg.Camunda)
			return err
		}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		defer zb.Close()
		checks["zeebe"] = zb
		zapLog.Info("Zeebe client connected successfully")

		opts = append(opts, conversation.WithNotifier(soc.NewNotifier(zb)))
		workers = camunda.NewWorkers(zb.GetClient(), log).WithRecorder(obs)
	}

	svc := conversation.NewService(gd, coord, res, rt, cat, conversation.Config{
		HistoryTurns: cfg.APIs.GenAI.HistoryTurns,
	}, log, opts...)

	// --- Transport ---
	wa := whatsapp.NewClient(whatsapp.ClientConfigFrom(cfg.WhatsApp), log)
	webhook := whatsapp.NewHandler(svc, wa, whatsapp.WebhookConfig{
		VerifyToken: cfg.WhatsApp.VerifyToken,
		AppSecret:   cfg.WhatsApp.AppSecret,
		Concurrency: cfg.WhatsApp.Concurrency,
		MarkRead:    cfg.WhatsApp.MarkRead,
	}, log)
	if !cfg.WhatsApp.Enabled {
		zapLog.Warn("WhatsApp delivery disabled, replies are only returned by /simulate")
	}

	// --- Workers ---
	if workers != nil {
		errHandler := apperrors.NewErrorHandler(log)

		chatCfg := config.GetWorkerConfig(cfg, pcm.TaskType)
		chat := pcm.NewHandler(&pcm.Config{
			Timeout:   config.GetDuration(chatCfg.Timeout),
			SendReply: cfg.WhatsApp.Enabled,
		}, svc, wa, errHandler, &processChatLoggerAdapter{log})
		workers.Start(pcm.TaskType, chatCfg, chat.Handle)

		confirmCfg := config.GetWorkerConfig(cfg, soc.TaskType)
		if confirmCfg.Enabled {
			n := cfg.Notifications
			awsOpts := aws.Options{Region: n.AWS.Region, Endpoint: n.AWS.Endpoint}
			var sesClient soc.SESService
			var snsClient soc.SNSService
			if n.Email.Enabled {
				c, err := aws.NewSESClient(ctx, awsOpts)
				if err != nil {
					zapLog.Fatal("ses client init failed", zap.Error(err))
				}
				sesClient = c
			}
			if n.SNS.Enabled {
				c, err := aws.NewSNSClient(ctx, awsOpts)
				if err != nil {
					zapLog.Fatal("sns client init failed", zap.Error(err))
				}
				snsClient = c
			}
			confirm := soc.NewHandler(&soc.Config{
				EmailEnabled: n.Email.Enabled,
				SNSEnabled:   n.SNS.Enabled,
				FromEmail:    n.Email.FromEmail,
				ToEmail:      n.Email.ToEmail,
				TopicARN:     n.SNS.TopicARN,
				AWSRegion:    n.AWS.Region,
				BusinessName: cfg.App.BusinessName,
				Timeout:      config.GetDuration(confirmCfg.Timeout),
			}, repo, sesClient, snsClient, errHandler, log)
			workers.Start(soc.TaskType, confirmCfg, confirm.Handle)
		}
		zapLog.Info("Workers registered", zap.Int("count", workers.Count()))
	}

	// --- HTTP server ---
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		failed := map[string]string{}
		for name, c := range checks {
			if err := c.Ping(r.Context()); err != nil {
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"status": "not_ready",
				"failed": failed,
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ready",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/session-stats", func(w http.ResponseWriter, r *http.Request) {
		stats, err := coord.Stats(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, stats)
	})
	r.Post("/cleanup", func(w http.ResponseWriter, r *http.Request) {
		removed, err := coord.CleanupExpired(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "removed": removed})
	})
	webhook.RegisterRoutes(r)

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zapLog.Info("HTTP server listening", zap.String("address", cfg.Server.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return coord.Run(gctx)
	})
	if limiter := gd.Limiter(); limiter != nil {
		g.Go(func() error {
			limiter.Run(gctx, 10*time.Minute)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		zapLog.Info("Shutdown signal received, stopping...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			zapLog.Error("HTTP server shutdown failed", zap.Error(err))
		}
		if workers != nil {
			workers.Stop(shutdownCtx)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		zapLog.Error("order workers stopped with error", zap.Error(err))
		return
	}
	zapLog.Info("Order workers stopped gracefully")
}

func needsPostgres(cfg *config.Config) bool {
	return cfg.Database.Postgres.Enabled ||
		cfg.Session.Store == config.StorePostgres ||
		cfg.Catalog.Source == config.CatalogPostgres
}

// seedIfEmpty loads the menu file into a fresh catalog database.
func seedIfEmpty(ctx context.Context, source *catalog.SQLCatalog, path string, log logger.Logger) error {
	snap, err := source.Menu(ctx)
	if err != nil {
		return err
	}
	if len(snap.Categories) > 0 {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		log.Warn("menu catalog is empty and no menu file found", map[string]interface{}{"file": path})
		return nil
	}
	f, err := menu.Load(path)
	if err != nil {
		return err
	}
	snap = f.Snapshot()
	if err := source.Seed(ctx, snap); err != nil {
		return err
	}
	log.Info("menu seeded from file", map[string]interface{}{
		"file":       path,
		"categories": len(snap.Categories),
		"items":      len(snap.Items),
	})
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// processChatLoggerAdapter lets the shared logger satisfy the worker's Logger,
// whose With returns the worker's own interface.
type processChatLoggerAdapter struct {
	logger.Logger
}

func (a *processChatLoggerAdapter) With(fields map[string]interface{}) pcm.Logger {
	return &processChatLoggerAdapter{a.Logger.With(fields)}
}
