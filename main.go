package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/jamiemulcahy/yart/api"
	"github.com/jamiemulcahy/yart/domain"
	"github.com/jamiemulcahy/yart/events"
	"github.com/jamiemulcahy/yart/room"
	"github.com/jamiemulcahy/yart/storage"
)

var version = "dev"

func main() {
	cfg := loadConfig()

	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	if cfg.JSONLogs {
		logger.SetFormatter(&log.JSONFormatter{})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, redisClient := openStore(ctx, cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	dispatcher := openEvents(ctx, cfg, logger)
	defer dispatcher.Close()

	templates := domain.BuiltinTemplates()
	if cfg.TemplatesFile != "" {
		t, err := domain.LoadTemplates(cfg.TemplatesFile)
		if err != nil {
			log.Fatalf("templates: %v", err)
		}
		templates = t
	}

	if cfg.TraceSpans {
		tp := newTracerProvider(logger)
		otel.SetTracerProvider(tp)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
	}

	manager := room.NewManager(room.Options{
		Store:     store,
		Templates: templates,
		Log:       logger,
		Sink:      dispatcher,
		InboxSize: cfg.RoomInbox,
		IdleTTL:   cfg.RoomIdleTTL,
	})
	defer manager.Close()
	go manager.Run(ctx, cfg.RoomIdleTTL/2)

	e := echo.New()
	e.HideBanner = true
	e.JSONSerializer = api.SonicSerializer{}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))
	e.Use(api.LimitBody(64 << 10))

	api.Register(e, manager, api.NewIdentity(cfg.IdentitySecret, cfg.IdentityTTL), api.Config{
		Version:    version,
		SendBuffer: cfg.SendBuffer,
		Rate:       cfg.SessionRate,
		Burst:      cfg.SessionBurst,
	}, logger)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = e.Shutdown(shutdownCtx)
	}()

	logger.WithFields(log.Fields{"port": cfg.Port, "backend": cfg.Backend}).Info("yart listening")
	if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Fatal("server stopped")
	}
}

func openStore(ctx context.Context, cfg config, logger *log.Logger) (storage.Store, *redis.Client) {
	var rc *redis.Client
	if cfg.RedisConn != "" {
		rc = redis.NewClient(redisOptions(cfg.RedisConn))
	}

	switch cfg.Backend {
	case "redis":
		return storage.NewRedis(rc), rc
	case "tables":
		if err := storage.EnsureTables(ctx, cfg.StorageConn, cfg.RoomsTable); err != nil {
			log.Fatalf("ensure tables: %v", err)
		}
		tables, err := storage.NewTables(cfg.StorageConn, cfg.RoomsTable)
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		if rc == nil {
			return tables, nil
		}
		logger.WithField("ttl", cfg.RoomCacheTTL).Info("room cache enabled")
		return storage.NewCache(tables, rc, cfg.RoomCacheTTL), rc
	default:
		return storage.NewMemory(), rc
	}
}

func openEvents(ctx context.Context, cfg config, logger *log.Logger) *events.Dispatcher {
	var sink events.Sink = events.Discard{}
	if cfg.EventsQueue != "" {
		if err := storage.EnsureQueues(ctx, cfg.StorageConn, cfg.EventsQueue); err != nil {
			log.Fatalf("ensure queues: %v", err)
		}
		qs, err := events.NewQueueSink(cfg.StorageConn, cfg.EventsQueue)
		if err != nil {
			log.Fatalf("events: %v", err)
		}
		sink = qs
	}
	return events.NewDispatcher(sink, events.Config{
		Workers:        cfg.EventsWorkers,
		Buffer:         cfg.EventsBuffer,
		HandoffTimeout: cfg.EventsHandoffTimeout,
		EnqueueTimeout: cfg.EventsEnqueueTimeout,
	}, logger)
}
