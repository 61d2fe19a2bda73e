package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"alara-platform/internal/audit"
	"alara-platform/internal/auth"
	"alara-platform/internal/calls"
	"alara-platform/internal/config"
	"alara-platform/internal/convai"
	"alara-platform/internal/conversations"
	"alara-platform/internal/dialer"
	"alara-platform/internal/events"
	"alara-platform/internal/httpapi"
	"alara-platform/internal/ingest"
	"alara-platform/internal/reporting"
	"alara-platform/pkg/logger"
	"alara-platform/pkg/metrics"
	"alara-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	callLockTTL  = 30 * time.Second
	callLockWait = 10 * time.Second
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, cfg.LogLevel)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	callLock, err := utils.NewKeyedLock(rdb, "alara:lock:", callLockTTL, callLockWait)
	if err != nil {
		log.Error("redis lock init failed", "err", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	callSvc := calls.NewService(calls.NewPostgresRepo(db))
	convSvc := conversations.NewService(conversations.NewPostgresRepo(db))
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))

	client, err := convai.NewClient(cfg.ConvAI.APIKey,
		convai.WithBaseURL(cfg.ConvAI.BaseURL),
		convai.WithTimeout(cfg.ConvAI.RequestTimeout),
	)
	if err != nil {
		log.Error("convai client init failed", "err", err)
		os.Exit(1)
	}
	dial := dialer.New(callSvc, convSvc, client,
		dialer.WithDefaults(cfg.ConvAI.AgentID, cfg.ConvAI.AgentPhoneNumberID),
		dialer.WithLogger(log),
		dialer.WithMetrics(m),
	)

	pipeline := &ingest.Pipeline{
		Calls:         callSvc,
		Conversations: convSvc,
		Locker:        callLock,
		Audit:         auditSvc,
		Log:           log,
		Metrics:       m,
	}
	if cfg.NATS.URL != "" {
		nc, js, err := events.Connect(cfg.NATS.URL)
		if err != nil {
			log.Error("nats init failed", "err", err)
			os.Exit(1)
		}
		defer nc.Drain()
		if err := events.EnsureStream(rootCtx, js, cfg.NATS.Stream, cfg.NATS.TaskSubject); err != nil {
			log.Error("nats stream init failed", "err", err)
			os.Exit(1)
		}
		pipeline.Tasks = events.NewTaskPublisher(js, cfg.NATS.TaskSubject)
	} else {
		log.Info("NATS_URL not set, extracted tasks are logged only")
	}

	webhook := convai.WebhookHandler{
		Verifier:        convai.NewVerifier(cfg.ConvAI.WebhookSecret, cfg.ConvAI.SignatureTolerance),
		Processor:       pipeline,
		SignatureHeader: cfg.ConvAI.SignatureHeader,
		Metrics:         m,
	}
	api := httpapi.Handlers{
		Calls:         callSvc,
		Conversations: convSvc,
		Dialer:        dial,
		Reporting:     reporting.NewService(callSvc),
		Audit:         auditSvc,
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		db:          db,
		registry:    reg,
		webhookPath: cfg.ConvAI.WebhookPath,
		webhook:     webhook,
		api:         api,
		authMW:      auth.RequireAccessToken(authManager),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "webhook_path", cfg.ConvAI.WebhookPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
