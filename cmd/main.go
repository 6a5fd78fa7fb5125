package main

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kkkkikiki/studyping/internal/config"
	"github.com/kkkkikiki/studyping/internal/database"
	"github.com/kkkkikiki/studyping/internal/render"
	"github.com/kkkkikiki/studyping/internal/repository"
	"github.com/kkkkikiki/studyping/internal/rpc"
	"github.com/kkkkikiki/studyping/internal/scheduler"
	"github.com/kkkkikiki/studyping/internal/service"
	"github.com/kkkkikiki/studyping/internal/telegram"
	"github.com/kkkkikiki/studyping/internal/web"
)

// logSender stands in for the bot when no token is configured
type logSender struct{}

func (logSender) Send(ctx context.Context, recipient, text string) error {
	log.Printf("[DISPATCH] (telegram disabled) to=%s: %q", recipient, text)
	return nil
}

func main() {
	ctx := context.Background()

	// Load configuration from environment variables
	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Starting studyping in %s mode", cfg.App.Environment)

	// Initialize database connections
	db, err := database.NewDB(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Error closing database connections: %v", err)
		}
	}()
	if cfg.Database.Migrate {
		if err := db.Migrate(ctx); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
	}

	store := repository.NewStore(db.Postgres)
	renderer := render.NewRenderer(cfg.Links.BaseURL, cfg.Links.DefaultLinkText)
	tracker := service.NewCompletionTracker(store)

	var sender service.Sender = logSender{}
	var bot *telegram.Client
	if cfg.Telegram.Enabled() {
		bot = telegram.NewClient(telegram.Options{
			Token:         cfg.Telegram.Token,
			APIBase:       cfg.Telegram.APIBase,
			RatePerSecond: cfg.Telegram.RatePerSecond,
		})
		sender = bot
	} else {
		log.Println("TELEGRAM_BOT_TOKEN not set, messages will only be logged")
	}

	generator := service.NewPingGenerator(store, nil)
	enrollments := service.NewEnrollmentService(store, generator, service.SystemClock, service.EnrollmentConfig{
		LinkCodeTTL:      cfg.Links.LinkCodeTTL,
		DashboardCodeTTL: cfg.Links.DashboardCodeTTL,
	})
	studies := service.NewStudyService(store)
	templates := service.NewTemplateService(store, service.SystemClock)
	forwarder := service.NewForwarder(store, renderer, tracker, service.SystemClock)
	dispatcher := service.NewDispatcher(store, sender, renderer, tracker, service.SystemClock, service.DispatcherConfig{
		BatchSize:   cfg.Dispatch.BatchSize,
		Workers:     cfg.Dispatch.Workers,
		SendTimeout: cfg.Dispatch.SendTimeout,
	})

	// Public routes
	router := web.NewRouter(web.Deps{
		Forwarder:     forwarder,
		Linker:        enrollments,
		Signer:        enrollments,
		PublicURL:     cfg.Links.BaseURL,
		Replier:       sender,
		BotUsername:   cfg.Telegram.BotUsername,
		WebhookSecret: cfg.Telegram.WebhookSecret,
		PingDB:        db.Postgres.PingContext,
	})

	// Ops service
	if cfg.Server.OpsToken != "" {
		ops := rpc.NewOpsServer(rpc.OpsDeps{
			Ticker:      dispatcher,
			Generator:   generator,
			Enrollments: enrollments,
			Templates:   templates,
			Studies:     studies,
		})
		path, handler := rpc.NewOpsServiceHandler(ops, connect.WithInterceptors(rpc.NewTokenInterceptor(cfg.Server.OpsToken)))
		router.Mount(path, handler)
	} else {
		log.Println("SERVER_OPS_TOKEN not set, ops service disabled")
	}

	sched, err := scheduler.New(cfg.Dispatch.Schedule, dispatcher, cfg.Dispatch.TickTimeout)
	if err != nil {
		log.Fatalf("Failed to create scheduler: %v", err)
	}

	if bot != nil && cfg.Telegram.WebhookSecret != "" {
		hook := strings.TrimRight(cfg.Links.BaseURL, "/") + "/tg/webhook?secret=" + url.QueryEscape(cfg.Telegram.WebhookSecret)
		hookCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		if err := bot.SetWebhook(hookCtx, hook); err != nil {
			log.Printf("Failed to register telegram webhook: %v", err)
		}
		cancel()
	}

	server := &http.Server{
		Addr:           cfg.Server.GetServerAddr(),
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
		// Use h2c so connect clients can speak HTTP/2 without TLS
		Handler: h2c.NewHandler(router, &http2.Server{}),
	}

	// Start server in goroutine
	go func() {
		log.Printf("Starting studyping on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	sched.Start()
	log.Printf("Dispatch scheduled %q", cfg.Dispatch.Schedule)

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sched.Stop(shutdownCtx)
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited gracefully")
}
