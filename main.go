package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"whatsapp-broker/config"
	"whatsapp-broker/internal/adapters/meta"
	"whatsapp-broker/internal/archive"
	"whatsapp-broker/internal/db"
	"whatsapp-broker/internal/events"
	"whatsapp-broker/internal/handlers"
	"whatsapp-broker/internal/metrics"
	"whatsapp-broker/internal/models"
	"whatsapp-broker/internal/repository"
	"whatsapp-broker/internal/services"
	"whatsapp-broker/pkg/logger"

	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
)

const shutdownTimeout = 30 * time.Second

func main() {
	envFile := flag.String("env-file", "", "path to a .env file (defaults to ./.env when present)")
	migrateOnly := flag.Bool("migrate-only", false, "run database migrations and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(*envFile)
	if err != nil {
		// The logger is not configured yet; zerolog's default still prints.
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger.InitLogger(cfg.LogLevel, cfg.LogFormat)
	log.Info().Str("driver", cfg.DatabaseDriver).Msg("Configuration loaded")

	gdb, err := db.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(gdb); err != nil {
			log.Error().Err(err).Msg("Failed to close database")
		}
	}()
	if err := db.Migrate(gdb, models.All()...); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}
	if *migrateOnly {
		log.Info().Msg("Migrations complete, exiting")
		return
	}

	repos, err := repository.New(gdb, cfg.DatabaseDriver)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize repositories")
	}

	client, err := meta.NewClient(cfg.MetaBaseURL, cfg.MetaAPIVersion, cfg.MetaAccessToken, cfg.MetaPhoneNumberID, cfg.MetaTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Meta client")
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.RabbitMQURL != "" {
		rp, err := events.NewRabbitPublisher(events.RabbitConfig{
			URL:            cfg.RabbitMQURL,
			Queue:          cfg.RabbitMQQueue,
			QueuePrefix:    cfg.RabbitMQQueuePrefix,
			SpecificEvents: cfg.RabbitMQSpecificEvents,
		})
		if err != nil {
			// Events are best effort; the broker keeps running without them.
			log.Error().Err(err).Msg("Failed to connect to RabbitMQ, event publishing disabled")
		} else {
			publisher = rp
		}
	}
	defer publisher.Close()

	var payloadArchive archive.Archive = archive.Nop{}
	if cfg.S3Enabled {
		s3a, err := archive.NewS3Archive(archive.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			PathStyle: cfg.S3PathStyle,
			Prefix:    cfg.S3Prefix,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize S3 archive")
		}
		payloadArchive = s3a
	}

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.NewMetrics()
	}

	reconciler, err := services.NewReconciler(services.ReconcilerConfig{
		Tx:            repos,
		Users:         repos.Users,
		Conversations: repos.Conversations,
		Messages:      repos.Messages,
		Publisher:     publisher,
		Metrics:       m,
		PhoneNumberID: cfg.MetaPhoneNumberID,
		RecentTTL:     cfg.RecentMessageTTL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize reconciler")
	}
	dispatcher, err := services.NewDispatcher(repos.WebhookLogs, reconciler, payloadArchive, m)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize dispatcher")
	}
	outbound, err := services.NewOutboundService(services.OutboundConfig{
		Tx:            repos,
		Sender:        client,
		Users:         repos.Users,
		Conversations: repos.Conversations,
		Messages:      repos.Messages,
		Publisher:     publisher,
		Metrics:       m,
		PhoneNumberID: cfg.MetaPhoneNumberID,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize outbound service")
	}
	conversations, err := services.NewConversationService(repos.Conversations, repos.Users)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize conversation service")
	}
	users, err := services.NewUserService(repos.Users)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize user service")
	}
	messages, err := services.NewMessageService(repos.Messages, repos.Conversations, repos.Stats)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize message service")
	}
	sweeper, err := services.NewRetrySweeper(dispatcher, cfg.RetryInterval, cfg.RetryMaxAttempts)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize retry sweeper")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	sweeperDone := sweeper.Start(ctx)

	webhook := handlers.NewWebhookHandler(dispatcher, cfg.MetaVerifyToken, cfg.MetaAppSecret, cfg.ProcessingTimeout)
	router := newRouter(routeDeps{
		webhook:       webhook,
		conversations: handlers.NewConversationHandler(conversations),
		users:         handlers.NewUserHandler(users, conversations),
		messages:      handlers.NewMessageHandler(messages, outbound),
		admin:         handlers.NewAdminHandler(repos.WebhookLogs, sweeper),
		ping: func(ctx context.Context) error {
			sqlDB, err := gdb.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		metrics: m,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown did not complete")
	}
	if err := webhook.Wait(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Timed out waiting for in-flight webhook batches")
	}
	<-sweeperDone
	log.Info().Msg("Shutdown complete")
}
