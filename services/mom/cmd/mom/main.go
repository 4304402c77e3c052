package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"momflow/internal/util"
	"momflow/pkg/mail"
	"momflow/pkg/notify"
	"momflow/pkg/pdf"
	"momflow/pkg/queue"
	"momflow/pkg/storage"
	"momflow/pkg/store"
	"momflow/services/mom/internal/app"
	"momflow/services/mom/internal/config"
	"momflow/services/mom/internal/security"
	"momflow/services/mom/internal/server"
)

const defaultShutdownTimeout = 20 * time.Second

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	sessionTTL, _ := config.ParseDuration("sessionTTL", cfg.SessionTTL)
	jwtLeeway, _ := config.ParseDuration("jwtLeeway", cfg.JWTLeeway)
	dispatchTimeout, _ := config.ParseDuration("dispatchTimeout", cfg.DispatchTimeout)
	pdfTimeout, _ := config.ParseDuration("pdfTimeout", cfg.PDFTimeout)
	shutdownTimeout, _ := config.ParseDuration("shutdownTimeout", cfg.ShutdownTimeout)
	if shutdownTimeout == 0 {
		shutdownTimeout = defaultShutdownTimeout
	}
	verifyKeys, _ := config.ParseVerifyPublicKeys(cfg.JWTVerifyPublicKeys)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var dataStore store.Store
	if cfg.DatabaseURL != "" {
		gormStore, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to init postgres store: %v", err)
		}
		defer gormStore.Close()
		dataStore = gormStore
	} else {
		logger.Warn("databaseURL not set, using in-memory store")
		dataStore = store.NewMemoryStore()
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	}

	var revoker store.TokenRevoker = store.NewMemoryTokenRevoker()
	var hub notify.Hub = notify.NewMemoryHub()
	if redisClient != nil {
		revoker = store.NewRedisTokenRevoker(redisClient, sessionTTL)
		hub = notify.NewRedisHub(redisClient, "")
	}
	sessions, err := store.NewJWTSessionStore(store.SessionConfig{
		PrivateKeyFile: cfg.JWTPrivateKeyPath,
		PublicKeyFile:  cfg.JWTPublicKeyPath,
		KeyID:          cfg.JWTKeyID,
		VerifyKeyFiles: verifyKeys,
		TTL:            sessionTTL,
		Issuer:         cfg.JWTIssuer,
		Audience:       cfg.JWTAudience,
		Leeway:         jwtLeeway,
	}, revoker)
	if err != nil {
		log.Fatalf("failed to init session store: %v", err)
	}
	if cfg.JWTPrivateKeyPath == "" {
		logger.Warn("jwtPrivateKeyPath not set, sessions use an ephemeral signing key")
	}

	var objects storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		objects, err = storage.NewMinioStore(storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("failed to init minio store: %v", err)
		}
	} else {
		objects, err = storage.NewFileStore(cfg.StorageDir)
		if err != nil {
			log.Fatalf("failed to init file store: %v", err)
		}
	}

	var mailer mail.Mailer = mail.NewLogMailer(logger)
	if cfg.AMQPURL != "" {
		amqpMailer, err := mail.NewAMQPMailer(cfg.AMQPURL, cfg.MailQueue)
		if err != nil {
			log.Fatalf("failed to init amqp mailer: %v", err)
		}
		defer amqpMailer.Close()
		mailer = amqpMailer
	}

	appCfg := app.Config{
		Store:              dataStore,
		Sessions:           sessions,
		Objects:            objects,
		Hub:                hub,
		Mailer:             mailer,
		Renderer:           pdf.NewRenderer(pdfTimeout),
		DispatchTimeout:    dispatchTimeout,
		MaxAttachmentBytes: cfg.MaxUploadBytes,
		Logger:             logger,
	}
	var jobs *queue.RedisJobQueue
	if redisClient != nil {
		host, _ := os.Hostname()
		jobs, err = queue.NewRedisJobQueue(queue.RedisQueueConfig{
			Client:     redisClient,
			Stream:     cfg.QueueName,
			Group:      cfg.QueueGroup,
			Consumer:   host,
			MaxRetries: cfg.QueueMaxRetries,
		})
		if err != nil {
			log.Fatalf("failed to init job queue: %v", err)
		}
		appCfg.Queue = jobs
	}

	appCore, err := app.New(appCfg)
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	if jobs != nil {
		jobs.Start(ctx, cfg.QueueConcurrency, appCore.Dispatcher().HandleJob)
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}
	httpServer, err := server.New(server.Config{
		App:                        appCore,
		Redis:                      redisClient,
		Alerter:                    security.NewAuditAlerter(redisClient, ""),
		TrustedProxies:             trusted,
		AllowedOrigins:             cfg.AllowedOrigins,
		SignupRateLimitPerMinute:   cfg.SignupRateLimitPerMinute,
		LoginRateLimitPerMinute:    cfg.LoginRateLimitPerMinute,
		PasswordRateLimitPerMinute: cfg.PasswordRateLimitPerMinute,
		MaxUploadBytes:             cfg.MaxUploadBytes,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "err", err)
		}
	}()

	slog.Info("mom server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
	stop()
	appCore.Dispatcher().Wait()
	if jobs != nil {
		jobs.Wait()
	}
	slog.Info("mom server stopped")
}
