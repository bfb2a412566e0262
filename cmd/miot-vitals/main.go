package main

import (
	"context"
	"database/sql"
	"encoding/base64"
	"os"
	"os/signal"
	"syscall"
	"time"

	"miot-vitals/internal/anomaly"
	"miot-vitals/internal/config"
	"miot-vitals/internal/crypto"
	"miot-vitals/internal/domain"
	httpapi "miot-vitals/internal/http"
	"miot-vitals/internal/ingest"
	"miot-vitals/internal/logger"
	mqttbridge "miot-vitals/internal/mqtt"
	"miot-vitals/internal/repository"
	"miot-vitals/internal/service"
	"miot-vitals/internal/store"
	"miot-vitals/internal/totp"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "miot-vitals")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if cfg.Ingest.SharedSecret == "" {
		log.Warn("INGEST_HMAC_SECRET is empty, all signed requests will be rejected")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	var kv store.KV
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Warn("Redis unavailable, latest-reading cache and event stream disabled", zap.Error(err))
	} else {
		kv = store.NewRedisKV(redisClient)
	}

	// DB 未就绪时回退到内存 repo 支持联测
	var db *sql.DB
	var readingsRepo repository.ReadingsRepository
	var eventsRepo repository.SecurityEventsRepository
	var totpRepo repository.TOTPSecretsRepository
	if cfg.DBEnabled {
		if d, err := sql.Open("postgres", cfg.Database.GetDSN()); err == nil && d.Ping() == nil {
			d.SetMaxOpenConns(cfg.Database.MaxConns)
			d.SetMaxIdleConns(cfg.Database.MaxIdle)
			db = d
			log.Info("DB enabled for miot-vitals")
		} else {
			log.Warn("DB enabled but connection failed, falling back to memory repositories")
			if d != nil {
				_ = d.Close()
			}
		}
	}
	if db != nil {
		readingsRepo = repository.NewPostgresReadingsRepository(db)
		eventsRepo = repository.NewPostgresSecurityEventsRepository(db)
		totpRepo = repository.NewPostgresTOTPSecretsRepository(db)
	} else {
		readingsRepo = repository.NewMemoryReadingsRepository()
		eventsRepo = repository.NewMemorySecurityEventsRepository()
		totpRepo = repository.NewMemoryTOTPSecretsRepository()
	}

	// 可选的落库信封加密
	var cipher *crypto.EnvelopeCipher
	if cfg.Ingest.StoreEncrypted {
		key, err := base64.StdEncoding.DecodeString(cfg.Ingest.StorageKey)
		if err != nil {
			log.Fatal("STORAGE_KEY is not valid base64", zap.Error(err))
		}
		cipher, err = crypto.NewEnvelopeCipher(key)
		if err != nil {
			log.Fatal("Failed to initialize envelope cipher", zap.Error(err))
		}
		log.Info("Envelope encryption enabled for stored readings")
	}

	sinkOpts := []anomaly.Option{}
	if kv != nil {
		sinkOpts = append(sinkOpts, anomaly.WithStream(redisClient, cfg.Anomaly.Stream))
	}
	if cfg.Anomaly.WebhookURL != "" {
		sinkOpts = append(sinkOpts, anomaly.WithWebhook(anomaly.NewWebhookNotifier(cfg.Anomaly.WebhookURL, log)))
	}
	sink := anomaly.NewSink(eventsRepo, cfg.Anomaly.BufferSize, log, sinkOpts...)

	pipeline := ingest.NewPipeline(
		ingest.NewReplayGatekeeper(readingsRepo),
		ingest.NewSignatureVerifier(cfg.Ingest.SharedSecret, cfg.Ingest.FreshnessWindow),
		readingsRepo,
		sink,
		log,
	)
	if cipher != nil {
		pipeline.WithEnvelopeCipher(cipher)
	}
	if kv != nil {
		pipeline.OnCommit(func(ctx context.Context, reading *domain.VitalsReading) {
			if err := store.CacheLatestReading(ctx, kv, reading); err != nil {
				log.Warn("failed to cache latest reading", zap.Error(err))
			}
		})
	}

	var limiter *httpapi.IPRateLimiter
	if cfg.RateLimit.Enabled {
		limiter = httpapi.NewIPRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, sink, log)
	}

	router := httpapi.NewRouter(log)
	router.RegisterVitalsRoutes(httpapi.NewVitalsHandler(pipeline, readingsRepo, kv, cipher, log), limiter)
	router.RegisterSecurityEventRoutes(httpapi.NewSecurityEventsHandler(eventsRepo, log))
	router.RegisterTwoFARoutes(httpapi.NewTwoFAHandler(
		totp.NewEngine(cfg.TOTP.Issuer), totpRepo, kv, cfg.TOTP.SingleUse, log))

	srv := service.NewServer(cfg.HTTP.Addr, router, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 可选的设备 MQTT 接入桥
	var consumer *mqttbridge.Consumer
	var mqttClient *mqttbridge.Client
	if cfg.MQTT.Enabled {
		mc, err := mqttbridge.NewClient(mqttbridge.ClientConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		})
		if err != nil {
			log.Fatal("Failed to connect to MQTT broker", zap.Error(err))
		}
		mqttClient = mc
		consumer = mqttbridge.NewConsumer(mc, pipeline, cfg.MQTT.Topic, cfg.MQTT.QoS, log)
		go func() {
			if err := consumer.Start(ctx); err != nil {
				log.Error("MQTT consumer exited", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		cancel()
	case <-errCh:
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)

	if consumer != nil {
		consumer.Stop()
	}
	if mqttClient != nil {
		mqttClient.Disconnect()
	}
	if limiter != nil {
		limiter.Stop()
	}
	// 先排空异常缓冲再断开存储
	sink.Close()
	_ = redisClient.Close()
	if db != nil {
		_ = db.Close()
	}
}
