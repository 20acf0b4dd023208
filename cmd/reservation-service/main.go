// cmd/reservation-service/main.go
package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"nexus-reservation/internal/pkg/bootstrap"
	"nexus-reservation/internal/pkg/logger"
	"nexus-reservation/internal/pkg/metrics"
	"nexus-reservation/internal/pkg/mq"
	"nexus-reservation/internal/pkg/redis"
	"nexus-reservation/internal/pkg/tracing"
	"nexus-reservation/internal/service/reservation/application"
	"nexus-reservation/internal/service/reservation/infrastructure"
	"nexus-reservation/internal/service/reservation/infrastructure/adapter"
	"nexus-reservation/internal/service/reservation/infrastructure/policy"
	"nexus-reservation/internal/service/reservation/interfaces"
)

// main 是组装根：创建并组装所有依赖项，然后启动服务。
func main() {
	cfg := bootstrap.Init()
	logger.Init(cfg.App.Name, cfg.App.LogLevel)

	var cleanups []bootstrap.CleanupFunc

	shutdownTracer, err := tracing.InitTracerProvider(cfg.App.Name, cfg.Infra.Jaeger.Endpoint, cfg.Infra.Jaeger.SampleRatio)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to init tracer provider")
	}
	cleanups = append(cleanups, bootstrap.CleanupFunc(shutdownTracer))
	tracer := otel.Tracer(cfg.App.Name)

	// --- 基础设施 ---
	db, err := infrastructure.OpenMySQL(infrastructure.MySQLOptions{
		DSN:             cfg.Infra.MySQL.DSN,
		MaxOpenConns:    cfg.Infra.MySQL.MaxOpenConns,
		MaxIdleConns:    cfg.Infra.MySQL.MaxIdleConns,
		ConnMaxLifetime: cfg.Infra.MySQL.ConnMaxLifetime,
		AutoMigrate:     cfg.Infra.MySQL.AutoMigrate,
	})
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to connect mysql")
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to get sql.DB")
	}
	cleanups = append(cleanups, func(context.Context) error { return sqlDB.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	redisClient, err := redis.NewClient(ctx, redis.Options{
		Addrs:       cfg.Infra.Redis.Addrs,
		Password:    cfg.Infra.Redis.Password,
		DB:          cfg.Infra.Redis.DB,
		DialTimeout: cfg.Infra.Redis.DialTimeout,
	})
	cancel()
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to connect redis")
	}
	cleanups = append(cleanups, func(context.Context) error { return redisClient.Close() })

	writer := mq.NewKafkaWriter(mq.SplitBrokers(cfg.Infra.Kafka.Brokers), cfg.Reservation.EventsTopic)
	cleanups = append(cleanups, func(context.Context) error { return writer.Close() })

	// --- 适配器 ---
	ledger, err := adapter.NewIdempotencyRedisAdapter(redisClient)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to load idempotency scripts")
	}
	accessPolicy, err := policy.NewCELAccessPolicy(cfg.Reservation.ElevatedRoleExpr)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("invalid elevated role expression")
	}
	capacityRepo := infrastructure.NewGormCapacityRepository(db)
	reservationRepo := infrastructure.NewGormReservationRepository(db)
	m := metrics.New(prometheus.DefaultRegisterer)

	// --- 应用服务 ---
	availability := application.NewAvailabilityService(capacityRepo, adapter.NewAvailabilityRedisAdapter(redisClient),
		cfg.Availability.TTL, cfg.Availability.CacheTimeout, m, tracer)
	reservationService := application.NewReservationService(capacityRepo, reservationRepo, ledger, availability,
		adapter.NewEventKafkaAdapter(writer), accessPolicy, m, tracer, application.Options{
			MaxQuantityPerRequest: int64(cfg.Reservation.MaxQuantityPerRequest),
			ReasonMaxLength:       cfg.Reservation.ReasonMaxLength,
			IdempotencyTTL:        cfg.Reservation.IdempotencyTTL,
			LedgerTimeout:         cfg.Reservation.LedgerTimeout,
			PublishTimeout:        cfg.Reservation.PublishTimeout,
		})
	catalogService := application.NewCatalogService(capacityRepo, availability, accessPolicy, m, tracer)

	handler := interfaces.NewReservationHandler(reservationService, availability, catalogService, cfg.Availability.PushInterval)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: cfg.App.Name,
		Port:        cfg.App.Port,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			appCtx.Mux.Handle("GET /metrics", promhttp.Handler())
			handler.RegisterRoutes(appCtx.Mux)
		},
		Cleanups: cleanups,
	})
}
