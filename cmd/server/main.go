// Package main はAPIサーバーのエントリポイント。
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/awnumar/memguard"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"secure-message-service/config"
	"secure-message-service/internal/handler"
	"secure-message-service/internal/infra"
	"secure-message-service/internal/middleware"
	"secure-message-service/internal/repository"
	"secure-message-service/internal/usecase"
)

// version はビルド時に -ldflags で設定する。
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	ctx := context.Background()
	defer memguard.Purge()

	// .envファイルを読み込む（存在しない場合は無視）
	// 既存の環境変数は上書きしない
	_ = godotenv.Load()

	// 設定読み込み
	cfg := config.Load()

	// トレーサー初期化（ロガー設定の前に実行）
	tp, err := infra.InitTracer(ctx, cfg, version)
	if err != nil {
		slog.Error("failed to init tracer", "error", err)
		return 1
	}
	if tp != nil {
		defer func() {
			if err := tp.Shutdown(ctx); err != nil {
				slog.Error("failed to shutdown tracer", "error", err)
			}
		}()
	}

	// トレース情報付きロガーを設定
	infra.SetupLogger(cfg, version)

	if cfg.JWTSecret == "" {
		slog.Error("JWT_SECRET is not set")
		return 1
	}

	// DB初期化
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is not set")
		return 1
	}
	db, err := infra.NewDB(cfg)
	if err != nil {
		slog.Error("failed to init database", "error", err)
		return 1
	}
	if cfg.DBAutoMigrate {
		if err := repository.AutoMigrate(db); err != nil {
			slog.Error("failed to migrate database", "error", err)
			return 1
		}
	}

	// KEK初期化
	kek, closeKEK, err := newKEK(ctx, cfg)
	if err != nil {
		slog.Error("failed to init KEK", "provider", cfg.KEKProvider, "error", err)
		return 1
	}
	defer closeKEK()

	opts := []usecase.Option{
		usecase.WithAutoDeliverOnRead(cfg.AutoDeliverOnRead),
	}

	// 複数インスタンス構成ではRedisでメッセージ単位のロックを取る
	if cfg.RedisURL != "" {
		redisClient, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			slog.Error("failed to init redis", "error", err)
			return 1
		}
		defer func() { _ = redisClient.Close() }()
		opts = append(opts, usecase.WithLocker(infra.NewRedisLocker(redisClient, cfg.LockTTL)))
	}

	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := infra.NewKafkaAuditPublisher(cfg.KafkaBrokers, cfg.KafkaAuditTopic)
		if err != nil {
			slog.Error("failed to init kafka audit publisher", "error", err)
			return 1
		}
		defer publisher.Close()
		opts = append(opts, usecase.WithAuditSink(publisher))
	}

	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts = append(opts, usecase.WithMetrics(infra.NewMetrics(reg)))
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	// DI
	engine := usecase.NewLifecycleEngine(
		repository.NewMessageRepository(db),
		repository.NewAuditRepository(db),
		repository.NewTxManager(db),
		usecase.NewKeyVault(repository.NewDataKeyRepository(db), kek),
		usecase.NewCertificateIssuer(repository.NewCertificateRepository(db), cfg.CertificateValidity),
		opts...,
	)
	tokens := middleware.NewTokenService(cfg.JWTSecret, cfg.JWTIssuer)
	router := handler.NewRouter(handler.NewMessageHandler(engine), tokens, metricsHandler)

	// サーバー起動
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		<-sigCh

		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("starting server", "port", cfg.Port, "version", version)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		return 1
	}
	slog.Info("server stopped")
	return 0
}

// newKEK は設定に応じたKEKと、その解放関数を返す。
func newKEK(ctx context.Context, cfg *config.Config) (usecase.KMSClient, func(), error) {
	switch cfg.KEKProvider {
	case config.KEKProviderLocal:
		kek, err := infra.NewLocalKEK(cfg.MasterKey)
		if err != nil {
			return nil, nil, err
		}
		slog.Warn("using local KEK; not for production use")
		return kek, func() {}, nil
	case config.KEKProviderKMS:
		kmsClient, err := infra.NewKMSClient(ctx, cfg.KMSKeyName)
		if err != nil {
			return nil, nil, err
		}
		return kmsClient, func() {
			if closeErr := kmsClient.Close(); closeErr != nil {
				slog.Error("failed to close KMS client", "error", closeErr)
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported KEK provider %q", cfg.KEKProvider)
	}
}
