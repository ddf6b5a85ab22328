package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/hitoshi/kitbridge/internal/addon"
	"github.com/hitoshi/kitbridge/internal/cache"
	"github.com/hitoshi/kitbridge/internal/config"
	"github.com/hitoshi/kitbridge/internal/convertkit"
	"github.com/hitoshi/kitbridge/internal/database"
	"github.com/hitoshi/kitbridge/internal/handler"
	"github.com/hitoshi/kitbridge/internal/legacy"
	"github.com/hitoshi/kitbridge/internal/logger"
	"github.com/hitoshi/kitbridge/internal/metrics"
	"github.com/hitoshi/kitbridge/internal/middleware"
	"github.com/hitoshi/kitbridge/internal/repository"
	"github.com/hitoshi/kitbridge/internal/security"
	"github.com/hitoshi/kitbridge/internal/submission"
	"github.com/hitoshi/kitbridge/internal/webhook"
	"github.com/hitoshi/kitbridge/internal/worker/cleanup"
	"github.com/hitoshi/kitbridge/internal/worker/feedjob"
)

// cleanupInterval は終了済みジョブ削除の実行間隔。
const cleanupInterval = 24 * time.Hour

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("cache_backend", cfg.CacheBackend),
		slog.Bool("async_feed_processing", cfg.AsyncFeedProcessing),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		steps, err := rollbackSteps(args)
		if err != nil {
			return err
		}
		return runMigrate(cfg, steps)
	case CommandUpgrade:
		return runUpgrade(cfg)
	default:
		return runServe(cfg)
	}
}

// services はAPIサーバーとワーカーが共有する依存関係。
type services struct {
	forms        *repository.PostgresFormRepo
	entries      *repository.PostgresEntryRepo
	notes        *repository.PostgresNoteRepo
	feeds        *repository.PostgresFeedRepo
	jobs         *repository.PostgresJobRepo
	notices      *repository.PostgresNoticeRepo
	formSettings *repository.PostgresSettingsRepo

	sanitizer  security.Sanitizer
	collector  *metrics.Collector
	addon      *addon.Addon
	dispatcher *submission.Dispatcher
	migrator   *legacy.Migrator

	closers []func() error
}

// Close はキャッシュなど外部接続を閉じる。
func (s *services) Close() {
	for _, c := range s.closers {
		if err := c(); err != nil {
			slog.Warn("failed to close resource", slog.String("error", err.Error()))
		}
	}
}

// buildServices はリポジトリ、キャッシュ、ConvertKitクライアント、アドオン、
// ディスパッチャー、旧アドオン移行をワイヤリングする。
func buildServices(ctx context.Context, cfg *config.Config, db *sql.DB, reg prometheus.Registerer) (*services, error) {
	s := &services{
		forms:        repository.NewPostgresFormRepo(db),
		entries:      repository.NewPostgresEntryRepo(db),
		notes:        repository.NewPostgresNoteRepo(db),
		feeds:        repository.NewPostgresFeedRepo(db),
		jobs:         repository.NewPostgresJobRepo(db),
		notices:      repository.NewPostgresNoticeRepo(db),
		formSettings: repository.NewPostgresSettingsRepo(db),
		sanitizer:    security.NewSanitizer(),
		collector:    metrics.NewCollector(reg),
	}

	// 1. キャッシュ
	store, err := newCacheStore(ctx, cfg, s)
	if err != nil {
		return nil, err
	}

	// 2. ConvertKitクライアント（レート制限は全クライアントで共有する）
	limiter := newAPILimiter(cfg.ConvertKitRateLimit)
	httpClient := &http.Client{Timeout: cfg.ConvertKitTimeout}
	newClient := func(creds convertkit.Credentials) addon.RemoteAPI {
		return convertkit.NewClient(httpClient, slog.Default(), creds,
			convertkit.WithBaseURL(cfg.ConvertKitBaseURL),
			convertkit.WithRateLimiter(limiter),
			convertkit.WithRecorder(s.collector),
		)
	}

	// 3. アドオン
	s.addon = addon.New(
		s.formSettings, s.notes, store, newClient, s.sanitizer, s.collector, slog.Default(),
		addon.Config{
			FormsCacheTTL:      cfg.FormsCacheTTL,
			HTML5Enabled:       cfg.HTML5Enabled,
			NamespaceByAccount: cfg.CacheNamespaceByAccount,
		},
	)

	// 4. 購読成功Webhook
	if cfg.SuccessWebhookURL != "" {
		guard := security.NewSSRFGuard()
		if err := guard.ValidateURL(cfg.SuccessWebhookURL); err != nil {
			s.Close()
			return nil, fmt.Errorf("invalid SUCCESS_WEBHOOK_URL: %w", err)
		}
		notifier := webhook.NewNotifier(guard.NewSafeClient(cfg.SuccessWebhookTimeout), cfg.SuccessWebhookURL, slog.Default())
		s.addon.AddObserver(notifier)
		slog.Info("success webhook enabled")
	}

	// 5. フォーム投稿の振り分け
	s.dispatcher = submission.NewDispatcher(
		s.forms, s.entries, s.feeds, s.jobs, s.addon, s.collector, slog.Default(), cfg.AsyncFeedProcessing,
	)

	// 6. 旧アドオン移行
	s.migrator = legacy.NewMigrator(
		repository.NewPostgresLegacyRepo(db), s.feeds, s.notices, s.addon, cfg.LegacyTablePrefix, slog.Default(),
	)
	s.migrator.OnPostMigrate(func(ctx context.Context, migrationMap map[string]string) {
		for oldID, newID := range migrationMap {
			slog.Info("legacy feed migrated",
				slog.String("legacy_feed_id", oldID),
				slog.String("feed_id", newID),
			)
		}
	})

	return s, nil
}

// newCacheStore はCACHE_BACKENDに応じたキャッシュを生成する。
func newCacheStore(ctx context.Context, cfg *config.Config, s *services) (cache.Store, error) {
	if cfg.CacheBackend != config.CacheBackendRedis {
		return cache.NewMemoryStore(), nil
	}

	store, err := cache.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	s.closers = append(s.closers, store.Close)
	slog.Info("redis cache connection established")
	return store, nil
}

// newAPILimiter はConvertKit APIのレート制限（req/min）をトークンバケットに変換する。
// 0以下の場合は制限しない。
func newAPILimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := database.Ping(context.Background(), db, 10*time.Second); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newRegistry はGo/プロセスのメトリクスを含むPrometheusレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. サービスの初期化
	reg := newRegistry()
	svc, err := buildServices(context.Background(), cfg, db, reg)
	if err != nil {
		return err
	}
	defer svc.Close()

	// 3. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.DefaultRateLimiterConfig().SubmissionsPerMinute(cfg.RateLimitSubmissions),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		AdminAPIToken:     cfg.AdminAPIToken,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		DB:       db,
		Gatherer: reg,

		Addon:             svc.addon,
		SubmissionService: svc.dispatcher,

		Forms:        svc.forms,
		Feeds:        svc.feeds,
		Entries:      svc.entries,
		Notes:        svc.notes,
		Notices:      svc.notices,
		FormSettings: svc.formSettings,

		Upgrader:        svc.migrator,
		NoticeSanitizer: svc.sanitizer,
	})

	// 4. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.ConvertKitTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 起動時に旧アドオン移行を実行し、フィード処理ジョブのスケジューラと
// 終了済みジョブのクリーンアップを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	// 2. サービスの初期化（ワーカーはメトリクスを公開しない）
	svc, err := buildServices(ctx, cfg, db, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer svc.Close()

	// 3. 旧アドオン移行（冪等）
	report, err := svc.migrator.Upgrade(ctx)
	if err != nil {
		slog.Error("legacy upgrade failed", slog.String("error", err.Error()))
	} else {
		slog.Info("legacy upgrade checked",
			slog.Bool("deactivated", report.Deactivated),
			slog.Bool("populated_keys", report.PopulatedKeys),
			slog.Int("migrated_feeds", len(report.MigratedFeeds)),
		)
	}

	// 4. クリーンアップジョブを日次でバックグラウンド実行
	cleanupJob := cleanup.NewCleanupJob(svc.jobs, slog.Default(), cfg.JobRetentionDays)
	go cleanupJob.Start(ctx, cleanupInterval)

	// 5. フィード処理ジョブのスケジューラ
	scheduler := feedjob.NewScheduler(
		svc.jobs, svc.dispatcher, svc.collector, slog.Default(), cfg.JobMaxConcurrent, cfg.JobMaxAttempts,
	)

	slog.Info("worker starting",
		slog.Duration("poll_interval", cfg.JobPollInterval),
		slog.Int("max_concurrent", cfg.JobMaxConcurrent),
		slog.Int("max_attempts", cfg.JobMaxAttempts),
	)

	// スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.JobPollInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config, rollback int) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.Int("rollback_steps", rollback),
	)

	if rollback > 0 {
		if err := database.RollbackMigrations(cfg.DatabaseURL, rollback); err != nil {
			return fmt.Errorf("migration rollback failed: %w", err)
		}
		slog.Info("database migrations rolled back", slog.Int("steps", rollback))
		return nil
	}

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runUpgrade は旧アドオンからの移行を一度だけ実行する。
// ワーカー起動時と同じ処理で、ワーカーを起動せずに移行したい場合に使う。
func runUpgrade(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	svc, err := buildServices(ctx, cfg, db, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer svc.Close()

	report, err := svc.migrator.Upgrade(ctx)
	if err != nil {
		return fmt.Errorf("legacy upgrade failed: %w", err)
	}
	slog.Info("legacy upgrade completed",
		slog.Bool("deactivated", report.Deactivated),
		slog.Bool("populated_keys", report.PopulatedKeys),
		slog.Int("migrated_feeds", len(report.MigratedFeeds)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
