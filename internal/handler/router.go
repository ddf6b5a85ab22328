package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/kitbridge/internal/metrics"
	"github.com/hitoshi/kitbridge/internal/middleware"
	"github.com/hitoshi/kitbridge/internal/repository"
	"github.com/hitoshi/kitbridge/internal/security"
)

// AddonInterface はルーターが必要とするアドオンの機能をまとめたもの。
// *addon.Addon が満たす。
type AddonInterface interface {
	SettingsServiceInterface
	FeedAddonInterface
	FormAddonInterface
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	AdminAPIToken     string
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// ヘルスチェック
	DB HealthChecker

	// メトリクス。nilの場合は /metrics を公開しない。
	Gatherer prometheus.Gatherer

	// アドオン
	Addon AddonInterface

	// フォーム投稿
	SubmissionService SubmissionServiceInterface

	// 永続化
	Forms        repository.FormRepository
	Feeds        repository.FeedRepository
	Entries      repository.EntryRepository
	Notes        repository.NoteRepository
	Notices      repository.NoticeRepository
	FormSettings FormSettingsStore

	// 旧アドオン移行
	Upgrader UpgraderInterface

	// 通知表示用のサニタイザー。nilの場合は既定のものを使う。
	NoticeSanitizer security.Sanitizer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Recovery → SecurityHeaders → CORS → Logging
//
// 管理APIはさらに AdminAuth → RateLimit(Admin) を通る。
// フォーム投稿は RateLimit(Submission) のみを通る。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(logger))

	healthHandler := NewHealthHandler(deps.DB)
	entryHandler := NewEntryHandler(deps.SubmissionService, deps.Entries, deps.Notes)
	settingsHandler := NewSettingsHandler(deps.Addon)
	formHandler := NewFormHandler(deps.Forms, deps.FormSettings, deps.Addon)
	feedHandler := NewFeedHandler(deps.Forms, deps.Feeds, deps.Addon)
	noticeHandler := NewNoticeHandler(deps.Notices, deps.NoticeSanitizer)
	upgradeHandler := NewUpgradeHandler(deps.Upgrader)

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler.Health)
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	// POST /api/forms/{formID}/entries - フォーム投稿（IP単位のレート制限）
	r.With(deps.RateLimiter.SubmissionMiddleware()).
		Post("/api/forms/{formID}/entries", entryHandler.SubmitEntry)

	// --- 管理APIトークンが必要なルート ---
	// ミドルウェアスタック: AdminAuth → RateLimit(Admin)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAdminAuthMiddleware(deps.AdminAPIToken))
		r.Use(deps.RateLimiter.AdminMiddleware())

		// アドオン設定
		r.Route("/api/settings", func(r chi.Router) {
			r.Get("/", settingsHandler.GetSettings)
			r.Put("/", settingsHandler.UpdateSettings)
			r.Post("/validate", settingsHandler.ValidateCredential)
		})

		// フォーム
		r.Route("/api/forms/{formID}", func(r chi.Router) {
			r.Put("/", formHandler.UpsertForm)

			r.Get("/feeds", feedHandler.ListFeeds)
			r.Post("/feeds", feedHandler.CreateFeed)
			r.Get("/feed-settings", feedHandler.FeedSettingsFields)

			r.Get("/settings", formHandler.GetFormSettings)
			r.Put("/settings", formHandler.UpdateFormSettings)
			r.Get("/recommendations-script", formHandler.RecommendationsScript)
		})

		// フィード
		r.Route("/api/feeds/{id}", func(r chi.Router) {
			r.Get("/", feedHandler.GetFeed)
			r.Put("/", feedHandler.UpdateFeed)
			r.Delete("/", feedHandler.DeleteFeed)
			r.Post("/duplicate", feedHandler.DuplicateFeed)
		})

		// エントリ
		r.Route("/api/entries/{id}", func(r chi.Router) {
			r.Get("/notes", entryHandler.ListNotes)
			r.Post("/payment-completed", entryHandler.PaymentCompleted)
		})

		// 通知
		r.Route("/api/notices", func(r chi.Router) {
			r.Get("/", noticeHandler.ListNotices)
			r.Delete("/{key}", noticeHandler.DismissNotice)
		})

		r.Post("/api/admin/upgrade", upgradeHandler.Upgrade)
	})

	return r
}
