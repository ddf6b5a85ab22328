// Package addon はConvertKitフィードアドオンの本体を提供する。
//
// Addon はフィード処理（購読登録とノート記録）、設定画面の記述子、
// フォーム一覧とRecommendationsスクリプトのキャッシュを扱う。
package addon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hitoshi/kitbridge/internal/cache"
	"github.com/hitoshi/kitbridge/internal/convertkit"
	"github.com/hitoshi/kitbridge/internal/mapping"
	"github.com/hitoshi/kitbridge/internal/metrics"
	"github.com/hitoshi/kitbridge/internal/model"
	"github.com/hitoshi/kitbridge/internal/repository"
	"github.com/hitoshi/kitbridge/internal/security"
)

// 設定フィールド名
const (
	SettingAPIKey    = "convertkit_api_key"
	SettingAPISecret = "convertkit_api_secret"
)

// DefaultFormsCacheTTL はフォーム一覧のキャッシュ期間。
const DefaultFormsCacheTTL = time.Hour

// initFailureTTL は認証情報が拒否された結果を保持する期間。
const initFailureTTL = time.Minute

// ErrAPIUnavailable は一時的な障害でConvertKit APIを検証できなかったことを表す。
// ProcessFeed がこのエラーを返した場合、呼び出し側は後で再実行する。
var ErrAPIUnavailable = errors.New("ConvertKit API is temporarily unavailable")

// FeedProcessor はホストのフィード処理パイプラインから呼ばれる機能。
type FeedProcessor interface {
	// ListSettingsFields はフィード設定画面のフィールド記述子を返す。
	ListSettingsFields(ctx context.Context) []model.SettingsSection

	// CanCreateFeed はフィードを作成できる状態（API接続済み）かを返す。
	CanCreateFeed(ctx context.Context) bool

	// ProcessFeed はエントリに対してフィードを実行する。
	// 購読の成否はノートとして記録し、errorはノートを保存できない場合と
	// APIに一時的に接続できない場合（ErrAPIUnavailable）にのみ返す。
	ProcessFeed(ctx context.Context, feed *model.Feed, entry *model.Entry, form *model.Form) (json.RawMessage, error)
}

// RemoteAPI はConvertKit APIクライアントのインターフェース。
type RemoteAPI interface {
	ListForms(ctx context.Context) ([]model.RemoteForm, error)
	ListTags(ctx context.Context) ([]model.RemoteTag, error)
	ListCustomFields(ctx context.Context) ([]model.RemoteCustomField, error)
	RecommendationsScript(ctx context.Context) (*model.RecommendationsScript, error)
	Subscribe(ctx context.Context, req convertkit.SubscribeRequest) (json.RawMessage, error)
}

// ClientFactory は認証情報からAPIクライアントを生成する。
type ClientFactory func(creds convertkit.Credentials) RemoteAPI

// Config はAddonの動作設定。
type Config struct {
	// FormsCacheTTL はフォーム一覧のキャッシュ期間。0以下の場合は1時間。
	FormsCacheTTL time.Duration
	// HTML5Enabled はホストのフォーム出力がHTML5かどうか。Recommendationsの前提条件。
	HTML5Enabled bool
	// NamespaceByAccount が true の場合、キャッシュキーを認証情報ごとに分ける。
	NamespaceByAccount bool
}

// Addon はConvertKitフィードアドオン。
type Addon struct {
	settings  repository.SettingsRepository
	notes     repository.NoteRepository
	store     cache.Store
	newClient ClientFactory
	sanitizer security.Sanitizer
	collector metrics.MetricsCollector
	logger    *slog.Logger
	cfg       Config

	resolver mapping.Resolver
	expander mapping.Expander
	emails   *mapping.EmailValidator

	observers []SubscribeObserver

	// APIクライアントは初回利用時に生成し、フォーム一覧の取得で検証する。
	// 別プロセスでの設定変更は保存済みの認証情報との比較で検出する。
	mu          sync.Mutex
	api         RemoteAPI
	apiOK       *bool
	creds       convertkit.Credentials
	failedUntil time.Time

	nowFn func() time.Time
	idFn  func() string
}

var _ FeedProcessor = (*Addon)(nil)

// New はAddonを生成する。
func New(
	settings repository.SettingsRepository,
	notes repository.NoteRepository,
	store cache.Store,
	newClient ClientFactory,
	sanitizer security.Sanitizer,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	cfg Config,
) *Addon {
	if store == nil {
		store = cache.NewMemoryStore()
	}
	if sanitizer == nil {
		sanitizer = security.NewSanitizer()
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FormsCacheTTL <= 0 {
		cfg.FormsCacheTTL = DefaultFormsCacheTTL
	}
	resolver := mapping.FieldResolver{}
	return &Addon{
		settings:  settings,
		notes:     notes,
		store:     store,
		newClient: newClient,
		sanitizer: sanitizer,
		collector: collector,
		logger:    logger,
		cfg:       cfg,
		resolver:  resolver,
		expander:  mapping.NewMergeTagExpander(resolver),
		emails:    mapping.NewEmailValidator(),
		nowFn:     time.Now,
		idFn:      newID,
	}
}

// AddObserver は購読成功時に呼ばれるオブザーバーを登録する。起動時に呼ぶ。
func (a *Addon) AddObserver(o SubscribeObserver) {
	if o != nil {
		a.observers = append(a.observers, o)
	}
}

// InitializeAPI はAPIクライアントを初期化し、フォーム一覧の取得で認証情報を検証する。
// 成功した結果は保存済みの認証情報が変わるまで保持する。
func (a *Addon) InitializeAPI(ctx context.Context) bool {
	ok, _ := a.initialize(ctx)
	return ok
}

// initialize は呼び出しごとに保存済みの認証情報を読み、保持している結果と比較する。
// 認証情報が変わっていれば旧アカウントのキャッシュを捨てて再初期化する。
// 通信失敗や5xxなど一時的な理由で検証できなかった場合は結果を保持せず、
// ErrAPIUnavailable をラップしたエラーを返す。
// 認証情報が拒否された場合は initFailureTTL の間だけ失敗を保持する。
func (a *Addon) initialize(ctx context.Context) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ps, err := a.settings.GetPluginSettings(ctx)
	if err != nil {
		// 設定を読めない場合は記憶せず、次回に再試行する
		a.logger.Error("アドオン設定の取得に失敗しました", slog.String("error", err.Error()))
		if a.apiOK != nil && *a.apiOK {
			return true, nil
		}
		return false, nil
	}
	creds := convertkit.Credentials{APIKey: ps.APIKey, APISecret: ps.APISecret}

	if a.apiOK != nil {
		switch {
		case creds != a.creds:
			a.logger.Info("認証情報の変更を検出したためAPIクライアントを再初期化します")
			a.dropCachedData(ctx, a.creds)
		case *a.apiOK:
			return true, nil
		case a.nowFn().Before(a.failedUntil):
			return false, nil
		}
	}

	api := a.newClient(creds)
	_, fetchErr := a.fetchForms(ctx, api, a.storeFor(creds))
	if fetchErr == nil {
		ok := true
		a.api = api
		a.apiOK = &ok
		a.creds = creds
		return true, nil
	}

	a.api = nil
	if isTransient(fetchErr) {
		a.apiOK = nil
		a.creds = convertkit.Credentials{}
		a.logger.Warn("ConvertKit APIに一時的に接続できません", slog.String("error", fetchErr.Error()))
		return false, fmt.Errorf("%w: %w", ErrAPIUnavailable, fetchErr)
	}

	a.logger.Debug("ConvertKit APIの初期化に失敗しました", slog.String("error", fetchErr.Error()))
	ok := false
	a.apiOK = &ok
	a.creds = creds
	a.failedUntil = a.nowFn().Add(initFailureTTL)
	return false, nil
}

// isTransient は時間をおけば回復しうる失敗かを返す。
func isTransient(err error) bool {
	var apiErr *convertkit.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= http.StatusInternalServerError || apiErr.StatusCode == http.StatusTooManyRequests
	}
	return convertkit.Kind(err) == model.KindTransport
}

// dropCachedData は指定した認証情報のキャッシュを削除する。
func (a *Addon) dropCachedData(ctx context.Context, creds convertkit.Credentials) {
	store := a.storeFor(creds)
	for _, key := range []string{cache.FormsKey, cache.RecommendationsScriptKey} {
		if err := store.Delete(ctx, key); err != nil {
			a.logger.Warn("キャッシュの削除に失敗しました", slog.String("key", key), slog.String("error", err.Error()))
		}
	}
}

// resetAPI は初期化結果を破棄し、次回利用時に再初期化させる。
func (a *Addon) resetAPI() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.api = nil
	a.apiOK = nil
	a.creds = convertkit.Credentials{}
	a.failedUntil = time.Time{}
}

// client は初期化済みのAPIクライアントと、その認証情報用のキャッシュを返す。
// 一時的な失敗の場合は ErrAPIUnavailable をラップしたエラーを返す。
func (a *Addon) client(ctx context.Context) (RemoteAPI, cache.Store, error) {
	ok, err := a.initialize(ctx)
	if !ok {
		return nil, nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.api == nil {
		return nil, nil, nil
	}
	return a.api, a.storeFor(a.creds), nil
}

// storeFor は認証情報に対応するキャッシュを返す。
func (a *Addon) storeFor(creds convertkit.Credentials) cache.Store {
	if !a.cfg.NamespaceByAccount {
		return a.store
	}
	return cache.Namespaced(a.store, cache.AccountNamespace(creds.APIKey, creds.APISecret))
}

// APIForms はConvertKitのフォーム一覧を返す。forceがfalseの場合はキャッシュを優先する。
// API未初期化の場合は空の一覧を返す。
func (a *Addon) APIForms(ctx context.Context, force bool) ([]model.RemoteForm, error) {
	api, store, _ := a.client(ctx)
	if api == nil {
		return []model.RemoteForm{}, nil
	}

	if !force {
		var cached []model.RemoteForm
		found, err := cache.GetJSON(ctx, store, cache.FormsKey, &cached)
		if err != nil {
			a.logger.Warn("フォーム一覧キャッシュの読み込みに失敗しました", slog.String("error", err.Error()))
		}
		if found && len(cached) > 0 {
			a.collector.RecordCacheHit(cache.FormsKey)
			return cached, nil
		}
		a.collector.RecordCacheMiss(cache.FormsKey)
	}

	return a.fetchForms(ctx, api, store)
}

// fetchForms はフォーム一覧を取得し、成功した場合はキャッシュに保存する。
func (a *Addon) fetchForms(ctx context.Context, api RemoteAPI, store cache.Store) ([]model.RemoteForm, error) {
	forms, err := api.ListForms(ctx)
	if err != nil {
		return nil, err
	}
	if err := cache.SetJSON(ctx, store, cache.FormsKey, forms, a.cfg.FormsCacheTTL); err != nil {
		a.logger.Warn("フォーム一覧のキャッシュ保存に失敗しました", slog.String("error", err.Error()))
	}
	return forms, nil
}

// CanCreateFeed はAPIが初期化できる場合にのみフィード作成を許可する。
func (a *Addon) CanCreateFeed(ctx context.Context) bool {
	return a.InitializeAPI(ctx)
}

// CanDuplicateFeed はフィードの複製を許可しない。
func (a *Addon) CanDuplicateFeed() bool {
	return false
}

// PluginSettings は保存済みのアドオン設定を返す。
func (a *Addon) PluginSettings(ctx context.Context) (model.PluginSettings, error) {
	return a.settings.GetPluginSettings(ctx)
}

// UpdatePluginSettings はキャッシュを削除してから設定を保存し、APIクライアントを破棄する。
// 旧認証情報と新認証情報の両方のキャッシュを削除する。
func (a *Addon) UpdatePluginSettings(ctx context.Context, settings model.PluginSettings) error {
	old, err := a.settings.GetPluginSettings(ctx)
	if err != nil {
		return err
	}

	stores := []cache.Store{a.storeFor(convertkit.Credentials{APIKey: old.APIKey, APISecret: old.APISecret})}
	if a.cfg.NamespaceByAccount {
		stores = append(stores, a.storeFor(convertkit.Credentials{APIKey: settings.APIKey, APISecret: settings.APISecret}))
	}
	for _, s := range stores {
		for _, key := range []string{cache.FormsKey, cache.RecommendationsScriptKey} {
			if err := s.Delete(ctx, key); err != nil {
				return err
			}
		}
	}

	if err := a.settings.SavePluginSettings(ctx, settings); err != nil {
		return err
	}
	a.resetAPI()

	a.logger.Info("アドオン設定を更新しました",
		slog.Bool("has_api_key", settings.APIKey != ""),
		slog.Bool("has_api_secret", settings.APISecret != ""),
	)
	return nil
}

// ValidateCredential は設定画面のフィードバック用に、単独の認証情報でフォーム一覧を取得できるかを返す。
// 値が空の場合はnilを返す。
func (a *Addon) ValidateCredential(ctx context.Context, name, value string) *bool {
	if value == "" {
		return nil
	}

	var creds convertkit.Credentials
	if name == SettingAPISecret {
		creds.APISecret = value
	} else {
		creds.APIKey = value
	}

	_, err := a.newClient(creds).ListForms(ctx)
	result := err == nil
	a.logger.Debug("認証情報を検証しました", slog.String("field", name), slog.Bool("valid", result))
	return &result
}
