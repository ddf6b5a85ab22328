package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/kitbridge/internal/legacy"
	"github.com/hitoshi/kitbridge/internal/model"
	"github.com/hitoshi/kitbridge/internal/submission"
)

// --- モック定義 ---

// mockFormRepo はFormRepositoryのモック実装。
type mockFormRepo struct {
	findByIDFn func(ctx context.Context, id string) (*model.Form, error)
	upsertFn   func(ctx context.Context, form *model.Form) error
}

func (m *mockFormRepo) FindByID(ctx context.Context, id string) (*model.Form, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockFormRepo) Upsert(ctx context.Context, form *model.Form) error {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, form)
	}
	return nil
}

// formRepoWith は指定IDのフォームのみを返すモックを生成する。
func formRepoWith(id string) *mockFormRepo {
	return &mockFormRepo{
		findByIDFn: func(ctx context.Context, got string) (*model.Form, error) {
			if got != id {
				return nil, nil
			}
			return &model.Form{ID: id, Title: "Contact"}, nil
		},
	}
}

// mockFeedRepo はFeedRepositoryのモック実装。
type mockFeedRepo struct {
	findByIDFn     func(ctx context.Context, id string) (*model.Feed, error)
	listByFormIDFn func(ctx context.Context, formID string, activeOnly bool) ([]*model.Feed, error)
	createFn       func(ctx context.Context, feed *model.Feed) error
	updateFn       func(ctx context.Context, feed *model.Feed) (bool, error)
	deleteFn       func(ctx context.Context, id string) (bool, error)
}

func (m *mockFeedRepo) FindByID(ctx context.Context, id string) (*model.Feed, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockFeedRepo) ListByFormID(ctx context.Context, formID string, activeOnly bool) ([]*model.Feed, error) {
	if m.listByFormIDFn != nil {
		return m.listByFormIDFn(ctx, formID, activeOnly)
	}
	return nil, nil
}

func (m *mockFeedRepo) Create(ctx context.Context, feed *model.Feed) error {
	if m.createFn != nil {
		return m.createFn(ctx, feed)
	}
	return nil
}

func (m *mockFeedRepo) Update(ctx context.Context, feed *model.Feed) (bool, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, feed)
	}
	return true, nil
}

func (m *mockFeedRepo) Delete(ctx context.Context, id string) (bool, error) {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return true, nil
}

// mockEntryRepo はEntryRepositoryのモック実装。
type mockEntryRepo struct {
	findByIDFn func(ctx context.Context, id string) (*model.Entry, error)
}

func (m *mockEntryRepo) FindByID(ctx context.Context, id string) (*model.Entry, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockEntryRepo) Create(ctx context.Context, entry *model.Entry) error {
	return nil
}

func (m *mockEntryRepo) UpdatePaymentStatus(ctx context.Context, id string, status model.PaymentStatus) (bool, error) {
	return true, nil
}

// mockNoteRepo はNoteRepositoryのモック実装。
type mockNoteRepo struct {
	listByEntryIDFn func(ctx context.Context, entryID string) ([]*model.Note, error)
}

func (m *mockNoteRepo) Add(ctx context.Context, note *model.Note) error {
	return nil
}

func (m *mockNoteRepo) ListByEntryID(ctx context.Context, entryID string) ([]*model.Note, error) {
	if m.listByEntryIDFn != nil {
		return m.listByEntryIDFn(ctx, entryID)
	}
	return nil, nil
}

// mockNoticeRepo はNoticeRepositoryのモック実装。
type mockNoticeRepo struct {
	listActiveFn func(ctx context.Context) ([]*model.Notice, error)
	dismissFn    func(ctx context.Context, key string) (bool, error)
}

func (m *mockNoticeRepo) Add(ctx context.Context, notice *model.Notice) error {
	return nil
}

func (m *mockNoticeRepo) ListActive(ctx context.Context) ([]*model.Notice, error) {
	if m.listActiveFn != nil {
		return m.listActiveFn(ctx)
	}
	return nil, nil
}

func (m *mockNoticeRepo) Dismiss(ctx context.Context, key string) (bool, error) {
	if m.dismissFn != nil {
		return m.dismissFn(ctx, key)
	}
	return false, nil
}

// mockFormSettingsStore はFormSettingsStoreのモック実装。
type mockFormSettingsStore struct {
	getFn  func(ctx context.Context, formID string) (model.FormSettings, error)
	saveFn func(ctx context.Context, settings model.FormSettings) error
}

func (m *mockFormSettingsStore) GetFormSettings(ctx context.Context, formID string) (model.FormSettings, error) {
	if m.getFn != nil {
		return m.getFn(ctx, formID)
	}
	return model.FormSettings{FormID: formID}, nil
}

func (m *mockFormSettingsStore) SaveFormSettings(ctx context.Context, settings model.FormSettings) error {
	if m.saveFn != nil {
		return m.saveFn(ctx, settings)
	}
	return nil
}

// mockAddon はAddonInterfaceのモック実装。
type mockAddon struct {
	pluginSettingsFn       func(ctx context.Context) (model.PluginSettings, error)
	updatePluginSettingsFn func(ctx context.Context, settings model.PluginSettings) error
	validateCredentialFn   func(ctx context.Context, name, value string) *bool
	listSettingsFieldsFn   func(ctx context.Context) []model.SettingsSection
	canCreateFeedFn        func(ctx context.Context) bool
	canDuplicateFeed       bool
	formColumnValueFn      func(ctx context.Context, feed *model.Feed) string
	formSettingsFieldsFn   func(ctx context.Context, form *model.Form) []model.SettingsSection
	enqueueScriptFn        func(ctx context.Context, form *model.Form, isAjax bool) (string, bool)
}

var _ AddonInterface = (*mockAddon)(nil)

func (m *mockAddon) PluginSettings(ctx context.Context) (model.PluginSettings, error) {
	if m.pluginSettingsFn != nil {
		return m.pluginSettingsFn(ctx)
	}
	return model.PluginSettings{}, nil
}

func (m *mockAddon) UpdatePluginSettings(ctx context.Context, settings model.PluginSettings) error {
	if m.updatePluginSettingsFn != nil {
		return m.updatePluginSettingsFn(ctx, settings)
	}
	return nil
}

func (m *mockAddon) PluginSettingsFields() []model.SettingsSection {
	return []model.SettingsSection{{Title: "ConvertKit Account Information"}}
}

func (m *mockAddon) ValidateCredential(ctx context.Context, name, value string) *bool {
	if m.validateCredentialFn != nil {
		return m.validateCredentialFn(ctx, name, value)
	}
	return nil
}

func (m *mockAddon) ListSettingsFields(ctx context.Context) []model.SettingsSection {
	if m.listSettingsFieldsFn != nil {
		return m.listSettingsFieldsFn(ctx)
	}
	return []model.SettingsSection{}
}

func (m *mockAddon) CanCreateFeed(ctx context.Context) bool {
	if m.canCreateFeedFn != nil {
		return m.canCreateFeedFn(ctx)
	}
	return true
}

func (m *mockAddon) CanDuplicateFeed() bool {
	return m.canDuplicateFeed
}

func (m *mockAddon) FeedListColumns() []model.FeedListColumn {
	return []model.FeedListColumn{
		{Key: "feed_name", Label: "Name"},
		{Key: "form_id", Label: "ConvertKit Form"},
	}
}

func (m *mockAddon) FormColumnValue(ctx context.Context, feed *model.Feed) string {
	if m.formColumnValueFn != nil {
		return m.formColumnValueFn(ctx, feed)
	}
	return feed.Meta.RemoteFormID
}

func (m *mockAddon) FormSettingsFields(ctx context.Context, form *model.Form) []model.SettingsSection {
	if m.formSettingsFieldsFn != nil {
		return m.formSettingsFieldsFn(ctx, form)
	}
	return []model.SettingsSection{}
}

func (m *mockAddon) EnqueueScript(ctx context.Context, form *model.Form, isAjax bool) (string, bool) {
	if m.enqueueScriptFn != nil {
		return m.enqueueScriptFn(ctx, form, isAjax)
	}
	return "", false
}

// mockSubmissionService はSubmissionServiceInterfaceのモック実装。
type mockSubmissionService struct {
	submitFn           func(ctx context.Context, formID string, in submission.Input) (*submission.Result, error)
	paymentCompletedFn func(ctx context.Context, entryID string) (*submission.Result, error)
}

func (m *mockSubmissionService) Submit(ctx context.Context, formID string, in submission.Input) (*submission.Result, error) {
	if m.submitFn != nil {
		return m.submitFn(ctx, formID, in)
	}
	return &submission.Result{}, nil
}

func (m *mockSubmissionService) PaymentCompleted(ctx context.Context, entryID string) (*submission.Result, error) {
	if m.paymentCompletedFn != nil {
		return m.paymentCompletedFn(ctx, entryID)
	}
	return &submission.Result{EntryID: entryID}, nil
}

// mockUpgrader はUpgraderInterfaceのモック実装。
type mockUpgrader struct {
	upgradeFn func(ctx context.Context) (*legacy.Report, error)
}

func (m *mockUpgrader) Upgrade(ctx context.Context) (*legacy.Report, error) {
	if m.upgradeFn != nil {
		return m.upgradeFn(ctx)
	}
	return &legacy.Report{MigratedFeeds: map[string]string{}}, nil
}

// --- テストヘルパー ---

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

// decodeBody はレスポンスボディをvにデコードするヘルパー。
func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func boolPtr(b bool) *bool {
	return &b
}
