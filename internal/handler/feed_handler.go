package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/kitbridge/internal/model"
	"github.com/hitoshi/kitbridge/internal/repository"
)

// FeedAddonInterface はフィードハンドラーが必要とするアドオンの機能。
// *addon.Addon が満たす。
type FeedAddonInterface interface {
	// ListSettingsFields はフィード設定画面のフィールド記述子を返す。
	ListSettingsFields(ctx context.Context) []model.SettingsSection
	// CanCreateFeed はAPI接続済みでフィードを作成できるかを返す。
	CanCreateFeed(ctx context.Context) bool
	// CanDuplicateFeed はフィードの複製を許可するかを返す。
	CanDuplicateFeed() bool
	// FeedListColumns はフィード一覧の列を返す。
	FeedListColumns() []model.FeedListColumn
	// FormColumnValue はフィード一覧のForm列の値を返す。
	FormColumnValue(ctx context.Context, feed *model.Feed) string
}

// FeedHandler はフィード設定のHTTPハンドラー。
type FeedHandler struct {
	forms repository.FormRepository
	feeds repository.FeedRepository
	addon FeedAddonInterface

	nowFn func() time.Time
	idFn  func() string
}

// NewFeedHandler はFeedHandlerを生成する。
func NewFeedHandler(forms repository.FormRepository, feeds repository.FeedRepository, addon FeedAddonInterface) *FeedHandler {
	return &FeedHandler{
		forms: forms,
		feeds: feeds,
		addon: addon,
		nowFn: time.Now,
		idFn:  uuid.NewString,
	}
}

// feedResponse はフィード設定のAPIレスポンス。
type feedResponse struct {
	ID        string         `json:"id"`
	FormID    string         `json:"form_id"`
	IsActive  bool           `json:"is_active"`
	FeedOrder int            `json:"feed_order"`
	Meta      model.FeedMeta `json:"meta"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// feedListItem はフィード一覧の1行。Columns は FeedListColumns のキーごとの表示値。
type feedListItem struct {
	feedResponse
	Columns map[string]string `json:"columns"`
}

// feedListResponse はフィード一覧のAPIレスポンス。
type feedListResponse struct {
	Columns []model.FeedListColumn `json:"columns"`
	Feeds   []feedListItem         `json:"feeds"`
}

// createFeedRequest はフィード作成リクエストのボディ。
type createFeedRequest struct {
	IsActive *bool          `json:"is_active"`
	Meta     model.FeedMeta `json:"meta"`
}

// updateFeedRequest はフィード更新リクエストのボディ。省略した項目は変更しない。
type updateFeedRequest struct {
	IsActive  *bool           `json:"is_active"`
	FeedOrder *int            `json:"feed_order" validate:"omitempty,min=0"`
	Meta      *model.FeedMeta `json:"meta"`
}

// ListFeeds はフォームのフィード一覧を返す。
// GET /api/forms/{formID}/feeds
func (h *FeedHandler) ListFeeds(w http.ResponseWriter, r *http.Request) {
	formID := chi.URLParam(r, "formID")
	if !h.requireForm(w, r, formID) {
		return
	}

	feeds, err := h.feeds.ListByFormID(r.Context(), formID, false)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	items := make([]feedListItem, 0, len(feeds))
	for _, f := range feeds {
		items = append(items, feedListItem{
			feedResponse: toFeedResponse(f),
			Columns: map[string]string{
				"feed_name": f.Meta.FeedName,
				"form_id":   h.addon.FormColumnValue(r.Context(), f),
			},
		})
	}

	writeJSON(w, http.StatusOK, feedListResponse{
		Columns: h.addon.FeedListColumns(),
		Feeds:   items,
	})
}

// CreateFeed はフォームにフィードを追加する。
// API接続できない場合は409を返す。
// POST /api/forms/{formID}/feeds
func (h *FeedHandler) CreateFeed(w http.ResponseWriter, r *http.Request) {
	formID := chi.URLParam(r, "formID")

	var req createFeedRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if !h.requireForm(w, r, formID) {
		return
	}
	if !h.addon.CanCreateFeed(r.Context()) {
		handleServiceError(w, model.NewAddonNotConfiguredError())
		return
	}
	if err := req.Meta.Validate(); err != nil {
		handleServiceError(w, err)
		return
	}

	existing, err := h.feeds.ListByFormID(r.Context(), formID, false)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}
	now := h.nowFn()
	feed := &model.Feed{
		ID:        h.idFn(),
		FormID:    formID,
		IsActive:  isActive,
		FeedOrder: len(existing),
		Meta:      req.Meta,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.feeds.Create(r.Context(), feed); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toFeedResponse(feed))
}

// FeedSettingsFields はフィード設定画面のフィールド記述子を返す。
// GET /api/forms/{formID}/feed-settings
func (h *FeedHandler) FeedSettingsFields(w http.ResponseWriter, r *http.Request) {
	formID := chi.URLParam(r, "formID")
	if !h.requireForm(w, r, formID) {
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sections": h.addon.ListSettingsFields(r.Context()),
	})
}

// GetFeed はフィード設定を返す。
// GET /api/feeds/{id}
func (h *FeedHandler) GetFeed(w http.ResponseWriter, r *http.Request) {
	feed, ok := h.findFeed(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toFeedResponse(feed))
}

// UpdateFeed はフィード設定を更新する。
// PUT /api/feeds/{id}
func (h *FeedHandler) UpdateFeed(w http.ResponseWriter, r *http.Request) {
	var req updateFeedRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	feed, ok := h.findFeed(w, r)
	if !ok {
		return
	}

	if req.Meta != nil {
		if err := req.Meta.Validate(); err != nil {
			handleServiceError(w, err)
			return
		}
		feed.Meta = *req.Meta
	}
	if req.IsActive != nil {
		feed.IsActive = *req.IsActive
	}
	if req.FeedOrder != nil {
		feed.FeedOrder = *req.FeedOrder
	}
	feed.UpdatedAt = h.nowFn()

	updated, err := h.feeds.Update(r.Context(), feed)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if !updated {
		handleServiceError(w, model.NewFeedNotFoundError(feed.ID))
		return
	}

	writeJSON(w, http.StatusOK, toFeedResponse(feed))
}

// DeleteFeed はフィード設定を削除する。
// DELETE /api/feeds/{id}
func (h *FeedHandler) DeleteFeed(w http.ResponseWriter, r *http.Request) {
	feedID := chi.URLParam(r, "id")

	deleted, err := h.feeds.Delete(r.Context(), feedID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if !deleted {
		handleServiceError(w, model.NewFeedNotFoundError(feedID))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DuplicateFeed はフィードを複製する。アドオンが複製を許可しない場合は403を返す。
// POST /api/feeds/{id}/duplicate
func (h *FeedHandler) DuplicateFeed(w http.ResponseWriter, r *http.Request) {
	if !h.addon.CanDuplicateFeed() {
		handleServiceError(w, model.NewDuplicateNotAllowedError())
		return
	}

	src, ok := h.findFeed(w, r)
	if !ok {
		return
	}
	existing, err := h.feeds.ListByFormID(r.Context(), src.FormID, false)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	now := h.nowFn()
	dup := *src
	dup.ID = h.idFn()
	dup.IsActive = false
	dup.FeedOrder = len(existing)
	dup.Meta.FeedName = src.Meta.FeedName + " (copy)"
	dup.CreatedAt = now
	dup.UpdatedAt = now
	if err := h.feeds.Create(r.Context(), &dup); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toFeedResponse(&dup))
}

// --- ヘルパー関数 ---

// requireForm はフォームが登録済みかを確認し、無い場合は404を書き込む。
func (h *FeedHandler) requireForm(w http.ResponseWriter, r *http.Request, formID string) bool {
	form, err := h.forms.FindByID(r.Context(), formID)
	if err != nil {
		handleServiceError(w, err)
		return false
	}
	if form == nil {
		handleServiceError(w, model.NewFormNotFoundError(formID))
		return false
	}
	return true
}

// findFeed はURLのフィードを取得し、無い場合は404を書き込む。
func (h *FeedHandler) findFeed(w http.ResponseWriter, r *http.Request) (*model.Feed, bool) {
	feedID := chi.URLParam(r, "id")

	feed, err := h.feeds.FindByID(r.Context(), feedID)
	if err != nil {
		handleServiceError(w, err)
		return nil, false
	}
	if feed == nil {
		handleServiceError(w, model.NewFeedNotFoundError(feedID))
		return nil, false
	}
	return feed, true
}

// toFeedResponse はmodel.FeedからAPIレスポンスに変換する。
func toFeedResponse(feed *model.Feed) feedResponse {
	return feedResponse{
		ID:        feed.ID,
		FormID:    feed.FormID,
		IsActive:  feed.IsActive,
		FeedOrder: feed.FeedOrder,
		Meta:      feed.Meta,
		CreatedAt: feed.CreatedAt,
		UpdatedAt: feed.UpdatedAt,
	}
}
