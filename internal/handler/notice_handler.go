package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/kitbridge/internal/model"
	"github.com/hitoshi/kitbridge/internal/repository"
	"github.com/hitoshi/kitbridge/internal/security"
)

// NoticeHandler はサイト全体通知のHTTPハンドラー。
type NoticeHandler struct {
	notices   repository.NoticeRepository
	sanitizer security.Sanitizer
}

// NewNoticeHandler はNoticeHandlerを生成する。
func NewNoticeHandler(notices repository.NoticeRepository, sanitizer security.Sanitizer) *NoticeHandler {
	if sanitizer == nil {
		sanitizer = security.NewSanitizer()
	}
	return &NoticeHandler{notices: notices, sanitizer: sanitizer}
}

// noticeResponse は通知のAPIレスポンス。Message は表示用に無害化したHTML。
type noticeResponse struct {
	Key       string    `json:"key"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// ListNotices は閉じられていない通知を返す。
// GET /api/notices
func (h *NoticeHandler) ListNotices(w http.ResponseWriter, r *http.Request) {
	notices, err := h.notices.ListActive(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]noticeResponse, 0, len(notices))
	for _, n := range notices {
		resp = append(resp, noticeResponse{
			Key:       n.Key,
			Message:   h.sanitizer.Notice(n.Message),
			Type:      n.Type,
			CreatedAt: n.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"notices": resp})
}

// DismissNotice は通知を閉じる。
// DELETE /api/notices/{key}
func (h *NoticeHandler) DismissNotice(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	dismissed, err := h.notices.Dismiss(r.Context(), key)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if !dismissed {
		handleServiceError(w, model.NewNoticeNotFoundError(key))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
