package handler

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/kitbridge/internal/model"
	"github.com/hitoshi/kitbridge/internal/repository"
	"github.com/hitoshi/kitbridge/internal/submission"
)

// SubmissionServiceInterface はエントリハンドラーが必要とするサービスインターフェース。
// *submission.Dispatcher が満たす。
type SubmissionServiceInterface interface {
	// Submit はエントリを保存し、フォームの有効なフィードに振り分ける。
	Submit(ctx context.Context, formID string, in submission.Input) (*submission.Result, error)
	// PaymentCompleted はエントリを支払い済みにし、遅延していたフィードを実行する。
	PaymentCompleted(ctx context.Context, entryID string) (*submission.Result, error)
}

// EntryHandler はフォーム投稿とエントリのHTTPハンドラー。
type EntryHandler struct {
	service SubmissionServiceInterface
	entries repository.EntryRepository
	notes   repository.NoteRepository
}

// NewEntryHandler はEntryHandlerを生成する。
func NewEntryHandler(service SubmissionServiceInterface, entries repository.EntryRepository, notes repository.NoteRepository) *EntryHandler {
	return &EntryHandler{
		service: service,
		entries: entries,
		notes:   notes,
	}
}

// submitEntryRequest はフォーム投稿リクエストのボディ。
type submitEntryRequest struct {
	Values        map[string]string `json:"values" validate:"required"`
	SourceURL     string            `json:"source_url" validate:"omitempty,url"`
	PaymentStatus string            `json:"payment_status" validate:"omitempty,oneof=pending paid"`
}

// noteResponse はエントリノートのAPIレスポンス。
type noteResponse struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// SubmitEntry はフォーム投稿を受け付ける。
// POST /api/forms/{formID}/entries
func (h *EntryHandler) SubmitEntry(w http.ResponseWriter, r *http.Request) {
	formID := chi.URLParam(r, "formID")

	var req submitEntryRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	result, err := h.service.Submit(r.Context(), formID, submission.Input{
		Values:        req.Values,
		SourceURL:     req.SourceURL,
		IP:            remoteIP(r),
		PaymentStatus: model.PaymentStatus(req.PaymentStatus),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// ListNotes はエントリのノートを記録順に返す。
// GET /api/entries/{id}/notes
func (h *EntryHandler) ListNotes(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "id")

	entry, err := h.entries.FindByID(r.Context(), entryID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if entry == nil {
		handleServiceError(w, model.NewEntryNotFoundError(entryID))
		return
	}

	notes, err := h.notes.ListByEntryID(r.Context(), entryID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]noteResponse, 0, len(notes))
	for _, n := range notes {
		resp = append(resp, noteResponse{
			ID:        n.ID,
			Type:      string(n.Type),
			Body:      n.Body,
			CreatedAt: n.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"notes": resp})
}

// PaymentCompleted は支払い完了を通知し、遅延していたフィードを実行する。
// POST /api/entries/{id}/payment-completed
func (h *EntryHandler) PaymentCompleted(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "id")

	result, err := h.service.PaymentCompleted(r.Context(), entryID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// remoteIP はRemoteAddrからポートを除いたIPを返す。
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
