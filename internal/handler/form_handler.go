package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/kitbridge/internal/model"
	"github.com/hitoshi/kitbridge/internal/repository"
)

// FormAddonInterface はフォームハンドラーが必要とするアドオンの機能。
// *addon.Addon が満たす。
type FormAddonInterface interface {
	// FormSettingsFields はフォーム設定画面のフィールド記述子を返す。
	FormSettingsFields(ctx context.Context, form *model.Form) []model.SettingsSection
	// EnqueueScript はフォーム埋め込み時に読み込むRecommendationsスクリプトのURLを返す。
	EnqueueScript(ctx context.Context, form *model.Form, isAjax bool) (string, bool)
}

// FormSettingsStore はフォーム設定の読み書きを行う。
type FormSettingsStore interface {
	GetFormSettings(ctx context.Context, formID string) (model.FormSettings, error)
	SaveFormSettings(ctx context.Context, settings model.FormSettings) error
}

// FormHandler はフォーム定義とフォーム設定のHTTPハンドラー。
type FormHandler struct {
	forms    repository.FormRepository
	settings FormSettingsStore
	addon    FormAddonInterface
}

// NewFormHandler はFormHandlerを生成する。
func NewFormHandler(forms repository.FormRepository, settings FormSettingsStore, addon FormAddonInterface) *FormHandler {
	return &FormHandler{
		forms:    forms,
		settings: settings,
		addon:    addon,
	}
}

// upsertFormRequest はフォーム定義登録リクエストのボディ。
type upsertFormRequest struct {
	Title  string             `json:"title" validate:"max=255"`
	Fields []formFieldRequest `json:"fields" validate:"dive"`
}

type formFieldRequest struct {
	ID     string             `json:"id" validate:"required"`
	Label  string             `json:"label"`
	Type   string             `json:"type"`
	Inputs []formInputRequest `json:"inputs" validate:"dive"`
}

type formInputRequest struct {
	ID    string `json:"id" validate:"required"`
	Label string `json:"label"`
}

// formSettingsResponse はフォーム設定画面の記述子と入力値のAPIレスポンス。
type formSettingsResponse struct {
	Sections []model.SettingsSection `json:"sections"`
	Values   model.FormSettings      `json:"values"`
}

// updateFormSettingsRequest はフォーム設定保存リクエストのボディ。
type updateFormSettingsRequest struct {
	EnableCreatorNetworkRecommendations bool `json:"enable_creator_network_recommendations"`
}

// recommendationsScriptResponse はRecommendationsスクリプト読み込み判定のAPIレスポンス。
type recommendationsScriptResponse struct {
	Enabled   bool   `json:"enabled"`
	ScriptURL string `json:"script_url,omitempty"`
}

// UpsertForm はホストのフォーム定義を登録または上書きする。
// PUT /api/forms/{formID}
func (h *FormHandler) UpsertForm(w http.ResponseWriter, r *http.Request) {
	formID := chi.URLParam(r, "formID")

	var req upsertFormRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	form := &model.Form{ID: formID, Title: req.Title, Fields: make([]model.FormField, 0, len(req.Fields))}
	for _, f := range req.Fields {
		field := model.FormField{ID: f.ID, Label: f.Label, Type: f.Type}
		for _, in := range f.Inputs {
			field.Inputs = append(field.Inputs, model.FormInput{ID: in.ID, Label: in.Label})
		}
		form.Fields = append(form.Fields, field)
	}

	if err := h.forms.Upsert(r.Context(), form); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, form)
}

// GetFormSettings はフォーム設定画面の記述子と現在の値を返す。
// GET /api/forms/{formID}/settings
func (h *FormHandler) GetFormSettings(w http.ResponseWriter, r *http.Request) {
	form, ok := h.findForm(w, r)
	if !ok {
		return
	}

	values, err := h.settings.GetFormSettings(r.Context(), form.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, formSettingsResponse{
		Sections: h.addon.FormSettingsFields(r.Context(), form),
		Values:   values,
	})
}

// UpdateFormSettings はフォーム設定を保存する。
// PUT /api/forms/{formID}/settings
func (h *FormHandler) UpdateFormSettings(w http.ResponseWriter, r *http.Request) {
	var req updateFormSettingsRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	form, ok := h.findForm(w, r)
	if !ok {
		return
	}

	values := model.FormSettings{
		FormID:                              form.ID,
		EnableCreatorNetworkRecommendations: req.EnableCreatorNetworkRecommendations,
	}
	if err := h.settings.SaveFormSettings(r.Context(), values); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, formSettingsResponse{
		Sections: h.addon.FormSettingsFields(r.Context(), form),
		Values:   values,
	})
}

// RecommendationsScript はフォーム埋め込み時にRecommendationsスクリプトを読み込むかを返す。
// ajax=1 の場合のみ読み込み対象になる。
// GET /api/forms/{formID}/recommendations-script?ajax=1
func (h *FormHandler) RecommendationsScript(w http.ResponseWriter, r *http.Request) {
	form, ok := h.findForm(w, r)
	if !ok {
		return
	}

	isAjax := r.URL.Query().Get("ajax") == "1"
	scriptURL, enabled := h.addon.EnqueueScript(r.Context(), form, isAjax)

	writeJSON(w, http.StatusOK, recommendationsScriptResponse{
		Enabled:   enabled,
		ScriptURL: scriptURL,
	})
}

// findForm はURLのフォームを取得し、無い場合は404を書き込む。
func (h *FormHandler) findForm(w http.ResponseWriter, r *http.Request) (*model.Form, bool) {
	formID := chi.URLParam(r, "formID")

	form, err := h.forms.FindByID(r.Context(), formID)
	if err != nil {
		handleServiceError(w, err)
		return nil, false
	}
	if form == nil {
		handleServiceError(w, model.NewFormNotFoundError(formID))
		return nil, false
	}
	return form, true
}
