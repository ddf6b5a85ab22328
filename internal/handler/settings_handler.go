package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/kitbridge/internal/addon"
	"github.com/hitoshi/kitbridge/internal/model"
)

// SettingsServiceInterface はアドオン設定ハンドラーが必要とするサービスインターフェース。
// *addon.Addon が満たす。
type SettingsServiceInterface interface {
	// PluginSettings は保存済みのアドオン設定を返す。
	PluginSettings(ctx context.Context) (model.PluginSettings, error)
	// UpdatePluginSettings はキャッシュを無効化してから設定を保存する。
	UpdatePluginSettings(ctx context.Context, settings model.PluginSettings) error
	// PluginSettingsFields は設定画面のフィールド記述子を返す。
	PluginSettingsFields() []model.SettingsSection
	// ValidateCredential は単独の認証情報を検証する。値が空の場合はnilを返す。
	ValidateCredential(ctx context.Context, name, value string) *bool
}

// SettingsHandler はアドオン設定のHTTPハンドラー。
type SettingsHandler struct {
	service SettingsServiceInterface
}

// NewSettingsHandler はSettingsHandlerを生成する。
func NewSettingsHandler(service SettingsServiceInterface) *SettingsHandler {
	return &SettingsHandler{service: service}
}

// settingsValues は設定画面の入力値。
type settingsValues struct {
	APIKey        string `json:"convertkit_api_key"`
	APISecret     string `json:"convertkit_api_secret"`
	ImportedFeeds bool   `json:"imported_feeds"`
}

// settingsResponse は設定画面の記述子と入力値のAPIレスポンス。
type settingsResponse struct {
	Sections []model.SettingsSection `json:"sections"`
	Values   settingsValues          `json:"values"`
}

// updateSettingsRequest は設定保存リクエストのボディ。
type updateSettingsRequest struct {
	APIKey    string `json:"convertkit_api_key" validate:"max=255"`
	APISecret string `json:"convertkit_api_secret" validate:"max=255"`
}

// validateCredentialRequest は認証情報検証リクエストのボディ。
type validateCredentialRequest struct {
	Name  string `json:"name" validate:"required"`
	Value string `json:"value"`
}

// validateCredentialResponse は認証情報検証のAPIレスポンス。
// 値が空の場合 Valid は null になる。
type validateCredentialResponse struct {
	Name  string `json:"name"`
	Valid *bool  `json:"valid"`
}

// GetSettings は設定画面の記述子と現在の値を返す。
// GET /api/settings
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.service.PluginSettings(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, settingsResponse{
		Sections: h.service.PluginSettingsFields(),
		Values:   toSettingsValues(settings),
	})
}

// UpdateSettings はAPI Key / API Secretを保存する。
// PUT /api/settings
func (h *SettingsHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req updateSettingsRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	current, err := h.service.PluginSettings(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	current.APIKey = req.APIKey
	current.APISecret = req.APISecret
	if err := h.service.UpdatePluginSettings(r.Context(), current); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, settingsResponse{
		Sections: h.service.PluginSettingsFields(),
		Values:   toSettingsValues(current),
	})
}

// ValidateCredential は設定画面の入力フィードバック用に認証情報を検証する。
// POST /api/settings/validate
func (h *SettingsHandler) ValidateCredential(w http.ResponseWriter, r *http.Request) {
	var req validateCredentialRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	if req.Name != addon.SettingAPIKey && req.Name != addon.SettingAPISecret {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidSettingsFieldError(req.Name))
		return
	}

	writeJSON(w, http.StatusOK, validateCredentialResponse{
		Name:  req.Name,
		Valid: h.service.ValidateCredential(r.Context(), req.Name, req.Value),
	})
}

func toSettingsValues(s model.PluginSettings) settingsValues {
	return settingsValues{
		APIKey:        s.APIKey,
		APISecret:     s.APISecret,
		ImportedFeeds: s.ImportedFeeds,
	}
}
