package addon

import (
	"context"
	"log/slog"

	"github.com/hitoshi/kitbridge/internal/cache"
	"github.com/hitoshi/kitbridge/internal/model"
)

// Creator Network Recommendations が使えない理由のコード
const (
	RecommendationsHTML5       = "html5"
	RecommendationsAPI         = "api"
	RecommendationsPlan        = "plan"
	RecommendationsScriptError = "script_error"
)

// RecommendationsError はRecommendationsスクリプトが使えない理由を表す。
type RecommendationsError struct {
	Code string
}

// Error はerrorインターフェースを実装する。
func (e *RecommendationsError) Error() string {
	return "creator network recommendations unavailable: " + e.Code
}

// Message は設定画面に表示する説明文を返す。
func (e *RecommendationsError) Message() string {
	return RecommendationsErrorMessage(e.Code)
}

// RecommendationsErrorMessage はコードに対応する説明文を返す。未知のコードは空文字列。
func RecommendationsErrorMessage(code string) string {
	switch code {
	case RecommendationsHTML5:
		return "To use Creator Network Recommendations, please enable HTML5 on the Forms > Settings page."
	case RecommendationsAPI:
		return "To use Creator Network Recommendations, please configure the API Key and API Secret on the Forms > Settings > ConvertKit page."
	case RecommendationsPlan:
		return `To use Creator Network Recommendations, please make sure you have a ` +
			`<a href="https://app.convertkit.com/account_settings/billing/" target="_blank">paid ConvertKit plan</a>, ` +
			`a configured <a href="https://app.convertkit.com/creator_profile/" target="_blank">Creator Profile</a>, ` +
			`and that Recommendations are enabled on the <a href="https://app.convertkit.com/creator-network/" target="_blank">Creator Network</a> page.`
	case RecommendationsScriptError:
		return "An unexpected error occurred whilst retrieving the Creator Network Recommendations script for your ConvertKit account."
	default:
		return ""
	}
}

// RecommendationsScript はRecommendationsスクリプトの設定を返す。
// キャッシュは期限なしで、設定保存時にのみ削除される。forceがtrueの場合はキャッシュを使わない。
func (a *Addon) RecommendationsScript(ctx context.Context, force bool) (*model.RecommendationsScript, error) {
	api, store, _ := a.client(ctx)
	if api == nil {
		return &model.RecommendationsScript{}, nil
	}

	if !force {
		var cached model.RecommendationsScript
		found, err := cache.GetJSON(ctx, store, cache.RecommendationsScriptKey, &cached)
		if err != nil {
			a.logger.Warn("Recommendationsスクリプトキャッシュの読み込みに失敗しました", slog.String("error", err.Error()))
		}
		if found {
			a.collector.RecordCacheHit(cache.RecommendationsScriptKey)
			return &cached, nil
		}
		a.collector.RecordCacheMiss(cache.RecommendationsScriptKey)
	}

	script, err := api.RecommendationsScript(ctx)
	if err != nil {
		a.logger.Debug("Recommendationsスクリプトの取得に失敗しました", slog.String("error", err.Error()))
		return nil, err
	}
	if err := cache.SetJSON(ctx, store, cache.RecommendationsScriptKey, script, cache.NoExpiration); err != nil {
		a.logger.Warn("Recommendationsスクリプトのキャッシュ保存に失敗しました", slog.String("error", err.Error()))
	}
	a.logger.Debug("Recommendationsスクリプトを取得しました", slog.Bool("enabled", script.Enabled))
	return script, nil
}

// ScriptSupport はRecommendationsスクリプトが利用できるかを判定する。
// 利用できない場合は *RecommendationsError を返す。
func (a *Addon) ScriptSupport(ctx context.Context, force bool) error {
	if !a.cfg.HTML5Enabled {
		return &RecommendationsError{Code: RecommendationsHTML5}
	}

	ps, err := a.settings.GetPluginSettings(ctx)
	if err != nil || ps.APISecret == "" || !a.InitializeAPI(ctx) {
		return &RecommendationsError{Code: RecommendationsAPI}
	}

	script, err := a.RecommendationsScript(ctx, force)
	switch {
	case err != nil:
		return &RecommendationsError{Code: RecommendationsScriptError}
	case !script.Enabled:
		return &RecommendationsError{Code: RecommendationsPlan}
	case script.EmbedJS == "":
		return &RecommendationsError{Code: RecommendationsScriptError}
	}
	return nil
}

// FormSettingsFields はフォーム設定画面のフィールド記述子を返す。
// スクリプトが利用できない場合はトグルに理由を添える。
func (a *Addon) FormSettingsFields(ctx context.Context, form *model.Form) []model.SettingsSection {
	toggle := model.SettingsField{
		Name:         "enable_creator_network_recommendations",
		Label:        "Enable Creator Network Recommendations",
		Type:         "toggle",
		DefaultValue: "false",
		Tooltip: "<strong>Enable Creator Network Recommendations</strong>" +
			"Displays the Creator Network Recommendations modal on submission when the form is embedded using Ajax.",
	}

	if err := a.ScriptSupport(ctx, true); err != nil {
		if rerr, ok := err.(*RecommendationsError); ok {
			toggle.Description = a.sanitizer.Notice("<p>" + rerr.Message() + "</p>")
		}
	}

	return []model.SettingsSection{
		{Title: "ConvertKit Form Settings", Fields: []model.SettingsField{toggle}},
	}
}

// RecommendationsEnabled はフォームでRecommendationsが有効かを返す。
func (a *Addon) RecommendationsEnabled(ctx context.Context, form *model.Form) (bool, error) {
	if form == nil || form.ID == "" {
		return false, nil
	}
	fs, err := a.settings.GetFormSettings(ctx, form.ID)
	if err != nil {
		return false, err
	}
	return fs.EnableCreatorNetworkRecommendations, nil
}

// EnqueueScript はフォームの埋め込み時に読み込むスクリプトのURLを返す。
// Ajax埋め込みで、フォームで有効化され、スクリプトが利用できる場合のみ ok が true になる。
func (a *Addon) EnqueueScript(ctx context.Context, form *model.Form, isAjax bool) (string, bool) {
	if !isAjax {
		return "", false
	}
	enabled, err := a.RecommendationsEnabled(ctx, form)
	if err != nil {
		a.logger.Error("フォーム設定の取得に失敗しました", slog.String("error", err.Error()))
		return "", false
	}
	if !enabled || a.ScriptSupport(ctx, false) != nil {
		return "", false
	}

	script, err := a.RecommendationsScript(ctx, false)
	if err != nil || script.EmbedJS == "" {
		return "", false
	}
	return script.EmbedJS, true
}
