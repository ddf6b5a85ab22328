package addon

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/hitoshi/kitbridge/internal/model"
)

// customFieldMapIndex はフィード設定でカスタムフィールドマップを差し込む位置。
const customFieldMapIndex = 4

const formDesignerURL = "https://app.convertkit.com/forms/designers/%s/edit"

// PluginSettingsFields はアドオン設定画面のフィールド記述子を返す。
func (a *Addon) PluginSettingsFields() []model.SettingsSection {
	accountSettings := `<a href="https://app.convertkit.com/account_settings/advanced_settings" target="_blank">`
	description := `<p>ConvertKit makes it easy to send emails to your customers. ` +
		`You can use Gravity Forms to collect customer information and automatically subscribe customers to your ConvertKit forms.</p>` +
		`<p>Don't have a ConvertKit account? <a href="https://app.convertkit.com/users/signup" target="_blank">Sign up here</a></p>`

	return []model.SettingsSection{
		{
			Title:       "Settings",
			Description: a.sanitizer.Notice(description),
			Fields: []model.SettingsField{
				{
					Name:        SettingAPIKey,
					Label:       "API Key",
					Type:        "text",
					Class:       "medium",
					Required:    true,
					Description: a.sanitizer.Notice("<p>" + accountSettings + "Click here to find your ConvertKit API Key</a></p>"),
					Feedback:    true,
				},
				{
					Name:        SettingAPISecret,
					Label:       "API Secret",
					Type:        "text",
					Class:       "medium",
					Required:    true,
					Description: a.sanitizer.Notice("<p>" + accountSettings + "Click here to find your ConvertKit API Secret</a></p>"),
					Feedback:    true,
				},
				{
					Name:         "imported_feeds",
					Type:         "hidden",
					DefaultValue: "1",
				},
			},
		},
	}
}

// ListSettingsFields はフィード設定画面のフィールド記述子を返す。
// API未初期化の場合は空の一覧を返す。
func (a *Addon) ListSettingsFields(ctx context.Context) []model.SettingsSection {
	api, _, _ := a.client(ctx)
	if api == nil {
		return []model.SettingsSection{}
	}

	fields := []model.SettingsField{
		{
			Name:     "feed_name",
			Label:    "Name",
			Type:     "text",
			Class:    "medium",
			Required: true,
			Tooltip:  "<h6>Name</h6>Enter a feed name to uniquely identify this feed.",
		},
	}

	if choices, err := a.FormChoices(ctx); err == nil {
		fields = append(fields, model.SettingsField{
			Name:     "form_id",
			Label:    "ConvertKit Form",
			Type:     "select",
			Required: true,
			Choices:  choices,
			Tooltip:  "<h6>ConvertKit Form</h6>Select the ConvertKit form to which you would like to add your contacts.",
		})
	} else {
		a.logger.Error("フォームの選択肢を取得できませんでした", slog.String("error", err.Error()))
	}

	if tags, err := api.ListTags(ctx); err == nil {
		choices := []model.Choice{{Label: "(No Tag)", Value: ""}}
		for _, t := range tags {
			choices = append(choices, model.Choice{
				Label: a.sanitizer.PlainText(t.Name),
				Value: strconv.FormatInt(t.ID, 10),
			})
		}
		fields = append(fields, model.SettingsField{
			Name:    "tag_id",
			Label:   "ConvertKit Tag",
			Type:    "select",
			Choices: choices,
			Tooltip: "<h6>ConvertKit Tag</h6>Select the ConvertKit tag to which you would like to assign your contacts.",
		})
	} else {
		a.logger.Error("タグの選択肢を取得できませんでした", slog.String("error", err.Error()))
	}

	fields = append(fields,
		model.SettingsField{
			Name:  "field_map",
			Label: "Map Fields",
			Type:  "field_map",
			FieldMap: []model.FieldMapEntry{
				{Name: "email", Label: "Email", Required: true, FieldTypes: []string{"email", "hidden"}},
				{Name: "name", Label: "First Name", FieldTypes: []string{"name", "text", "hidden"}},
				{Name: "tag", Label: "Additional Tag"},
			},
			Tooltip: "<h6>Map Fields</h6>Associate email address and subscriber name with the appropriate Gravity Forms fields.",
		},
		model.SettingsField{
			Name:  "conditions",
			Label: "Conditional Logic",
			Type:  "feed_condition",
			Tooltip: "<h6>Conditional Logic</h6>When conditional logic is enabled, form submissions will only be exported to ConvertKit " +
				"when the conditions are met. When disabled all form submissions will be exported.",
		},
	)

	customFields, err := api.ListCustomFields(ctx)
	if err != nil {
		a.logger.Error("カスタムフィールドの選択肢を取得できませんでした", slog.String("error", err.Error()))
	}
	keyChoices := make([]model.Choice, 0, len(customFields))
	for _, cf := range customFields {
		keyChoices = append(keyChoices, model.Choice{
			Label: a.sanitizer.PlainText(cf.Label),
			Value: cf.Key,
		})
	}
	fields = insertField(fields, customFieldMapIndex, model.SettingsField{
		Name:          "convertkit_custom_fields",
		Type:          "generic_map",
		KeyChoices:    keyChoices,
		AllowCustom:   true,
		DisableCustom: true,
	})

	return []model.SettingsSection{
		{Title: "ConvertKit Feed Settings", Fields: fields},
	}
}

// FormChoices はConvertKitフォームの選択肢を先頭のプレースホルダー付きで返す。
func (a *Addon) FormChoices(ctx context.Context) ([]model.Choice, error) {
	forms, err := a.APIForms(ctx, false)
	if err != nil {
		return nil, err
	}
	choices := []model.Choice{{Label: "Select a ConvertKit form", Value: ""}}
	for _, f := range forms {
		choices = append(choices, model.Choice{
			Label: a.sanitizer.PlainText(f.Name),
			Value: strconv.FormatInt(f.ID, 10),
		})
	}
	return choices, nil
}

// insertField はindexの位置にフィールドを差し込む。indexが長さを超える場合は末尾に追加する。
func insertField(fields []model.SettingsField, index int, f model.SettingsField) []model.SettingsField {
	if index >= len(fields) {
		return append(fields, f)
	}
	fields = append(fields, model.SettingsField{})
	copy(fields[index+1:], fields[index:])
	fields[index] = f
	return fields
}

// FeedListColumns はフィード一覧の列を返す。
func (a *Addon) FeedListColumns() []model.FeedListColumn {
	return []model.FeedListColumn{
		{Key: "feed_name", Label: "Name"},
		{Key: "form_id", Label: "Form"},
	}
}

// FormColumnValue はフィード一覧のForm列の値として、ConvertKitフォーム名をエディタへのリンクで返す。
// API未初期化の場合は空文字列、一覧が取得できない場合は "N/A" を返す。
func (a *Addon) FormColumnValue(ctx context.Context, feed *model.Feed) string {
	if !a.InitializeAPI(ctx) {
		return ""
	}

	forms, err := a.APIForms(ctx, false)
	if err != nil || len(forms) == 0 {
		return "N/A"
	}

	formID := feed.Meta.RemoteFormID
	for _, f := range forms {
		if strconv.FormatInt(f.ID, 10) != formID {
			continue
		}
		link := fmt.Sprintf(formDesignerURL, url.PathEscape(formID))
		return fmt.Sprintf(`<a href="%s" target="_blank">%s</a>`,
			html.EscapeString(link),
			html.EscapeString(a.sanitizer.PlainText(f.Name)),
		)
	}
	return ""
}
