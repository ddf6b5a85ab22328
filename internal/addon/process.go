package addon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hitoshi/kitbridge/internal/convertkit"
	"github.com/hitoshi/kitbridge/internal/mapping"
	"github.com/hitoshi/kitbridge/internal/model"
)

// ノート文言
const (
	noteEmptyEmail         = "Error Subscribing: The field mapped to the email address contains no value."
	noteInvalidEmail       = "Error Subscribing: The field mapped to the email address contains an invalid email value %s."
	noteMissingRemoteForm  = "Error Subscribing: No ConvertKit form is selected for this feed."
	noteCustomFieldsFailed = "Error processing Custom Field Mappings: %s"
	noteTagFailed          = "Error processing Tag Field Mapping: %s"
	noteSubscribeFailed    = "Error Subscribing: %s"
	noteSubscribed         = "Subscribed to ConvertKit successfully."
)

// ProcessFeed はエントリの送信者をフィードのConvertKitフォームに購読登録する。
//
// メールアドレスの欠落・不正と購読失敗はエラーノートを記録してnilを返す。
// APIが初期化できない場合はノートを残さずにnilを返す。
// カスタムフィールドとタグの解決失敗はノートを残して処理を続ける。
func (a *Addon) ProcessFeed(ctx context.Context, feed *model.Feed, entry *model.Entry, form *model.Form) (json.RawMessage, error) {
	meta := feed.Meta
	log := a.logger.With(
		slog.String("feed_id", feed.ID),
		slog.String("entry_id", entry.ID),
		slog.String("remote_form_id", meta.RemoteFormID),
	)

	email := a.resolver.Resolve(form, entry, meta.FieldMapEmail)
	name := a.resolver.Resolve(form, entry, meta.FieldMapName)
	tagName := a.resolver.Resolve(form, entry, meta.FieldMapTag)

	if email == "" {
		log.Debug("メールアドレスに対応するフィールドが空です")
		a.collector.RecordSubscribeFailure(feed.ID, string(model.KindValidation))
		return nil, a.addNote(ctx, entry.ID, model.NoteTypeError, noteEmptyEmail)
	}

	if !a.emails.Valid(email) {
		log.Debug("メールアドレスの形式が不正です")
		a.collector.RecordSubscribeFailure(feed.ID, string(model.KindValidation))
		return nil, a.addNote(ctx, entry.ID, model.NoteTypeError, fmt.Sprintf(noteInvalidEmail, email))
	}

	api, _, err := a.client(ctx)
	if err != nil {
		// 一時的な障害はノートを残さず、呼び出し側に再実行させる
		log.Warn("ConvertKit APIに接続できないためフィード処理を延期します", slog.String("error", err.Error()))
		a.collector.RecordFeedSkipped(string(model.KindTransport))
		return nil, err
	}
	if api == nil {
		log.Debug("ConvertKit APIが未初期化のためフィードを処理しません")
		a.collector.RecordFeedSkipped(string(model.KindConfiguration))
		return nil, nil
	}

	if meta.RemoteFormID == "" {
		log.Error("フィードにConvertKitフォームが設定されていません")
		a.collector.RecordSubscribeFailure(feed.ID, string(model.KindValidation))
		return nil, a.addNote(ctx, entry.ID, model.NoteTypeError, noteMissingRemoteForm)
	}

	mapper := mapping.NewCustomFieldMapper(api, a.resolver, a.expander, a.logger)
	fields, err := mapper.Build(ctx, form, entry, meta.CustomFields)
	if err != nil {
		log.Error("カスタムフィールドの処理に失敗しました", slog.String("error", err.Error()))
		fields = nil
		if err := a.addNote(ctx, entry.ID, model.NoteTypeError, fmt.Sprintf(noteCustomFieldsFailed, remoteMessage(err))); err != nil {
			return nil, err
		}
	}

	entryTag := model.NotFound[int64]()
	if tagName != "" {
		entryTag = mapping.NewTagAggregator(api, a.logger).ResolveTagByName(ctx, tagName)
		if entryTag.IsFailed() {
			log.Error("タグの処理に失敗しました", slog.String("error", entryTag.Err().Error()))
			if err := a.addNote(ctx, entry.ID, model.NoteTypeError, fmt.Sprintf(noteTagFailed, remoteMessage(entryTag.Err()))); err != nil {
				return nil, err
			}
		}
	}

	tagIDs := mapping.BuildTagIDs(mapping.ParseTagID(meta.TagID), entryTag)

	log.Debug("ConvertKitフォームへの購読登録を開始します",
		slog.Int("custom_fields", len(fields)),
		slog.Int("tags", len(tagIDs)),
	)

	resp, err := api.Subscribe(ctx, convertkit.SubscribeRequest{
		FormID:    meta.RemoteFormID,
		Email:     email,
		FirstName: name,
		Fields:    fields,
		TagIDs:    tagIDs,
	})
	if err != nil {
		log.Error("購読登録に失敗しました", slog.String("error", err.Error()))
		a.collector.RecordSubscribeFailure(feed.ID, string(convertkit.Kind(err)))
		return nil, a.addNote(ctx, entry.ID, model.NoteTypeError, fmt.Sprintf(noteSubscribeFailed, remoteMessage(err)))
	}

	event := model.SubscribeEvent{
		Response:     resp,
		RemoteFormID: meta.RemoteFormID,
		Email:        email,
		FirstName:    name,
		Fields:       fields,
		TagIDs:       tagIDs,
		EntryID:      entry.ID,
		FeedID:       feed.ID,
	}
	for _, o := range a.observers {
		o.OnSubscribed(ctx, event)
	}
	a.collector.RecordSubscribeSuccess(feed.ID)
	log.Debug("購読登録に成功しました")

	if err := a.addNote(ctx, entry.ID, model.NoteTypeSuccess, noteSubscribed); err != nil {
		return nil, err
	}
	return resp, nil
}

// addNote はエントリにノートを追記する。
func (a *Addon) addNote(ctx context.Context, entryID string, noteType model.NoteType, body string) error {
	err := a.notes.Add(ctx, &model.Note{
		ID:        a.idFn(),
		EntryID:   entryID,
		Type:      noteType,
		Body:      body,
		CreatedAt: a.nowFn(),
	})
	if err != nil {
		return fmt.Errorf("ノートの記録に失敗しました: %w", err)
	}
	a.collector.RecordNote(string(noteType))
	return nil
}

// remoteMessage はノートに載せるためのエラーメッセージを返す。
// ラップされている場合はConvertKit由来のメッセージを取り出す。
func remoteMessage(err error) string {
	var apiErr *convertkit.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	var transportErr *convertkit.TransportError
	if errors.As(err, &transportErr) && transportErr.Err != nil {
		return transportErr.Err.Error()
	}
	if errors.Is(err, convertkit.ErrUnexpectedResponseShape) {
		return convertkit.ErrUnexpectedResponseShape.Error()
	}
	return err.Error()
}

func newID() string {
	return uuid.NewString()
}
