package mapping

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/hitoshi/kitbridge/internal/model"
)

// TagLister はConvertKitのタグ一覧を取得する。
type TagLister interface {
	ListTags(ctx context.Context) ([]model.RemoteTag, error)
}

// TagAggregator はフィードの固定タグとエントリ由来のタグ名をタグIDへ解決する。
type TagAggregator struct {
	lister TagLister
	logger *slog.Logger
}

// NewTagAggregator はTagAggregatorを生成する。
func NewTagAggregator(lister TagLister, logger *slog.Logger) *TagAggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &TagAggregator{lister: lister, logger: logger}
}

// ResolveTagByName はタグ名を完全一致（大文字小文字を区別）でタグIDに解決する。
// 一致するタグが無い場合はNotFound、一覧取得に失敗した場合はFailedを返す。
func (a *TagAggregator) ResolveTagByName(ctx context.Context, name string) model.Result[int64] {
	tags, err := a.lister.ListTags(ctx)
	if err != nil {
		a.logger.Error("タグ一覧の取得に失敗しました",
			slog.String("tag_name", name),
			slog.String("error", err.Error()),
		)
		return model.Failed[int64](err)
	}

	for _, tag := range tags {
		if tag.Name == name {
			a.logger.Debug("タグ名をタグIDに解決しました",
				slog.String("tag_name", name),
				slog.Int64("tag_id", tag.ID),
			)
			return model.Found(tag.ID)
		}
	}

	a.logger.Debug("一致するタグがありません", slog.String("tag_name", name))
	return model.NotFound[int64]()
}

// ParseTagID はフィードに保存されたタグIDを変換する。
// 空文字列、数値以外、0 はNotFoundとする。
func ParseTagID(s string) model.Result[int64] {
	s = strings.TrimSpace(s)
	if s == "" {
		return model.NotFound[int64]()
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id == 0 {
		return model.NotFound[int64]()
	}
	return model.Found(id)
}

// BuildTagIDs は候補からFoundかつ0以外のIDだけを集めて詰めたスライスを返す。
// 重複は除去しない。残るIDが無い場合は「タグなし」を表すnilを返す。
func BuildTagIDs(candidates ...model.Result[int64]) []int64 {
	var ids []int64
	for _, c := range candidates {
		id, ok := c.Value()
		if !ok || id == 0 {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
