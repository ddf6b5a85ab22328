package addon

import (
	"context"

	"github.com/hitoshi/kitbridge/internal/model"
)

// SubscribeObserver は購読成功の直後に呼ばれる拡張点。
// 戻り値を持たず、フィード処理の結果には影響しない。
type SubscribeObserver interface {
	OnSubscribed(ctx context.Context, event model.SubscribeEvent)
}

// ObserverFunc は関数をSubscribeObserverとして使うためのアダプタ。
type ObserverFunc func(ctx context.Context, event model.SubscribeEvent)

// OnSubscribed はfを呼び出す。
func (f ObserverFunc) OnSubscribed(ctx context.Context, event model.SubscribeEvent) {
	f(ctx, event)
}
