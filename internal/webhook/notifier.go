// Package webhook は購読成功を外部URLへ通知する。
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/kitbridge/internal/model"
)

// Notifier は購読成功イベントをJSONでPOSTするオブザーバー。
// 送信失敗はログに記録するだけで、フィード処理の結果には影響しない。
type Notifier struct {
	client *http.Client
	url    string
	logger *slog.Logger
}

// NewNotifier はNotifierを生成する。clientにはSSRF防止付きのクライアントを渡す。
func NewNotifier(client *http.Client, url string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{client: client, url: url, logger: logger}
}

// OnSubscribed はイベントを送信する。
func (n *Notifier) OnSubscribed(ctx context.Context, event model.SubscribeEvent) {
	if err := n.send(ctx, event); err != nil {
		n.logger.Warn("購読成功Webhookの送信に失敗しました",
			slog.String("entry_id", event.EntryID),
			slog.String("feed_id", event.FeedID),
			slog.String("error", err.Error()),
		)
		return
	}
	n.logger.Debug("購読成功Webhookを送信しました",
		slog.String("entry_id", event.EntryID),
		slog.String("feed_id", event.FeedID),
	)
}

func (n *Notifier) send(ctx context.Context, event model.SubscribeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("イベントのエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "kitbridge-webhook/1.0")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}
