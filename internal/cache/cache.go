// Package cache はConvertKitの読み取り専用データをキャッシュするストアを提供する。
// インメモリ（go-cache）とRedisの2つのバックエンドを持つ。
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// キャッシュキー
const (
	// FormsKey はConvertKitフォーム一覧のキャッシュキー。
	FormsKey = "convertkit_forms"
	// RecommendationsScriptKey はCreator Network Recommendationsスクリプト設定のキャッシュキー。
	RecommendationsScriptKey = "creator_network_recommendations_script"
)

// NoExpiration は有効期限なしを表すTTL。明示的に削除されるまで保持する。
const NoExpiration time.Duration = 0

// Store はキー単位で値を保持するキャッシュの抽象。
// 書き込みは後勝ちで、ロックは行わない。
type Store interface {
	// Get は値を返す。存在しない場合は found=false。
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	// Set は値を保存する。ttl が 0 の場合は期限なし。
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete は値を削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, key string) error
}

// GetJSON はJSONとして保存された値をdstに復元する。
func GetJSON(ctx context.Context, s Store, key string, dst any) (bool, error) {
	raw, found, err := s.Get(ctx, key)
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("キャッシュ値のデコードに失敗しました (key=%s): %w", key, err)
	}
	return true, nil
}

// SetJSON は値をJSONにエンコードして保存する。
func SetJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("キャッシュ値のエンコードに失敗しました (key=%s): %w", key, err)
	}
	return s.Set(ctx, key, raw, ttl)
}
