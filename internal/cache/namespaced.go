package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// NamespacedStore はキーに接頭辞を付けて別のStoreに委譲する。
// 複数のConvertKitアカウントが同じストアを共有する場合の衝突を避けるために使う。
type NamespacedStore struct {
	inner  Store
	prefix string
}

var _ Store = (*NamespacedStore)(nil)

// Namespaced はprefixが空でなければキーを "prefix:key" に変換するStoreを返す。
func Namespaced(inner Store, prefix string) Store {
	if prefix == "" {
		return inner
	}
	return &NamespacedStore{inner: inner, prefix: prefix}
}

// AccountNamespace は認証情報から名前空間用の短いハッシュを作る。
// 認証情報が空の場合は空文字列を返す。
func AccountNamespace(apiKey, apiSecret string) string {
	if apiKey == "" && apiSecret == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(apiKey + "\x00" + apiSecret))
	return hex.EncodeToString(sum[:8])
}

func (n *NamespacedStore) key(k string) string {
	return n.prefix + ":" + k
}

// Get は値を返す。
func (n *NamespacedStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return n.inner.Get(ctx, n.key(key))
}

// Set は値を保存する。
func (n *NamespacedStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return n.inner.Set(ctx, n.key(key), value, ttl)
}

// Delete は値を削除する。
func (n *NamespacedStore) Delete(ctx context.Context, key string) error {
	return n.inner.Delete(ctx, n.key(key))
}
