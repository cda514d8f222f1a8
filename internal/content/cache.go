package content

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Cache は外部APIのレスポンスをリクエストURL単位で保持するキャッシュ。
// 取得に失敗した場合はミスとして扱い、呼び出し元にエラーを返さない。
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache はプロセス内のTTLキャッシュ。
// 期限切れのエントリは参照時と書き込み時に削除する。
type MemoryCache struct {
	mu         sync.Mutex
	items      map[string]memoryItem
	maxEntries int
	now        func() time.Time
}

// NewMemoryCache はMemoryCacheを生成する。maxEntriesが0以下の場合は1000件。
func NewMemoryCache(maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &MemoryCache{
		items:      make(map[string]memoryItem),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get はキーに対応する値を返す。
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(item.expiresAt) {
		delete(c.items, key)
		return nil, false
	}
	return item.value, true
}

// Set は値をttlの間保持する。上限に達した場合は期限切れのエントリを先に削除する。
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if len(c.items) >= c.maxEntries {
		for k, item := range c.items {
			if !now.Before(item.expiresAt) {
				delete(c.items, k)
			}
		}
	}
	if _, exists := c.items[key]; !exists && len(c.items) >= c.maxEntries {
		// 上限を超える場合は任意の1件を追い出す
		for k := range c.items {
			delete(c.items, k)
			break
		}
	}
	c.items[key] = memoryItem{value: value, expiresAt: now.Add(ttl)}
}

// Len は保持しているエントリ数を返す。
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// RedisCache はRedisを使った複数プロセス共有のキャッシュ。
type RedisCache struct {
	rdb    *goredis.Client
	prefix string
}

// NewRedisCache はredis://形式のURLからRedisCacheを生成し、疎通を確認する。
func NewRedisCache(ctx context.Context, redisURL string) (*RedisCache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second

	rdb := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return NewRedisCacheWithClient(rdb), nil
}

// NewRedisCacheWithClient は生成済みのクライアントからRedisCacheを生成する。
func NewRedisCacheWithClient(rdb *goredis.Client) *RedisCache {
	return &RedisCache{rdb: rdb, prefix: "newsdesk:content:"}
}

// Get はキーに対応する値を返す。
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	b, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	return b, true
}

// Set は値をttlの間保持する。失敗は無視する。
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	_ = c.rdb.Set(ctx, c.prefix+key, value, ttl).Err()
}

// Close はRedisクライアントを閉じる。
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

var (
	_ Cache = (*MemoryCache)(nil)
	_ Cache = (*RedisCache)(nil)
)
