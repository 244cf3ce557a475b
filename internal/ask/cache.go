package ask

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/estuarylab/knowledged/config"
)

// Cache is the optional answer cache. A nil Cache disables caching.
type Cache interface {
	Get(ctx context.Context, key string) (Response, bool)
	Set(ctx context.Context, key string, resp Response)
}

// cacheKey hashes the full request identity. Groups are sorted first so two
// callers with the same memberships in different order share an entry.
func cacheKey(query string, groups []string, topK int) string {
	sorted := append([]string(nil), groups...)
	sort.Strings(sorted)
	h := sha256.New()
	h.Write([]byte(query))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(sorted, "\x00")))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(topK)))
	return "ask:" + hex.EncodeToString(h.Sum(nil))
}

func (s *Service) cacheGet(ctx context.Context, key string) (Response, bool) {
	if s.cache == nil {
		return Response{}, false
	}
	return s.cache.Get(ctx, key)
}

func (s *Service) cacheSet(ctx context.Context, key string, resp Response) {
	if s.cache != nil {
		s.cache.Set(ctx, key, resp)
	}
}

// RedisCache stores responses as JSON with a TTL. A failed Get is a miss
// and a failed Set is dropped; the cache never breaks answering.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(cfg config.CacheConfig) *RedisCache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		ttl: ttl,
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) (Response, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return Response{}, false
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, false
	}
	return resp, true
}

func (c *RedisCache) Set(ctx context.Context, key string, resp Response) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return
	}
	c.client.Set(ctx, key, raw, c.ttl)
}

// Client exposes the underlying redis client for the scheduler's run lock.
func (c *RedisCache) Client() *redis.Client {
	return c.client
}
