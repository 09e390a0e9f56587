package cache

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	BaseTTL          = 24 * time.Hour   // 基础过期时间
	Jitter           = 60 * time.Minute // 随机抖动范围
	EmptyCacheMarker = -1               // 空值标记
)

// 获取随机TTL，防止缓存雪崩
func getRandomTTL() time.Duration {
	return BaseTTL + time.Duration(rand.Int63n(int64(Jitter)))
}

// RevisionHint 服务端最新 rev id 的读穿缓存
type RevisionHint struct {
	rdb redis.UniversalClient
	sf  singleflight.Group
}

func NewRevisionHint(rdb redis.UniversalClient) *RevisionHint {
	return &RevisionHint{rdb: rdb}
}

func (h *RevisionHint) readCache(ctx context.Context, key string) (uint64, bool, error) {
	res, err := h.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, err
	}
	// 不能使用ParseUint，遇到 -1 会报错
	v, err := strconv.ParseInt(res, 10, 64)
	if err != nil {
		return 0, false, err
	}
	if v == EmptyCacheMarker {
		return 0, true, nil
	}
	return uint64(v), true, nil
}

// Set 写穿，服务端每接受一条修订调用一次
func (h *RevisionHint) Set(ctx context.Context, objectID string, revID uint64) error {
	return h.rdb.Set(ctx, revKey(objectID), revID, getRandomTTL()).Err()
}

func (h *RevisionHint) Invalidate(ctx context.Context, objectID string) error {
	return h.rdb.Del(ctx, revKey(objectID)).Err()
}

// LatestRevID 先查 redis，未命中再回源；同一个对象的并发回源合并成一次
func (h *RevisionHint) LatestRevID(ctx context.Context, objectID string, fetch func(context.Context) (uint64, bool, error)) (uint64, error) {
	key := revKey(objectID)
	val, err, _ := h.sf.Do(key, func() (interface{}, error) {
		v, hit, err := h.readCache(ctx, key)
		if err != nil {
			return uint64(0), err
		}
		if hit {
			return v, nil
		}

		rev, exists, err := fetch(ctx)
		if err != nil {
			return uint64(0), err
		}
		// 空值缓存，防止缓存穿透
		if !exists {
			_ = h.rdb.Set(ctx, key, EmptyCacheMarker, 5*time.Minute).Err()
			return uint64(0), nil
		}
		_ = h.Set(ctx, objectID, rev)
		return rev, nil
	})
	if err != nil {
		return 0, err
	}
	if v, ok := val.(uint64); ok {
		return v, nil
	}
	return 0, errors.New("internal type error")
}
