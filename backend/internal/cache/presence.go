package cache

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Presence 记录每个对象上在线的用户和他们最近一次的 passthrough 内容
type Presence interface {
	Join(ctx context.Context, objectID, userID string, ttl time.Duration) error
	Leave(ctx context.Context, objectID, userID string) error
	Objects(ctx context.Context) ([]string, error)
	AliveMembers(ctx context.Context, objectID string) ([]string, error)
	SetState(ctx context.Context, objectID, userID string, payload []byte, ttl time.Duration) error
	State(ctx context.Context, objectID, userID string) ([]byte, bool, error)
}

type redisPresence struct {
	rdb redis.UniversalClient
}

func NewRedisPresence(rdb redis.UniversalClient) Presence {
	return &redisPresence{rdb: rdb}
}

// Join 刷新 TTL 也直接调用 Join
func (p *redisPresence) Join(ctx context.Context, objectID, userID string, ttl time.Duration) error {
	// score 使用 expireAt（Unix 秒），表达逻辑 TTL
	expireAt := time.Now().Add(ttl).Unix()
	return p.rdb.ZAdd(ctx, roomKey(objectID), redis.Z{Score: float64(expireAt), Member: userID}).Err()
}

func (p *redisPresence) Leave(ctx context.Context, objectID, userID string) error {
	tx := p.rdb.TxPipeline()
	tx.ZRem(ctx, roomKey(objectID), userID)
	tx.Del(ctx, stateKey(objectID, userID))
	_, err := tx.Exec(ctx)
	return err
}

func (p *redisPresence) Objects(ctx context.Context) ([]string, error) {
	var objects []string
	iter := p.rdb.Scan(ctx, 0, keyRoomScan, 0).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		id := strings.TrimSuffix(strings.TrimPrefix(k, "foldersync:room:{obj:"), "}")
		if id != "" && id != k {
			objects = append(objects, id)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return objects, nil
}

// 清理过期成员，返回清掉的个数
var expireScript = redis.NewScript(`
-- KEYS[1] = roomKey(objectID)
-- ARGV[1] = now (unix seconds)
local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
if #expired > 0 then
	redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
end
return #expired
`)

func (p *redisPresence) AliveMembers(ctx context.Context, objectID string) ([]string, error) {
	now := time.Now().Unix()
	if err := expireScript.Run(ctx, p.rdb, []string{roomKey(objectID)}, now).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	alive, err := p.rdb.ZRangeByScore(ctx, roomKey(objectID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now, 10), // > now
		Max: "+inf",
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	return alive, nil
}

func (p *redisPresence) SetState(ctx context.Context, objectID, userID string, payload []byte, ttl time.Duration) error {
	return p.rdb.Set(ctx, stateKey(objectID, userID), payload, ttl).Err()
}

func (p *redisPresence) State(ctx context.Context, objectID, userID string) ([]byte, bool, error) {
	b, err := p.rdb.Get(ctx, stateKey(objectID, userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}
