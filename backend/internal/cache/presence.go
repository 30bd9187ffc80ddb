package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type SessionInfo struct {
	SessionID string `json:"sessionId"`
	UserID    uint64 `json:"userId"`
	Username  string `json:"username"`
}

type PresenceCache interface {
	// AddSession 也用于心跳续期：重复调用即刷新 TTL
	AddSession(ctx context.Context, docID, sessionID string, userID uint64, username string, ttl time.Duration) error
	RemoveSession(ctx context.Context, docID, sessionID string) error
	GetAliveSessions(ctx context.Context, docID string) ([]SessionInfo, error)
	SetCursor(ctx context.Context, docID, sessionID string, jsonData []byte, ttl time.Duration) error
	GetCursor(ctx context.Context, docID, sessionID string) ([]byte, error)
}

// 基于 redis 的 PresenceCache。
// 逻辑 TTL 放在 ZSET score（expireAt Unix 秒）里，读取时用 Lua 顺手清理。
type redisPresence struct {
	rdb redis.UniversalClient
}

func NewRedisPresence(rdb redis.UniversalClient) PresenceCache {
	return &redisPresence{rdb: rdb}
}

func (p *redisPresence) AddSession(ctx context.Context, docID, sessionID string, userID uint64, username string, ttl time.Duration) error {
	info, err := json.Marshal(SessionInfo{SessionID: sessionID, UserID: userID, Username: username})
	if err != nil {
		return err
	}
	tx := p.rdb.TxPipeline()
	expireAt := time.Now().Add(ttl).Unix()
	tx.ZAdd(ctx, roomKey(docID), redis.Z{Score: float64(expireAt), Member: sessionID})
	tx.HSet(ctx, namesKey(docID), sessionID, info)
	_, err = tx.Exec(ctx)
	return err
}

func (p *redisPresence) RemoveSession(ctx context.Context, docID, sessionID string) error {
	tx := p.rdb.TxPipeline()
	tx.ZRem(ctx, roomKey(docID), sessionID)
	tx.HDel(ctx, namesKey(docID), sessionID)
	tx.Del(ctx, cursorKey(docID, sessionID))
	_, err := tx.Exec(ctx)
	return err
}

// 过期会话清理脚本：score <= now 的成员连同信息表一并删除
const cleanupScript = `
local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
if #expired > 0 then
	redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
	redis.call("HDEL", KEYS[2], unpack(expired))
end
return #expired
`

func (p *redisPresence) GetAliveSessions(ctx context.Context, docID string) ([]SessionInfo, error) {
	now := time.Now().Unix()

	script := redis.NewScript(cleanupScript)
	_, err := script.Run(ctx, p.rdb, []string{roomKey(docID), namesKey(docID)}, now).Int()
	if err != nil && err != redis.Nil {
		return nil, err
	}

	aliveIDs, err := p.rdb.ZRangeByScore(ctx, roomKey(docID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now, 10), // > now
		Max: "+inf",
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	if len(aliveIDs) == 0 {
		return nil, nil
	}

	infos, err := p.rdb.HMGet(ctx, namesKey(docID), aliveIDs...).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	sessions := make([]SessionInfo, 0, len(aliveIDs))
	for i, v := range infos {
		si := SessionInfo{SessionID: aliveIDs[i]}
		if s, ok := v.(string); ok {
			_ = json.Unmarshal([]byte(s), &si)
			si.SessionID = aliveIDs[i]
		}
		sessions = append(sessions, si)
	}
	return sessions, nil
}

func (p *redisPresence) SetCursor(ctx context.Context, docID, sessionID string, jsonData []byte, ttl time.Duration) error {
	return p.rdb.Set(ctx, cursorKey(docID, sessionID), jsonData, ttl).Err()
}

func (p *redisPresence) GetCursor(ctx context.Context, docID, sessionID string) ([]byte, error) {
	return p.rdb.Get(ctx, cursorKey(docID, sessionID)).Bytes()
}

