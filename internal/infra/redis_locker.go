package infra

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	lockKeyPrefix     = "secure-message:lock:"
	lockRetryInterval = 20 * time.Millisecond
)

// unlockScript は自分が取得したロックの場合のみ削除する。
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// NewRedisClient はURLからRedisクライアントを生成し、接続を確認する。
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// 接続確認
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// RedisLocker はRedisによるメッセージ単位の分散ロック。複数インスタンス構成で使用する。
// ロックはTTLで自動的に失効するため、TTLは1回の遷移にかかる時間より十分長くすること。
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker は新しいRedisLockerを生成する。
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl}
}

// Lock は key のロックを取得するまで待つ。
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := lockKeyPrefix + key
	token := uuid.New().String()

	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquiring redis lock: %w", err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(lockRetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return func() {
		// 呼び出し元がキャンセルされていても解放する
		releaseCtx := context.WithoutCancel(ctx)
		if err := unlockScript.Run(releaseCtx, l.client, []string{lockKey}, token).Err(); err != nil {
			slog.ErrorContext(releaseCtx, "failed to release redis lock",
				"operation", "release_lock",
				"key", key,
				"error", err,
			)
		}
	}, nil
}
