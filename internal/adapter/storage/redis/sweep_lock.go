package redis

import (
	"context"
	"fmt"
	"time"

	"conditional-ledger/internal/core/ports"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const defaultSweepLockKey = "ledger:sweep:lock"

// unlockScript deletes the key only if it still holds the caller's token, so
// an instance whose lock expired cannot release a lock taken by another one.
var unlockScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SweepLock implements ports.SweepLock using Redis SET NX PX.
type SweepLock struct {
	client goredis.UniversalClient
	key    string
}

// NewSweepLock creates a lock on the given key. An empty key uses the default.
func NewSweepLock(client goredis.UniversalClient, key string) *SweepLock {
	if key == "" {
		key = defaultSweepLockKey
	}
	return &SweepLock{client: client, key: key}
}

// TryLock acquires the lock for ttl. It returns false without error when
// another holder has it.
func (l *SweepLock) TryLock(ctx context.Context, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	result, err := l.client.SetArgs(ctx, l.key, token, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if err != nil {
		if err == goredis.Nil {
			return "", false, nil
		}
		return "", false, fmt.Errorf("redis sweep lock: %w", err)
	}
	return token, result == "OK", nil
}

// Unlock releases the lock if token still owns it.
func (l *SweepLock) Unlock(ctx context.Context, token string) error {
	if err := unlockScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
		return fmt.Errorf("redis sweep unlock: %w", err)
	}
	return nil
}

var _ ports.SweepLock = (*SweepLock)(nil)
