package redislock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/airtimehq/topup-core/internal/domain/ports"
)

// compare-and-delete so a holder that outlived its TTL cannot release
// someone else's lock
const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// AccountLock serializes checkout attempts per customer account with a
// Redis SETNX lease. The ledger's conditional UPDATE remains the
// correctness guarantee; the lock only keeps concurrent attempts on one
// account from doing wasted transaction work.
type AccountLock struct {
	client     *redis.Client
	expiration time.Duration
	logger     ports.Logger
}

func NewAccountLock(client *redis.Client, expiration time.Duration, logger ports.Logger) *AccountLock {
	if expiration <= 0 {
		expiration = 30 * time.Second
	}
	return &AccountLock{client: client, expiration: expiration, logger: logger}
}

var _ ports.AccountLocker = (*AccountLock)(nil)

func lockKey(orgID, accountID string) string {
	return fmt.Sprintf("topup:lock:%s:%s", orgID, accountID)
}

// Acquire takes the per-account lease. Returns false without error when
// another holder has it.
func (l *AccountLock) Acquire(ctx context.Context, orgID, accountID, token string) (bool, error) {
	ok, err := l.client.SetNX(ctx, lockKey(orgID, accountID), token, l.expiration).Result()
	if err != nil {
		return false, fmt.Errorf("acquire account lock: %w", err)
	}
	return ok, nil
}

// Release drops the lease if the token still matches. Releasing an expired
// or foreign lease is a no-op.
func (l *AccountLock) Release(ctx context.Context, orgID, accountID, token string) error {
	res, err := l.client.Eval(ctx, unlockScript, []string{lockKey(orgID, accountID)}, token).Result()
	if err != nil {
		return fmt.Errorf("release account lock: %w", err)
	}
	if n, ok := res.(int64); ok && n == 0 {
		l.logger.Debug("account lock already released or expired",
			ports.String("org_id", orgID),
			ports.String("account_id", accountID))
	}
	return nil
}
