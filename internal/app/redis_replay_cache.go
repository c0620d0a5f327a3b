package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisReplayCache is a best-effort fast-path guard against webhook
// replays. It sits in front of the idempotency ledger and only saves a
// database round trip for obvious duplicates; the ledger remains the sole
// authority. All methods are nil-safe and degrade to "not seen" on any
// Redis error.
type RedisReplayCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisReplayCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisReplayCache {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "captain:payment_replay"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &RedisReplayCache{
		client: client,
		prefix: trimmedPrefix,
		ttl:    ttl,
	}
}

// Seen reports whether the external transaction id was applied recently.
func (c *RedisReplayCache) Seen(ctx context.Context, externalTxnID string) bool {
	if c == nil || c.client == nil || strings.TrimSpace(externalTxnID) == "" {
		return false
	}
	exists, err := c.client.Exists(ctx, c.key(externalTxnID)).Result()
	if err != nil {
		log.Printf("level=warn component=replay_cache msg=\"lookup failed; falling through to ledger\" err=%v", err)
		return false
	}
	return exists > 0
}

// MarkApplied records the external transaction id after the ledger commit.
func (c *RedisReplayCache) MarkApplied(ctx context.Context, externalTxnID string) {
	if c == nil || c.client == nil || strings.TrimSpace(externalTxnID) == "" {
		return
	}
	if err := c.client.SetNX(ctx, c.key(externalTxnID), 1, c.ttl).Err(); err != nil {
		log.Printf("level=warn component=replay_cache msg=\"mark failed\" external_txn_id=%s err=%v", externalTxnID, err)
	}
}

func (c *RedisReplayCache) key(externalTxnID string) string {
	return fmt.Sprintf("%s:%s", c.prefix, strings.TrimSpace(externalTxnID))
}
