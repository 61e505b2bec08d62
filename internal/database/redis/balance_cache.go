package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"referral-service/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	balanceKeyPrefix           = "referral:balance:"
	balanceGenerationKeyPrefix = "referral:balance-gen:"
)

// setIfGeneration writes KEYS[1] only while KEYS[2] still holds the generation the caller read.
var setIfGeneration = redis.NewScript(`
local current = redis.call('GET', KEYS[2]) or '0'
if current ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`)

// BalanceCache stores balance snapshots as JSON with a short TTL. Each agent has a generation
// counter that every invalidation bumps; snapshots computed under an older generation are dropped.
type BalanceCache struct {
	client *Client
	ttl    time.Duration
}

func NewBalanceCache(client *Client, ttl time.Duration) *BalanceCache {
	return &BalanceCache{client: client, ttl: ttl}
}

func balanceKey(agentID int64) string {
	return fmt.Sprintf("%s%d", balanceKeyPrefix, agentID)
}

func balanceGenerationKey(agentID int64) string {
	return fmt.Sprintf("%s%d", balanceGenerationKeyPrefix, agentID)
}

// Get returns nil without error on a miss.
func (b *BalanceCache) Get(ctx context.Context, agentID int64) (*models.BalanceSnapshot, error) {
	raw, err := b.client.GetClient().Get(ctx, balanceKey(agentID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cached balance: %w", err)
	}

	var snapshot models.BalanceSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode cached balance: %w", err)
	}
	return &snapshot, nil
}

// Generation is 0 for an agent that was never invalidated.
func (b *BalanceCache) Generation(ctx context.Context, agentID int64) (int64, error) {
	generation, err := b.client.GetClient().Get(ctx, balanceGenerationKey(agentID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read balance generation: %w", err)
	}
	return generation, nil
}

// Set is a no-op when the agent was invalidated after generation was read.
func (b *BalanceCache) Set(ctx context.Context, snapshot models.BalanceSnapshot, generation int64) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode balance: %w", err)
	}
	keys := []string{balanceKey(snapshot.AgentID), balanceGenerationKey(snapshot.AgentID)}
	if err := setIfGeneration.Run(ctx, b.client.GetClient(), keys, generation, raw, b.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("failed to cache balance: %w", err)
	}
	return nil
}

func (b *BalanceCache) Invalidate(ctx context.Context, agentID int64) error {
	_, err := b.client.GetClient().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, balanceGenerationKey(agentID))
		pipe.Del(ctx, balanceKey(agentID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate cached balance: %w", err)
	}
	return nil
}
