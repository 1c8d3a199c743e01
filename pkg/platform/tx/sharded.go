package tx

import (
	"context"
	"sync"
	"time"

	dErrors "certledger/pkg/domain-errors"
)

// numShards spreads in-memory transactions across independent locks keyed by
// the aggregate id placed in context with WithShardKey.
const numShards = 128

type shardKey struct{}

// WithShardKey scopes the next in-memory transaction to a single aggregate.
// Transactions without a key all serialize on shard 0.
func WithShardKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, shardKey{}, key)
}

// ShardedRunner is the in-memory Runner. Operations on the same aggregate are
// serialized; unrelated aggregates proceed in parallel.
type ShardedRunner struct {
	shards  [numShards]sync.Mutex
	timeout time.Duration
}

func NewShardedRunner() *ShardedRunner {
	return &ShardedRunner{}
}

type heldKey struct{}

func (r *ShardedRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if held, ok := ctx.Value(heldKey{}).(bool); ok && held {
		return fn(ctx)
	}
	ctx, cancel, err := withTimeout(ctx, r.timeout)
	if err != nil {
		return err
	}
	defer cancel()

	shard := r.selectShard(ctx)
	r.shards[shard].Lock()
	defer r.shards[shard].Unlock()

	// Check again after acquiring lock
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	return fn(context.WithValue(ctx, heldKey{}, true))
}

func (r *ShardedRunner) selectShard(ctx context.Context) int {
	if key, ok := ctx.Value(shardKey{}).(string); ok && key != "" {
		return int(hashString(key) % numShards)
	}
	return 0
}

// hashString is FNV-1a.
func hashString(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}
