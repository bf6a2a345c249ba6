package service

import (
	"context"
	"sync"
	"time"

	dErrors "signlink/pkg/domain-errors"
)

// TxStores are the stores visible inside a signing unit of work. Calls must
// use the ctx handed to the callback so Postgres stores join the transaction.
type TxStores struct {
	Links     LinkStore
	Contracts ContractStore
}

// SigningTx provides the transactional boundary for completing a signature.
// Implementations may wrap a database transaction or, in-memory, a coarse lock.
type SigningTx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, stores TxStores) error) error
}

// numSigningShards spreads in-memory completions across independent locks by link id.
const numSigningShards = 64

// defaultSigningTxTimeout is the maximum duration for a signing transaction.
const defaultSigningTxTimeout = 5 * time.Second

// ShardedTx serialises completions for the same link in memory. It has no
// rollback, so callbacks must perform their only fallible checks before mutating.
type ShardedTx struct {
	shards  [numSigningShards]sync.Mutex
	stores  TxStores
	timeout time.Duration
}

func NewShardedTx(links LinkStore, contracts ContractStore) *ShardedTx {
	return &ShardedTx{stores: TxStores{Links: links, Contracts: contracts}}
}

func (t *ShardedTx) RunInTx(ctx context.Context, fn func(ctx context.Context, stores TxStores) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultSigningTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	shard := t.selectShard(ctx)
	t.shards[shard].Lock()
	defer t.shards[shard].Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	return fn(ctx, t.stores)
}

func (t *ShardedTx) selectShard(ctx context.Context) int {
	if linkID, ok := ctx.Value(txLinkKeyCtx).(string); ok && linkID != "" {
		return int(hashLinkID(linkID) % numSigningShards)
	}
	return 0
}

// hashLinkID is FNV-1a.
func hashLinkID(s string) uint32 {
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

type txLinkKey struct{}

var txLinkKeyCtx = txLinkKey{}

// withTxLink tags ctx with the link a unit of work is about.
func withTxLink(ctx context.Context, linkID string) context.Context {
	return context.WithValue(ctx, txLinkKeyCtx, linkID)
}
