package idempotency

import "context"

// Guard collapses duplicate provider deliveries into one effect. Reserve
// returns true the first time a key is seen within the TTL window and false
// thereafter. Implementations are a fast path only: the unique index on
// provider_call_id at the storage layer is the correctness guarantee, so a
// cold cache after a restart still cannot double-process.
type Guard interface {
	Reserve(ctx context.Context, key string) (bool, error)
	IsReserved(ctx context.Context, key string) (bool, error)
}
