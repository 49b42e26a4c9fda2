package types

import "context"

/*
FetchFunc is the contract between the cache and the upstream ledger RPC.

The cache has no idea what the function actually does. It could be a
Soroban simulateTransaction call, a getLedgerEntries batch, or a plain
HTTP GET against a Horizon endpoint. All the cache cares about is:

 1. It may take a while (hence the context)
 2. It may succeed with a value
 3. It may fail with a raw error the fetch layer will classify

The caller supplies one per key at call time; the cache never stores a
FetchFunc beyond the lifetime of the refresh it drives.
*/
type FetchFunc func(ctx context.Context) (any, error)
