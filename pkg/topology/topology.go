package topology

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/burrow/pkg/types"
)

// NotFoundError reports a shard id with no known address.
type NotFoundError struct {
	Shard types.ShardID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("shard %s not found", e.Shard)
}

// Resolver maps a shard id to the host address commands are sent to.
type Resolver interface {
	Resolve(shard types.ShardID) (string, error)
}

// Registry is a concurrency-safe in-memory shard directory. Cluster
// membership changes flow in through Add/Remove (driven by the admin API);
// the scheduler only reads it.
type Registry struct {
	mu     sync.RWMutex
	shards map[types.ShardID]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{shards: make(map[types.ShardID]string)}
}

// Add registers or updates a shard's address.
func (r *Registry) Add(shard types.ShardID, host string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shards[shard] = host
}

// Remove forgets a shard.
func (r *Registry) Remove(shard types.ShardID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.shards, shard)
}

// Resolve implements Resolver.
func (r *Registry) Resolve(shard types.ShardID) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	host, ok := r.shards[shard]
	if !ok {
		return "", &NotFoundError{Shard: shard}
	}
	return host, nil
}

// Shards returns the known shard ids in stable order.
func (r *Registry) Shards() []types.ShardID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]types.ShardID, 0, len(r.shards))
	for id := range r.shards {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
