package registry

import (
	"hash/fnv"
	"sync"

	"callrec-server/pkg/call"
	"callrec-server/pkg/errors"
)

// Registry is the single source of truth for live call sessions. It is a
// lock-striped map keyed by call id, so operations on distinct calls touch
// distinct shards and never contend on one lock.
type Registry struct {
	shards    []*registryShard
	shardMask uint32
}

type registryShard struct {
	sessions map[string]*call.Session
	mu       sync.RWMutex
}

// New creates a registry with the specified number of shards.
// shardCount must be a power of two for efficient shard selection.
func New(shardCount int) *Registry {
	if shardCount <= 0 || (shardCount&(shardCount-1)) != 0 {
		shardCount = 16
	}

	r := &Registry{
		shards:    make([]*registryShard, shardCount),
		shardMask: uint32(shardCount - 1),
	}

	for i := 0; i < shardCount; i++ {
		r.shards[i] = &registryShard{
			sessions: make(map[string]*call.Session),
		}
	}

	return r
}

func (r *Registry) getShard(callID string) *registryShard {
	h := fnv.New32a()
	h.Write([]byte(callID))
	return r.shards[h.Sum32()&r.shardMask]
}

// Register inserts a session under its call id. A call id must be unique
// among concurrently live calls.
func (r *Registry) Register(callID string, session *call.Session) error {
	shard := r.getShard(callID)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if _, exists := shard.sessions[callID]; exists {
		return errors.NewDuplicateSession(callID)
	}

	shard.sessions[callID] = session
	return nil
}

// Lookup returns the live session for a call id.
func (r *Registry) Lookup(callID string) (*call.Session, error) {
	shard := r.getShard(callID)

	shard.mu.RLock()
	defer shard.mu.RUnlock()

	session, exists := shard.sessions[callID]
	if !exists {
		return nil, errors.NewSessionNotFound(callID)
	}
	return session, nil
}

// Remove deletes and returns the session for teardown. A second remove for
// the same id reports session-not-found without touching other entries.
func (r *Registry) Remove(callID string) (*call.Session, error) {
	shard := r.getShard(callID)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	session, exists := shard.sessions[callID]
	if !exists {
		return nil, errors.NewSessionNotFound(callID)
	}

	delete(shard.sessions, callID)
	return session, nil
}

// Range iterates over all live sessions. The provided function is called
// for each session; returning false stops iteration.
func (r *Registry) Range(f func(callID string, session *call.Session) bool) {
	for _, shard := range r.shards {
		shard.mu.RLock()
		for id, session := range shard.sessions {
			if !f(id, session) {
				shard.mu.RUnlock()
				return
			}
		}
		shard.mu.RUnlock()
	}
}

// Count returns the number of live sessions across all shards.
func (r *Registry) Count() int {
	count := 0
	for _, shard := range r.shards {
		shard.mu.RLock()
		count += len(shard.sessions)
		shard.mu.RUnlock()
	}
	return count
}
