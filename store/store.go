// Package store implements the engine's in-memory key-value mapping.
package store

import (
	"sync"

	"github.com/mickamy/kvrelay/command"
	"github.com/mickamy/kvrelay/resp"
)

// Result is the outcome of executing a Command against a Store.
type Result struct {
	Object     resp.Object
	IsMutating bool
}

// Store is a thread-safe key-value mapping. The single-threaded event
// loop only ever calls Execute from one goroutine at a time, but the
// RWMutex is kept so a future parallel replay or maintenance task can
// share the same Store safely.
type Store struct {
	mu   sync.RWMutex
	data map[string]resp.Object
}

// New creates an empty Store.
func New() *Store {
	return &Store{data: make(map[string]resp.Object)}
}

// Execute runs cmd against the store and returns its reply object along
// with whether the call actually mutated state.
func (s *Store) Execute(cmd command.Command) Result {
	switch cmd.Op {
	case command.OpGet:
		return s.get(cmd.Key)
	case command.OpSet:
		return s.set(cmd.Key, cmd.Value)
	case command.OpRemove:
		return s.remove(cmd.Key)
	}
	return Result{Object: resp.NilBulkString()}
}

func (s *Store) get(key string) Result {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[key]
	if !ok {
		return Result{Object: resp.NilBulkString()}
	}
	return Result{Object: v}
}

func (s *Store) set(key, value string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.data[key]
	s.data[key] = resp.BulkString([]byte(value))
	if !existed {
		return Result{Object: resp.NilBulkString(), IsMutating: true}
	}
	return Result{Object: prev, IsMutating: true}
}

func (s *Store) remove(key string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.data[key]
	if !existed {
		return Result{Object: resp.NilBulkString()}
	}
	delete(s.data, key)
	return Result{Object: prev, IsMutating: true}
}

// Len reports the number of live entries; used by the admin surface and
// tests, not by the core dispatch path.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
