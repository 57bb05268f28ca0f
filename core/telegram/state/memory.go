package state

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errTxDone = errors.New("state: transaction already finished")

type memoryEntry struct {
	data      []byte
	updatedAt time.Time
}

// MemoryStore is an in-process Store for tests and local development.
// It honours the same locking contract as the Postgres store: a forUpdate load
// blocks until the scope is released, and uncommitted writes are invisible.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[Scope]memoryEntry
	locks   map[Scope]chan struct{}
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[Scope]memoryEntry),
		locks:   make(map[Scope]chan struct{}),
	}
}

// Begin starts a transaction.
func (s *MemoryStore) Begin(context.Context) (Tx, error) {
	return &memoryTx{store: s, writes: make(map[Scope]*[]byte), locked: make(map[Scope]bool)}, nil
}

// Committed returns the committed bytes for scope, if any.
func (s *MemoryStore) Committed(scope Scope) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[scope]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), e.data...), true
}

// PurgeStale removes entries not written since now-retention.
func (s *MemoryStore) PurgeStale(_ context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for scope, e := range s.entries {
		if e.updatedAt.Before(cutoff) {
			delete(s.entries, scope)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) lockFor(scope Scope) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[scope]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[scope] = l
	}
	return l
}

type memoryTx struct {
	store  *MemoryStore
	held   []chan struct{}
	locked map[Scope]bool
	writes map[Scope]*[]byte // nil value means delete
	order  []Scope
	done   bool
}

func (t *memoryTx) Load(ctx context.Context, scope Scope, forUpdate bool) ([]byte, error) {
	if t.done {
		return nil, errTxDone
	}
	if forUpdate && !t.locked[scope] {
		l := t.store.lockFor(scope)
		select {
		case l <- struct{}{}:
			t.held = append(t.held, l)
			t.locked[scope] = true
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if w, ok := t.writes[scope]; ok {
		if w == nil {
			return nil, ErrNotFound
		}
		return append([]byte(nil), (*w)...), nil
	}
	data, ok := t.store.Committed(scope)
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (t *memoryTx) stage(scope Scope, data *[]byte) {
	if _, seen := t.writes[scope]; !seen {
		t.order = append(t.order, scope)
	}
	t.writes[scope] = data
}

func (t *memoryTx) Save(_ context.Context, scope Scope, data []byte) error {
	if t.done {
		return errTxDone
	}
	cp := append([]byte(nil), data...)
	t.stage(scope, &cp)
	return nil
}

func (t *memoryTx) Delete(_ context.Context, scope Scope) error {
	if t.done {
		return errTxDone
	}
	t.stage(scope, nil)
	return nil
}

func (t *memoryTx) Commit() error {
	if t.done {
		return errTxDone
	}
	now := time.Now()
	t.store.mu.Lock()
	for _, scope := range t.order {
		if w := t.writes[scope]; w != nil {
			t.store.entries[scope] = memoryEntry{data: *w, updatedAt: now}
		} else {
			delete(t.store.entries, scope)
		}
	}
	t.store.mu.Unlock()
	t.finish()
	return nil
}

func (t *memoryTx) Rollback() error {
	if t.done {
		return errTxDone
	}
	t.finish()
	return nil
}

func (t *memoryTx) finish() {
	t.done = true
	t.writes = nil
	for _, l := range t.held {
		<-l
	}
	t.held = nil
}
