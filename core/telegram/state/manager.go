package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/m3rciful/dispatchbot/core/logger"
)

// Session is the per-update handle on a document. Handlers must not retain it
// after the update returns.
type Session[D any] struct {
	Scope Scope
	Data  *D

	clear    bool
	degraded bool
}

// Clear requests deletion of the document when the update completes.
// Data is replaced with a fresh default so the rest of the update sees a clean state.
func (s *Session[D]) Clear(fresh *D) {
	s.clear = true
	if fresh != nil {
		s.Data = fresh
	}
}

// Cleared reports whether deletion was requested.
func (s *Session[D]) Cleared() bool { return s.clear }

// Degraded reports whether the document came from the fallback cache.
func (s *Session[D]) Degraded() bool { return s.degraded }

// ErrBusy is the degrade cause when every update slot stays taken past the lock timeout.
var ErrBusy = errors.New("state: too many updates in flight")

// Limits bound how many documents are held at once and how long an update waits
// for its slot and scope lock. Zero values mean unbounded.
type Limits struct {
	// MaxInFlight caps concurrent store transactions. With a pooled store it must
	// stay below the pool size so handlers can still run their own queries.
	MaxInFlight int
	LockTimeout time.Duration
}

// Options configure a Manager.
type Options[D any] struct {
	Limits

	Store Store
	Cache Cache
	// New returns the default document for a scope seen for the first time.
	New func() *D
	// Normalize backfills sub-states missing from documents written by older versions.
	Normalize func(*D)
	// CacheTimeout bounds best-effort cache calls.
	CacheTimeout time.Duration
}

// Manager runs the load/mutate/persist protocol for documents of type D.
type Manager[D any] struct {
	store        Store
	cache        Cache
	newDoc       func() *D
	normalize    func(*D)
	cacheTimeout time.Duration
	lockTimeout  time.Duration
	slots        chan struct{}
}

// NewManager validates opts and returns a Manager.
func NewManager[D any](opts Options[D]) (*Manager[D], error) {
	if opts.Store == nil {
		return nil, errors.New("state: store is required")
	}
	if opts.New == nil {
		opts.New = func() *D { return new(D) }
	}
	if opts.CacheTimeout <= 0 {
		opts.CacheTimeout = 500 * time.Millisecond
	}
	m := &Manager[D]{
		store:        opts.Store,
		cache:        opts.Cache,
		newDoc:       opts.New,
		normalize:    opts.Normalize,
		cacheTimeout: opts.CacheTimeout,
		lockTimeout:  opts.LockTimeout,
	}
	if opts.MaxInFlight > 0 {
		m.slots = make(chan struct{}, opts.MaxInFlight)
	}
	return m, nil
}

// Fresh returns a normalized default document.
func (m *Manager[D]) Fresh() *D {
	doc := m.newDoc()
	if m.normalize != nil {
		m.normalize(doc)
	}
	return doc
}

// Decode parses raw onto a default document and backfills missing sub-states.
// Empty input yields the default document.
func (m *Manager[D]) Decode(raw []byte) (*D, error) {
	doc := m.newDoc()
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, doc); err != nil {
			return m.Fresh(), fmt.Errorf("state: decode: %w", err)
		}
	}
	if m.normalize != nil {
		m.normalize(doc)
	}
	return doc, nil
}

// Do loads the document for scope under its lock, runs fn, and persists the result.
// A non-nil error from fn rolls the transaction back and is returned unchanged.
// When the store cannot be reached, or no slot or scope lock is granted within the
// lock timeout, fn still runs on a cached or default document marked degraded,
// and nothing is written to the store.
func (m *Manager[D]) Do(ctx context.Context, scope Scope, fn func(*Session[D]) error) (err error) {
	start := time.Now()
	release, err := m.acquire(ctx)
	if err != nil {
		return m.degrade(ctx, scope, fn, err)
	}
	defer release()

	tx, err := m.store.Begin(ctx)
	if err != nil {
		return m.degrade(ctx, scope, fn, err)
	}

	finished := false
	defer func() {
		if !finished {
			// fn panicked; release the scope before the panic propagates.
			m.rollback(ctx, tx, scope)
		}
	}()

	lctx, cancel := m.lockContext(ctx)
	raw, err := tx.Load(lctx, scope, true)
	cancel()
	if err != nil && !errors.Is(err, ErrNotFound) {
		finished = true
		m.rollback(ctx, tx, scope)
		return m.degrade(ctx, scope, fn, err)
	}

	doc, decErr := m.Decode(raw)
	if decErr != nil {
		// The row is overwritten on commit; the original bytes only survive in this log.
		logger.Warn(ctx, "session", "session.decode_failed",
			slog.String("scope", string(scope)),
			slog.String("err", decErr.Error()),
			logger.Raw("raw", raw),
		)
	}
	sess := &Session[D]{Scope: scope, Data: doc}

	if hErr := fn(sess); hErr != nil {
		finished = true
		m.rollback(ctx, tx, scope)
		return hErr
	}
	finished = true

	var data []byte
	if sess.clear {
		err = tx.Delete(ctx, scope)
	} else {
		data, err = json.Marshal(sess.Data)
		if err == nil {
			err = tx.Save(ctx, scope, data)
		}
	}
	if err != nil {
		m.rollback(ctx, tx, scope)
		return fmt.Errorf("state: persist %s: %w", scope, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("state: commit %s: %w", scope, err)
	}

	m.writeThrough(ctx, scope, data, sess.clear)
	logger.Debug(ctx, "session", "session.committed",
		slog.String("scope", string(scope)),
		slog.Bool("cleared", sess.clear),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)
	return nil
}

func (m *Manager[D]) acquire(ctx context.Context) (func(), error) {
	if m.slots == nil {
		return func() {}, nil
	}
	select {
	case m.slots <- struct{}{}:
		return func() { <-m.slots }, nil
	default:
	}
	var expired <-chan time.Time
	if m.lockTimeout > 0 {
		timer := time.NewTimer(m.lockTimeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case m.slots <- struct{}{}:
		return func() { <-m.slots }, nil
	case <-expired:
		return nil, ErrBusy
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager[D]) lockContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.lockTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.lockTimeout)
}

func (m *Manager[D]) degrade(ctx context.Context, scope Scope, fn func(*Session[D]) error, cause error) error {
	var doc *D
	source := "default"
	if m.cache != nil {
		cctx, cancel := context.WithTimeout(ctx, m.cacheTimeout)
		raw, err := m.cache.Get(cctx, scope)
		cancel()
		if err == nil {
			if decoded, decErr := m.Decode(raw); decErr == nil {
				doc = decoded
				source = "cache"
			}
		}
	}
	if doc == nil {
		doc = m.Fresh()
	}

	logger.Warn(ctx, "session", "session.degraded",
		slog.String("scope", string(scope)),
		slog.String("source", source),
		slog.Bool("degraded", true),
		slog.String("err", cause.Error()),
	)

	sess := &Session[D]{Scope: scope, Data: doc, degraded: true}
	if err := fn(sess); err != nil {
		return err
	}

	var data []byte
	if !sess.clear {
		var mErr error
		if data, mErr = json.Marshal(sess.Data); mErr != nil {
			return nil
		}
	}
	m.writeThrough(ctx, scope, data, sess.clear)
	return nil
}

func (m *Manager[D]) rollback(ctx context.Context, tx Tx, scope Scope) {
	if err := tx.Rollback(); err != nil {
		logger.Warn(ctx, "session", "session.rollback_failed",
			slog.String("scope", string(scope)),
			slog.String("err", err.Error()),
		)
	}
}

func (m *Manager[D]) writeThrough(ctx context.Context, scope Scope, data []byte, cleared bool) {
	if m.cache == nil {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cacheTimeout)
	defer cancel()
	var err error
	if cleared {
		err = m.cache.Delete(cctx, scope)
	} else {
		err = m.cache.Set(cctx, scope, data)
	}
	if err != nil {
		logger.Debug(ctx, "session", "session.cache_write_failed",
			slog.String("scope", string(scope)),
			slog.String("err", err.Error()),
		)
	}
}
