package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/1ureka/mirror/internal/record"
)

// Memory is an in-process Store. It backs the relay server by default and
// is what most tests run against.
type Memory struct {
	mu      sync.Mutex
	records map[string]*record.Record
	routes  map[string]map[*memorySub]struct{}
	closed  bool
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]*record.Record),
		routes:  make(map[string]map[*memorySub]struct{}),
	}
}

func (m *Memory) Insert(_ context.Context, rec *record.Record) (*record.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	if cur, ok := m.records[rec.Code]; ok && cur.Open() {
		return nil, fmt.Errorf("%w: code %s", ErrExists, rec.Code)
	}
	m.records[rec.Code] = rec.Clone()
	return rec.Clone(), nil
}

func (m *Memory) Get(_ context.Context, code string) (*record.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	rec, ok := m.records[code]
	if !ok {
		return nil, fmt.Errorf("%w: code %s", ErrNotFound, code)
	}
	return rec.Clone(), nil
}

func (m *Memory) Update(_ context.Context, code string, mut record.Mutation) (*record.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	rec, ok := m.records[code]
	if !ok {
		return nil, fmt.Errorf("%w: code %s", ErrNotFound, code)
	}

	// Apply to a copy so a rejected mutation cannot leave partial state.
	next := rec.Clone()
	changed, err := mut.Apply(next, now())
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", code, err)
	}
	if !changed {
		return rec.Clone(), nil
	}

	m.records[code] = next
	for sub := range m.routes[code] {
		sub.deliver(next.Clone())
	}
	return next.Clone(), nil
}

func (m *Memory) Subscribe(ctx context.Context, code string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	sub := &memorySub{
		store: m,
		code:  code,
		box:   NewMailbox(),
		done:  make(chan struct{}),
	}
	if m.routes[code] == nil {
		m.routes[code] = make(map[*memorySub]struct{})
	}
	m.routes[code][sub] = struct{}{}

	// Auto-unsubscribe when the caller's context ends.
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()

	return sub, nil
}

// Close drops all records and ends every subscription.
func (m *Memory) Close() error {
	m.mu.Lock()
	subs := make([]*memorySub, 0)
	for _, set := range m.routes {
		for sub := range set {
			subs = append(subs, sub)
		}
	}
	m.closed = true
	m.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	return nil
}

// unregister removes sub from the route table. Must not hold m.mu.
func (m *Memory) unregister(sub *memorySub) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if set, ok := m.routes[sub.code]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(m.routes, sub.code)
		}
	}
	sub.box.Close()
}

type memorySub struct {
	store *Memory
	code  string
	box   *Mailbox
	done  chan struct{}
	once  sync.Once
}

// deliver is called with store.mu held, which serializes producers.
func (s *memorySub) deliver(rec *record.Record) { s.box.Put(rec) }

func (s *memorySub) Updates() <-chan *record.Record { return s.box.C() }

func (s *memorySub) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.store.unregister(s)
	})
	return nil
}
