package memory

import (
	"context"
	"sync"

	"classroom-quiz-service/internal/store"
)

// Store is an in-process implementation of store.Store.
type Store struct {
	mu          sync.RWMutex
	root        map[string]any
	subscribers map[*subscription]struct{}
}

type subscription struct {
	path string
	ch   chan store.Event
}

func NewStore() *Store {
	return &Store{
		root:        make(map[string]any),
		subscribers: make(map[*subscription]struct{}),
	}
}

func (s *Store) Get(_ context.Context, path string) (any, error) {
	parts, err := store.Split(path)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return store.Clone(s.lookupLocked(parts)), nil
}

func (s *Store) Set(_ context.Context, path string, value any) error {
	parts, err := store.Split(path)
	if err != nil {
		return err
	}
	tree, err := store.Encode(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeLocked(parts, tree)
	s.broadcastLocked(path)
	return nil
}

func (s *Store) Update(_ context.Context, path string, values map[string]any) error {
	base, err := store.Split(path)
	if err != nil {
		return err
	}
	type write struct {
		parts []string
		tree  any
	}
	writes := make([]write, 0, len(values))
	for rel, value := range values {
		relParts, err := store.Split(rel)
		if err != nil {
			return err
		}
		tree, err := store.Encode(value)
		if err != nil {
			return err
		}
		parts := append(append([]string{}, base...), relParts...)
		writes = append(writes, write{parts: parts, tree: tree})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range writes {
		s.writeLocked(w.parts, w.tree)
	}
	s.broadcastLocked(path)
	return nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	return s.Set(ctx, path, nil)
}

// Subscribe registers a path-scoped subscriber. Slow subscribers lose stale
// snapshots, never the most recent one.
func (s *Store) Subscribe(_ context.Context, path string) (<-chan store.Event, func(), error) {
	parts, err := store.Split(path)
	if err != nil {
		return nil, nil, err
	}
	sub := &subscription{path: path, ch: make(chan store.Event, 8)}

	s.mu.Lock()
	s.subscribers[sub] = struct{}{}
	initial := store.Event{Path: path, Value: store.Clone(s.lookupLocked(parts))}
	sub.ch <- initial
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[sub]; ok {
			delete(s.subscribers, sub)
			close(sub.ch)
		}
		s.mu.Unlock()
	}
	return sub.ch, cancel, nil
}

func (s *Store) lookupLocked(parts []string) any {
	var node any = s.root
	for _, p := range parts {
		m, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node, ok = m[p]
		if !ok {
			return nil
		}
	}
	return node
}

func (s *Store) writeLocked(parts []string, tree any) {
	if m, ok := tree.(map[string]any); ok && len(m) == 0 {
		tree = nil
	}
	node := s.root
	trail := make([]map[string]any, 0, len(parts))
	for _, p := range parts[:len(parts)-1] {
		trail = append(trail, node)
		child, ok := node[p].(map[string]any)
		if !ok {
			if tree == nil {
				return
			}
			child = make(map[string]any)
			node[p] = child
		}
		node = child
	}
	last := parts[len(parts)-1]
	if tree == nil {
		delete(node, last)
	} else {
		node[last] = store.Clone(tree)
	}

	// prune parents emptied by a delete
	for i := len(trail) - 1; i >= 0; i-- {
		child := trail[i][parts[i]].(map[string]any)
		if len(child) > 0 {
			break
		}
		delete(trail[i], parts[i])
	}
}

func (s *Store) broadcastLocked(path string) {
	for sub := range s.subscribers {
		if !store.Overlaps(path, sub.path) {
			continue
		}
		parts, _ := store.Split(sub.path)
		ev := store.Event{Path: sub.path, Value: store.Clone(s.lookupLocked(parts))}
		select {
		case sub.ch <- ev:
		default:
			select {
			case <-sub.ch:
			default:
			}
			sub.ch <- ev
		}
	}
}
