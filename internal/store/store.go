// Package store defines the record store adapter: a path-addressed key/value
// tree with push subscriptions that acts as the broadcast bus between the host
// controller and participant clients.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPath is returned for empty paths or paths with empty segments.
var ErrInvalidPath = errors.New("invalid record path")

// Event carries the current snapshot of a subscribed subtree. A nil Value means
// the subtree no longer exists.
type Event struct {
	Path  string
	Value any
}

// Store is a key/value tree. Values are JSON-shaped trees: map[string]any,
// []any, float64, string, bool. Delivery to subscribers is at-least-once with
// no ordering guarantee across keys; subscribers must only rely on the latest
// snapshot they received.
type Store interface {
	// Get returns the subtree at path, or nil when nothing is stored there.
	Get(ctx context.Context, path string) (any, error)
	// Set replaces the subtree at path. A nil value deletes it.
	Set(ctx context.Context, path string, value any) error
	// Update applies several relative writes under path atomically.
	Update(ctx context.Context, path string, values map[string]any) error
	// Delete removes the subtree at path.
	Delete(ctx context.Context, path string) error
	// Subscribe delivers the current subtree immediately and after every
	// mutation overlapping path. The caller must invoke cancel to release it.
	Subscribe(ctx context.Context, path string) (<-chan Event, func(), error)
}

// Join builds a path from segments.
func Join(parts ...string) string {
	return strings.Join(parts, "/")
}

// Split validates a path and returns its segments.
func Split(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	parts := strings.Split(path, "/")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return parts, nil
}

// Overlaps reports whether a mutation at one path can change the subtree at the other.
func Overlaps(a, b string) bool {
	return a == b || strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

// Encode converts a Go value into a JSON-shaped value tree.
func Encode(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return tree, nil
}

// Decode converts a value tree into out.
func Decode(tree any, out any) error {
	raw, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	return nil
}

// Flatten turns a value tree into leaf paths relative to its root. Maps are
// descended into; every other value, arrays included, is a leaf. Empty maps
// produce no leaves.
func Flatten(prefix string, tree any, out map[string]any) {
	m, ok := tree.(map[string]any)
	if !ok {
		if tree != nil {
			out[prefix] = tree
		}
		return
	}
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "/" + k
		}
		Flatten(key, v, out)
	}
}

// Unflatten rebuilds a value tree from relative leaf paths. A single leaf at ""
// is returned as-is.
func Unflatten(leaves map[string]any) any {
	if len(leaves) == 0 {
		return nil
	}
	if v, ok := leaves[""]; ok {
		return v
	}
	root := make(map[string]any)
	for path, v := range leaves {
		parts := strings.Split(path, "/")
		node := root
		for _, p := range parts[:len(parts)-1] {
			child, ok := node[p].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[p] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = v
	}
	return root
}

// Clone deep-copies a value tree.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = Clone(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = Clone(child)
		}
		return out
	default:
		return v
	}
}
