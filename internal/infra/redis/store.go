package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"classroom-quiz-service/internal/store"
	"github.com/redis/go-redis/v9"
)

// Store implements store.Store on Redis.
// Layout:
//   - every record root (first two path segments, e.g. sessions/ABC234) is one
//     hash "tree:{root}" whose fields are leaf paths relative to the root and
//     whose values are JSON;
//   - every write publishes the mutated path on channel "tree:{root}", which is
//     what subscribers use as the broadcast bus.
type Store struct {
	client     *redis.Client
	ttl        time.Duration
	maxRetries int
}

func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl, maxRetries: 5}
}

func (s *Store) Get(ctx context.Context, path string) (any, error) {
	root, rel, err := splitRoot(path)
	if err != nil {
		return nil, err
	}
	fields, err := s.client.HGetAll(ctx, s.key(root)).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return subtree(fields, rel)
}

func (s *Store) Set(ctx context.Context, path string, value any) error {
	root, rel, err := splitRoot(path)
	if err != nil {
		return err
	}
	tree, err := store.Encode(value)
	if err != nil {
		return err
	}
	return s.apply(ctx, root, path, map[string]any{rel: tree})
}

func (s *Store) Update(ctx context.Context, path string, values map[string]any) error {
	root, rel, err := splitRoot(path)
	if err != nil {
		return err
	}
	writes := make(map[string]any, len(values))
	for k, v := range values {
		if _, err := store.Split(k); err != nil {
			return err
		}
		tree, err := store.Encode(v)
		if err != nil {
			return err
		}
		writes[joinRel(rel, k)] = tree
	}
	return s.apply(ctx, root, path, writes)
}

func (s *Store) Delete(ctx context.Context, path string) error {
	return s.Set(ctx, path, nil)
}

// Subscribe listens on the root's channel and re-reads the subscribed subtree
// whenever an overlapping path is published.
func (s *Store) Subscribe(ctx context.Context, path string) (<-chan store.Event, func(), error) {
	root, _, err := splitRoot(path)
	if err != nil {
		return nil, nil, err
	}
	pubsub := s.client.Subscribe(ctx, s.key(root))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", path, err)
	}

	out := make(chan store.Event, 8)
	runCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer close(out)

		push := func() bool {
			value, err := s.Get(runCtx, path)
			if err != nil {
				return runCtx.Err() == nil
			}
			ev := store.Event{Path: path, Value: value}
			select {
			case out <- ev:
			default:
				select {
				case <-out:
				default:
				}
				select {
				case out <- ev:
				case <-runCtx.Done():
					return false
				}
			}
			return true
		}

		if !push() {
			return
		}
		messages := pubsub.Channel()
		for {
			select {
			case msg, ok := <-messages:
				if !ok {
					return
				}
				if !store.Overlaps(msg.Payload, path) {
					continue
				}
				if !push() {
					return
				}
			case <-runCtx.Done():
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			stop()
			_ = pubsub.Close()
			<-done
		})
	}
	return out, cancel, nil
}

// apply replaces every subtree named in writes inside one WATCH/MULTI transaction.
func (s *Store) apply(ctx context.Context, root, path string, writes map[string]any) error {
	key := s.key(root)
	txf := func(tx *redis.Tx) error {
		existing, err := tx.HKeys(ctx, key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		var stale []string
		for _, field := range existing {
			for rel := range writes {
				if rel == "" || field == rel || strings.HasPrefix(field, rel+"/") || strings.HasPrefix(rel, field+"/") {
					stale = append(stale, field)
					break
				}
			}
		}
		leaves := make(map[string]any)
		for rel, tree := range writes {
			store.Flatten(rel, tree, leaves)
		}
		encoded := make(map[string]any, len(leaves))
		for field, v := range leaves {
			raw, err := json.Marshal(v)
			if err != nil {
				return err
			}
			encoded[field] = string(raw)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(stale) > 0 {
				pipe.HDel(ctx, key, stale...)
			}
			if len(encoded) > 0 {
				pipe.HSet(ctx, key, encoded)
				if s.ttl > 0 {
					pipe.Expire(ctx, key, s.ttl)
				}
			}
			return nil
		})
		return err
	}

	var err error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err = s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		break
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := s.client.Publish(ctx, key, path).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", path, err)
	}
	return nil
}

func (s *Store) key(root string) string {
	return "tree:" + root
}

// splitRoot separates the hash root (first two segments) from the relative field path.
func splitRoot(path string) (string, string, error) {
	parts, err := store.Split(path)
	if err != nil {
		return "", "", err
	}
	if len(parts) < 2 {
		return "", "", fmt.Errorf("%w: %q needs a namespace and an id", store.ErrInvalidPath, path)
	}
	return store.Join(parts[:2]...), store.Join(parts[2:]...), nil
}

func joinRel(base, rel string) string {
	if base == "" {
		return rel
	}
	return base + "/" + rel
}

func subtree(fields map[string]string, rel string) (any, error) {
	leaves := make(map[string]any)
	for field, raw := range fields {
		var suffix string
		switch {
		case rel == "":
			suffix = field
		case field == rel:
			suffix = ""
		case strings.HasPrefix(field, rel+"/"):
			suffix = strings.TrimPrefix(field, rel+"/")
		default:
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode field %s: %w", field, err)
		}
		leaves[suffix] = v
	}
	return store.Unflatten(leaves), nil
}
