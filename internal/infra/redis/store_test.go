package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"classroom-quiz-service/internal/store"
	miniredis "github.com/alicebob/miniredis/v2"
)

func TestStoreWritesLeavesIntoRootHash(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	st := NewStore(newClient(mr), time.Minute)

	err = st.Set(ctx, "sessions/ABC234/players/alice", map[string]any{"joinedAt": 1, "score": 0, "streak": 0})
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := mr.HGet("tree:sessions/ABC234", "players/alice/score"); got != "0" {
		t.Fatalf("expected score leaf in hash, got %q", got)
	}
	if ttl := mr.TTL("tree:sessions/ABC234"); ttl != time.Minute {
		t.Fatalf("expected ttl refreshed, got %v", ttl)
	}

	player, err := st.Get(ctx, "sessions/ABC234/players/alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	m, ok := player.(map[string]any)
	if !ok || m["joinedAt"] != float64(1) {
		t.Fatalf("unexpected player subtree %v", player)
	}
}

func TestStoreSetReplacesSubtree(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	st := NewStore(newClient(mr), 0)

	_ = st.Set(ctx, "sessions/ABC234/answers/0/bob", map[string]any{"answer": 1, "answeredAt": 5})
	_ = st.Set(ctx, "sessions/ABC234/answers/0/amy", map[string]any{"answer": 2, "answeredAt": 6})
	if err := st.Update(ctx, "sessions/ABC234", map[string]any{"answers/0": nil, "status": "question"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	answers, _ := st.Get(ctx, "sessions/ABC234/answers/0")
	if answers != nil {
		t.Fatalf("expected answers cleared, got %v", answers)
	}
	status, _ := st.Get(ctx, "sessions/ABC234/status")
	if status != "question" {
		t.Fatalf("expected status question, got %v", status)
	}
	if mr.TTL("tree:sessions/ABC234") != 0 {
		t.Fatalf("zero ttl must leave the record without expiry")
	}
}

func TestStoreRejectsPathsWithoutRoot(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	st := NewStore(newClient(mr), 0)
	if err := st.Set(context.Background(), "sessions", "x"); !errors.Is(err, store.ErrInvalidPath) {
		t.Fatalf("expected invalid path, got %v", err)
	}
}

func TestStoreSubscribeFansOutSnapshots(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	st := NewStore(newClient(mr), 0)
	_ = st.Set(ctx, "sessions/ABC234/status", "lobby")

	events, cancel, err := st.Subscribe(ctx, "sessions/ABC234")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	first := nextEvent(t, events)
	if first.Value.(map[string]any)["status"] != "lobby" {
		t.Fatalf("expected initial lobby snapshot, got %v", first.Value)
	}

	if err := st.Set(ctx, "sessions/ABC234/status", "question"); err != nil {
		t.Fatalf("set: %v", err)
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if m, ok := ev.Value.(map[string]any); ok && m["status"] == "question" {
				return
			}
		case <-deadline:
			t.Fatalf("did not observe status change")
		}
	}
}

func TestStoreSubscribeReportsRemovedRecord(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	st := NewStore(newClient(mr), 0)
	_ = st.Set(ctx, "sessions/ABC234/status", "lobby")

	events, cancel, err := st.Subscribe(ctx, "sessions/ABC234")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()
	nextEvent(t, events)

	if err := st.Delete(ctx, "sessions/ABC234"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Value == nil {
				return
			}
		case <-deadline:
			t.Fatalf("did not observe removal")
		}
	}
}

func nextEvent(t *testing.T, events <-chan store.Event) store.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return store.Event{}
}
