package hostpool

import (
	"context"
	"errors"
	"testing"
)

func TestRandomStaysInPool(t *testing.T) {
	pool := Pool{"h1", "h2", "h3"}
	members := map[string]bool{"h1": true, "h2": true, "h3": true}
	var s Random
	for i := 0; i < 1000; i++ {
		host, err := s.Select(context.Background(), Target{User: "alice", Pool: pool})
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if !members[host] {
			t.Fatalf("selected %q outside pool", host)
		}
	}
}

func TestRandomEmptyPool(t *testing.T) {
	var s Random
	_, err := s.Select(context.Background(), Target{User: "alice"})
	if !errors.Is(err, ErrEmptyPool) {
		t.Fatalf("expected ErrEmptyPool, got %v", err)
	}
}

func TestFuncStrategy(t *testing.T) {
	s := Func(func(_ context.Context, t Target) (string, error) {
		// Synthesized host, deliberately outside the pool: allowed by contract.
		return "inventory-" + t.User, nil
	})
	host, err := s.Select(context.Background(), Target{User: "bob", Pool: Pool{"h1"}})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if host != "inventory-bob" {
		t.Fatalf("got %q", host)
	}
}
