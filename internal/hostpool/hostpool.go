// Package hostpool picks the remote host a session lands on.
package hostpool

import (
	"context"
	"errors"
	"math/rand/v2"
)

// ErrEmptyPool indicates no hosts are configured.
var ErrEmptyPool = errors.New("host pool is empty")

// Pool is the configured, ordered set of candidate hosts. Read-only after
// construction.
type Pool []string

// Target is everything a strategy may consult when choosing a host. It is
// passed by value so strategies cannot mutate orchestrator state.
type Target struct {
	// User is the session owner.
	User string
	// Pool is the configured host pool.
	Pool Pool
}

// Strategy chooses one host for a session. Implementations should return a
// member of t.Pool, but that is a documented contract rather than an
// enforced one: a custom strategy backed by an external inventory is allowed
// to synthesize hosts the pool does not list.
type Strategy interface {
	Select(ctx context.Context, t Target) (string, error)
}

// Random is the default strategy: a uniform-random member of the pool.
type Random struct{}

func (Random) Select(_ context.Context, t Target) (string, error) {
	if len(t.Pool) == 0 {
		return "", ErrEmptyPool
	}
	return t.Pool[rand.IntN(len(t.Pool))], nil
}

// Func adapts a plain function to a Strategy.
type Func func(ctx context.Context, t Target) (string, error)

func (f Func) Select(ctx context.Context, t Target) (string, error) {
	return f(ctx, t)
}
