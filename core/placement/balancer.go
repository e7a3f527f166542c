package placement

import (
	"fmt"
	"math/rand/v2"
	"sync/atomic"
)

// Balancer picks the member that receives the next message.
type Balancer interface {
	Next() int
}

// NewBalancer returns a balancer over n members.
func NewBalancer(kind BalancerKind, n int) (Balancer, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: balancer needs at least one member", ErrInvalidPlacementConfig)
	}
	switch kind {
	case RoundRobin, "":
		return &roundRobin{n: uint64(n)}, nil
	case Random:
		return random{n: n}, nil
	}
	return nil, fmt.Errorf("%w: unknown balancer %q", ErrInvalidPlacementConfig, kind)
}

// roundRobin starts at member 0 and advances on every pick.
type roundRobin struct {
	n      uint64
	cursor atomic.Uint64
}

func (r *roundRobin) Next() int {
	return int((r.cursor.Add(1) - 1) % r.n)
}

// random picks uniformly and keeps no state.
type random struct{ n int }

func (r random) Next() int { return rand.IntN(r.n) }
