package placement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/salespaulo/fvi-actor-system/core/actor"
	"github.com/salespaulo/fvi-actor-system/core/transport"
)

// MemberFactory creates member i of a group placed on host ("" unless the
// mode is remote).
type MemberFactory func(ctx context.Context, i int, host string) (transport.Endpoint, error)

// Group presents N homogeneous members as a single endpoint. Every message
// goes to exactly one member chosen by the balancer.
type Group struct {
	id       string
	cfg      Config
	members  []transport.Endpoint
	balancer Balancer
	log      *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Build starts the members of cfg in parallel. If any member fails, the ones
// already started are closed and the first error is returned. A single
// member is returned as is.
func Build(ctx context.Context, id string, cfg Config, log *slog.Logger, factory MemberFactory) (transport.Endpoint, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Single() {
		return factory(ctx, 0, cfg.HostFor(0))
	}

	balancer, err := NewBalancer(cfg.Balancer, cfg.ClusterSize)
	if err != nil {
		return nil, err
	}

	members := make([]transport.Endpoint, cfg.ClusterSize)
	eg, egCtx := errgroup.WithContext(ctx)
	for i := range members {
		eg.Go(func() error {
			m, err := factory(egCtx, i, cfg.HostFor(i))
			if err != nil {
				return fmt.Errorf("member %d: %w", i, err)
			}
			members[i] = m
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		for _, m := range members {
			if m != nil {
				_ = m.Close(context.WithoutCancel(ctx))
			}
		}
		return nil, err
	}

	g := &Group{
		id:       id,
		cfg:      cfg,
		members:  members,
		balancer: balancer,
		log:      log.With(slog.String("group", id)),
	}
	g.log.Debug("group started",
		slog.String("mode", string(cfg.Mode)),
		slog.Int("size", cfg.ClusterSize),
		slog.String("balancer", string(cfg.Balancer)),
	)
	return g, nil
}

func (g *Group) ID() string                      { return g.id }
func (g *Group) Kind() transport.Kind            { return transport.KindGroup }
func (g *Group) Config() Config                  { return g.cfg }
func (g *Group) Size() int                       { return len(g.members) }
func (g *Group) Member(i int) transport.Endpoint { return g.members[i] }

// Members returns a copy of the member list.
func (g *Group) Members() []transport.Endpoint {
	return append([]transport.Endpoint(nil), g.members...)
}

// Pick returns the member chosen for the next message.
func (g *Group) Pick() transport.Endpoint { return g.members[g.balancer.Next()] }

func (g *Group) Send(ctx context.Context, env actor.Envelope) error {
	return g.Pick().Send(ctx, env)
}

// Close closes every member, also when some fail.
func (g *Group) Close(ctx context.Context) error {
	g.closeOnce.Do(func() {
		errs := make([]error, len(g.members))
		var wg sync.WaitGroup
		for i, m := range g.members {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := m.Close(ctx); err != nil {
					errs[i] = fmt.Errorf("member %d: %w", i, err)
				}
			}()
		}
		wg.Wait()
		g.closeErr = errors.Join(errs...)
	})
	return g.closeErr
}

var _ transport.Endpoint = (*Group)(nil)
