package system

import (
	"context"
	"log/slog"
	"os"

	"github.com/salespaulo/fvi-actor-system/core/placement"
	"github.com/salespaulo/fvi-actor-system/core/transport"
)

// Init must be the first call of main (and of TestMain in packages that use
// forked placement). In a process started for forked placement it serves
// the parent on the inherited frame pipes until the parent closes them,
// then exits.
// Otherwise it returns false immediately.
//
//	func main() {
//	    system.Init()
//	    ...
//	}
func Init(opts ...Option) bool {
	if !transport.IsChild() {
		return false
	}
	os.Exit(serveChild(opts...))
	return true
}

func serveChild(opts ...Option) int {
	cfg, cfgErr := configFromEnv()
	s := New(cfg, opts...)
	log := s.log.With(slog.Int("pid", os.Getpid()))
	if cfgErr != nil {
		log.Error("invalid config from parent, using defaults", slog.Any("error", cfgErr))
	}
	log.Debug("forked child started")

	host := newHost(s, placement.ModeInMemory)
	s.mu.Lock()
	s.host = host
	s.state = StateRunning
	s.mu.Unlock()

	if err := transport.ServeParent(s.ctx, host, log); err != nil {
		log.Error("forked child cannot reach its parent", slog.Any("error", err))
		_ = s.Destroy(context.Background())
		return 1
	}

	if err := s.Destroy(context.Background()); err != nil {
		log.Error("forked child teardown failed", slog.Any("error", err))
		return 1
	}
	log.Debug("forked child exiting")
	return 0
}
