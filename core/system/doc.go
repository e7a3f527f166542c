// Package system is the entry point of the actor runtime.
//
// A [System] owns a tree of actors rooted at [System.RootActor]. Children
// are created with [ActorRef.CreateChild] and a placement: in-memory
// (default), threaded, forked (one child process per member) or remote
// (hosts that called [System.Listen]). A cluster size above one starts that
// many members behind a single reference that balances every message.
//
//	sys := system.New(system.Config{})
//	defer sys.Destroy(ctx)
//
//	root, _ := sys.RootActor(ctx)
//	greeter, _ := root.CreateChild(ctx, Greeter,
//	    placement.WithMode(placement.ModeForked),
//	    placement.WithClusterSize(3),
//	)
//	msg, _ := system.Ask[string](ctx, greeter, "greet", "World")
//
// Forked and remote placement start behaviors by name, so they must be
// registered with [actor.MustRegister] in every participating binary, and
// the binary must call [Init] first thing in main.
//
// Fire-and-forget failures are reported on [System.Errors]. [System.Destroy]
// tears everything down and reports all failures at once.
package system
