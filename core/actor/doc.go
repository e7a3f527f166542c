// Package actor provides the mailbox and dispatch core of the runtime.
//
// An actor instance owns exactly one mailbox. Messages are processed one at a
// time in arrival order; distinct instances run concurrently.
//
// # Behaviors
//
// A [Behavior] is a named mapping from message name to handler:
//
//	var Greeter = actor.MustRegister(actor.NewBehavior("greeter",
//	    actor.Handle("greet", func(hc actor.HandlerCtx, name string) (string, error) {
//	        return "Hello, " + name, nil
//	    }),
//	    actor.HandleMsg("log", func(hc actor.HandlerCtx, line string) error {
//	        hc.Log().Info(line)
//	        return nil
//	    }),
//	))
//
// Registering a behavior (see [Register]) makes it resolvable by name in
// other processes, which forked and remote placements require.
//
// # Sending Messages
//
// [Request] waits for the reply, [Tell] only enqueues:
//
//	res, err := actor.Request(ctx, inst, "greet", "World")
//	greeting, err := actor.As[string](res)
//
// Payloads stay Go values in-process. Once a message crosses a serializing
// transport the handler receives a json.RawMessage, which typed handlers
// decode transparently.
//
// # Errors
//
//   - [ErrUnknownMessageKind]: no handler for the message name
//   - [ErrHandlerFailure]: the handler returned an error or panicked (see [HandlerError])
//   - [ErrActorStopped]: the instance no longer accepts messages
package actor
