// Package sf deduplicates concurrent calls with the same key.
//
// Only one call per key is in flight at a time; callers arriving while it
// runs wait for it and share its result. Each waiter stops waiting when its
// own context ends, without cancelling the shared call.
//
//	conns := sf.New[*Conn]()
//	c, err := conns.Do(ctx, addr, func(ctx context.Context) (*Conn, error) {
//	    return dial(ctx, addr)
//	})
package sf
