// Package transport carries actor messages across placement boundaries.
//
// Every actor reference is backed by an [Endpoint]. In-process placements
// wrap an actor instance directly ([MemoryEndpoint], [ThreadedEndpoint]);
// forked and remote placements use a [ProxyEndpoint] that exchanges
// [Frame] values with a host process over a [Conn].
//
// # Wire protocol
//
// Frames are newline-delimited JSON. A client opens a stream with a hello
// request, creates actors with spawn, sends messages with deliver and ends
// actors with stop. Requests carry a correlation ID echoed by the reply.
// Fire-and-forget deliveries set NoReply; when they fail the host pushes a
// fault frame.
//
// # Backends
//
//   - [SpawnForked]: one child process per actor, frames over two
//     inherited pipes, stdout and stderr left to the program
//   - [TCPDialer] and [TCPListener]: remote hosts, default port [DefaultPort]
//   - adapters/nats: the same frames over NATS subjects
//
// The host side is implemented by a [FrameHandler] served with
// [ServeStream]. Frames for the same actor are handled in arrival order.
package transport
