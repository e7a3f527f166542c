package transport

import (
	"context"
	"encoding/json"

	"github.com/salespaulo/fvi-actor-system/core/actor"
)

// Kind names the backend behind an Endpoint. The values match the placement
// modes accepted by createChild.
type Kind string

const (
	KindInMemory Kind = "in-memory"
	KindThreaded Kind = "threaded"
	KindForked   Kind = "forked"
	KindRemote   Kind = "remote"
	KindGroup    Kind = "group"
)

type (
	// Endpoint is the location-transparent capability behind an actor
	// reference. Send follows the mailbox contract of [actor.Sender]: it
	// returns once the envelope was handed over and, if env.Reply is set,
	// exactly one reply is delivered on it later.
	Endpoint interface {
		actor.Sender
		ID() string
		Kind() Kind
		// Close stops the actor behind the endpoint and releases every
		// resource the endpoint owns.
		Close(ctx context.Context) error
	}

	// Spawner is implemented by endpoints whose actor lives in another
	// process; children of such actors are created where the parent runs.
	Spawner interface {
		Spawn(ctx context.Context, req SpawnRequest) (Endpoint, error)
	}

	// SpawnRequest asks a host to create an actor.
	SpawnRequest struct {
		ID        string          `json:"id"`
		Behavior  string          `json:"behavior"`
		Placement json.RawMessage `json:"placement,omitempty"`
	}
)
