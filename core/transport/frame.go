package transport

import (
	"encoding/json"
	"errors"

	"github.com/salespaulo/fvi-actor-system/core/actor"
)

type FrameKind string

const (
	FrameHello   FrameKind = "hello"
	FrameSpawn   FrameKind = "spawn"
	FrameDeliver FrameKind = "deliver"
	FrameReply   FrameKind = "reply"
	FrameFault   FrameKind = "fault"
	FrameStop    FrameKind = "stop"
)

// Frame is the single wire unit shared by the forked, remote and NATS
// backends. Requests carry a correlation ID; the matching reply echoes it.
type Frame struct {
	Kind      FrameKind       `json:"kind"`
	ID        uint64          `json:"id,omitempty"`
	Actor     string          `json:"actor,omitempty"`
	Parent    string          `json:"parent,omitempty"`
	Name      string          `json:"name,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Behavior  string          `json:"behavior,omitempty"`
	Placement json.RawMessage `json:"placement,omitempty"`
	NoReply   bool            `json:"no_reply,omitempty"`
	Node      string          `json:"node,omitempty"`
	PID       int             `json:"pid,omitempty"`
	Err       *WireError      `json:"err,omitempty"`
}

// ReplyTo builds the reply frame for a request.
func (f Frame) ReplyTo() Frame {
	return Frame{Kind: FrameReply, ID: f.ID, Actor: f.Actor, Name: f.Name}
}

// WithError sets the encoded form of err on the frame.
func (f Frame) WithError(err error) Frame {
	f.Err = EncodeError(err)
	return f
}

// WireError is an error that crossed a process boundary. Kind keeps the
// sentinel so errors.Is works on the receiving side.
type WireError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Actor   string `json:"actor,omitempty"`
	Name    string `json:"name,omitempty"`
}

var wireKinds = []struct {
	kind string
	err  error
}{
	{"unknown_message", actor.ErrUnknownMessageKind},
	{"actor_stopped", actor.ErrActorStopped},
	{"invalid_behavior", actor.ErrInvalidBehavior},
	{"behavior_not_registered", actor.ErrBehaviorNotRegistered},
	{"unknown_actor", ErrUnknownActor},
	{"spawn", ErrSpawnFailure},
	{"connect", ErrConnectFailure},
	{"timeout", ErrTimeout},
	{"closed", ErrTransportClosed},
}

// EncodeError converts err for the wire. Handler failures keep only the
// user error text; the receiver rebuilds an *actor.HandlerError.
func EncodeError(err error) *WireError {
	if err == nil {
		return nil
	}
	var he *actor.HandlerError
	if errors.As(err, &he) {
		return &WireError{Kind: "handler", Message: he.Err.Error(), Actor: he.Actor, Name: he.Message}
	}
	for _, k := range wireKinds {
		if errors.Is(err, k.err) {
			return &WireError{Kind: k.kind, Message: err.Error()}
		}
	}
	return &WireError{Kind: "error", Message: err.Error()}
}

// Err rebuilds the error on the receiving side.
func (w *WireError) Err() error {
	if w == nil {
		return nil
	}
	if w.Kind == "handler" {
		return &actor.HandlerError{Actor: w.Actor, Message: w.Name, Err: errors.New(w.Message)}
	}
	for _, k := range wireKinds {
		if k.kind == w.Kind {
			return &remoteError{msg: w.Message, sentinel: k.err}
		}
	}
	return errors.New(w.Message)
}

type remoteError struct {
	msg      string
	sentinel error
}

func (e *remoteError) Error() string        { return e.msg }
func (e *remoteError) Is(target error) bool { return target == e.sentinel }
