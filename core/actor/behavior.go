package actor

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

type (
	// HandlerFunc is the untyped handler signature stored in a Behavior.
	// payload is either an in-process Go value or a json.RawMessage when the
	// message crossed a serializing transport.
	HandlerFunc func(hc HandlerCtx, payload any) (any, error)

	// HandlerInitFunc is called once when an instance of the behavior starts.
	HandlerInitFunc func(hc HandlerCtx) error

	// HandlerRegistrar collects handlers while a Behavior is being built.
	HandlerRegistrar interface {
		Register(msgName string, h HandlerFunc)
		OnInit(f HandlerInitFunc)
	}

	// HandlerRegistration registers handlers with a registrar.
	// Create these using [Handle], [HandleMsg] and [Init].
	HandlerRegistration func(registrar HandlerRegistrar)
)

// Behavior is a named, immutable mapping from message name to handler.
// The same Behavior may back many actor instances (a cluster group); it must
// not carry per-instance state outside of what handlers close over.
type Behavior struct {
	name     string
	handlers map[string]HandlerFunc
	inits    []HandlerInitFunc
	err      error
}

type behaviorBuilder struct{ b *Behavior }

func (r behaviorBuilder) Register(msgName string, h HandlerFunc) {
	if msgName == "" {
		r.b.err = fmt.Errorf("%w: empty message name", ErrInvalidBehavior)
		return
	}
	if h == nil {
		r.b.err = fmt.Errorf("%w: nil handler for %q", ErrInvalidBehavior, msgName)
		return
	}
	r.b.handlers[msgName] = h
}

func (r behaviorBuilder) OnInit(f HandlerInitFunc) {
	if f != nil {
		r.b.inits = append(r.b.inits, f)
	}
}

// NewBehavior builds a Behavior from the given registrations. Validation
// errors are reported by [Behavior.Validate].
//
//	greeter := actor.NewBehavior("greeter",
//	    actor.Handle("greet", func(hc actor.HandlerCtx, name string) (string, error) {
//	        return "Hello, " + name, nil
//	    }),
//	)
func NewBehavior(name string, regs ...HandlerRegistration) *Behavior {
	b := &Behavior{
		name:     name,
		handlers: make(map[string]HandlerFunc),
	}
	builder := behaviorBuilder{b: b}
	for _, reg := range regs {
		if reg != nil {
			reg(builder)
		}
	}
	return b
}

// Name returns the behavior name used to resolve it in other processes.
func (b *Behavior) Name() string { return b.name }

// Messages returns the sorted list of message names the behavior handles.
func (b *Behavior) Messages() []string {
	out := make([]string, 0, len(b.handlers))
	for k := range b.handlers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Validate reports whether the behavior is a usable non-empty mapping.
func (b *Behavior) Validate() error {
	switch {
	case b == nil:
		return fmt.Errorf("%w: nil behavior", ErrInvalidBehavior)
	case b.err != nil:
		return b.err
	case b.name == "":
		return fmt.Errorf("%w: missing name", ErrInvalidBehavior)
	case len(b.handlers) == 0:
		return fmt.Errorf("%w: %q has no handlers", ErrInvalidBehavior, b.name)
	}
	return nil
}

func (b *Behavior) handler(msgName string) (HandlerFunc, bool) {
	h, ok := b.handlers[msgName]
	return h, ok
}

// Init registers a function called when an instance starts, before it
// processes its first message. An init error aborts the instance start.
func Init(f HandlerInitFunc) HandlerRegistration {
	return func(registrar HandlerRegistrar) {
		registrar.OnInit(f)
	}
}

// Handle registers a request handler for msgName. The payload is decoded into
// IN; the returned OUT becomes the reply of a request.
func Handle[IN any, OUT any](msgName string, h func(hc HandlerCtx, in IN) (OUT, error)) HandlerRegistration {
	return func(registrar HandlerRegistrar) {
		if h == nil {
			registrar.Register(msgName, nil)
			return
		}
		registrar.Register(msgName, func(hc HandlerCtx, payload any) (any, error) {
			in, err := decodePayload[IN](payload)
			if err != nil {
				return nil, err
			}
			return h(hc, in)
		})
	}
}

// HandleMsg registers a handler that produces no reply value.
func HandleMsg[IN any](msgName string, h func(hc HandlerCtx, in IN) error) HandlerRegistration {
	if h == nil {
		return Handle[IN, any](msgName, nil)
	}
	return Handle(msgName, func(hc HandlerCtx, in IN) (any, error) {
		return nil, h(hc, in)
	})
}

// decodePayload converts an in-process value or raw JSON into IN.
func decodePayload[IN any](payload any) (in IN, err error) {
	if v, ok := payload.(IN); ok {
		return v, nil
	}
	switch p := payload.(type) {
	case nil:
		return in, nil
	case json.RawMessage:
		if len(p) == 0 {
			return in, nil
		}
		if err = json.Unmarshal(p, &in); err != nil {
			return in, fmt.Errorf("decode payload: %w", err)
		}
		return in, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return in, fmt.Errorf("encode payload: %w", err)
	}
	if err = json.Unmarshal(data, &in); err != nil {
		return in, fmt.Errorf("convert payload %T: %w", payload, err)
	}
	return in, nil
}

// Registry resolves behaviors by name. Forked and remote placements only ship
// the behavior name; the hosting process looks it up in its registry.
type Registry struct {
	mu sync.RWMutex
	m  map[string]*Behavior
}

func NewRegistry() *Registry {
	return &Registry{m: make(map[string]*Behavior)}
}

// DefaultRegistry is used when no registry is configured explicitly.
var DefaultRegistry = NewRegistry()

// Register adds b. Registering the same *Behavior twice is a no-op;
// a different behavior under an existing name fails.
func (r *Registry) Register(b *Behavior) error {
	if err := b.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.m[b.name]; ok && cur != b {
		return fmt.Errorf("%w: %q", ErrBehaviorAlreadyDefined, b.name)
	}
	r.m[b.name] = b
	return nil
}

func (r *Registry) Lookup(name string) (*Behavior, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.m[name]
	return b, ok
}

// Register adds b to the DefaultRegistry.
func Register(b *Behavior) error { return DefaultRegistry.Register(b) }

// MustRegister is like Register but panics on error. Intended for package
// level variables:
//
//	var Greeter = actor.MustRegister(actor.NewBehavior("greeter", ...))
func MustRegister(b *Behavior) *Behavior {
	if err := Register(b); err != nil {
		panic(err)
	}
	return b
}

// Lookup finds a behavior in the DefaultRegistry.
func Lookup(name string) (*Behavior, bool) { return DefaultRegistry.Lookup(name) }
