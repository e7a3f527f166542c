package placement

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Mode selects where the members of an actor run.
type Mode string

const (
	ModeInMemory Mode = "in-memory"
	ModeForked   Mode = "forked"
	ModeThreaded Mode = "threaded"
	ModeRemote   Mode = "remote"
)

// BalancerKind selects how messages are spread over the members of a group.
type BalancerKind string

const (
	RoundRobin BalancerKind = "round-robin"
	Random     BalancerKind = "random"
)

// Config is the placement of a child actor.
type Config struct {
	Mode        Mode         `json:"mode,omitempty" yaml:"mode,omitempty"`
	ClusterSize int          `json:"clusterSize,omitempty" yaml:"clusterSize,omitempty"`
	Balancer    BalancerKind `json:"balancer,omitempty" yaml:"balancer,omitempty"`
	Host        []string     `json:"host,omitempty" yaml:"host,omitempty"`
}

// Option modifies a Config.
type Option func(*Config)

func WithMode(m Mode) Option { return func(c *Config) { c.Mode = m } }

func WithClusterSize(n int) Option { return func(c *Config) { c.ClusterSize = n } }

func WithBalancer(b BalancerKind) Option { return func(c *Config) { c.Balancer = b } }

func WithHost(hosts ...string) Option { return func(c *Config) { c.Host = hosts } }

// WithConfig replaces the whole config.
func WithConfig(cfg Config) Option { return func(c *Config) { *c = cfg } }

// New builds a Config from opts and fills in defaults. It does not validate.
func New(opts ...Option) Config {
	var c Config
	for _, opt := range opts {
		opt(&c)
	}
	return c.WithDefaults()
}

// WithDefaults returns c with unset fields defaulted: in-memory, one member,
// round-robin.
func (c Config) WithDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModeInMemory
	}
	if c.ClusterSize == 0 {
		c.ClusterSize = 1
	}
	if c.Balancer == "" {
		c.Balancer = RoundRobin
	}
	c.Host = slices.Clone(c.Host)
	return c
}

// Validate checks c against the recognized option set. Defaults must have
// been applied.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeInMemory, ModeForked, ModeThreaded, ModeRemote:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidPlacementConfig, c.Mode)
	}
	switch c.Balancer {
	case RoundRobin, Random:
	default:
		return fmt.Errorf("%w: unknown balancer %q", ErrInvalidPlacementConfig, c.Balancer)
	}
	if c.ClusterSize < 1 {
		return fmt.Errorf("%w: clusterSize must be >= 1, got %d", ErrInvalidPlacementConfig, c.ClusterSize)
	}
	if c.ClusterSize > 1 && c.Mode == ModeInMemory {
		return fmt.Errorf("%w: clusterSize %d requires forked, threaded or remote mode", ErrInvalidPlacementConfig, c.ClusterSize)
	}
	if c.Mode == ModeRemote {
		if len(c.Host) == 0 {
			return ErrMissingHostList
		}
		for i, h := range c.Host {
			if h == "" {
				return fmt.Errorf("%w: empty host at index %d", ErrInvalidPlacementConfig, i)
			}
		}
	}
	return nil
}

// HostFor returns the host of member i; members are spread over the host
// list round-robin.
func (c Config) HostFor(i int) string {
	if len(c.Host) == 0 {
		return ""
	}
	return c.Host[i%len(c.Host)]
}

// Single reports whether the placement yields exactly one member.
func (c Config) Single() bool { return c.ClusterSize <= 1 }

// Marshal returns the JSON form used in spawn frames.
func (c Config) Marshal() json.RawMessage {
	data, _ := json.Marshal(c)
	return data
}

// Unmarshal decodes a placement from a spawn frame. Empty data yields def.
func Unmarshal(data json.RawMessage, def Config) (Config, error) {
	if len(data) == 0 || string(data) == "null" {
		return def.WithDefaults(), nil
	}
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidPlacementConfig, err)
	}
	return c.WithDefaults(), nil
}
