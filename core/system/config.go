package system

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/salespaulo/fvi-actor-system/core/actor"
	"github.com/salespaulo/fvi-actor-system/core/logging"
	"github.com/salespaulo/fvi-actor-system/core/placement"
	"github.com/salespaulo/fvi-actor-system/core/transport"
)

const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultSpawnTimeout   = 10 * time.Second
	DefaultErrorBuffer    = 128

	// configEnv carries the parent's config to forked children.
	configEnv = "FVI_ACTOR_CONFIG"
)

// Config of a System. The zero value is usable.
type Config struct {
	Log logging.Config `json:"log" yaml:"log"`
	// ListenAddr is bound by Listen. Defaults to all interfaces on
	// transport.DefaultPort.
	ListenAddr string `json:"listenAddr,omitempty" yaml:"listenAddr,omitempty"`
	// RequestTimeout bounds every SendAndReceive, whatever the placement.
	RequestTimeout time.Duration `json:"requestTimeout,omitempty" yaml:"requestTimeout,omitempty"`
	// SpawnTimeout bounds starting a forked child.
	SpawnTimeout time.Duration `json:"spawnTimeout,omitempty" yaml:"spawnTimeout,omitempty"`
	// ConnectTimeout bounds dialing and handshaking a remote host.
	ConnectTimeout time.Duration `json:"connectTimeout,omitempty" yaml:"connectTimeout,omitempty"`
	// RemoteHostMode is the placement of actors spawned by remote peers.
	RemoteHostMode placement.Mode `json:"remoteHostMode,omitempty" yaml:"remoteHostMode,omitempty"`
	MailboxSize    int            `json:"mailboxSize,omitempty" yaml:"mailboxSize,omitempty"`
}

func (c Config) withDefaults() Config {
	if c.ListenAddr == "" {
		c.ListenAddr = transport.NormalizeAddr("")
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.SpawnTimeout <= 0 {
		c.SpawnTimeout = DefaultSpawnTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = transport.DefaultConnectTimeout
	}
	if c.RemoteHostMode == "" {
		c.RemoteHostMode = placement.ModeForked
	}
	return c
}

type options struct {
	log              *slog.Logger
	registry         *actor.Registry
	actorMetrics     actor.ActorMetrics
	transportMetrics transport.TransportMetrics
	dialers          map[string]transport.Dialer
	listeners        []transport.Listener
	errorBuffer      int
	executable       string
	executableArgs   []string
}

// Option configures a System.
type Option func(*options)

// WithLogger replaces the logger built from Config.Log.
func WithLogger(log *slog.Logger) Option { return func(o *options) { o.log = log } }

// WithRegistry sets the registry used to resolve behaviors by name.
func WithRegistry(r *actor.Registry) Option { return func(o *options) { o.registry = r } }

func WithMetrics(am actor.ActorMetrics, tm transport.TransportMetrics) Option {
	return func(o *options) {
		o.actorMetrics = am
		o.transportMetrics = tm
	}
}

// WithDialer registers a dialer for remote hosts with the given address
// scheme, e.g. "nats".
func WithDialer(scheme string, d transport.Dialer) Option {
	return func(o *options) {
		if o.dialers == nil {
			o.dialers = make(map[string]transport.Dialer)
		}
		o.dialers[scheme] = d
	}
}

// WithListener adds a listener started by Listen next to the TCP one.
func WithListener(l transport.Listener) Option {
	return func(o *options) { o.listeners = append(o.listeners, l) }
}

// WithErrorBuffer sets the capacity of the Errors channel.
func WithErrorBuffer(n int) Option { return func(o *options) { o.errorBuffer = n } }

// WithExecutable sets the binary started for forked placement. It defaults
// to the running executable.
func WithExecutable(path string, args ...string) Option {
	return func(o *options) {
		o.executable = path
		o.executableArgs = args
	}
}

func (c Config) env() []string {
	data, err := json.Marshal(c)
	if err != nil {
		return nil
	}
	return []string{configEnv + "=" + string(data)}
}

// configFromEnv reads the config a parent passed to its forked child. A
// malformed value yields the zero Config and the decode error.
func configFromEnv() (Config, error) {
	v := os.Getenv(configEnv)
	if v == "" {
		return Config{}, nil
	}
	var c Config
	if err := json.Unmarshal([]byte(v), &c); err != nil {
		return Config{}, fmt.Errorf("decode %s: %w", configEnv, err)
	}
	return c, nil
}
