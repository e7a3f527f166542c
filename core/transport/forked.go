package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync/atomic"
	"time"
)

const (
	// ChildEnv marks a process started for forked placement.
	ChildEnv = "FVI_ACTOR_CHILD"
	// DefaultGracePeriod is how long a child may take to exit after its
	// frame input was closed before it is killed.
	DefaultGracePeriod = 5 * time.Second

	// frame pipes of a child, after stdin, stdout and stderr
	childFramesIn  = 3
	childFramesOut = 4
)

// IsChild reports whether the current process was started as a forked host.
func IsChild() bool { return os.Getenv(ChildEnv) == "1" }

// ForkOptions configures SpawnForked.
type ForkOptions struct {
	// Path of the executable to start; defaults to os.Executable(). The
	// program must hand control to the child host when IsChild is true.
	Path string
	Args []string
	// Env is appended to the parent's environment.
	Env []string

	ID        string
	Behavior  string
	Placement []byte

	StartTimeout time.Duration
	GracePeriod  time.Duration
	// OnFault receives failures of fire-and-forget deliveries.
	OnFault func(f Frame)
	Log     *slog.Logger
	Metrics TransportMetrics
}

var processesActive atomic.Int64

// SpawnForked starts a child process hosting a single actor and returns an
// endpoint connected to it over two dedicated pipes. The child's stdout and
// stderr are shared with the parent, so handlers may print freely. Closing
// the endpoint stops the actor, closes the child's frame input and reaps the
// process.
func SpawnForked(ctx context.Context, opt ForkOptions) (*ProxyEndpoint, error) {
	if opt.Path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("%w: resolve executable: %w", ErrSpawnFailure, err)
		}
		opt.Path = exe
	}
	if opt.StartTimeout <= 0 {
		opt.StartTimeout = DefaultConnectTimeout
	}
	if opt.GracePeriod <= 0 {
		opt.GracePeriod = DefaultGracePeriod
	}
	if opt.Log == nil {
		opt.Log = slog.Default()
	}
	if opt.Metrics == nil {
		opt.Metrics = NopTransportMetrics()
	}
	log := opt.Log.With(slog.String("actor", opt.ID))

	// the child outlives the spawning request; exec.CommandContext would
	// kill it when ctx ends
	cmd := exec.Command(opt.Path, opt.Args...)
	cmd.Env = append(append(os.Environ(), ChildEnv+"=1"), opt.Env...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	// parent writes toChild, reads fromChild
	childIn, toChild, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpawnFailure, err)
	}
	fromChild, childOut, err := os.Pipe()
	if err != nil {
		_, _ = childIn.Close(), toChild.Close()
		return nil, fmt.Errorf("%w: %w", ErrSpawnFailure, err)
	}
	cmd.ExtraFiles = []*os.File{childIn, childOut}

	err = cmd.Start()
	// the child holds its own copies now
	_, _ = childIn.Close(), childOut.Close()
	if err != nil {
		_, _ = toChild.Close(), fromChild.Close()
		opt.Metrics.TransportError("spawn")
		return nil, fmt.Errorf("%w: start %s: %w", ErrSpawnFailure, opt.Path, err)
	}
	opt.Metrics.ProcessesActive(int(processesActive.Add(1)))

	peer := NewPeer(NewJSONCodec(fromChild, toChild, multiCloser{toChild, fromChild}), log, opt.OnFault)
	proc := &childProcess{cmd: cmd, frames: toChild, peer: peer, grace: opt.GracePeriod, log: log, metrics: opt.Metrics}

	startCtx, cancel := context.WithTimeout(ctx, opt.StartTimeout)
	defer cancel()

	hello, err := Handshake(startCtx, peer)
	if err != nil {
		_ = proc.shutdown(context.Background())
		opt.Metrics.TransportError("spawn")
		return nil, fmt.Errorf("%w: child handshake: %w", ErrSpawnFailure, err)
	}
	if _, err := RoundTrip(startCtx, peer, Frame{
		Kind:      FrameSpawn,
		Actor:     opt.ID,
		Behavior:  opt.Behavior,
		Placement: opt.Placement,
	}); err != nil {
		_ = proc.shutdown(context.Background())
		opt.Metrics.TransportError("spawn")
		return nil, fmt.Errorf("%w: %s in child %d: %w", ErrSpawnFailure, opt.Behavior, hello.PID, err)
	}
	log.Debug("forked actor started", slog.Int("pid", hello.PID), slog.String("behavior", opt.Behavior))

	return NewProxyEndpoint(ProxyOptions{
		ID:      opt.ID,
		Kind:    KindForked,
		Conn:    peer,
		PID:     hello.PID,
		Log:     opt.Log,
		Metrics: opt.Metrics,
		Release: proc.shutdown,
	}), nil
}

type childProcess struct {
	cmd     *exec.Cmd
	frames  io.Closer
	peer    *Peer
	grace   time.Duration
	log     *slog.Logger
	metrics TransportMetrics
}

// shutdown closes the child's frame input, waits for it to exit and kills
// it once the grace period is over.
func (p *childProcess) shutdown(ctx context.Context) error {
	_ = p.frames.Close()

	timer := time.NewTimer(p.grace)
	defer timer.Stop()

	var killed bool
	select {
	case <-p.peer.Done():
	case <-timer.C:
		killed = true
	case <-ctx.Done():
		killed = true
	}
	if killed {
		p.log.Warn("child did not exit in time, killing", slog.Int("pid", p.cmd.Process.Pid))
		_ = p.cmd.Process.Kill()
		<-p.peer.Done()
	}

	err := p.cmd.Wait()
	p.metrics.ProcessesActive(int(processesActive.Add(-1)))

	var exitErr *exec.ExitError
	if killed && errors.As(err, &exitErr) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("child %d: %w", p.cmd.Process.Pid, err)
	}
	return nil
}

// ServeParent serves the host side of a forked child on the frame pipes
// inherited from the parent until the parent closes them. Stdout and stderr
// stay free for the program.
func ServeParent(ctx context.Context, h FrameHandler, log *slog.Logger) error {
	in := os.NewFile(childFramesIn, "fvi-frames-in")
	out := os.NewFile(childFramesOut, "fvi-frames-out")
	for _, f := range []*os.File{in, out} {
		if _, err := f.Stat(); err != nil {
			return fmt.Errorf("%w: frame pipe %s not inherited: %w", ErrTransportClosed, f.Name(), err)
		}
	}
	ServeStream(ctx, NewJSONCodec(in, out, multiCloser{in, out}), h, log)
	return nil
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var errs []error
	for _, c := range m {
		if err := c.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
