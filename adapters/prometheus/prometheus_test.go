package prometheus

import (
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salespaulo/fvi-actor-system/core/actor"
)

func TestNewActorMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewActorMetrics(reg)
	require.NotNil(t, m)

	m.InstanceStarted("greeter")
	timer := m.MessageDuration("greeter", "greet")
	assert.NotNil(t, timer)
	timer.ObserveDuration()
	m.MessageProcessed("greeter", "greet", true)
	m.MessageProcessed("greeter", "greet", false)
	m.MessagePanic("greeter", "greet")
	m.MessageEnqueued("greeter")
	m.MessageDequeued("greeter")

	m.TaskStarted("greeter")
	timer = m.TaskDuration("greeter")
	assert.NotNil(t, timer)
	timer.ObserveDuration()
	m.TaskFinished("greeter", true)
	m.InstanceStopped("greeter")

	mfs, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	assert.True(t, names["fvi_actor_instances"])
	assert.True(t, names["fvi_actor_mailbox_messages"])
	assert.True(t, names["fvi_actor_message_duration_seconds"])
	assert.True(t, names["fvi_actor_messages_total"])
	assert.True(t, names["fvi_actor_tasks_total"])
}

func TestNewTransportMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewTransportMetrics(reg)

	require.NotNil(t, m)

	timer := m.RoundTripDuration("forked")
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	m.RequestCompleted("forked", true)
	m.RequestCompleted("remote", false)
	m.NotifyCompleted("remote", true)

	m.TransportError("connect")
	m.TransportError("timeout")

	timer = m.FrameDuration("deliver")
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	m.FrameHandled("deliver", true)
	m.SessionsActive(2)
	m.ProcessesActive(3)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)

	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}

	assert.True(t, names["fvi_transport_round_trip_duration_seconds"])
	assert.True(t, names["fvi_transport_errors_total"])
	assert.True(t, names["fvi_transport_processes_active"])
}

func TestNewAllMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewAllMetrics(reg)

	require.NotNil(t, m)
	require.NotNil(t, m.Actor)
	require.NotNil(t, m.Transport)

	// All metrics should be usable
	m.Actor.MessageProcessed("test", "ping", true)
	m.Transport.RequestCompleted("remote", true)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)
}

func TestActorMetrics_with_instance(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewActorMetrics(reg)

	b := actor.NewBehavior("counter",
		actor.Handle("inc", func(hc actor.HandlerCtx, n int) (int, error) { return n + 1, nil }),
	)
	inst, err := actor.New(b, actor.Options{ID: "c1", Metrics: m})
	require.NoError(t, err)
	defer inst.Stop()

	for range 3 {
		_, err := actor.Request(t.Context(), inst, "inc", 1)
		require.NoError(t, err)
	}

	am := m.(*actorMetrics)
	assert.Equal(t, 3.0, testutil.ToFloat64(am.messages.WithLabelValues("counter", "inc", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(am.instances.WithLabelValues("counter")))
	assert.Equal(t, 0.0, testutil.ToFloat64(am.mailbox.WithLabelValues("counter")))
}

func TestActorMetrics_series_do_not_grow_with_instances(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewActorMetrics(reg)
	am := m.(*actorMetrics)

	b := actor.NewBehavior("child",
		actor.Handle("ping", func(hc actor.HandlerCtx, _ any) (string, error) { return "pong", nil }),
	)
	for i := range 20 {
		inst, err := actor.New(b, actor.Options{ID: fmt.Sprintf("child-%d", i), Metrics: m})
		require.NoError(t, err)
		_, err = actor.Request(t.Context(), inst, "ping", nil)
		require.NoError(t, err)
		inst.Stop()
	}

	assert.Equal(t, 1, testutil.CollectAndCount(am.instances))
	assert.Equal(t, 1, testutil.CollectAndCount(am.mailbox))
	assert.Equal(t, 0.0, testutil.ToFloat64(am.instances.WithLabelValues("child")))
	assert.Equal(t, 20.0, testutil.ToFloat64(am.messages.WithLabelValues("child", "ping", "true")))
}

func TestActorMetrics_mailbox_drained_on_stop(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewActorMetrics(reg)
	am := m.(*actorMetrics)

	release := make(chan struct{})
	b := actor.NewBehavior("blocking",
		actor.Handle("wait", func(hc actor.HandlerCtx, _ any) (any, error) {
			<-release
			return nil, nil
		}),
	)
	inst, err := actor.New(b, actor.Options{ID: "b1", Metrics: m})
	require.NoError(t, err)

	replies := make(chan actor.Reply, 6)
	for range 6 {
		require.NoError(t, inst.Send(t.Context(), actor.Envelope{Name: "wait", Reply: replies}))
	}

	stopped := make(chan struct{})
	go func() {
		inst.Stop()
		close(stopped)
	}()
	close(release)
	<-stopped

	assert.Equal(t, 0.0, testutil.ToFloat64(am.mailbox.WithLabelValues("blocking")))
	assert.Equal(t, 0.0, testutil.ToFloat64(am.instances.WithLabelValues("blocking")))
}

func TestBoolToStr(t *testing.T) {
	assert.Equal(t, "true", boolToStr(true))
	assert.Equal(t, "false", boolToStr(false))
}
