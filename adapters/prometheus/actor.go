package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/salespaulo/fvi-actor-system/core/actor"
	"github.com/salespaulo/fvi-actor-system/core/metrics"
)

const actorSubsystem = "actor"

// actorMetrics implements actor.ActorMetrics. Series are keyed by behavior
// (and message name), which stay bounded however many children are created.
type actorMetrics struct {
	instances       *prometheus.GaugeVec
	mailbox         *prometheus.GaugeVec
	messageDuration *prometheus.HistogramVec
	messages        *prometheus.CounterVec
	panics          *prometheus.CounterVec
	tasksInflight   *prometheus.GaugeVec
	taskDuration    *prometheus.HistogramVec
	tasks           *prometheus.CounterVec
}

func actorGauge(name, help string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: actorSubsystem, Name: name, Help: help,
	}, []string{"behavior"})
}

func actorHistogram(name, help string, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: actorSubsystem, Name: name, Help: help,
		Buckets: defaultBuckets,
	}, append([]string{"behavior"}, labels...))
}

func actorCounter(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: actorSubsystem, Name: name, Help: help,
	}, append([]string{"behavior"}, labels...))
}

// NewActorMetrics creates and registers the actor metrics.
func NewActorMetrics(reg prometheus.Registerer) actor.ActorMetrics {
	m := &actorMetrics{
		instances:       actorGauge("instances", "Running actor instances"),
		mailbox:         actorGauge("mailbox_messages", "Messages waiting in the mailboxes of a behavior"),
		messageDuration: actorHistogram("message_duration_seconds", "Handler execution time in seconds", "message"),
		messages:        actorCounter("messages_total", "Messages handled", "message", "success"),
		panics:          actorCounter("panics_total", "Handler panics", "message"),
		tasksInflight:   actorGauge("tasks_inflight", "Background tasks running"),
		taskDuration:    actorHistogram("task_duration_seconds", "Background task duration in seconds"),
		tasks:           actorCounter("tasks_total", "Background tasks completed", "success"),
	}
	reg.MustRegister(
		m.instances, m.mailbox,
		m.messageDuration, m.messages, m.panics,
		m.tasksInflight, m.taskDuration, m.tasks,
	)
	return m
}

func (m *actorMetrics) InstanceStarted(behavior string) { m.instances.WithLabelValues(behavior).Inc() }
func (m *actorMetrics) InstanceStopped(behavior string) { m.instances.WithLabelValues(behavior).Dec() }

func (m *actorMetrics) MessageDuration(behavior, msgName string) metrics.Timer {
	return newTimer(m.messageDuration.WithLabelValues(behavior, msgName))
}

func (m *actorMetrics) MessageProcessed(behavior, msgName string, success bool) {
	m.messages.WithLabelValues(behavior, msgName, boolToStr(success)).Inc()
}

func (m *actorMetrics) MessagePanic(behavior, msgName string) {
	m.panics.WithLabelValues(behavior, msgName).Inc()
}

func (m *actorMetrics) MessageEnqueued(behavior string) { m.mailbox.WithLabelValues(behavior).Inc() }
func (m *actorMetrics) MessageDequeued(behavior string) { m.mailbox.WithLabelValues(behavior).Dec() }

func (m *actorMetrics) TaskStarted(behavior string) { m.tasksInflight.WithLabelValues(behavior).Inc() }

func (m *actorMetrics) TaskFinished(behavior string, success bool) {
	m.tasksInflight.WithLabelValues(behavior).Dec()
	m.tasks.WithLabelValues(behavior, boolToStr(success)).Inc()
}

func (m *actorMetrics) TaskDuration(behavior string) metrics.Timer {
	return newTimer(m.taskDuration.WithLabelValues(behavior))
}

var _ actor.ActorMetrics = (*actorMetrics)(nil)
