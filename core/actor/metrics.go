package actor

import "github.com/salespaulo/fvi-actor-system/core/metrics"

// ActorMetrics instruments instances, mailboxes and handler dispatch.
// Every method is labeled by behavior name, never by actor id: ids are
// minted per child and would leave a series behind for each of them.
// All methods are thread-safe.
type ActorMetrics interface {
	// Live instances
	InstanceStarted(behavior string)
	InstanceStopped(behavior string)

	// Message handling
	MessageDuration(behavior, msgName string) metrics.Timer
	MessageProcessed(behavior, msgName string, success bool)
	MessagePanic(behavior, msgName string)

	// Mailbox: every enqueued message is dequeued exactly once, either by
	// dispatch or by the drain on stop
	MessageEnqueued(behavior string)
	MessageDequeued(behavior string)

	// Scheduler
	TaskStarted(behavior string)
	TaskFinished(behavior string, success bool)
	TaskDuration(behavior string) metrics.Timer
}

type nopActorMetrics struct{}

func (nopActorMetrics) InstanceStarted(string) {}
func (nopActorMetrics) InstanceStopped(string) {}

func (nopActorMetrics) MessageDuration(string, string) metrics.Timer { return metrics.NopTimer() }
func (nopActorMetrics) MessageProcessed(string, string, bool)        {}
func (nopActorMetrics) MessagePanic(string, string)                  {}

func (nopActorMetrics) MessageEnqueued(string) {}
func (nopActorMetrics) MessageDequeued(string) {}

func (nopActorMetrics) TaskStarted(string)                {}
func (nopActorMetrics) TaskFinished(string, bool)         {}
func (nopActorMetrics) TaskDuration(string) metrics.Timer { return metrics.NopTimer() }

// NopActorMetrics returns a no-op ActorMetrics implementation.
func NopActorMetrics() ActorMetrics { return nopActorMetrics{} }
