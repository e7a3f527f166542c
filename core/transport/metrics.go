package transport

import (
	"errors"

	"github.com/salespaulo/fvi-actor-system/core/metrics"
)

// TransportMetrics instruments endpoints and hosts.
// All methods are thread-safe.
type TransportMetrics interface {
	// Client side, labeled by endpoint kind
	RoundTripDuration(kind string) metrics.Timer
	RequestCompleted(kind string, success bool)
	NotifyCompleted(kind string, success bool)

	// Transport errors: connect, timeout, closed, spawn
	TransportError(errorType string)

	// Host side, labeled by frame kind
	FrameDuration(frameKind string) metrics.Timer
	FrameHandled(frameKind string, success bool)
	SessionsActive(count int)

	// Processes started for forked placement
	ProcessesActive(count int)
}

type nopTransportMetrics struct{}

func (nopTransportMetrics) RoundTripDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopTransportMetrics) RequestCompleted(string, bool)          {}
func (nopTransportMetrics) NotifyCompleted(string, bool)           {}

func (nopTransportMetrics) TransportError(string) {}

func (nopTransportMetrics) FrameDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopTransportMetrics) FrameHandled(string, bool)          {}
func (nopTransportMetrics) SessionsActive(int)                 {}

func (nopTransportMetrics) ProcessesActive(int) {}

// NopTransportMetrics returns a no-op TransportMetrics implementation.
func NopTransportMetrics() TransportMetrics { return nopTransportMetrics{} }

// errorLabel maps known transport errors to metric labels.
func errorLabel(err error) string {
	switch {
	case errors.Is(err, ErrConnectFailure):
		return "connect"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrTransportClosed):
		return "closed"
	case errors.Is(err, ErrSpawnFailure):
		return "spawn"
	}
	return ""
}
