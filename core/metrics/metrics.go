// Package metrics holds the backend-neutral pieces shared by the actor and
// transport metrics interfaces. Backends live under adapters/.
package metrics

import "time"

// Timer measures one operation. Call ObserveDuration when it completes:
//
//	defer m.RoundTripDuration("forked").ObserveDuration()
type Timer interface {
	ObserveDuration()
}

type nopTimer struct{}

func (nopTimer) ObserveDuration() {}

// NopTimer returns a Timer that records nothing.
func NopTimer() Timer { return nopTimer{} }

type funcTimer struct {
	start   time.Time
	observe func(time.Duration)
}

func (t funcTimer) ObserveDuration() { t.observe(time.Since(t.start)) }

// StartTimer starts a Timer that passes the elapsed time to observe.
func StartTimer(observe func(time.Duration)) Timer {
	return funcTimer{start: time.Now(), observe: observe}
}
