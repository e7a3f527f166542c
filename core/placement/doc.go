// Package placement decides how many execution units back an actor and how
// messages are routed among them.
//
// A [Config] names the mode (in-memory, forked, threaded, remote), the
// cluster size, the balancer and, for remote mode, the host list. [Build]
// starts the members through a factory and, for more than one member, wraps
// them in a [Group] that forwards every message to the member picked by its
// [Balancer].
package placement
