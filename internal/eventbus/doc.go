// Package eventbus relays operation lifecycle signals (start, progress, end)
// between page regions that do not know about each other. A Bus is passed by
// reference to publishers and subscribers; it retains no state between
// publishes, does not replay for late subscribers, and delivers synchronously
// in subscription order. The Meter type is the reference subscriber that
// turns the signal stream into a visible/value pair for a progress indicator.
package eventbus
