// Package lifecycle governs the install → waiting → active → redundant
// transitions of interception instances. A Controller plays the role of the
// worker registration: it holds at most one Active and one Waiting instance,
// routes every intercepted request through the Active one, performs the
// generation sweep on activation, and honours the external SKIP_WAITING
// message that forces a Waiting instance to take over immediately.
package lifecycle
