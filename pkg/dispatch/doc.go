// Package dispatch resolves inbound events into handler invocations and
// turns their results into the ordered command sequence the client applies.
//
// An event names a component, a handler, parameters and the fingerprint of
// the state the client believes it is acting on. The dispatcher enforces
// the integrity contract (stale fingerprints are rejected before the
// handler runs), executes the handler against a working copy with atomic
// commit semantics, and then drives the command loop: handler-produced
// commands are prioritized, destroy-suppressed, and expanded (renders,
// emitted application events, instantiations) into wire commands.
//
// Signal-router evaluations re-enter the same loop through EvaluateBatch.
package dispatch
