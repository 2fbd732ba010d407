// Package server hosts live component sessions over two channels: a
// persistent WebSocket carrying the full protocol, and a stateless HTTP
// endpoint that rebuilds a session per request from signed state blobs.
//
// Each WebSocket session runs three goroutines: a read loop decoding
// client messages, a write loop sending heartbeats, and a single event
// loop that owns all component state. Handler events and signal
// evaluations are both funneled onto the event loop, so within one
// session they never interleave.
//
// The Manager tracks sessions, enforces limits, persists detached
// session state to a store for reattachment, and fans entity mutation
// topics out to every session's signal router.
package server
