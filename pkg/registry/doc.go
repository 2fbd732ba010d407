// Package registry holds the authoritative server-side state of the live
// component instances of one session: serialized state, fingerprints,
// subscription sets, and parent/child links.
//
// The registry is the single source of truth for component state. Lookups
// of ids that no longer exist are expected, not exceptional; they happen
// whenever a client references a component removed by a concurrent cascade,
// and callers treat them as benign no-ops.
package registry
