// Package render defines the contract the HTML renderer collaborator must
// satisfy and ships two adapters: one over html/template and one over
// a-h/templ components.
//
// Rendering is a read of already-committed state. The renderer must be
// referentially transparent in the state for a fixed type and template
// selection: same state, same markup. The dispatcher relies on that
// idempotence and never rolls state back when a render fails.
package render
