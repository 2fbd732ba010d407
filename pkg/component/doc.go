// Package component defines the component contract: the interface user
// components implement, the type registry with per-type handler tables, and
// the Command values handlers return to describe client-visible effects.
//
// Component types are registered once at startup on an explicit TypeRegistry
// which is threaded through the dispatcher and transport as a dependency.
// Handler lookup is a map from handler name to a typed adapter function
// built at registration time; no reflection happens on the dispatch path.
package component
