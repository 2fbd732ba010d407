package client

// Document is the surface the interpreter mutates. The browser runtime
// implements it against the real DOM.
//
// Mutating methods report whether the target existed; the interpreter
// treats false as a benign no-op.
type Document interface {
	// Replace swaps the subtree of the component's element.
	Replace(componentID, html string) bool

	// InsertAt applies an htmx-style swap spec such as "beforeend:#list"
	// or "true" (replace the matched element).
	InsertAt(target, html string) bool

	// Remove deletes the component's element.
	Remove(componentID string) bool

	// Focus focuses the first element matching the selector.
	Focus(selector string) bool

	// ScrollIntoView scrolls the first matching element into view.
	ScrollIntoView(selector, behavior, block string) bool

	// DispatchEvent fires a custom DOM event on the matching elements.
	DispatchEvent(target, event string, detail any, bubbles, cancelable, composed bool)

	// ActiveElement returns a selector for the currently focused element,
	// or "" when nothing relevant has focus. Used to preserve focus and
	// caret across renders.
	ActiveElement() string

	// Navigate replaces the current page.
	Navigate(url string)

	// OpenWindow opens a new browsing context.
	OpenWindow(url, target, name string)

	// PushURL pushes a history entry without navigating.
	PushURL(url string)

	// ReplaceURL replaces the current history entry without navigating.
	ReplaceURL(url string)
}
