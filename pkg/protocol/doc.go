// Package protocol defines the JSON wire format between client and server.
//
// Client to server, three message types share one envelope:
//
//	{"type":"removed","component_ids":["hx-a","hx-b"]}
//	{"type":"added","states":["<signed blob>", ...],"subscriptions":{"hx-a":"store.item.1"}}
//	{"type":"event","component_id":"hx-a","handler":"inc",
//	 "params":{"amount":1},"fingerprint":"00000000075bcd15"}
//
// Server to client, one JSON object per command with a "command" tag:
// render, destroy, focus, scroll_into_view, redirect, open, dispatch_event,
// send_state, push_url, replace_url, build_and_render.
//
// Component states that leave the server are msgpack-packed and
// HMAC-signed; the client stores them opaquely and plays them back on the
// stateless channel, where every request must be self-describing. A blob
// that fails verification is a protocol failure for that single message.
//
// Malformed messages are logged and dropped without closing the connection;
// size limits bound decoding before any allocation-heavy work.
package protocol
