// Package client models the client-side half of the protocol: the mount
// tracker that keeps the server's known-id set converging with the ids
// actually present in the document, and the command interpreter that
// applies server commands to the document and the local tracking state.
//
// The document itself is an interface; the browser runtime implements it
// against the real DOM, tests implement it in memory. All selector-based
// effects silently no-op when the target is gone: the document may have
// changed between command issuance and application, and that race is
// expected.
package client
