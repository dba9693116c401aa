// Package flows contains pure-function orchestrators for every Engine operation.
//
// Each flow function (RunIssue, RunLogin, RunRefresh, RunValidate, RunLogout,
// RunRevokeAll) accepts a typed dependency struct and returns a result that
// classifies failures. The root package maps those classifications to public
// errors, metrics, and audit events.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the token codec, the revocation store,
// and the refresh store. They do NOT own any of these resources; ownership
// stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import tokenguard (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency functions.
package flows
