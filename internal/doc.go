// Package internal holds the parts of tokenguard that are private to the
// module.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: pure-function orchestrators for login, refresh, validate and logout
//   - janitor: cron-scheduled index reconciliation and blacklist purges
//
// # What this package must NOT do
//
//   - Export types that appear in the public tokenguard API.
//   - Be imported by any package outside the tokenguard module.
package internal
