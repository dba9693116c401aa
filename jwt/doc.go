// Package jwt is the token codec: it signs and verifies access tokens and
// mints opaque refresh secrets.
//
// # Architecture boundaries
//
// The [Manager] is pure. It performs no I/O and never consults revocation
// state; a token that verifies here may still be revoked.
//
// Importing the package sets golang-jwt's TimePrecision to one microsecond,
// so iat and exp are encoded with fractional seconds.
//
// # What this package must NOT do
//
//   - Import tokenguard, revocation, or refresh (no upward imports).
//   - Leak parsing detail through anything other than wrapped errors.
package jwt
