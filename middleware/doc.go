// Package middleware exposes net/http adapters around tokenguard access token
// validation.
//
// # Guards
//
//   - [Guard]: bearer token check through Engine.Validate.
//   - [RequireRole]: role check on the principal Guard attached.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. Every accept or
// reject decision is delegated to Engine.Validate.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly.
//   - Access Redis.
//   - Tell the client why a token was rejected.
package middleware
