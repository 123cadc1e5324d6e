// Package token issues and verifies the bearer tokens that authenticate tasker requests.
//
// Tokens are stateless and signed (or sealed) with a single shared secret:
// - jwt (default): HS256 JSON Web Tokens
// - paseto: PASETO v4.local, keyed with an HKDF-SHA256 derivation of the secret
//
// Verification takes the current time as an argument so expiry is deterministic in tests.
// A token is either fully valid or rejected; there is no partial acceptance, refresh or
// revocation.
//
// Environment:
// - TASKER_JWT_SECRET (falls back to JWT_SECRET): required, at least 32 bytes
// - TASKER_TOKEN_FORMAT: jwt|paseto
// - TASKER_TOKEN_TTL, TASKER_TOKEN_ISSUER, TASKER_TOKEN_LEEWAY
package token
