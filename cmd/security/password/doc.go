// Package password hashes and verifies user passwords for tasker.
//
// Two algorithms are supported:
// - Argon2id (default), encoded as a PHC string: $argon2id$v=19$m=..,t=..,p=..$salt$key
// - bcrypt, for deployments migrating from services that stored bcrypt digests
//
// Verify dispatches on the digest prefix, so stored digests of either algorithm keep
// verifying after the configured hashing algorithm changes.
//
// Security notes:
// - Digests are treated as untrusted input during Verify and are validated accordingly.
// - Verification refuses Argon2id digests whose parameters exceed reasonable bounds.
package password
