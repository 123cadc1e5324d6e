package password

import "strings"

// Hash validates password against the policy and returns a salted digest
// in the configured algorithm's encoding. Each call uses a fresh salt.
func (c Config) Hash(password string) (string, error) {
	if err := c.Validate(password); err != nil {
		return "", err
	}

	switch c.Algorithm {
	case AlgorithmArgon2id, "":
		return c.hashArgon2id(password)
	case AlgorithmBcrypt:
		return c.hashBcrypt(password)
	default:
		return "", ErrUnknownAlgorithm
	}
}

// Verify checks whether password matches the given encoded digest.
// Returns (true, nil) for a match, (false, nil) for mismatch,
// and (false, ErrInvalidHash) for malformed/unsupported digests.
//
// The algorithm is taken from the digest, not from c.Algorithm.
func (c Config) Verify(encodedHash, password string) (bool, error) {
	switch {
	case strings.HasPrefix(encodedHash, "$argon2id$"):
		return c.verifyArgon2id(encodedHash, password)
	case isBcryptDigest(encodedHash):
		return verifyBcrypt(encodedHash, password)
	default:
		return false, ErrInvalidHash
	}
}

// NeedsRehash reports whether a stored digest was produced by a different
// algorithm than the one currently configured.
func (c Config) NeedsRehash(encodedHash string) bool {
	switch c.Algorithm {
	case AlgorithmBcrypt:
		return !isBcryptDigest(encodedHash)
	default:
		return !strings.HasPrefix(encodedHash, "$argon2id$")
	}
}
