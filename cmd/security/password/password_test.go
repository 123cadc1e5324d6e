package password

import (
	"errors"
	"strings"
	"testing"
)

// fastConfig keeps Argon2id cheap for unit tests.
func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	cfg.BcryptCost = 4
	return cfg
}

func TestHashAndVerify_OK(t *testing.T) {
	t.Parallel()

	for _, alg := range []Algorithm{AlgorithmArgon2id, AlgorithmBcrypt} {
		cfg := fastConfig()
		cfg.Algorithm = alg

		h, err := cfg.Hash("this is a strong password 123!")
		if err != nil {
			t.Fatalf("%s: Hash error: %v", alg, err)
		}

		ok, err := cfg.Verify(h, "this is a strong password 123!")
		if err != nil {
			t.Fatalf("%s: Verify error: %v", alg, err)
		}
		if !ok {
			t.Fatalf("%s: expected match", alg)
		}
	}
}

func TestHash_FreshSaltEachCall(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	a, err := cfg.Hash("abcdefgh")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	b, err := cfg.Hash("abcdefgh")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct digests for the same password")
	}
	if !strings.HasPrefix(a, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected encoding: %q", a)
	}
}

func TestVerify_WrongPassword(t *testing.T) {
	t.Parallel()

	for _, alg := range []Algorithm{AlgorithmArgon2id, AlgorithmBcrypt} {
		cfg := fastConfig()
		cfg.Algorithm = alg

		h, err := cfg.Hash("this is a strong password 123!")
		if err != nil {
			t.Fatalf("%s: Hash error: %v", alg, err)
		}

		ok, err := cfg.Verify(h, "wrong password")
		if err != nil {
			t.Fatalf("%s: Verify error: %v", alg, err)
		}
		if ok {
			t.Fatalf("%s: expected mismatch", alg)
		}
	}
}

func TestVerify_CrossAlgorithm(t *testing.T) {
	t.Parallel()

	bc := fastConfig()
	bc.Algorithm = AlgorithmBcrypt
	legacy, err := bc.Hash("abcdefgh")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	// An argon2id-configured hasher still verifies stored bcrypt digests.
	cfg := fastConfig()
	ok, err := cfg.Verify(legacy, "abcdefgh")
	if err != nil || !ok {
		t.Fatalf("expected bcrypt digest to verify, ok=%v err=%v", ok, err)
	}
	if !cfg.NeedsRehash(legacy) {
		t.Fatalf("expected NeedsRehash for bcrypt digest under argon2id config")
	}
}

func TestValidate_MinMax(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Policy.MinLength = 12
	cfg.Policy.MaxLength = 16

	if err := cfg.Validate("short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
	if err := cfg.Validate("this password is definitely too long"); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}
	if err := cfg.Validate("goodpassw0rd!"); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestValidate_RequireLowercase(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	cases := []struct {
		pw   string
		want error
	}{
		{"abcdefgh", nil},
		{"ABCDEFGH1", ErrMissingLowercase},
		{"12345678", ErrMissingLowercase},
		{"ÄÖÜßÄÖÜß", ErrMissingLowercase},
		{"abc", ErrPasswordTooShort},
	}
	for _, tc := range cases {
		if err := cfg.Validate(tc.pw); !errors.Is(err, tc.want) {
			t.Fatalf("Validate(%q) = %v, want %v", tc.pw, err, tc.want)
		}
	}

	cfg.Policy.RequireLowercase = false
	if err := cfg.Validate("ABCDEFGH1"); err != nil {
		t.Fatalf("expected ok with lowercase rule disabled, got %v", err)
	}
}

func TestValidate_BcryptByteLimit(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.Algorithm = AlgorithmBcrypt

	long := strings.Repeat("a", 73)
	if err := cfg.Validate(long); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}
	if _, err := cfg.Hash(long); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong from Hash, got %v", err)
	}
}

func TestVerify_InvalidHash(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	for _, h := range []string{
		"not-a-hash",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=0,t=1,p=1$c2FsdHNhbHQ$a2V5",
		"$2b$04$tooshort",
	} {
		ok, err := cfg.Verify(h, "whatever")
		if !errors.Is(err, ErrInvalidHash) {
			t.Fatalf("Verify(%q): expected ErrInvalidHash, got %v", h, err)
		}
		if ok {
			t.Fatalf("Verify(%q): expected false", h)
		}
	}
}

func TestVerify_RefusesOversizedParams(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	h := "$argon2id$v=19$m=1048576,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2V5"
	if _, err := cfg.Verify(h, "whatever"); !errors.Is(err, ErrInvalidHash) {
		t.Fatalf("expected ErrInvalidHash, got %v", err)
	}
}

func TestPolicy_RejectVeryWeak(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Policy.RejectVeryWeak = true
	cfg.Policy.RequireLowercase = false
	cfg.Policy.MinLength = 8

	if err := cfg.Validate("password"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	if err := cfg.Validate("11111111"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	if err := cfg.Validate("a-very-ok-pass"); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}
