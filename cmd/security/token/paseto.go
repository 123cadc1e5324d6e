package token

import (
	"crypto/sha256"
	"io"
	"time"

	paseto "aidanwoods.dev/go-paseto"
	"golang.org/x/crypto/hkdf"
)

// hkdfInfo binds derived keys to this use so the shared secret can serve other purposes.
const hkdfInfo = "tasker access token v4.local"

type pasetoV4LocalManager struct {
	issuer string
	ttl    time.Duration
	leeway time.Duration
	key    paseto.V4SymmetricKey
}

func newPasetoV4LocalManager(cfg Config) (*pasetoV4LocalManager, error) {
	raw := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, cfg.Secret, nil, []byte(hkdfInfo)), raw); err != nil {
		return nil, ErrConfig
	}
	key, err := paseto.V4SymmetricKeyFromBytes(raw)
	if err != nil {
		return nil, ErrConfig
	}

	return &pasetoV4LocalManager{
		issuer: cfg.Issuer,
		ttl:    cfg.TTL,
		leeway: cfg.Leeway,
		key:    key,
	}, nil
}

func (m *pasetoV4LocalManager) Issue(sub Subject, now time.Time) (string, time.Time, error) {
	if sub.UserID == "" {
		return "", time.Time{}, ErrConfig
	}
	// PASETO timestamps are RFC 3339 with second precision.
	now = now.Truncate(time.Second)
	exp := now.Add(m.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(m.issuer)
	tok.SetSubject(sub.UserID)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)
	_ = tok.Set("email", sub.Email)

	return tok.V4Encrypt(m.key, nil), exp, nil
}

func (m *pasetoV4LocalManager) Verify(raw string, now time.Time) (Claims, error) {
	expired := false

	// Time claims are checked against the supplied clock, not time.Now.
	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(m.issuer))
	p.AddRule(validAt(now, m.leeway, &expired))

	parsed, err := p.ParseV4Local(m.key, raw, nil)
	if err != nil {
		if expired {
			return Claims{}, ErrExpired
		}
		return Claims{}, ErrInvalidToken
	}

	uid, err := parsed.GetSubject()
	if err != nil || uid == "" {
		return Claims{}, ErrInvalidToken
	}
	email, _ := parsed.GetString("email")
	iss, _ := parsed.GetIssuer()
	iat, _ := parsed.GetIssuedAt()
	exp, err := parsed.GetExpiration()
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	return Claims{
		UserID:    uid,
		Email:     email,
		Issuer:    iss,
		IssuedAt:  iat,
		ExpiresAt: exp,
	}, nil
}

// validAt requires exp and enforces exp/nbf/iat against now with leeway.
func validAt(now time.Time, leeway time.Duration, expired *bool) paseto.Rule {
	return func(t paseto.Token) error {
		exp, err := t.GetExpiration()
		if err != nil {
			return ErrInvalidToken
		}
		if now.After(exp.Add(leeway)) {
			*expired = true
			return ErrExpired
		}
		if nbf, err := t.GetNotBefore(); err == nil && now.Add(leeway).Before(nbf) {
			return ErrInvalidToken
		}
		if iat, err := t.GetIssuedAt(); err == nil && now.Add(leeway).Before(iat) {
			return ErrInvalidToken
		}
		return nil
	}
}
