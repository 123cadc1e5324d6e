package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type jwtClaims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

type jwtManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	leeway time.Duration
}

func newJWTManager(cfg Config) *jwtManager {
	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)
	return &jwtManager{
		secret: secret,
		issuer: cfg.Issuer,
		ttl:    cfg.TTL,
		leeway: cfg.Leeway,
	}
}

func (m *jwtManager) Issue(sub Subject, now time.Time) (string, time.Time, error) {
	if sub.UserID == "" {
		return "", time.Time{}, ErrConfig
	}
	exp := now.Add(m.ttl)

	claims := jwtClaims{
		UserID: sub.UserID,
		Email:  sub.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   sub.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	// Report the expiry that was actually encoded (second precision).
	return signed, claims.ExpiresAt.Time, nil
}

func (m *jwtManager) Verify(raw string, now time.Time) (Claims, error) {
	// Fresh parser per call; the clock is bound to now.
	p := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithStrictDecoding(),
		jwt.WithLeeway(m.leeway),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	var c jwtClaims
	_, err := p.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpired
		}
		return Claims{}, ErrInvalidToken
	}

	if c.UserID == "" || c.Subject != c.UserID {
		return Claims{}, ErrInvalidToken
	}

	out := Claims{
		UserID: c.UserID,
		Email:  c.Email,
		Issuer: c.Issuer,
	}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out, nil
}
