// Package identity validates the signed login tokens clients present when
// opening a session. Tokens are issued by the account service and verified
// here with a shared HS256 secret.
package identity

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken indicates the token failed signature checks or had malformed structure.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken signals that the token's expiry is in the past.
	ErrExpiredToken = errors.New("token expired")
)

// Identity is the verified account behind a connection.
type Identity struct {
	AccountID string
	Name      string
}

type claims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// Validator verifies HS256 login tokens against the shared secret.
type Validator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewValidator constructs a validator. The issuer is optional; when set,
// tokens from any other issuer are rejected.
func NewValidator(secret, issuer string) (*Validator, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("identity secret must not be empty")
	}
	return &Validator{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// WithClock overrides the validator clock, enabling deterministic unit tests.
func (v *Validator) WithClock(clock func() time.Time) {
	if clock != nil {
		v.now = clock
	}
}

// Validate parses and verifies the token, returning the embedded identity.
func (v *Validator) Validate(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredToken
		}
		return Identity{}, ErrInvalidToken
	}
	if strings.TrimSpace(c.Subject) == "" {
		return Identity{}, ErrInvalidToken
	}

	name := c.Name
	if name == "" {
		name = c.Subject
	}
	return Identity{AccountID: c.Subject, Name: name}, nil
}

// Issue signs a token for the given identity, valid for ttl. Used by tests and
// by the local development mode that has no account service to lean on.
func (v *Validator) Issue(id Identity, ttl time.Duration) (string, error) {
	now := v.now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Name: id.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.AccountID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return tok.SignedString(v.secret)
}
