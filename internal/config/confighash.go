package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ConfigClaims is the minimal claim set carried by a user configuration
// token: which upstream languages/options the client wants, bound to a
// subject identifying the addon install. Grounded on the teacher's
// internal/auth/service.go Claims/ParseWithClaims pattern, adapted from a
// session-login token to an opaque per-install configuration token.
type ConfigClaims struct {
	jwt.RegisteredClaims
	PreferredLanguages []string `json:"preferredLanguages,omitempty"`
	ExcludeHI          bool     `json:"excludeHi,omitempty"`
}

// ErrInvalidConfigToken is returned when a config token fails signature or
// claims validation.
var ErrInvalidConfigToken = errors.New("config: invalid configuration token")

// SignConfigToken issues a config token for subject, signed with secret.
// The addon layer hands the resulting token back to the core on every
// request; the core never persists it, it only ever recomputes configHash
// from it.
func SignConfigToken(subject string, claims ConfigClaims, secret []byte) (string, error) {
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(365 * 24 * time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ParseConfigToken validates tokenString against secret and returns its
// claims.
func ParseConfigToken(tokenString string, secret []byte) (*ConfigClaims, error) {
	claims := &ConfigClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("config: unexpected signing method %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfigToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidConfigToken
	}
	return claims, nil
}

// ComputeConfigHash derives the deterministic identifier the glossary calls
// "Config hash": a value used both as the Translation Cache's bypass
// scoping key and as the Stream Activity Bus's SSE channel identifier. It
// is a SHA-256 digest of the token's validated subject plus its sorted
// option fields, not of the raw token string, so two differently-signed
// tokens carrying identical preferences collapse to one cache scope.
func ComputeConfigHash(tokenString string, secret []byte) (string, error) {
	claims, err := ParseConfigToken(tokenString, secret)
	if err != nil {
		return "", err
	}
	langs := append([]string(nil), claims.PreferredLanguages...)
	sort.Strings(langs)

	h := sha256.New()
	h.Write([]byte(claims.Subject))
	h.Write([]byte{0})
	for _, lang := range langs {
		h.Write([]byte(lang))
		h.Write([]byte{0})
	}
	if claims.ExcludeHI {
		h.Write([]byte{1})
	}
	return hex.EncodeToString(h.Sum(nil))[:32], nil
}
