package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"switch_server/core/domain"
)

// StateTTL bounds how long an authorization attempt may stay in flight.
const StateTTL = 10 * time.Minute

// stateClaims is the payload of the signed OAuth state parameter. Signing
// makes the state self-validating even when the redirect relay re-issues
// the request, so no server-side session is needed to check it.
type stateClaims struct {
	Provider string `json:"prv"`
	Nonce    string `json:"nce"`
	jwt.RegisteredClaims
}

func newNonce() string {
	return uuid.NewString()
}

// signState builds the HS256-signed state parameter carrying the provider
// and an anti-replay nonce.
func signState(secret []byte, provider domain.Provider, nonce string, now time.Time) (string, error) {
	claims := stateClaims{
		Provider: string(provider),
		Nonce:    nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(StateTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign state: %w", err)
	}
	return signed, nil
}

// verifyState checks the signature and returns the embedded claims.
func verifyState(secret []byte, state string) (*stateClaims, error) {
	claims := &stateClaims{}
	_, err := jwt.ParseWithClaims(state, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse state: %w", err)
	}
	return claims, nil
}
