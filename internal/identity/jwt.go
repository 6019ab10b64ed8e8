package identity

import (
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// meshClaims is the shape of an identity-assertion JWT the gateway itself
// issues and later verifies. It is not a session token in the
// cryptographic sense; the signing key is distributed out of band to
// whatever already-trusted proxy is asserting the identity.
type meshClaims struct {
	jwt.RegisteredClaims
	DisplayName string `json:"display_name,omitempty"`
	ProfilePic  string `json:"profile_pic,omitempty"`
	Tailnet     string `json:"tailnet,omitempty"`
}

// NewVerifier returns a VerifyFunc that checks an ES256 JWT against
// pubKey and maps its claims onto a Mesh identity.
func NewVerifier(pubKey *ecdsa.PublicKey) VerifyFunc {
	return func(token string) (Identity, error) {
		parsed, err := jwt.ParseWithClaims(token, &meshClaims{}, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodECDSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return pubKey, nil
		})
		if err != nil {
			return Identity{}, fmt.Errorf("parse identity jwt: %w", err)
		}
		claims, ok := parsed.Claims.(*meshClaims)
		if !ok || !parsed.Valid {
			return Identity{}, fmt.Errorf("invalid identity jwt claims")
		}
		return Identity{
			Kind:        KindMesh,
			Login:       claims.Subject,
			DisplayName: claims.DisplayName,
			ProfilePic:  claims.ProfilePic,
			Tailnet:     claims.Tailnet,
		}, nil
	}
}

// Sign issues an identity-assertion JWT for login, signed with key,
// issued at issuedAt and expiring at expiresAt (both Unix seconds). No
// CLI subcommand or service in this repository calls it; keygen only
// writes the signing key.
func Sign(key *ecdsa.PrivateKey, login, displayName string, issuedAt, expiresAt int64) (string, error) {
	claims := meshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   login,
			IssuedAt:  jwt.NewNumericDate(time.Unix(issuedAt, 0)),
			ExpiresAt: jwt.NewNumericDate(time.Unix(expiresAt, 0)),
		},
		DisplayName: displayName,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	return token.SignedString(key)
}
