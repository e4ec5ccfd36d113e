package manifest

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const Issuer = "nssync"

type Claims struct {
	Digest string            `json:"digest"`
	Files  map[string]string `json:"files"`
	jwt.RegisteredClaims
}

// Sign issues a token over the manifest. It carries no expiry: it attests a
// set of file contents, not a session.
func Sign(secret []byte, m Manifest) (string, error) {
	claims := Claims{
		Digest: m.Digest,
		Files:  m.Hashes(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   Issuer,
			ID:       m.PassID,
			IssuedAt: jwt.NewNumericDate(m.GeneratedAt),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(secret)
}

func ParseToken(secret []byte, tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	}, jwt.WithIssuer(Issuer), jwt.WithLeeway(30*time.Second))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
