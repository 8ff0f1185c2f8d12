package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the resident session. Every core operation that acts on
// behalf of a resident takes an explicit Session; there is no process-wide
// "current resident".
type Claims struct {
	ResidentID   string `json:"rid"`
	ResidentName string `json:"name"`
	jwt.RegisteredClaims
}

type Signer struct {
	Key []byte
	TTL time.Duration
}

func (s Signer) Issue(residentID, name string) (string, error) {
	now := time.Now()
	claims := Claims{
		ResidentID:   residentID,
		ResidentName: name,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.TTL)),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(s.Key)
}

func (s Signer) Parse(token string) (*Claims, error) {
	t, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.Key, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := t.Claims.(*Claims)
	if !ok || !t.Valid {
		return nil, errors.New("invalid session token")
	}
	return claims, nil
}
