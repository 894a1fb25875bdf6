// Package auth implements the token validation contract the hub
// applies before accepting a WebSocket upgrade. Token issuance belongs
// to the external auth service; the hub only verifies.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt"
)

var ErrInvalidToken = errors.New("invalid token")

const (
	userIdClaim   = "sub"
	usernameClaim = "username"
)

type Identity struct {
	UserId   string
	Username string
}

type TokenValidator interface {
	Validate(tokenString string) (Identity, error)
}

type JWTValidator struct {
	signingKey []byte
}

func NewJWTValidator(signingKey []byte) *JWTValidator {
	return &JWTValidator{signingKey: signingKey}
}

func (v *JWTValidator) Validate(tokenString string) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.signingKey, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, fmt.Errorf("%w: invalid claims", ErrInvalidToken)
	}

	userId, ok := claims[userIdClaim].(string)
	if !ok || userId == "" {
		return Identity{}, fmt.Errorf("%w: missing subject claim", ErrInvalidToken)
	}

	username, _ := claims[usernameClaim].(string)

	return Identity{
		UserId:   userId,
		Username: username,
	}, nil
}
