package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/qurrota/apiserver/types"
)

// ErrInvalidToken is returned for tokens that fail signature, expiry or
// shape checks.
var ErrInvalidToken = errors.New("invalid token")

// TokenUser is the identity embedded in every token.
type TokenUser struct {
	ID    string     `json:"id"`
	Role  types.Role `json:"role"`
	Email string     `json:"email"`
}

// Claims is the JWT payload: {"user": {...}} plus the registered claims.
type Claims struct {
	User TokenUser `json:"user"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 bearer tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue returns a signed token for the account.
func (i *TokenIssuer) Issue(account types.Account) (string, error) {
	now := i.now()
	claims := Claims{
		User: TokenUser{
			ID:    account.ID,
			Role:  account.Role,
			Email: account.Email,
		},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Parse verifies the token and returns its claims.
func (i *TokenIssuer) Parse(tokenString string) (Claims, error) {
	claims := Claims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		return Claims{}, errors.Join(ErrInvalidToken, err)
	}
	if !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.User.ID) == "" {
		return Claims{}, errors.Join(ErrInvalidToken, errors.New("missing user id"))
	}
	if !claims.User.Role.Valid() {
		return Claims{}, errors.Join(ErrInvalidToken, fmt.Errorf("unknown role %q", claims.User.Role))
	}
	return claims, nil
}
