package auth

import (
	"context"
	"strings"
	"time"

	"notepush/model"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jmhodges/clock"
	"github.com/pkg/errors"
)

// Verifier resolves a bearer credential to the user it was issued to.
type Verifier interface {
	Verify(ctx context.Context, bearer string) (model.UserID, error)
}

// JWTVerifier accepts HS256 tokens signed with a shared secret. The user is
// the subject claim.
type JWTVerifier struct {
	secret []byte
	clk    clock.Clock
}

func NewJWTVerifier(secret string, clk clock.Clock) (*JWTVerifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret isn't set")
	}
	if clk == nil {
		clk = clock.New()
	}
	return &JWTVerifier{secret: []byte(secret), clk: clk}, nil
}

func (v *JWTVerifier) Verify(_ context.Context, bearer string) (model.UserID, error) {
	bearer = strings.TrimSpace(bearer)
	if bearer == "" {
		return "", errors.Wrap(model.ErrUnauthorized, "missing token")
	}

	token, err := jwt.Parse(bearer, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.clk.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return "", errors.Wrapf(model.ErrUnauthorized, "invalid token: %v", err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.Wrap(model.ErrUnauthorized, "subject claim missing")
	}
	return model.UserID(sub), nil
}

// Issue signs a token for the user valid for ttl.
func (v *JWTVerifier) Issue(usr model.UserID, ttl time.Duration) (string, error) {
	now := v.clk.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": string(usr),
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	})
	return token.SignedString(v.secret)
}
