package mockapi

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/milan604/jsonapi-client/pkg/apperr"
)

const (
	issuer     = "mockapi"
	subjectKey = "mockapi_subject"
)

// tokenIssuer signs and verifies HS256 tokens.
type tokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func (ti *tokenIssuer) issue(subject string) (string, error) {
	now := ti.now()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ti.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (ti *tokenIssuer) verify(tok string) (string, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ti.now),
	)
	claims := &jwt.RegisteredClaims{}
	if _, err := parser.ParseWithClaims(tok, claims, func(*jwt.Token) (any, error) {
		return ti.secret, nil
	}); err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// requireBearer rejects requests without a valid bearer token. With rotate
// set, each authorized request is answered with a fresh token.
func (s *Server) requireBearer() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if h == "" || !strings.HasPrefix(strings.ToLower(h), "bearer ") {
			abortWith(c, apperr.Newf(apperr.ErrorCodeUnauthorized, "missing bearer token"))
			return
		}
		subject, err := s.tokens.verify(strings.TrimSpace(h[len("bearer "):]))
		if err != nil {
			abortWith(c, apperr.New(apperr.ErrorCodeUnauthorized).Wrap(err))
			return
		}
		c.Set(subjectKey, subject)

		if s.rotate.Load() {
			if fresh, err := s.tokens.issue(subject); err == nil {
				c.Header("X-Authorization", fresh)
			}
		}
		c.Next()
	}
}
