package middleware

import (
	"errors"
	"fmt"
	"time"

	"github.com/Egham-7/tokentra/internal/models"
	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/golang-jwt/jwt/v5"
)

const (
	localsAdminSubject = "admin_subject"
	adminIssuer        = "tokentra"
)

// AdminAuth guards the key management endpoints with HS256 bearer tokens.
type AdminAuth struct {
	secret []byte
	now    func() time.Time
}

func NewAdminAuth(secret string) *AdminAuth {
	return &AdminAuth{secret: []byte(secret), now: time.Now}
}

// MintToken signs an admin token for subject.
func (a *AdminAuth) MintToken(subject string, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", fmt.Errorf("JWT secret not configured")
	}

	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    adminIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AdminAuth) RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if len(a.secret) == 0 {
			return WriteCode(c, fiber.StatusServiceUnavailable, models.CodeInternal, "admin authentication is not configured")
		}

		raw := bearerToken(c)
		if raw == "" {
			return WriteCode(c, fiber.StatusUnauthorized, models.CodeMissingAuth, "Authorization header required")
		}

		subject, err := a.verify(raw)
		if err != nil {
			fiberlog.Warnf("[admin] Rejected token: %v", err)
			return WriteCode(c, fiber.StatusUnauthorized, models.CodeInvalidToken, "Invalid or expired token")
		}

		c.Locals(localsAdminSubject, subject)
		return c.Next()
	}
}

func (a *AdminAuth) verify(raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(adminIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// AdminSubject returns the authenticated admin's subject claim.
func AdminSubject(c *fiber.Ctx) string {
	s, _ := c.Locals(localsAdminSubject).(string)
	return s
}
