// Package auth guards the admin API with a bcrypt checked password and
// short lived HS256 tokens.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"uk.co.dudmesh.cambio/internal/model"
)

const (
	AdminSubject   = "admin"
	SubjectContext = "auth.subject"
	issuer         = "cambio"
)

type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

func GenerateToken(subject string, secret []byte, validity time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		},
		Role: subject,
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

func SubjectFromToken(tokenString string, secret []byte) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return "", errors.Join(model.ErrorInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", model.ErrorInvalidToken
	}
	return claims.Subject, nil
}

type Authenticator struct {
	passwordHash []byte
	secret       []byte
	validity     time.Duration
}

// New returns an Authenticator. With an empty passwordHash every login is
// refused.
func New(passwordHash, secret string, validity time.Duration) (*Authenticator, error) {
	if secret == "" {
		return nil, errors.New("token secret is empty")
	}
	if validity <= 0 {
		validity = 12 * time.Hour
	}
	return &Authenticator{
		passwordHash: []byte(passwordHash),
		secret:       []byte(secret),
		validity:     validity,
	}, nil
}

func (a *Authenticator) Login(password string) (string, error) {
	if len(a.passwordHash) == 0 || password == "" {
		return "", model.ErrorInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return "", model.ErrorInvalidCredentials
	}
	return GenerateToken(AdminSubject, a.secret, a.validity)
}

func (a *Authenticator) Validate(token string) (string, error) {
	return SubjectFromToken(token, a.secret)
}

// Middleware rejects requests without a valid bearer token and stores the
// token subject under SubjectContext.
func (a *Authenticator) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, model.MessageUnauthorized)
			}
			subject, err := a.Validate(token)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, model.MessageUnauthorized).SetInternal(err)
			}
			c.Set(SubjectContext, subject)
			return next(c)
		}
	}
}

func Subject(c echo.Context) string {
	subject, _ := c.Get(SubjectContext).(string)
	return subject
}

func bearerToken(header string) string {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
