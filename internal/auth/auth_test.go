package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"uk.co.dudmesh.cambio/internal/model"
)

func newAuthenticator(t *testing.T) *Authenticator {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.Nil(t, err)
	a, err := New(string(hash), "signing-key", time.Hour)
	require.Nil(t, err)
	return a
}

func TestLogin(t *testing.T) {
	assert := assert.New(t)
	a := newAuthenticator(t)

	_, err := a.Login("wrong")
	assert.ErrorIs(err, model.ErrorInvalidCredentials)
	_, err = a.Login("")
	assert.ErrorIs(err, model.ErrorInvalidCredentials)

	token, err := a.Login("s3cret")
	require.Nil(t, err)
	subject, err := a.Validate(token)
	assert.Nil(err)
	assert.Equal(AdminSubject, subject)

	disabled, err := New("", "signing-key", time.Hour)
	require.Nil(t, err)
	_, err = disabled.Login("s3cret")
	assert.ErrorIs(err, model.ErrorInvalidCredentials)

	_, err = New("hash", "", time.Hour)
	assert.NotNil(err)
}

func TestTokens(t *testing.T) {
	assert := assert.New(t)

	expired, err := GenerateToken(AdminSubject, []byte("k"), -time.Minute)
	require.Nil(t, err)
	_, err = SubjectFromToken(expired, []byte("k"))
	assert.ErrorIs(err, model.ErrorInvalidToken)

	token, err := GenerateToken(AdminSubject, []byte("k"), time.Minute)
	require.Nil(t, err)
	_, err = SubjectFromToken(token, []byte("other"))
	assert.ErrorIs(err, model.ErrorInvalidToken)

	_, err = SubjectFromToken("not-a-token", []byte("k"))
	assert.ErrorIs(err, model.ErrorInvalidToken)
}

func TestMiddleware(t *testing.T) {
	a := newAuthenticator(t)
	token, err := a.Login("s3cret")
	require.Nil(t, err)

	e := echo.New()
	e.GET("/admin", func(c echo.Context) error {
		return c.String(http.StatusOK, Subject(c))
	}, a.Middleware())

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"Missing", "", http.StatusUnauthorized},
		{"Wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"Garbage", "Bearer abc", http.StatusUnauthorized},
		{"Valid", "Bearer " + token, http.StatusOK},
		{"Lower case scheme", "bearer " + token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.header != "" {
				req.Header.Set(echo.HeaderAuthorization, tt.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, AdminSubject, rec.Body.String())
			}
		})
	}
}
