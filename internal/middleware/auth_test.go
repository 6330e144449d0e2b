package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wanderlynx/whatsapp-inbox/internal/model"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret, subject, name, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		DisplayName: name,
		Role:        role,
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func authedRequest(token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func TestAuthExtractsAgent(t *testing.T) {
	var got model.Agent
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetAgent(r.Context())
	})

	w := httptest.NewRecorder()
	Auth(testSecret)(next).ServeHTTP(w, authedRequest(signToken(t, testSecret, "agent-7", "Priya", "support")))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "agent-7", got.ID)
	assert.Equal(t, "Priya", got.DisplayName)
	assert.Equal(t, model.RoleSupport, got.Role)
}

func TestAuthRejectsMissingHeader(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})

	w := httptest.NewRecorder()
	Auth(testSecret)(next).ServeHTTP(w, authedRequest(""))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthRejectsWrongSecret(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})

	w := httptest.NewRecorder()
	Auth(testSecret)(next).ServeHTTP(w, authedRequest(signToken(t, "other-secret", "agent-7", "Priya", "support")))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthUnknownRoleDefaultsToReadOnly(t *testing.T) {
	var got model.Agent
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetAgent(r.Context())
	})

	w := httptest.NewRecorder()
	Auth(testSecret)(next).ServeHTTP(w, authedRequest(signToken(t, testSecret, "agent-9", "Sam", "")))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.RoleMarketing, got.Role)
}

func TestRequireWriterBlocksMarketing(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})

	w := httptest.NewRecorder()
	handler := Auth(testSecret)(RequireWriter(next))
	handler.ServeHTTP(w, authedRequest(signToken(t, testSecret, "agent-3", "Lee", "marketing")))

	assert.Equal(t, http.StatusForbidden, w.Code)
}
