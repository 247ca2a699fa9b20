package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyToken(t *testing.T) {
	hash, err := HashToken("sekret")
	require.NoError(t, err)
	service := NewService(hash)
	require.True(t, service.Enabled())

	assert.NoError(t, service.VerifyToken("sekret"))
	assert.ErrorIs(t, service.VerifyToken("wrong"), ErrInvalidToken)
	assert.ErrorIs(t, service.VerifyToken(""), ErrInvalidToken)
}

func TestVerifyTokenDisabled(t *testing.T) {
	service := NewService("")
	assert.False(t, service.Enabled())
	assert.NoError(t, service.VerifyToken(""))
	assert.NoError(t, service.VerifyToken("anything"))
}

func TestMiddleware(t *testing.T) {
	hash, err := HashToken("sekret")
	require.NoError(t, err)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := Middleware(NewService(hash), nil)(next)

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{"valid token", "Bearer sekret", http.StatusNoContent},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"missing header", "", http.StatusUnauthorized},
		{"malformed header", "Basic sekret", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestMiddlewareDisabledPassesThrough(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := Middleware(NewService(""), nil)(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
