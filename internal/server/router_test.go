package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"landpub/internal/log"

	"github.com/golang-jwt/jwt/v4"
)

func signToken(t *testing.T, secret string, method jwt.SigningMethod) string {
	t.Helper()
	token := jwt.NewWithClaims(method, jwt.MapClaims{
		"sub": "operator",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %s", err)
	}
	return s
}

func TestAuthMiddleware(t *testing.T) {
	const secret = "test-secret"
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	handler := authMiddleware(secret, log.NewLogger())(next)

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + signToken(t, "other-secret", jwt.SigningMethodHS256), http.StatusUnauthorized},
		{"valid token", "Bearer " + signToken(t, secret, jwt.SigningMethodHS256), http.StatusOK},
		{"valid without bearer prefix", signToken(t, secret, jwt.SigningMethodHS256), http.StatusOK},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/batches/x", nil)
			if c.header != "" {
				req.Header.Set("Authorization", c.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != c.want {
				t.Errorf("got status %d, want %d", rec.Code, c.want)
			}
		})
	}
}

func TestAuthMiddlewareRejectsNonHMAC(t *testing.T) {
	// A token signed with "none"-style or asymmetric algs must not pass the
	// HMAC keyfunc.
	const secret = "test-secret"
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "x"})
	s, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign token: %s", err)
	}
	handler := authMiddleware(secret, log.NewLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+s)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("got status %d, want 401", rec.Code)
	}
}
