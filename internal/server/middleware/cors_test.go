package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORS_AllowsAnyOriginByDefault(t *testing.T) {
	handler := CORS(nil)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/get-access-token", nil)
	req.Header.Set("Origin", "https://inventory.example.org")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_Preflight(t *testing.T) {
	handler := CORS([]string{"*"})(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/submit-owsr", nil)
	req.Header.Set("Origin", "https://inventory.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization, Content-Type")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Less(t, rec.Code, 300)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Headers"))
}

func TestCORS_RestrictedOrigins(t *testing.T) {
	handler := CORS([]string{"https://allowed.example.org"})(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/get-access-token", nil)
	req.Header.Set("Origin", "https://other.example.org")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodPost, "/get-access-token", nil)
	req.Header.Set("Origin", "https://allowed.example.org")
	rec = httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, "https://allowed.example.org", rec.Header().Get("Access-Control-Allow-Origin"))
}
