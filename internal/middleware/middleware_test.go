package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vasu1712/scenyx-rooms/internal/models"
)

type stubVerifier map[string]models.User

func (s stubVerifier) Verify(ctx context.Context, token string) (models.User, error) {
	if u, ok := s[token]; ok {
		return u, nil
	}
	return models.User{}, errors.New("bad token")
}

func TestRequireAuth(t *testing.T) {
	verifier := stubVerifier{"good": {ID: "u1"}}
	handler := RequireAuth(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		require.True(t, ok)
		w.Write([]byte(user.ID))
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{name: "valid", header: "Bearer good", wantStatus: http.StatusOK, wantBody: "u1"},
		{name: "missing", wantStatus: http.StatusUnauthorized},
		{name: "invalid", header: "Bearer bad", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/rooms/r1", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	handler := CORS([]string{"http://127.0.0.1:5173"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/rooms/r1", nil)
	req.Header.Set("Origin", "http://127.0.0.1:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "http://127.0.0.1:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.NotEqual(t, http.StatusTeapot, rec.Code, "preflight does not reach the handler")

	req = httptest.NewRequest(http.MethodGet, "/api/v1/rooms/r1", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestLoggerAndMetrics(t *testing.T) {
	var buf bytes.Buffer
	r := mux.NewRouter()
	r.Use(Metrics, Logger(zerolog.New(&buf)))
	r.HandleFunc("/api/v1/rooms/{roomId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/rooms/r1", nil))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, buf.String(), `"status":201`)
	assert.Contains(t, buf.String(), `"path":"/api/v1/rooms/r1"`)
}

func TestRoutePath(t *testing.T) {
	r := mux.NewRouter()
	var got string
	r.HandleFunc("/api/v1/rooms/{roomId}/messages", func(w http.ResponseWriter, r *http.Request) {
		got = routePath(r)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/rooms/abc/messages", nil))
	assert.Equal(t, "/api/v1/rooms/{roomId}/messages", got)

	assert.Equal(t, "unmatched", routePath(httptest.NewRequest(http.MethodGet, "/x", nil)))
}
