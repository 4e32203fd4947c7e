package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/tallyledger/internal/api/respond"
	"github.com/mmynk/tallyledger/internal/auth"
)

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(GetUserID(r.Context())))
	})
}

func TestRequireAuth(t *testing.T) {
	jwt := auth.NewJWTManager("secret", time.Hour)
	token, err := jwt.Generate("user-1", "")
	require.NoError(t, err)

	h := RequireAuth(jwt)(echoUser())

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{name: "valid", header: "Bearer " + token, status: http.StatusOK, body: "user-1"},
		{name: "missing", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Token " + token, status: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer nope", status: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/persons", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			assert.Equal(t, tt.status, rr.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, tt.body, rr.Body.String())
				return
			}
			var body respond.ErrorResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, http.StatusUnauthorized, body.Code)
			assert.Equal(t, "Unauthorized", body.Error)
		})
	}
}

func TestWithUserIDReachesAccessLog(t *testing.T) {
	var seen *requestInfo
	h := Logging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithUserID(r.Context(), "user-9")
		seen, _ = ctx.Value(requestInfoKey).(*requestInfo)
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rr.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "user-9", seen.userID)

	assert.Empty(t, GetUserID(context.Background()))
}

func TestCORS(t *testing.T) {
	h := CORS("https://app.example.com")(echoUser())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodOptions, "/persons", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Headers"), "Authorization")
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), "DELETE")

	rr = httptest.NewRecorder()
	CORS("")(echoUser()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecovery(t *testing.T) {
	h := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	var body respond.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 500, body.Code)
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	r := mux.NewRouter()
	r.Use(Metrics)
	var route string
	r.HandleFunc("/person/{id}", func(w http.ResponseWriter, req *http.Request) {
		route, _ = mux.CurrentRoute(req).GetPathTemplate()
		w.WriteHeader(http.StatusNoContent)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/person/abc", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "/person/{id}", route)
}
