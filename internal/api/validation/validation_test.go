package validation

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testID = "1b4e28ba-2fa1-11d2-883f-0016d3cca427"

func newTestHandler(t *testing.T) (http.Handler, *[]byte) {
	t.Helper()
	v, err := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	var seen []byte
	h := v.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	return h, &seen
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestValidatorAcceptsValidRequests(t *testing.T) {
	h, seen := newTestHandler(t)

	tests := []struct {
		name, method, path, body string
	}{
		{"create request", http.MethodPost, "/api/v1/requests", `{"process_id":"` + testID + `","count":10}`},
		{"review", http.MethodPost, "/api/v1/requests/" + testID + "/review", `{"decision":"reject","notes":"bad","allow_rework":true}`},
		{"list with filters", http.MethodGet, "/api/v1/requests?status=pending&page=2&limit=20", ""},
		{"automation entry", http.MethodPost, "/api/v1/processes/" + testID + "/automation/entries", `{"date":"2024-03-01","completed_count":5000}`},
		{"role override", http.MethodPut, "/api/v1/role-overrides/kc-user-1", `{"username":"alice","role":"project_manager"}`},
		{"action without body", http.MethodPost, "/api/v1/requests/" + testID + "/approve", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(h, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, tt.body, string(*seen), "тело должно дойти до обработчика")
		})
	}
}

func TestValidatorRejectsInvalidRequests(t *testing.T) {
	h, _ := newTestHandler(t)

	tests := []struct {
		name, method, path, body string
	}{
		{"missing count", http.MethodPost, "/api/v1/requests", `{"process_id":"` + testID + `"}`},
		{"bad process id", http.MethodPost, "/api/v1/requests", `{"process_id":"nope","count":1}`},
		{"unknown field", http.MethodPost, "/api/v1/requests", `{"process_id":"` + testID + `","count":1,"extra":true}`},
		{"bad decision", http.MethodPost, "/api/v1/requests/" + testID + "/review", `{"decision":"maybe"}`},
		{"bad path id", http.MethodGet, "/api/v1/requests/not-a-uuid", ""},
		{"bad status filter", http.MethodGet, "/api/v1/processes?status=archived", ""},
		{"limit too large", http.MethodGet, "/api/v1/projects?limit=100000", ""},
		{"negative count", http.MethodPost, "/api/v1/processes/" + testID + "/automation/entries", `{"date":"2024-03-01","completed_count":-1}`},
		{"bad role", http.MethodPut, "/api/v1/role-overrides/u1", `{"username":"a","role":"root"}`},
		{"bad process type", http.MethodPost, "/api/v1/processes", `{"name":"p","project":"x","type":"hybrid","total_rows":10}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(h, tt.method, tt.path, tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)

			var body struct {
				Error struct {
					Code    string `json:"code"`
					Message string `json:"message"`
				} `json:"error"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "VALIDATION_ERROR", body.Error.Code)
			assert.NotEmpty(t, body.Error.Message)
		})
	}
}

func TestValidatorPassesUnknownPaths(t *testing.T) {
	h, _ := newTestHandler(t)

	for _, path := range []string{"/health/live", "/metrics", "/api/v1/unknown"} {
		rec := do(h, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
