package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func serve(origins []string, method, origin string) *httptest.ResponseRecorder {
	h := CORS(origins)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	req := httptest.NewRequest(method, "/api/config", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestCORS_ExplicitOriginGetsCredentials(t *testing.T) {
	w := serve([]string{"https://demo.example"}, http.MethodGet, "https://demo.example")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://demo.example" {
		t.Errorf("Expected origin echoed, got %q", got)
	}
	if w.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Error("Expected credentials for explicit origin")
	}
	if w.Code != http.StatusTeapot {
		t.Errorf("Expected request to reach handler, got %d", w.Code)
	}
}

func TestCORS_WildcardHasNoCredentials(t *testing.T) {
	w := serve([]string{"*"}, http.MethodGet, "https://anywhere.example")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://anywhere.example" {
		t.Errorf("Expected origin echoed, got %q", got)
	}
	if w.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Error("Wildcard must not allow credentials")
	}
}

func TestCORS_ForeignOriginAndPreflight(t *testing.T) {
	w := serve([]string{"https://demo.example"}, http.MethodOptions, "https://evil.example")
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("Foreign origin must not be allowed")
	}
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected preflight 204, got %d", w.Code)
	}
}

func TestOrigins(t *testing.T) {
	if got := Origins("https://demo.example", false); len(got) != 1 || got[0] != "https://demo.example" {
		t.Errorf("Unexpected origins %v", got)
	}
	if got := Origins("http://localhost:5173", true); got[0] != "*" {
		t.Errorf("Expected wildcard in development, got %v", got)
	}
}
