package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(Subject(r)))
}

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier("test-secret")
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}
	return v
}

func TestRequireAuth(t *testing.T) {
	v := newTestVerifier(t)
	m := NewMiddleware(v)

	controller, err := v.Sign("operator-1", []string{ScopeRead, ScopeControl}, time.Minute)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	other, _ := NewVerifier("other-secret")
	forged, _ := other.Sign("intruder", []string{ScopeControl}, time.Minute)

	tests := []struct {
		name       string
		path       string
		header     string
		wantStatus int
		wantCode   string
	}{
		{"health skips auth", "/api/v1/health", "", http.StatusOK, ""},
		{"missing header", "/api/v1/state", "", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"wrong scheme", "/api/v1/state", "Basic abc", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"wrong secret", "/api/v1/state", "Bearer " + forged, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"valid token", "/api/v1/state", "Bearer " + controller, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			m.RequireAuth(okHandler)(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantCode == "" {
				return
			}
			var body map[string]interface{}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("Failed to decode error body: %v", err)
			}
			if body["code"] != tt.wantCode || body["result"] != "error" {
				t.Errorf("Unexpected error body %v", body)
			}
			if body["correlationId"] == "" {
				t.Error("Expected correlation ID")
			}
		})
	}
}

func TestRequireScope(t *testing.T) {
	v := newTestVerifier(t)
	m := NewMiddleware(v)
	viewer, _ := v.Sign("viewer-1", []string{ScopeRead, ScopeTelemetry}, time.Minute)

	handler := m.RequireAuth(m.RequireScope(ScopeControl)(okHandler))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/toggle", nil)
	req.Header.Set("Authorization", "Bearer "+viewer)
	rec := httptest.NewRecorder()
	handler(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for viewer, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/telemetry?access_token="+viewer, nil)
	rec = httptest.NewRecorder()
	m.RequireAuth(m.RequireScope(ScopeTelemetry)(okHandler))(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "viewer-1" {
		t.Errorf("Expected query token to authenticate viewer-1, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestDisabledAuthAllowsEverything(t *testing.T) {
	m := NewMiddleware(nil)
	if m.Enabled() {
		t.Fatal("Expected auth disabled")
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/stop", nil)
	rec := httptest.NewRecorder()
	m.RequireAuth(m.RequireScope(ScopeControl)(okHandler))(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "anonymous" {
		t.Errorf("Expected anonymous access, got %d %q", rec.Code, rec.Body.String())
	}
}
