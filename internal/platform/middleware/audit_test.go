package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hmis/hmis/internal/platform/auth"
)

// mockRecorder collects audit entries for assertions.
type mockRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
	err     error // if set, RecordAccess returns this error
}

func (m *mockRecorder) RecordAccess(entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return m.err
}

func (m *mockRecorder) last() AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[len(m.entries)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func newAuditContext(method, path string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	ctx := context.WithValue(req.Context(), auth.UserIDKey, "user-1")
	ctx = context.WithValue(ctx, auth.UserRolesKey, []string{"billing"})
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("tenant_id", "clinic_a")
	c.Set("request_id", "req-123")
	return c, rec
}

func TestAudit_RecordsEntry(t *testing.T) {
	logger := zerolog.New(os.Stderr)
	recorder := &mockRecorder{}

	c, _ := newAuditContext(http.MethodPost, "/api/v1/invoices")
	handler := func(c echo.Context) error {
		return c.String(http.StatusCreated, "ok")
	}

	mw := Audit(logger, recorder)
	if err := mw(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if recorder.count() != 1 {
		t.Fatalf("expected 1 audit entry, got %d", recorder.count())
	}
	entry := recorder.last()
	if entry.UserID != "user-1" {
		t.Errorf("expected user-1, got %s", entry.UserID)
	}
	if entry.TenantID != "clinic_a" {
		t.Errorf("expected clinic_a, got %s", entry.TenantID)
	}
	if entry.Resource != "invoices" {
		t.Errorf("expected invoices, got %s", entry.Resource)
	}
	if entry.Action != "create" {
		t.Errorf("expected create, got %s", entry.Action)
	}
	if entry.StatusCode != http.StatusCreated {
		t.Errorf("expected 201, got %d", entry.StatusCode)
	}
	if entry.RequestID != "req-123" {
		t.Errorf("expected req-123, got %s", entry.RequestID)
	}
}

func TestAudit_SkipsNonAPIRoutes(t *testing.T) {
	logger := zerolog.New(os.Stderr)
	recorder := &mockRecorder{}

	c, _ := newAuditContext(http.MethodGet, "/health")
	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}

	mw := Audit(logger, recorder)
	if err := mw(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if recorder.count() != 0 {
		t.Errorf("expected no audit entries for /health, got %d", recorder.count())
	}
}

func TestAudit_RecorderFailureDoesNotFailRequest(t *testing.T) {
	logger := zerolog.New(os.Stderr)
	recorder := &mockRecorder{err: errors.New("audit store down")}

	c, _ := newAuditContext(http.MethodGet, "/api/v1/invoices")
	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}

	mw := Audit(logger, recorder)
	if err := mw(handler)(c); err != nil {
		t.Fatalf("request must succeed even when audit recording fails: %v", err)
	}
}

func TestHTTPMethodToAction(t *testing.T) {
	tests := []struct {
		method string
		want   string
	}{
		{http.MethodGet, "read"},
		{http.MethodHead, "read"},
		{http.MethodPost, "create"},
		{http.MethodPut, "update"},
		{http.MethodPatch, "update"},
		{http.MethodDelete, "delete"},
		{"OPTIONS", "read"},
	}
	for _, tt := range tests {
		if got := httpMethodToAction(tt.method); got != tt.want {
			t.Errorf("httpMethodToAction(%s) = %s, want %s", tt.method, got, tt.want)
		}
	}
}

func TestExtractResource(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/v1/invoices", "invoices"},
		{"/api/v1/invoices/abc-123", "invoices"},
		{"/api/v1/reports/ar-aging", "reports"},
		{"/api/v1/", "unknown"},
	}
	for _, tt := range tests {
		if got := extractResource(tt.path); got != tt.want {
			t.Errorf("extractResource(%s) = %s, want %s", tt.path, got, tt.want)
		}
	}
}
