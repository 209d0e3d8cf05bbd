package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/mihretab/portfolio/internal/store"
)

func newRepo(t *testing.T) store.Repository {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "identity.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestMiddlewareIssuesVisitorCookie(t *testing.T) {
	t.Parallel()

	repo := newRepo(t)
	var gotVisitor, gotSession string
	h := Middleware(repo, true)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotVisitor = VisitorIDFromContext(r.Context())
		gotSession = SessionIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/chat", nil)
	req.Header.Set(SessionHeaderName, "tab-7")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if !isValidVisitorID(gotVisitor) {
		t.Fatalf("Expected generated visitor id, got %q", gotVisitor)
	}
	if gotSession != "tab-7" {
		t.Errorf("Expected session tab-7, got %q", gotSession)
	}

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == VisitorCookieName {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value != gotVisitor {
		t.Fatalf("Expected visitor cookie %q, got %+v", gotVisitor, cookie)
	}

	v, err := repo.GetVisitor(context.Background(), gotVisitor)
	if err != nil || v == nil {
		t.Fatalf("Expected visitor to be stored, got %v, %v", v, err)
	}
}

func TestMiddlewareReusesValidCookie(t *testing.T) {
	t.Parallel()

	const id = "anon_0123456789abcdef0123456789abcdef"
	var got string
	h := Middleware(newRepo(t), true)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = VisitorIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/?session_id=q-1", nil)
	req.AddCookie(&http.Cookie{Name: VisitorCookieName, Value: id})
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got != id {
		t.Errorf("Expected cookie visitor %q, got %q", id, got)
	}
}

func TestMiddlewareReplacesInvalidCookie(t *testing.T) {
	t.Parallel()

	var got string
	h := Middleware(nil, true)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = VisitorIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: VisitorCookieName, Value: "../../admin"})
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got == "../../admin" || !isValidVisitorID(got) {
		t.Errorf("Expected a fresh visitor id, got %q", got)
	}
}

func TestSanitizeSessionID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"tab-1", "tab-1"},
		{"  ", DefaultSessionIDValue},
		{"bad id!", DefaultSessionIDValue},
		{"a:b.c_d", "a:b.c_d"},
	}
	for _, tt := range tests {
		if got := sanitizeSessionID(tt.in); got != tt.want {
			t.Errorf("sanitizeSessionID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestContextDefaults(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if VisitorIDFromContext(ctx) != "" {
		t.Error("Expected empty visitor id")
	}
	if SessionIDFromContext(ctx) != DefaultSessionIDValue {
		t.Error("Expected default session id")
	}

	ctx = WithVisitor(ctx, "anon_x", "tab")
	if VisitorIDFromContext(ctx) != "anon_x" || SessionIDFromContext(ctx) != "tab" {
		t.Error("Expected WithVisitor values to round trip")
	}
}
