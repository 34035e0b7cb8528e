package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/authrelay/authrelay/pkg/identity"
)

type stubResolver struct {
	lastToken string
	calls     int

	user    *identity.User
	session *identity.Session
}

func (s *stubResolver) Resolve(ctx context.Context, token string) (*identity.User, *identity.Session) {
	s.calls++
	s.lastToken = token
	return s.user, s.session
}

func TestRequestAuth_InjectsAuthContext(t *testing.T) {
	res := &stubResolver{
		user:    &identity.User{ID: "u1"},
		session: &identity.Session{ID: "s1"},
	}

	var got AuthContext
	handler := RequestAuth(res)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/profile", nil)
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "tok_1"})
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if res.lastToken != "tok_1" {
		t.Fatalf("resolver got token %q, want tok_1", res.lastToken)
	}
	if got.User == nil || got.User.ID != "u1" {
		t.Errorf("context user = %v", got.User)
	}
	if got.Session == nil || got.Session.ID != "s1" {
		t.Errorf("context session = %v", got.Session)
	}
	if !got.IsAuthenticated() {
		t.Error("IsAuthenticated() = false for full pair")
	}
}

func TestRequestAuth_NoCookieIsAnonymous(t *testing.T) {
	res := &stubResolver{}

	called := false
	handler := RequestAuth(res)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		ac := FromContext(r.Context())
		if ac.User != nil || ac.Session != nil {
			t.Errorf("anonymous request got (%v, %v)", ac.User, ac.Session)
		}
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if !called {
		t.Fatal("next handler was not called")
	}
	if res.lastToken != "" {
		t.Fatalf("resolver got token %q, want empty", res.lastToken)
	}
}

func TestRequestAuth_FailureStillCallsNext(t *testing.T) {
	// Resolver failures surface as (nil, nil); the pipeline must proceed.
	res := &stubResolver{}

	called := false
	handler := RequestAuth(res)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "tok_broken"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Fatal("next handler was not called on resolution failure")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, middleware must not write responses", rec.Code)
	}
}

func TestRequestAuth_SessionWithoutUserIsNulled(t *testing.T) {
	res := &stubResolver{session: &identity.Session{ID: "s1"}}

	handler := RequestAuth(res)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac := FromContext(r.Context())
		if ac.Session != nil {
			t.Error("session published without a user")
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "tok"})
	handler.ServeHTTP(httptest.NewRecorder(), req)
}

func TestRequestAuth_ResolvesOncePerRequest(t *testing.T) {
	res := &stubResolver{
		user:    &identity.User{ID: "u1"},
		session: &identity.Session{ID: "s1"},
	}

	handler := RequestAuth(res)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Several consumers read the same resolved context.
		_ = UserFromContext(r.Context())
		_ = SessionFromContext(r.Context())
		_ = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "tok"})
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if res.calls != 1 {
		t.Fatalf("resolver called %d times, want 1", res.calls)
	}
}

func TestRequestAuth_CustomCookieName(t *testing.T) {
	res := &stubResolver{}

	handler := RequestAuth(res, WithCookieName("my-session"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "my-session", Value: "tok_custom"})
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if res.lastToken != "tok_custom" {
		t.Fatalf("resolver got token %q, want tok_custom", res.lastToken)
	}
}

func TestRequestAuth_WritesNoHeaders(t *testing.T) {
	res := &stubResolver{}

	handler := RequestAuth(res)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "tok"})
	handler.ServeHTTP(rec, req)

	if len(rec.Header()) != 0 {
		t.Fatalf("middleware wrote headers: %v", rec.Header())
	}
}

func TestFromContext_Unresolved(t *testing.T) {
	ac := FromContext(context.Background())
	if ac.User != nil || ac.Session != nil || ac.IsAuthenticated() {
		t.Fatalf("FromContext(empty) = %+v, want zero", ac)
	}
}
