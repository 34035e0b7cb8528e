package boundary

import (
	"errors"
	"testing"

	"github.com/authrelay/authrelay/internal/autherrors"
)

func TestRender_Success(t *testing.T) {
	b := New("greeting",
		func(name string) (string, error) { return "hello " + name, nil },
		func(err error) string { return "fallback" },
	)

	if got := b.Render("world"); got != "hello world" {
		t.Fatalf("Render() = %q", got)
	}
	if b.Failed() {
		t.Fatal("Failed() = true after success")
	}
}

func TestRender_PanicServesFallback(t *testing.T) {
	b := New("widget",
		func(int) (string, error) { panic("nil deref") },
		func(err error) string { return "fallback" },
	)

	if got := b.Render(1); got != "fallback" {
		t.Fatalf("Render() = %q, want fallback", got)
	}
	if !b.Failed() {
		t.Fatal("Failed() = false after panic")
	}

	var cerr *ComponentError
	if !errors.As(b.Err(), &cerr) {
		t.Fatalf("Err() = %v, want *ComponentError", b.Err())
	}
	if !cerr.Panicked {
		t.Error("Panicked = false")
	}
	if cerr.Component != "widget" {
		t.Errorf("Component = %q", cerr.Component)
	}
	if !autherrors.Is(cerr.Err, autherrors.CodeComponent) {
		t.Errorf("wrapped error code = %v, want %s", cerr.Err, autherrors.CodeComponent)
	}
	if len(cerr.Stack) == 0 {
		t.Error("no stack captured for panic")
	}
}

func TestRender_ErrorServesFallback(t *testing.T) {
	renderErr := errors.New("bad data")
	b := New("widget",
		func(int) (string, error) { return "", renderErr },
		func(err error) string { return "fallback" },
	)

	if got := b.Render(1); got != "fallback" {
		t.Fatalf("Render() = %q, want fallback", got)
	}
	var cerr *ComponentError
	if !errors.As(b.Err(), &cerr) || cerr.Panicked {
		t.Fatalf("Err() = %v", b.Err())
	}
	if !errors.Is(cerr, renderErr) {
		t.Fatal("cause not reachable through Unwrap")
	}
}

func TestRender_FailureSticksUntilRetry(t *testing.T) {
	calls := 0
	fail := true
	b := New("widget",
		func(int) (string, error) {
			calls++
			if fail {
				return "", errors.New("down")
			}
			return "ok", nil
		},
		func(err error) string { return "fallback" },
	)

	b.Render(1)
	b.Render(1)
	b.Render(1)
	if calls != 1 {
		t.Fatalf("renderer called %d times while failed, want 1", calls)
	}

	fail = false
	if got := b.Retry(); got != "ok" {
		t.Fatalf("Retry() = %q, want ok", got)
	}
	if b.Failed() {
		t.Fatal("Failed() = true after successful retry")
	}
}

func TestRender_NewPropsResetFailure(t *testing.T) {
	b := New("profile",
		func(userID string) (string, error) {
			if userID == "broken" {
				return "", errors.New("boom")
			}
			return "profile:" + userID, nil
		},
		func(err error) string { return "fallback" },
	)

	if got := b.Render("broken"); got != "fallback" {
		t.Fatalf("Render(broken) = %q", got)
	}
	if got := b.Render("u2"); got != "profile:u2" {
		t.Fatalf("Render(u2) after failure = %q, want fresh attempt", got)
	}
	if b.Failed() {
		t.Fatal("Failed() = true after props change recovered")
	}
}

func TestReset_ClearsWithoutRendering(t *testing.T) {
	calls := 0
	b := New("widget",
		func(int) (string, error) {
			calls++
			return "", errors.New("down")
		},
		nil,
	)

	b.Render(1)
	b.Reset()
	if b.Failed() || b.Err() != nil {
		t.Fatal("Reset() did not clear the failure")
	}
	if calls != 1 {
		t.Fatalf("Reset() rendered; calls = %d", calls)
	}
}

func TestRender_NilFallbackYieldsZero(t *testing.T) {
	b := New[int, string]("widget",
		func(int) (string, error) { return "", errors.New("down") },
		nil,
	)
	if got := b.Render(1); got != "" {
		t.Fatalf("Render() = %q, want zero value", got)
	}
}

func TestSiblingBoundariesAreIsolated(t *testing.T) {
	broken := New("broken",
		func(int) (string, error) { panic("boom") },
		func(err error) string { return "fallback" },
	)
	healthy := New("healthy",
		func(n int) (string, error) { return "ok", nil },
		func(err error) string { return "fallback" },
	)

	if got := broken.Render(1); got != "fallback" {
		t.Fatalf("broken.Render() = %q", got)
	}
	if got := healthy.Render(1); got != "ok" {
		t.Fatalf("healthy sibling affected: %q", got)
	}
}

func TestOnError_CalledOncePerFailure(t *testing.T) {
	var seen []*ComponentError
	b := New("widget",
		func(int) (string, error) { return "", errors.New("down") },
		func(err error) string { return "fallback" },
		WithOnError[int, string](func(err *ComponentError) { seen = append(seen, err) }),
	)

	b.Render(1)
	b.Render(1)
	if len(seen) != 1 {
		t.Fatalf("onError called %d times, want 1", len(seen))
	}
}
