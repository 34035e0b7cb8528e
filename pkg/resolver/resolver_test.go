package resolver

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/authrelay/authrelay/internal/autherrors"
	"github.com/authrelay/authrelay/pkg/identity"
)

type fakeUpstream struct {
	mu    sync.Mutex
	calls int
	block chan struct{}

	user    *identity.User
	session *identity.Session
	err     error
}

func (f *fakeUpstream) ResolveToken(ctx context.Context, token string) (*identity.User, *identity.Session, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return f.user, f.session, f.err
}

func (f *fakeUpstream) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func authedUpstream() *fakeUpstream {
	return &fakeUpstream{
		user:    &identity.User{ID: "u1"},
		session: &identity.Session{ID: "s1", UserID: "u1"},
	}
}

func TestResolve_EmptyTokenSkipsUpstream(t *testing.T) {
	up := authedUpstream()
	r := New(up)
	t.Cleanup(func() { _ = r.Close() })

	user, session := r.Resolve(context.Background(), "")
	if user != nil || session != nil {
		t.Fatalf("Resolve(\"\") = (%v, %v), want (nil, nil)", user, session)
	}
	if up.callCount() != 0 {
		t.Fatalf("upstream called %d times for empty token", up.callCount())
	}
}

func TestResolve_SuccessIsCached(t *testing.T) {
	up := authedUpstream()
	r := New(up)
	t.Cleanup(func() { _ = r.Close() })

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		user, session := r.Resolve(ctx, "tok_1")
		if user == nil || user.ID != "u1" {
			t.Fatalf("Resolve() user = %v", user)
		}
		if session == nil || session.ID != "s1" {
			t.Fatalf("Resolve() session = %v", session)
		}
	}
	if up.callCount() != 1 {
		t.Fatalf("upstream called %d times, want 1", up.callCount())
	}
}

func TestResolve_FailureIsNotCached(t *testing.T) {
	up := &fakeUpstream{err: autherrors.New(autherrors.CodeNetwork)}
	r := New(up)
	t.Cleanup(func() { _ = r.Close() })

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		user, session := r.Resolve(ctx, "tok_1")
		if user != nil || session != nil {
			t.Fatalf("Resolve() = (%v, %v), want (nil, nil)", user, session)
		}
	}
	if up.callCount() != 3 {
		t.Fatalf("upstream called %d times, want 3 (failures must not be cached)", up.callCount())
	}

	// Upstream recovery is visible on the very next request.
	up.mu.Lock()
	up.err = nil
	up.user = &identity.User{ID: "u1"}
	up.session = &identity.Session{ID: "s1"}
	up.mu.Unlock()

	user, _ := r.Resolve(ctx, "tok_1")
	if user == nil {
		t.Fatal("Resolve() still unauthenticated after upstream recovered")
	}
}

func TestResolve_NeverReturnsErrorOnFailure(t *testing.T) {
	up := &fakeUpstream{err: errors.New("boom")}
	r := New(up)
	t.Cleanup(func() { _ = r.Close() })

	// Must not panic and must resolve to unauthenticated.
	user, session := r.Resolve(context.Background(), "tok")
	if user != nil || session != nil {
		t.Fatal("failure did not resolve to unauthenticated")
	}
}

func TestResolve_TTLExpiryRevalidates(t *testing.T) {
	up := authedUpstream()
	r := New(up, WithTTL(30*time.Millisecond))
	t.Cleanup(func() { _ = r.Close() })

	ctx := context.Background()
	r.Resolve(ctx, "tok_1")
	r.Resolve(ctx, "tok_1")
	if up.callCount() != 1 {
		t.Fatalf("upstream called %d times before expiry, want 1", up.callCount())
	}

	time.Sleep(60 * time.Millisecond)
	r.Resolve(ctx, "tok_1")
	if up.callCount() != 2 {
		t.Fatalf("upstream called %d times after expiry, want 2", up.callCount())
	}
}

func TestResolve_ConcurrentMissesShareOneFlight(t *testing.T) {
	up := authedUpstream()
	up.block = make(chan struct{})
	r := New(up)
	t.Cleanup(func() { _ = r.Close() })

	ctx := context.Background()
	var wg sync.WaitGroup
	var authed atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if user, _ := r.Resolve(ctx, "tok_1"); user != nil {
				authed.Add(1)
			}
		}()
	}

	// Give the goroutines time to pile onto the single flight.
	time.Sleep(20 * time.Millisecond)
	close(up.block)
	wg.Wait()

	if got := up.callCount(); got != 1 {
		t.Fatalf("upstream called %d times, want 1", got)
	}
	if authed.Load() != 8 {
		t.Fatalf("%d callers authenticated, want 8", authed.Load())
	}
}

func TestResolve_DistinctTokensResolveIndependently(t *testing.T) {
	up := authedUpstream()
	r := New(up)
	t.Cleanup(func() { _ = r.Close() })

	ctx := context.Background()
	r.Resolve(ctx, "tok_a")
	r.Resolve(ctx, "tok_b")
	if up.callCount() != 2 {
		t.Fatalf("upstream called %d times, want 2", up.callCount())
	}
}

func TestInvalidate_DropsCachedEntry(t *testing.T) {
	up := authedUpstream()
	r := New(up)
	t.Cleanup(func() { _ = r.Close() })

	ctx := context.Background()
	r.Resolve(ctx, "tok_1")
	r.Invalidate(ctx, "tok_1")
	r.Resolve(ctx, "tok_1")
	if up.callCount() != 2 {
		t.Fatalf("upstream called %d times after invalidate, want 2", up.callCount())
	}
}

func TestResolve_ObserverOutcomes(t *testing.T) {
	up := authedUpstream()
	var mu sync.Mutex
	var outcomes []string
	r := New(up, WithObserver(func(outcome string, d time.Duration) {
		mu.Lock()
		outcomes = append(outcomes, outcome)
		mu.Unlock()
	}))
	t.Cleanup(func() { _ = r.Close() })

	ctx := context.Background()
	r.Resolve(ctx, "")
	r.Resolve(ctx, "tok_1")
	r.Resolve(ctx, "tok_1")

	mu.Lock()
	defer mu.Unlock()
	want := []string{OutcomeAnonymous, OutcomeResolved, OutcomeHit}
	if len(outcomes) != len(want) {
		t.Fatalf("outcomes = %v, want %v", outcomes, want)
	}
	for i := range want {
		if outcomes[i] != want[i] {
			t.Fatalf("outcomes = %v, want %v", outcomes, want)
		}
	}
}
