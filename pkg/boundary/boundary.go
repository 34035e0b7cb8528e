// Package boundary isolates rendering failures. A panicking or erroring
// component is replaced by its fallback while its siblings and the rest
// of the page keep rendering, and the auth store is never touched by a
// render failure.
package boundary

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/authrelay/authrelay/internal/autherrors"
)

// ComponentError wraps the failure of one named component.
type ComponentError struct {
	Component string
	Panicked  bool
	Err       error

	// Stack is captured at the recovery site for panics, nil otherwise.
	Stack []byte
}

// Error returns a description including the component name.
func (e *ComponentError) Error() string {
	if e.Panicked {
		return fmt.Sprintf("component %q panicked: %v", e.Component, e.Err)
	}
	return fmt.Sprintf("component %q failed: %v", e.Component, e.Err)
}

// Unwrap returns the underlying error.
func (e *ComponentError) Unwrap() error { return e.Err }

// Renderer produces output for the given props.
type Renderer[P comparable, T any] func(props P) (T, error)

// Fallback produces replacement output when the renderer fails.
type Fallback[T any] func(err error) T

// Boundary supervises one renderer. After a failure it serves the
// fallback on every render until Retry or Reset is called, or until the
// props change, which resets it implicitly so fresh input gets a fresh
// attempt.
type Boundary[P comparable, T any] struct {
	name     string
	render   Renderer[P, T]
	fallback Fallback[T]
	logger   *slog.Logger
	onError  func(err *ComponentError)

	mu        sync.Mutex
	failed    bool
	lastErr   *ComponentError
	lastProps P
	rendered  bool
}

// Option configures a Boundary.
type Option[P comparable, T any] func(*Boundary[P, T])

// WithLogger sets the logger failures are reported to.
func WithLogger[P comparable, T any](logger *slog.Logger) Option[P, T] {
	return func(b *Boundary[P, T]) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithOnError registers a hook called once per failure, e.g. to forward
// it to an error reporter.
func WithOnError[P comparable, T any](fn func(err *ComponentError)) Option[P, T] {
	return func(b *Boundary[P, T]) {
		b.onError = fn
	}
}

// New creates a boundary around render. A nil fallback substitutes the
// zero value of T.
func New[P comparable, T any](name string, render Renderer[P, T], fallback Fallback[T], opts ...Option[P, T]) *Boundary[P, T] {
	b := &Boundary[P, T]{
		name:     name,
		render:   render,
		fallback: fallback,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Render runs the renderer for props, substituting the fallback on
// panic or error. It never panics itself.
func (b *Boundary[P, T]) Render(props P) T {
	b.mu.Lock()
	if b.rendered && props != b.lastProps {
		// New props get a fresh attempt even after a failure.
		b.failed = false
		b.lastErr = nil
	}
	b.lastProps = props
	b.rendered = true
	if b.failed {
		err := b.lastErr
		b.mu.Unlock()
		return b.serveFallback(err)
	}
	b.mu.Unlock()

	out, cerr := b.attempt(props)
	if cerr == nil {
		return out
	}

	b.mu.Lock()
	b.failed = true
	b.lastErr = cerr
	b.mu.Unlock()

	if cerr.Panicked {
		b.logger.Error("component panic recovered",
			"component", b.name,
			"error", cerr.Err.Error(),
			"stack", string(cerr.Stack))
	} else {
		b.logger.Error("component render failed",
			"component", b.name,
			"error", cerr.Err.Error())
	}
	if b.onError != nil {
		b.onError(cerr)
	}
	return b.serveFallback(cerr)
}

// Retry clears the failure and re-renders with the last props.
func (b *Boundary[P, T]) Retry() T {
	b.mu.Lock()
	b.failed = false
	b.lastErr = nil
	props := b.lastProps
	b.mu.Unlock()
	return b.Render(props)
}

// Reset clears the failure without rendering. The next Render attempts
// the renderer again.
func (b *Boundary[P, T]) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failed = false
	b.lastErr = nil
}

// Failed reports whether the boundary is currently serving its fallback.
func (b *Boundary[P, T]) Failed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failed
}

// Err returns the failure currently shielding the renderer, or nil.
func (b *Boundary[P, T]) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastErr == nil {
		return nil
	}
	return b.lastErr
}

func (b *Boundary[P, T]) attempt(props P) (out T, cerr *ComponentError) {
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("%v", r)
			}
			cerr = &ComponentError{
				Component: b.name,
				Panicked:  true,
				Err:       autherrors.New(autherrors.CodeComponent).Wrap(err),
				Stack:     debug.Stack(),
			}
		}
	}()

	out, err := b.render(props)
	if err != nil {
		cerr = &ComponentError{Component: b.name, Err: err}
	}
	return out, cerr
}

func (b *Boundary[P, T]) serveFallback(err *ComponentError) T {
	if b.fallback != nil {
		return b.fallback(err)
	}
	var zero T
	return zero
}
