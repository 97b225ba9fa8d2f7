package instrument

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrUnsupportedBody is returned for test bodies of a shape the wrapper
// cannot call.
var ErrUnsupportedBody = errors.New("instrument: unsupported test body")

// TestFunc is the normalized form of a test body. It returns once the body
// has completed.
type TestFunc func(ctx context.Context) error

// CallbackFunc is a body that signals completion by calling done, possibly
// after it has returned.
type CallbackFunc func(ctx context.Context, done func(error))

// Normalize converts a runner supplied body into a TestFunc. Supported
// shapes are func(), func() error, func(context.Context),
// func(context.Context) error, func(func(error)),
// func(context.Context, func(error)) and the named TestFunc and CallbackFunc.
func Normalize(fn any) (TestFunc, error) {
	switch f := fn.(type) {
	case TestFunc:
		return f, nil
	case func(context.Context) error:
		return f, nil
	case func() error:
		return func(context.Context) error { return f() }, nil
	case func(context.Context):
		return func(ctx context.Context) error {
			f(ctx)
			return nil
		}, nil
	case func():
		return func(context.Context) error {
			f()
			return nil
		}, nil
	case CallbackFunc:
		return fromCallback(f), nil
	case func(context.Context, func(error)):
		return fromCallback(f), nil
	case func(func(error)):
		return fromCallback(func(_ context.Context, done func(error)) { f(done) }), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedBody, fn)
	}
}

// fromCallback waits for the first done call or for ctx to end. Later done
// calls are ignored.
func fromCallback(f CallbackFunc) TestFunc {
	return func(ctx context.Context) error {
		result := make(chan error, 1)
		var once sync.Once
		f(ctx, func(err error) {
			once.Do(func() { result <- err })
		})
		select {
		case err := <-result:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
