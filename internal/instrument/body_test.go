package instrument

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name    string
		fn      any
		wantErr error
	}{
		{name: "func()", fn: func() {}},
		{name: "func() error", fn: func() error { return boom }, wantErr: boom},
		{name: "func(ctx)", fn: func(context.Context) {}},
		{name: "func(ctx) error", fn: func(context.Context) error { return boom }, wantErr: boom},
		{name: "TestFunc", fn: TestFunc(func(context.Context) error { return nil })},
		{name: "callback", fn: func(done func(error)) { done(boom) }, wantErr: boom},
		{name: "ctx callback", fn: func(_ context.Context, done func(error)) { done(nil) }},
		{name: "CallbackFunc", fn: CallbackFunc(func(_ context.Context, done func(error)) {
			go done(boom)
		}), wantErr: boom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := Normalize(tt.fn)
			require.NoError(t, err)
			assert.Equal(t, tt.wantErr, body(context.Background()))
		})
	}
}

func TestNormalize_Unsupported(t *testing.T) {
	for _, fn := range []any{nil, 42, "test", func(int) {}, func() int { return 0 }} {
		_, err := Normalize(fn)
		assert.ErrorIs(t, err, ErrUnsupportedBody, "%T", fn)
	}
}

func TestNormalize_CallbackNeverCalled(t *testing.T) {
	body, err := Normalize(func(func(error)) {})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, body(ctx), context.DeadlineExceeded)
}

func TestNormalize_FirstDoneWins(t *testing.T) {
	first := errors.New("first")
	body, err := Normalize(func(done func(error)) {
		done(first)
		done(errors.New("second"))
		done(nil)
	})
	require.NoError(t, err)
	assert.Same(t, first, body(context.Background()))
}
