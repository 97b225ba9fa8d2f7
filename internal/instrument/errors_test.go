package instrument

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

type namedError struct{}

func (namedError) Error() string     { return "named" }
func (namedError) ErrorType() string { return "AssertionError" }

func TestErrorType(t *testing.T) {
	assert.Equal(t, "AssertionError", ErrorType(namedError{}))
	assert.Equal(t, "AssertionError", ErrorType(fmt.Errorf("wrapped: %w", namedError{})))
	assert.Equal(t, GenericErrorType, ErrorType(nil))
}

func TestErrorType_PlainErrorsAreGeneric(t *testing.T) {
	assert.Equal(t, GenericErrorType, ErrorType(errors.New("plain")))
	assert.Equal(t, GenericErrorType, ErrorType(fmt.Errorf("formatted %d", 1)))
	assert.Equal(t, GenericErrorType, ErrorType(fmt.Errorf("wrapped: %w", errors.New("plain"))))
	assert.Equal(t, GenericErrorType, ErrorType(errors.Join(errors.New("a"), errors.New("b"))))
}

func TestErrorType_UnwrapsToNamedType(t *testing.T) {
	err := fmt.Errorf("adds: %w", &assertionError{msg: "expected 3"})
	assert.Equal(t, "*instrument.assertionError", ErrorType(err))
	assert.Equal(t, "*fs.PathError", ErrorType(fmt.Errorf("open: %w", &fs.PathError{Op: "open", Err: fs.ErrNotExist})))
}

func TestPanicError(t *testing.T) {
	p := newPanicError("kaboom")
	assert.Equal(t, "kaboom", p.Error())
	assert.Equal(t, "panic", p.typeName())
	assert.Contains(t, p.stack, "goroutine")

	e := newPanicError(namedError{})
	assert.Equal(t, "named", e.Error())
	assert.Equal(t, "AssertionError", e.typeName())

	assert.Equal(t, GenericErrorType, newPanicError(errors.New("nil map")).typeName())
}
