package instrument

import (
	"errors"
	"fmt"
	"go/token"
	"reflect"
	"runtime/debug"
)

// TypeNamer is implemented by errors that declare their own error.type.
type TypeNamer interface {
	ErrorType() string
}

// ErrorType returns the error.type tag value for err: its declared type name
// when it has one, otherwise the Go type of the first error in its chain that
// is not a plain errors.New or fmt.Errorf value, otherwise GenericErrorType.
func ErrorType(err error) string {
	if err == nil {
		return GenericErrorType
	}
	var namer TypeNamer
	if errors.As(err, &namer) {
		if name := namer.ErrorType(); name != "" {
			return name
		}
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		if t := reflect.TypeOf(e); !anonymous(t) {
			return t.String()
		}
	}
	return GenericErrorType
}

// anonymous reports whether t is one of the unexported error types the
// errors and fmt packages build plain errors from.
func anonymous(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.PkgPath() {
	case "errors", "fmt":
		return !token.IsExported(t.Name())
	}
	return false
}

// panicError describes a panic raised by a test body.
type panicError struct {
	value any
	stack string
}

func newPanicError(v any) *panicError {
	return &panicError{value: v, stack: string(debug.Stack())}
}

func (p *panicError) Error() string {
	if err, ok := p.value.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(p.value)
}

func (p *panicError) typeName() string {
	if err, ok := p.value.(error); ok {
		return ErrorType(err)
	}
	return "panic"
}
