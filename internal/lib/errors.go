package lib

import "fmt"

type wrappedError struct {
	outer error
	inner error
}

// WrapError wraps inner error into outer keeping both available for errors.Is / errors.As
func WrapError(outer, inner error) error {
	return &wrappedError{
		outer: outer,
		inner: inner,
	}
}

func (e *wrappedError) Error() string {
	return fmt.Sprintf("%s: %s", e.outer, e.inner)
}

func (e *wrappedError) Is(target error) bool {
	return e.outer == target
}

func (e *wrappedError) Unwrap() error {
	return e.inner
}
