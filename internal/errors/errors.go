// Package errors adds a "fatal" marker on top of github.com/pkg/errors,
// mirroring the distinction restic draws between an ordinary error (which
// a caller may recover from) and a fatal one (which should unwind straight
// to the process exit path).
package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// New, Wrap, Wrapf, WithStack, Cause, As and Is are re-exported from
// github.com/pkg/errors so call sites never need a second import.
var (
	New       = errors.New
	Errorf    = errors.Errorf
	Wrap      = errors.Wrap
	Wrapf     = errors.Wrapf
	WithStack = errors.WithStack
	Cause     = errors.Cause
	As        = errors.As
	Is        = errors.Is
)

type fatal struct {
	s string
}

func (e *fatal) Error() string { return e.s }

// Fatal returns an error that IsFatal reports as fatal.
func Fatal(s string) error {
	return &fatal{s: s}
}

// Fatalf is like Fatal but with fmt.Sprintf-style formatting.
func Fatalf(format string, args ...interface{}) error {
	return &fatal{s: fmt.Sprintf(format, args...)}
}

// IsFatal returns true if err (or one of the errors it wraps) was produced
// by Fatal/Fatalf.
func IsFatal(err error) bool {
	var f *fatal
	return As(err, &f)
}
