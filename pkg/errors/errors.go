package errors

import (
	"fmt"
	"runtime"
	"strings"
)

// Error wraps an error with a message and the stack of the call site that
// produced it. Codec and config failures use it so logs point at the origin.
type Error struct {
	msg   string
	err   error
	stack string
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.msg
	}
	return fmt.Sprintf("%s: %v", e.msg, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) StackTrace() string {
	return e.stack
}

// Wrap wraps err with msg and stack trace. A nil err yields nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{
		msg:   msg,
		err:   err,
		stack: callers(),
	}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{
		msg:   fmt.Sprintf(format, args...),
		err:   err,
		stack: callers(),
	}
}

func callers() string {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	var b strings.Builder
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}
	return b.String()
}
