package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

// leaf is a root error carrying the position it was created at
type leaf struct {
	msg string
	pc  uintptr
}

func (l *leaf) Error() string { return l.msg }
func (l *leaf) PC() uintptr   { return l.pc }

type wrap struct {
	err error
	msg string
	pc  uintptr
}

func (w *wrap) Error() string     { return w.msg + ": " + w.err.Error() }
func (w *wrap) Unwrap() error     { return w.err }
func (w *wrap) PC() uintptr       { return w.pc }
func (w *wrap) IsXerrorsWrapper() {}

// marked joins an error with a sentinel kind. errors.Is matches the kind,
// errors.As still reaches anything in the wrapped chain.
type marked struct {
	kind error
	err  error
	pc   uintptr
}

func (m *marked) Error() string     { return m.kind.Error() + ": " + m.err.Error() }
func (m *marked) Unwrap() []error   { return []error{m.kind, m.err} }
func (m *marked) PC() uintptr       { return m.pc }
func (m *marked) IsXerrorsWrapper() {}

func callerPC(skip int) uintptr {
	var pcs [1]uintptr
	// value of 2 means skip runtime.Callers + callerPC
	if n := runtime.Callers(2+skip, pcs[:]); n == 0 {
		return 0
	}
	return pcs[0]
}

func New(msg string) error { return &leaf{msg: msg, pc: callerPC(1)} }
func Newf(format string, args ...any) error {
	return &leaf{msg: fmt.Sprintf(format, args...), pc: callerPC(1)}
}

func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrap{err: err, msg: msg, pc: callerPC(1)}
}
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrap{err: err, msg: fmt.Sprintf(format, args...), pc: callerPC(1)}
}

// Mark tags err with kind. A nil err stays nil, a nil kind returns err unchanged.
// Marking an error that already matches kind does not stack the prefix twice.
func Mark(err, kind error) error {
	if err == nil {
		return nil
	}
	if kind == nil || errors.Is(err, kind) {
		return err
	}
	return &marked{kind: kind, err: err, pc: callerPC(1)}
}

// Markf creates a new error of the given kind.
func Markf(kind error, format string, args ...any) error {
	return &marked{kind: kind, err: errors.New(fmt.Sprintf(format, args...)), pc: callerPC(1)}
}

// PosOf returns the function, file and line recorded by the outermost xerrors
// value in err's chain.
func PosOf(err error) (fn, file string, line int, ok bool) {
	type hasPC interface{ PC() uintptr }
	var hp hasPC
	if !errors.As(err, &hp) || hp.PC() == 0 {
		return "", "", 0, false
	}
	fr, _ := runtime.CallersFrames([]uintptr{hp.PC()}).Next()
	return fr.Function, fr.File, fr.Line, true
}
