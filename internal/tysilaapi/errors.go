package tysilaapi

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a compilation failure.
type ErrorKind byte

const (
	// KindUnsupported is an opcode, operand signature, constant fold or spill path
	// the backend has no implementation for. Fatal for the method.
	KindUnsupported ErrorKind = iota + 1
	// KindStructural is malformed input or an internal invariant violation:
	// unreachable blocks, mismatched stack shapes, an uncolorable graph. Fatal for the method.
	KindStructural
	// KindRetry is a pattern-table miss that the lowering retries with a rewritten
	// instruction. It never escapes the lowering pass.
	KindRetry
)

// String implements fmt.Stringer.
func (k ErrorKind) String() string {
	switch k {
	case KindUnsupported:
		return "unsupported"
	case KindStructural:
		return "structural"
	case KindRetry:
		return "retry"
	default:
		return fmt.Sprintf("ErrorKind(%d)", k)
	}
}

// Error is the error type returned by every pass.
type Error struct {
	Kind ErrorKind
	// Pass is the pass that failed, e.g. "lower".
	Pass string
	// Method is filled by the per-method driver.
	Method string
	// Op is the textual opcode and operand types involved, if any.
	Op string
	// Offset is the source offset of the failing instruction, or -1.
	Offset int
	Msg    string
	Err    error
}

// Error implements error.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.String())
	if e.Pass != "" {
		sb.WriteString(" in ")
		sb.WriteString(e.Pass)
	}
	if e.Method != "" {
		sb.WriteString(" (")
		sb.WriteString(e.Method)
		sb.WriteString(")")
	}
	sb.WriteString(": ")
	sb.WriteString(e.Msg)
	if e.Op != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Op)
	}
	if e.Offset >= 0 {
		fmt.Fprintf(&sb, " at IL_%04x", e.Offset)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap supports errors.Is and errors.As.
func (e *Error) Unwrap() error { return e.Err }

// Unsupported returns a KindUnsupported error.
func Unsupported(pass, format string, args ...interface{}) *Error {
	return &Error{Kind: KindUnsupported, Pass: pass, Offset: -1, Msg: fmt.Sprintf(format, args...)}
}

// Structural returns a KindStructural error.
func Structural(pass, format string, args ...interface{}) *Error {
	return &Error{Kind: KindStructural, Pass: pass, Offset: -1, Msg: fmt.Sprintf(format, args...)}
}

// Retry returns a KindRetry error.
func Retry(pass, format string, args ...interface{}) *Error {
	return &Error{Kind: KindRetry, Pass: pass, Offset: -1, Msg: fmt.Sprintf(format, args...)}
}

// At sets the operation and source offset of e and returns it.
func (e *Error) At(op string, offset int) *Error {
	e.Op, e.Offset = op, offset
	return e
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// WithMethod tags err with the method name if it is an *Error.
func WithMethod(err error, method string) error {
	var e *Error
	if errors.As(err, &e) && e.Method == "" {
		e.Method = method
		return err
	}
	if err != nil && e == nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return err
}
