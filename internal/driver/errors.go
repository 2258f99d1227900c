package driver

import "fmt"

// ErrKind classifies where a QueryError occurred.
type ErrKind int

const (
	ErrPrepare ErrKind = iota
	ErrBind
	ErrExec
)

func (k ErrKind) String() string {
	switch k {
	case ErrPrepare:
		return "prepare"
	case ErrBind:
		return "bind"
	case ErrExec:
		return "exec"
	default:
		return "unknown"
	}
}

// QueryError wraps a low-level driver failure with the SQL text and
// phase that produced it, per spec §4.1 / §7 (Storage error kind).
type QueryError struct {
	Kind          ErrKind
	SQL           string
	DriverMessage string
	Err           error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("driver: %s failed: %s (sql=%q)", e.Kind, e.DriverMessage, e.SQL)
}

func (e *QueryError) Unwrap() error { return e.Err }

// NewQueryError builds a QueryError, nil-safe when err is nil.
func NewQueryError(kind ErrKind, sql string, err error) error {
	if err == nil {
		return nil
	}
	return &QueryError{Kind: kind, SQL: sql, DriverMessage: err.Error(), Err: err}
}
