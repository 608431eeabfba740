package catalog

import (
	"errors"
	"fmt"
)

// ErrorKind classifies catalog failures independently of the backend.
type ErrorKind int

// Error kinds.
const (
	KindConnection ErrorKind = iota + 1
	KindNetwork
	KindNotFound
	KindLogic
	KindChecksum
)

// Sentinels for errors.Is dispatch on kinds.
var (
	ErrConnection = errors.New("connection error")
	ErrNetwork    = errors.New("network error")
	ErrNotFound   = errors.New("file not found")
	ErrLogic      = errors.New("catalog logic error")
	ErrChecksum   = errors.New("checksum mismatch")
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnection:
		return "ConnectionError"
	case KindNetwork:
		return "NetworkError"
	case KindNotFound:
		return "FileNotFoundError"
	case KindLogic:
		return "CatalogLogicError"
	case KindChecksum:
		return "ChecksumError"
	default:
		return "UnknownError"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindConnection:
		return ErrConnection
	case KindNetwork:
		return ErrNetwork
	case KindNotFound:
		return ErrNotFound
	case KindLogic:
		return ErrLogic
	case KindChecksum:
		return ErrChecksum
	default:
		return nil
	}
}

// Error is a translated catalog failure. Err keeps the backend error for
// logging; callers dispatch on Kind or with errors.Is on the sentinels.
type Error struct {
	Kind ErrorKind
	Op   string
	Path string
	Err  error
}

// NewError builds a translated error.
func NewError(kind ErrorKind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinel. A checksum error also matches ErrLogic.
func (e *Error) Is(target error) bool {
	if target == e.Kind.sentinel() {
		return true
	}
	return e.Kind == KindChecksum && target == ErrLogic
}

// KindOf returns the kind of a translated error, or 0.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return 0
}

// Logicf builds a logic error from a message.
func Logicf(op, path, format string, args ...any) *Error {
	return NewError(KindLogic, op, path, fmt.Errorf(format, args...))
}
