package client

import (
	"errors"
	"fmt"

	"github.com/danmuck/simlink/internal/protocol/session"
)

// ErrorCode classifies a failed client operation.
type ErrorCode int

const (
	CodeNone ErrorCode = iota
	CodeMode
	CodeSocketComm
	CodeExecProcess
	CodeGeneric
)

func (c ErrorCode) String() string {
	switch c {
	case CodeNone:
		return "None"
	case CodeMode:
		return "ModeError"
	case CodeSocketComm:
		return "SocketCommError"
	case CodeExecProcess:
		return "ExecProcessError"
	case CodeGeneric:
		return "GenericError"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}

// Error is returned by every failing client operation. errors.Is matches
// any *Error with the same Code, so the sentinels below select a class.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

var (
	ErrMode        = &Error{Code: CodeMode, Message: "mode error"}
	ErrSocketComm  = &Error{Code: CodeSocketComm, Message: "socket communication error"}
	ErrExecProcess = &Error{Code: CodeExecProcess, Message: "companion process error"}
	ErrGeneric     = &Error{Code: CodeGeneric, Message: "generic error"}
)

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("client: %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("client: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// classify maps a session failure to the client taxonomy. A remote
// ACK-ERROR keeps the session; anything else is a socket failure.
func classify(op string, err error) *Error {
	var remote *session.RemoteError
	if errors.As(err, &remote) {
		return &Error{Code: CodeGeneric, Message: remote.Message, Err: err}
	}
	return &Error{Code: CodeSocketComm, Message: op, Err: err}
}
