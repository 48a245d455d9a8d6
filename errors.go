package bulkbatch

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// BatchError error returned by steps, handlers and the repository
type BatchError interface {
	Code() string
	Message() string
	Error() string
	Cause() error
	StackTrace() string
}

type batchErr struct {
	code  string
	msg   string
	cause error
	stack error
}

func (err *batchErr) Code() string {
	return err.code
}

func (err *batchErr) Message() string {
	return err.msg
}

func (err *batchErr) Cause() error {
	return err.cause
}

func (err *batchErr) Unwrap() error {
	return err.cause
}

func (err *batchErr) Error() string {
	if err.cause != nil {
		return fmt.Sprintf("batch err, code:%v, message:%v, cause:%v", err.code, err.msg, err.cause)
	}
	return fmt.Sprintf("batch err, code:%v, message:%v", err.code, err.msg)
}

func (err *batchErr) StackTrace() string {
	if err.stack == nil {
		return ""
	}
	return fmt.Sprintf("%+v", err.stack)
}

func (err *batchErr) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			io.WriteString(s, err.Error())
			io.WriteString(s, "\n")
			io.WriteString(s, err.StackTrace())
			return
		}
		fallthrough
	case 's':
		io.WriteString(s, err.Error())
	case 'q':
		fmt.Fprintf(s, "%q", err.Error())
	}
}

// NewBatchError creates a BatchError. msg is a format string for args; a trailing error arg that has no
// matching verb in msg becomes the cause. An existing BatchError passed as the cause is returned unchanged
// when msg is empty.
func NewBatchError(code string, msg string, args ...interface{}) BatchError {
	var cause error
	fmtArgs := args
	if n := len(args); n > 0 {
		if e, ok := args[n-1].(error); ok {
			cause = e
			if countVerbs(msg) < n {
				fmtArgs = args[:n-1]
			}
		}
	}
	if be, ok := cause.(BatchError); ok && msg == "" {
		return be
	}
	if len(fmtArgs) > 0 {
		msg = fmt.Sprintf(msg, fmtArgs...)
	}
	stack := errors.New(msg)
	if cause != nil {
		stack = errors.WithStack(cause)
	}
	return &batchErr{code: code, msg: msg, cause: cause, stack: stack}
}

func countVerbs(format string) int {
	return strings.Count(format, "%") - 2*strings.Count(format, "%%")
}

const (
	ErrCodeConcurrency     = "concurrency"
	ErrCodeDbFail          = "db_fail"
	ErrCodeGeneral         = "general"
	ErrCodeConfigNotFound  = "config_not_found"
	ErrCodeSerialization   = "serialization"
	ErrCodeHandlerNotFound = "handler_not_found"
	ErrCodeTargetNotFound  = "target_not_found"
	ErrCodeNotFound        = "not_found"
)

// ErrorCode returns the code of err if it is (or wraps) a BatchError, ErrCodeGeneral otherwise.
func ErrorCode(err error) string {
	var be BatchError
	if errors.As(err, &be) {
		return be.Code()
	}
	return ErrCodeGeneral
}

// IsRetryable reports whether running the job again could succeed. A missing configuration, malformed
// configuration bytes or an unregistered handler reproduce the same failure on every attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch ErrorCode(err) {
	case ErrCodeConfigNotFound, ErrCodeSerialization, ErrCodeHandlerNotFound:
		return false
	}
	return true
}
