package bgmigration

import (
	"fmt"

	"github.com/pkg/errors"
)

// error codes
const (
	ErrCodeGeneral           = "bgmigration.general"
	ErrCodeDbFail            = "bgmigration.dbfail"
	ErrCodeMutation          = "bgmigration.mutation"
	ErrCodeInvalidDescriptor = "bgmigration.invalid_descriptor"
	ErrCodeJobNotFound       = "bgmigration.job_not_found"
	ErrCodeJobRunning        = "bgmigration.job_running"
	ErrCodeJobStopped        = "bgmigration.job_stopped"
	ErrCodeJobFailed         = "bgmigration.job_failed"
	ErrCodeTerminal          = "bgmigration.terminal"
)

// BatchError is the error type returned by every engine operation
type BatchError interface {
	Code() string
	Message() string
	Error() string
	StackTrace() string
	Cause() error
}

type batchError struct {
	code  string
	msg   string
	err   error
	stack errors.StackTrace
}

// NewBatchError new a BatchError. If the last element of args is an error, it is used as the cause.
func NewBatchError(code string, msg string, args ...interface{}) BatchError {
	var cause error
	if len(args) > 0 {
		if e, ok := args[len(args)-1].(error); ok {
			cause = e
			args = args[:len(args)-1]
		}
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	be := &batchError{
		code: code,
		msg:  msg,
		err:  cause,
	}
	if st, ok := errors.New("").(interface{ StackTrace() errors.StackTrace }); ok {
		trace := st.StackTrace()
		if len(trace) > 1 {
			trace = trace[1:]
		}
		be.stack = trace
	}
	return be
}

func (err *batchError) Code() string {
	return err.code
}

func (err *batchError) Message() string {
	return err.msg
}

func (err *batchError) Error() string {
	if err.err != nil {
		return fmt.Sprintf("BatchError[%s]: %s, cause: %v", err.code, err.msg, err.err)
	}
	return fmt.Sprintf("BatchError[%s]: %s", err.code, err.msg)
}

func (err *batchError) StackTrace() string {
	return fmt.Sprintf("%+v", err.stack)
}

func (err *batchError) Cause() error {
	return err.err
}

func (err *batchError) Unwrap() error {
	return err.err
}

// IsRetryable reports whether the dispatcher may retry the batch that produced err.
// Descriptor errors, terminal job states and stop requests are never retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var be BatchError
	if !errors.As(err, &be) {
		return true
	}
	switch be.Code() {
	case ErrCodeInvalidDescriptor, ErrCodeJobNotFound, ErrCodeJobFailed, ErrCodeJobStopped, ErrCodeTerminal, ErrCodeJobRunning:
		return false
	}
	return true
}

// HasCode reports whether err is a BatchError with the given code
func HasCode(err error, code string) bool {
	var be BatchError
	if errors.As(err, &be) {
		return be.Code() == code
	}
	return false
}
