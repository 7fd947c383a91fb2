package kern

import (
	"sync/atomic"

	"github.com/spirit-labs/preagg/errors"
)

// ErrorBuf holds the first device error raised during an invocation. Later errors are dropped.
type ErrorBuf struct {
	code     atomic.Int32
	funcName atomic.Value
	message  atomic.Value
}

// Set records an error unless one is already held, and reports whether it won.
func (e *ErrorBuf) Set(code errors.ErrorCode, funcName string, message string) bool {
	if code == errors.Success {
		return false
	}
	if !e.code.CompareAndSwap(int32(errors.Success), int32(code)) {
		return false
	}
	e.funcName.Store(funcName)
	e.message.Store(message)
	return true
}

func (e *ErrorBuf) Code() errors.ErrorCode {
	return errors.ErrorCode(e.code.Load())
}

func (e *ErrorBuf) IsSet() bool {
	return e.Code() != errors.Success
}

func (e *ErrorBuf) FuncName() string {
	s, _ := e.funcName.Load().(string)
	return s
}

func (e *ErrorBuf) Message() string {
	s, _ := e.message.Load().(string)
	return s
}

// Err returns the held error as a PreAggError, or nil.
func (e *ErrorBuf) Err() error {
	code := e.Code()
	if code == errors.Success {
		return nil
	}
	if fn := e.FuncName(); fn != "" {
		return errors.NewPreAggErrorf(code, "%s: %s", fn, e.Message())
	}
	return errors.NewPreAggError(code, e.Message())
}

func (e *ErrorBuf) Reset() {
	e.code.Store(int32(errors.Success))
	e.funcName.Store("")
	e.message.Store("")
}
