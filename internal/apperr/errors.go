// Package apperr holds the coded error taxonomy shared by every wallet
// component. Callers match with errors.Is against the sentinels below; the
// match is by Code, so wrapped errors carrying extra context still compare
// equal to their sentinel.
package apperr

import (
	"errors"
	"fmt"
)

// AppError is an error with a stable code and the operation that failed.
type AppError struct {
	Code Code
	Op   string
	Err  error
}

// Sentinels, one per taxonomy entry.
var (
	ErrInvalidSeed       = &AppError{Code: CodeInvalidSeed}
	ErrInvalidKeyFormat  = &AppError{Code: CodeInvalidKeyFormat}
	ErrInvalidAddress    = &AppError{Code: CodeInvalidAddress}
	ErrInvalidAmount     = &AppError{Code: CodeInvalidAmount}
	ErrInsufficientFunds = &AppError{Code: CodeInsufficientFunds}
	ErrDecryptionFailed  = &AppError{Code: CodeDecryptionFailed}
	ErrUnlockFailed      = &AppError{Code: CodeUnlockFailed}
	ErrPersistence       = &AppError{Code: CodePersistence}
	ErrConfiguration     = &AppError{Code: CodeConfiguration}
	ErrRemoteUnavailable = &AppError{Code: CodeRemoteUnavailable}
	ErrNotImplemented    = &AppError{Code: CodeNotImplemented}
	ErrInvalidUserID     = &AppError{Code: CodeInvalidUserID}
	ErrInvalidWallet     = &AppError{Code: CodeInvalidWallet}
	ErrBackendNotReady   = &AppError{Code: CodeBackendNotReady}
)

// Error formats as "[CODE] op: cause".
func (e *AppError) Error() string {
	switch {
	case e.Op == "" && e.Err == nil:
		return string(e.Code)
	case e.Err == nil:
		return fmt.Sprintf("[%s] %s", e.Code, e.Op)
	case e.Op == "":
		return fmt.Sprintf("[%s] %v", e.Code, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Code, e.Op, e.Err)
}

// Unwrap returns the cause.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an AppError with the same code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New returns a coded error with a formatted message and no cause.
func New(code Code, op string, format string, args ...any) error {
	return &AppError{Code: code, Op: op, Err: fmt.Errorf(format, args...)}
}

// WrapWithCode wraps err under code and op. It returns nil for a nil err.
func WrapWithCode(code Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &AppError{
		Code: code,
		Op:   op,
		Err:  err,
	}
}

// CodeOf returns the code of the outermost AppError in err's chain, or ""
// when there is none.
func CodeOf(err error) Code {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}
