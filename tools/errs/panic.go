package errs

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

func ErrPanic(r any) error {
	return ErrPanicMsg(r, ServerInternalError, "panic error")
}

func ErrPanicMsg(r any, code int, msg string) error {
	if r == nil {
		return nil
	}
	return pkgerrors.WithStack(CodeError{
		Code:   code,
		Msg:    msg,
		Detail: fmt.Sprint(r),
	})
}
