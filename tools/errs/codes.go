package errs

const (
	ServerInternalError = 500
	ArgsError           = 1001
	NotJoinedError      = 1002
	IdentityMismatch    = 1003
	NoHandlerError      = 1004
	RateLimitedError    = 1005

	StaleSignalError = 1101
	CallBusyError    = 1102

	RecordNotFoundError = 2001
	UnauthorizedError   = 2002
	TokenExpiredError   = 2003
)

var (
	ErrInternalServer   = NewCodeError(ServerInternalError, "ServerInternalError")
	ErrMalformedPayload = NewCodeError(ArgsError, "MalformedPayload")
	ErrNotJoined        = NewCodeError(NotJoinedError, "NotJoined")
	ErrIdentityMismatch = NewCodeError(IdentityMismatch, "IdentityMismatch")
	ErrNoHandler        = NewCodeError(NoHandlerError, "NoHandler")
	ErrRateLimited      = NewCodeError(RateLimitedError, "RateLimited")

	ErrStaleSignal = NewCodeError(StaleSignalError, "StaleSignal")
	ErrCallBusy    = NewCodeError(CallBusyError, "CallBusy")

	ErrRecordNotFound = NewCodeError(RecordNotFoundError, "RecordNotFound")
	ErrUnauthorized   = NewCodeError(UnauthorizedError, "Unauthorized")
	ErrTokenExpired   = NewCodeError(TokenExpiredError, "TokenExpired")
)

// IsStale reports errors produced by signaling events that lost a race or
// arrived after the attempt ended. They are expected and never client visible.
func IsStale(err error) bool {
	switch Code(err) {
	case StaleSignalError, CallBusyError:
		return true
	}
	return false
}
