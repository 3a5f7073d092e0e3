package services

import "errors"

// Kind classifies service failures. Handlers map each kind to one HTTP status.
type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
)

// Error is returned by every AccountService operation that fails.
// Message is safe to show to API clients; Err carries the cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Kind
	}
	return KindInternal
}

// MessageOf returns the client-facing message of err.
func MessageOf(err error) string {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Message
	}
	return "internal server error"
}

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func internalError(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

var (
	errUserNotFound       = newError(KindNotFound, "User not found")
	errInvalidCredentials = newError(KindUnauthorized, "Invalid credentials")
	errEmailTaken         = newError(KindConflict, "User with this email already exists")
	errInactive           = newError(KindForbidden, "Your account is currently inactive.")
	errUnverified         = newError(KindForbidden, "Please verify your email before logging in.")
	errBadVerification    = newError(KindBadRequest, "Invalid or expired verification code")
	errBadResetCode       = newError(KindBadRequest, "Invalid or expired reset code")
	errPasswordTooShort   = newError(KindBadRequest, "New password must be at least 6 characters long")
)
