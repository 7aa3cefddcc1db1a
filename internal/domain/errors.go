package domain

import "errors"

// Sentinel errors for domain-level error discrimination.
// The auth service maps every internal failure into exactly one of these
// before returning; handlers map them to HTTP status codes without ever
// seeing infrastructure error types.
var (
	// ErrConflict: email or username already taken.
	ErrConflict = errors.New("already exists")
	// ErrInvalidCredentials covers both unknown identity and wrong secret,
	// deliberately indistinguishable to resist account enumeration.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNotVerified: login attempted before OTP verification.
	ErrNotVerified = errors.New("account not verified")
	// ErrAlreadyVerified: verification attempted on a verified account.
	ErrAlreadyVerified = errors.New("account already verified")
	// ErrInvalidOrExpiredCode covers missing, mismatched, consumed and
	// expired codes alike; callers cannot tell which check failed.
	ErrInvalidOrExpiredCode = errors.New("invalid or expired code")
	// ErrDependencyFailure: an external collaborator (mail delivery) failed.
	ErrDependencyFailure = errors.New("dependency failure")
	// ErrUnauthorized: bad, expired or rotated-out token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrSessionExpired: logout with no matching active session.
	ErrSessionExpired = errors.New("session expired")
	// ErrResetNotVerified: password reset attempted before the reset code
	// was verified.
	ErrResetNotVerified = errors.New("reset code not verified")
	// ErrNotFound is a store-level signal; it never crosses the auth
	// service boundary unmapped.
	ErrNotFound = errors.New("not found")
	// ErrInternal is the catch-all for anything unanticipated.
	ErrInternal = errors.New("internal error")
)
