package domain

import "errors"

// Pipeline failure classes. Callers match them with errors.Is; the concrete
// errors returned by components wrap these with call-site context.
var (
	// ErrNotFound signals a referenced task, lead, or article is absent.
	ErrNotFound = errors.New("not found")

	// ErrSubmissionFailed signals the provider rejected a query or returned
	// no request identifier.
	ErrSubmissionFailed = errors.New("submission failed")

	// ErrPollTimeout signals the poll ceiling elapsed without a terminal
	// remote status.
	ErrPollTimeout = errors.New("poll timeout")

	// ErrRemoteFailed signals the provider explicitly reported failure or
	// lost the request.
	ErrRemoteFailed = errors.New("remote task failed")

	// ErrBadPayload signals an answer that was expected to carry structured
	// data but did not parse. Recoverable at the caller's level.
	ErrBadPayload = errors.New("malformed answer payload")

	// ErrInconsistentState signals a lead without its article or a stale
	// article reference.
	ErrInconsistentState = errors.New("inconsistent record state")
)
