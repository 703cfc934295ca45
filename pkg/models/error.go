package models

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	// OwnerUnavailableError is raised at assignment time when the requested
	// explicit owner is already dead. It fails the create call; the entry is
	// never made, so there is nothing to reclaim later.
	OwnerUnavailableError ErrorCode = "OwnerUnavailable"

	// OwnerLostError means the object's owner died after assignment. It is
	// terminal for the object and is returned to every borrower attempting
	// access, never swallowed.
	OwnerLostError ErrorCode = "OwnerLost"

	// ReclaimedError means the object was legitimately freed. The data can
	// only come back by being recreated under a new ID.
	ReclaimedError ErrorCode = "Reclaimed"

	// NotFoundError means the local directory has no payload for the ID.
	// Transient: the caller is expected to retry via a peer fetch before
	// escalating.
	NotFoundError ErrorCode = "NotFound"

	InternalError      ErrorCode = "InternalError"
	NetworkFailure     ErrorCode = "NetworkFailure"
	ValidationFailed   ErrorCode = "ValidationFailed"
	ConfigurationError ErrorCode = "ConfigurationError"
)

const (
	DetailsKeyObjectID  = "ObjectID"
	DetailsKeyProcessID = "ProcessID"
)

type HasHint interface {
	// Hint is a human-readable string that advises the user on how they
	// might resolve the error.
	Hint() string
}

type HasRetryable interface {
	// Retryable reports whether the same call could succeed later without
	// any change of input; i.e. the failure is transient.
	Retryable() bool
}

type HasDetails interface {
	// Details is an extra set of metadata provided by the error.
	Details() map[string]string
}

type HasCode interface {
	Code() ErrorCode
}

// BaseError is the error type used across the lifetime protocol. It carries
// a code from the taxonomy above plus optional hint, retryability, and
// details, and implements the interfaces callers use to inspect those.
type BaseError struct {
	message   string
	hint      string
	retryable bool
	component string
	details   map[string]string
	code      ErrorCode
}

// NewBaseError creates a BaseError with only the message set.
func NewBaseError(format string, a ...any) *BaseError {
	return &BaseError{
		component: "RefMesh",
		message:   fmt.Sprintf(format, a...),
	}
}

// IsBaseError reports whether err is (or wraps) a BaseError.
func IsBaseError(err error) bool {
	var baseError *BaseError
	return errors.As(err, &baseError)
}

func (e *BaseError) WithHint(hint string) *BaseError {
	e.hint = hint
	return e
}

func (e *BaseError) WithRetryable() *BaseError {
	e.retryable = true
	return e
}

func (e *BaseError) WithCode(code ErrorCode) *BaseError {
	e.code = code
	return e
}

func (e *BaseError) WithComponent(component string) *BaseError {
	e.component = component
	return e
}

func (e *BaseError) WithDetails(details map[string]string) *BaseError {
	e.details = details
	return e
}

func (e *BaseError) WithObjectID(id ObjectID) *BaseError {
	if e.details == nil {
		e.details = make(map[string]string)
	}
	e.details[DetailsKeyObjectID] = id.String()
	return e
}

func (e *BaseError) WithProcessID(id ProcessID) *BaseError {
	if e.details == nil {
		e.details = make(map[string]string)
	}
	e.details[DetailsKeyProcessID] = id.String()
	return e
}

func (e *BaseError) Error() string              { return e.message }
func (e *BaseError) Hint() string               { return e.hint }
func (e *BaseError) Retryable() bool            { return e.retryable }
func (e *BaseError) Component() string          { return e.component }
func (e *BaseError) Code() ErrorCode            { return e.code }
func (e *BaseError) Details() map[string]string { return e.details }

// CodeOf extracts the ErrorCode from err, or InternalError when err carries
// no code.
func CodeOf(err error) ErrorCode {
	var hasCode HasCode
	if errors.As(err, &hasCode) {
		return hasCode.Code()
	}
	return InternalError
}

// HasErrorCode reports whether err carries the given code.
func HasErrorCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsRetryable reports whether the same call could succeed later. Errors
// without retryability information are treated as permanent.
func IsRetryable(err error) bool {
	var hasRetryable HasRetryable
	if errors.As(err, &hasRetryable) {
		return hasRetryable.Retryable()
	}
	return false
}

// NewErrOwnerUnavailable is the assignment-time failure: the explicit owner
// is already dead, so no entry can be created that could ever be reclaimed.
func NewErrOwnerUnavailable(owner ProcessID) *BaseError {
	return NewBaseError("owner process %s is not alive", owner).
		WithCode(OwnerUnavailableError).
		WithProcessID(owner).
		WithHint("pick a live process as the explicit owner, or omit it to make the creator the owner")
}

// NewErrOwnerLost is the post-assignment failure: the owner died while
// references were still live.
func NewErrOwnerLost(id ObjectID, owner ProcessID) *BaseError {
	return NewBaseError("owner %s of object %s has died", owner, id.ShortID()).
		WithCode(OwnerLostError).
		WithObjectID(id).
		WithProcessID(owner)
}

// NewErrReclaimed reports a read of an object that was freed by the
// protocol. Reads after free must fail like this, never return stale data.
func NewErrReclaimed(id ObjectID) *BaseError {
	return NewBaseError("object %s has been reclaimed", id.ShortID()).
		WithCode(ReclaimedError).
		WithObjectID(id)
}

// NewErrObjectNotFound reports a local directory miss. Retryable: the
// payload may be fetchable from a peer.
func NewErrObjectNotFound(id ObjectID) *BaseError {
	return NewBaseError("object %s not present locally", id.ShortID()).
		WithCode(NotFoundError).
		WithObjectID(id).
		WithRetryable()
}
