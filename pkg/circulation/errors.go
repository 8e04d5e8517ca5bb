package circulation

import (
	"errors"
	"fmt"
)

// Common errors raised by the circulation engine and vendor adapters.
//
// Vendor adapters translate their wire-level failures into these errors so
// the engine can react uniformly; see the borrow outcome handling in
// Engine.Borrow for how several of them convert into new local state
// instead of surfacing.
var (
	// Auth / policy errors
	ErrAuthorizationExpired = errors.New("patron authorization has expired")

	// Borrow / renew errors
	ErrAlreadyCheckedOut        = errors.New("already checked out to this patron")
	ErrAlreadyOnHold            = errors.New("already on hold for this patron")
	ErrCurrentlyAvailable       = errors.New("title is currently available, holds not accepted")
	ErrNoAvailableCopies        = errors.New("no available copies")
	ErrNoLicenses               = errors.New("no licenses for this title")
	ErrCannotRenew              = errors.New("cannot renew, other patrons have this title on hold")
	ErrDeliveryMechanismMissing = errors.New("a delivery mechanism must be chosen at checkout")
	ErrHoldsNotPermitted        = errors.New("this library does not allow holds")

	// Fulfill errors
	ErrNoActiveLoan              = errors.New("no active loan for this title")
	ErrCannotFulfill             = errors.New("could not fulfill loan")
	ErrNoAcceptableFormat        = errors.New("vendor returned no usable fulfillment")
	ErrFormatNotAvailable        = errors.New("requested format is not available")
	ErrDeliveryMechanismConflict = errors.New("loan is already committed to an incompatible delivery mechanism")

	// Return / release errors
	ErrNotCheckedOut      = errors.New("not checked out to this patron")
	ErrNotOnHold          = errors.New("not on hold for this patron")
	ErrCannotReturn       = errors.New("could not return loan")
	ErrCannotHold         = errors.New("could not place hold")
	ErrCannotReleaseHold  = errors.New("could not release hold")
	ErrNotFoundOnRemote   = errors.New("title not found on remote")
	ErrPatronLoanLimit    = errors.New("patron is at the loan limit")
	ErrPatronHoldLimit    = errors.New("patron is at the hold limit")
	ErrOutstandingFines   = errors.New("patron has excessive outstanding fines")
	ErrPatronBlocked      = errors.New("patron is blocked from borrowing")
	ErrConfigurationError = errors.New("collection integration is misconfigured")
)

// LoanLimitError reports that the patron is at the library's loan limit.
// The limit is carried so the presentation layer can render it.
type LoanLimitError struct {
	Limit int
}

func (e *LoanLimitError) Error() string {
	return fmt.Sprintf("patron is at the loan limit (%d)", e.Limit)
}

func (e *LoanLimitError) Is(target error) bool {
	return target == ErrPatronLoanLimit
}

// HoldLimitError reports that the patron is at the library's hold limit.
type HoldLimitError struct {
	Limit int
}

func (e *HoldLimitError) Error() string {
	return fmt.Sprintf("patron is at the hold limit (%d)", e.Limit)
}

func (e *HoldLimitError) Is(target error) bool {
	return target == ErrPatronHoldLimit
}

// OutstandingFinesError reports that the patron's fines exceed the
// library's maximum.
type OutstandingFinesError struct {
	Fines float64
	Max   float64
}

func (e *OutstandingFinesError) Error() string {
	return fmt.Sprintf("outstanding fines of %.2f exceed the maximum of %.2f", e.Fines, e.Max)
}

func (e *OutstandingFinesError) Is(target error) bool {
	return target == ErrOutstandingFines
}

// BlockedError reports that the ILS has blocked the patron, carrying the
// block reason for rendering.
type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("patron is blocked from borrowing: %s", e.Reason)
}

func (e *BlockedError) Is(target error) bool {
	return target == ErrPatronBlocked
}

// RemoteInitiatedServerError reports a server-side failure at the vendor.
// The protocol name identifies which integration failed.
type RemoteInitiatedServerError struct {
	Protocol string
	Err      error
}

func (e *RemoteInitiatedServerError) Error() string {
	return fmt.Sprintf("%s returned a server error: %v", e.Protocol, e.Err)
}

func (e *RemoteInitiatedServerError) Unwrap() error {
	return e.Err
}

// ConfigurationError reports that an adapter could not be constructed from
// its collection's integration settings. Stored by the engine at
// construction time, surfaced when the broken collection is used.
type ConfigurationError struct {
	Collection string
	Err        error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("collection %q is misconfigured: %v", e.Collection, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfigurationError
}

// DeliveryMechanismError reports a (content type, DRM scheme) pair the
// adapter has no internal format code for.
type DeliveryMechanismError struct {
	ContentType string
	DRMScheme   string
}

func (e *DeliveryMechanismError) Error() string {
	return fmt.Sprintf("no internal format for delivery mechanism (%s, %s)", e.ContentType, e.DRMScheme)
}
