package models

import "errors"

// Common errors for circulation entity operations.
var (
	// Library errors
	ErrLibraryNotFound  = errors.New("library not found")
	ErrDuplicateLibrary = errors.New("library already exists")

	// Patron errors
	ErrPatronNotFound  = errors.New("patron not found")
	ErrDuplicatePatron = errors.New("patron already exists")

	// Collection errors
	ErrCollectionNotFound  = errors.New("collection not found")
	ErrDuplicateCollection = errors.New("collection already exists")

	// License pool errors
	ErrPoolNotFound  = errors.New("license pool not found")
	ErrDuplicatePool = errors.New("license pool already exists")

	// Delivery mechanism errors
	ErrMechanismNotFound = errors.New("delivery mechanism not found")

	// Loan and hold errors
	ErrLoanNotFound  = errors.New("loan not found")
	ErrDuplicateLoan = errors.New("loan already exists")
	ErrHoldNotFound  = errors.New("hold not found")
	ErrDuplicateHold = errors.New("hold already exists")

	// Credential errors
	ErrCredentialNotFound = errors.New("credential not found")
)
