// Package store provides the circulation persistence layer.
//
// This package implements the Store interface for managing circulation data
// including libraries, patrons, collections, license pools, loans, holds,
// and vendor credentials.
//
// Two backends are supported:
//   - SQLite (single-node, default)
//   - PostgreSQL (HA-capable)
package store

import (
	"context"
	"time"

	"github.com/opencirc/circ/pkg/models"
)

// Store provides the circulation persistence interface.
//
// Thread Safety: Implementations must be safe for concurrent use from
// multiple goroutines.
//
// All mutating circulation flows run inside Transaction. Nested Transaction
// calls open database savepoints, so a failed inner unit of work rolls back
// alone while the outer transaction continues.
type Store interface {
	// ============================================
	// TRANSACTIONS
	// ============================================

	// Transaction runs fn within a database transaction. The Store passed to
	// fn is bound to that transaction; fn returning an error rolls it back.
	// Calling Transaction on a transactional Store opens a savepoint.
	Transaction(ctx context.Context, fn func(tx Store) error) error

	// ============================================
	// LIBRARY OPERATIONS
	// ============================================

	// GetLibrary returns a library by short name.
	// Returns models.ErrLibraryNotFound if the library doesn't exist.
	GetLibrary(ctx context.Context, shortName string) (*models.Library, error)

	// GetLibraryByID returns a library by ID.
	// Returns models.ErrLibraryNotFound if the library doesn't exist.
	GetLibraryByID(ctx context.Context, id uint) (*models.Library, error)

	// ListLibraries returns all libraries.
	ListLibraries(ctx context.Context) ([]*models.Library, error)

	// CreateLibrary creates a new library.
	// Returns models.ErrDuplicateLibrary if the name or short name is taken.
	CreateLibrary(ctx context.Context, library *models.Library) (uint, error)

	// UpdateLibrary updates an existing library's circulation policy.
	// Returns models.ErrLibraryNotFound if the library doesn't exist.
	UpdateLibrary(ctx context.Context, library *models.Library) error

	// DeleteLibrary deletes a library by short name.
	// Returns models.ErrLibraryNotFound if the library doesn't exist.
	DeleteLibrary(ctx context.Context, shortName string) error

	// GetLibraryCollections returns the collections associated with a library.
	// Returns models.ErrLibraryNotFound if the library doesn't exist.
	GetLibraryCollections(ctx context.Context, libraryID uint) ([]*models.Collection, error)

	// ============================================
	// PATRON OPERATIONS
	// ============================================

	// GetPatron returns a patron by library and authorization identifier,
	// with loans and holds (and their pools) preloaded.
	// Returns models.ErrPatronNotFound if the patron doesn't exist.
	GetPatron(ctx context.Context, libraryID uint, authorizationIdentifier string) (*models.Patron, error)

	// GetPatronByID returns a patron by ID with loans and holds preloaded.
	// Returns models.ErrPatronNotFound if the patron doesn't exist.
	GetPatronByID(ctx context.Context, id uint) (*models.Patron, error)

	// CreatePatron creates a new patron.
	// Returns models.ErrDuplicatePatron if the authorization identifier is
	// already registered with the library.
	CreatePatron(ctx context.Context, patron *models.Patron) (uint, error)

	// UpdatePatron updates a patron's ILS-sourced fields.
	// Returns models.ErrPatronNotFound if the patron doesn't exist.
	UpdatePatron(ctx context.Context, patron *models.Patron) error

	// SetLastActivitySync records when the patron's bookshelf was last
	// reconciled. Pass nil to force the next sync to hit the vendors.
	// Returns models.ErrPatronNotFound if the patron doesn't exist.
	SetLastActivitySync(ctx context.Context, patronID uint, at *time.Time) error

	// ============================================
	// COLLECTION OPERATIONS
	// ============================================

	// GetCollection returns a collection by name.
	// Returns models.ErrCollectionNotFound if the collection doesn't exist.
	GetCollection(ctx context.Context, name string) (*models.Collection, error)

	// GetCollectionByID returns a collection by ID.
	// Returns models.ErrCollectionNotFound if the collection doesn't exist.
	GetCollectionByID(ctx context.Context, id uint) (*models.Collection, error)

	// ListCollections returns all collections.
	ListCollections(ctx context.Context) ([]*models.Collection, error)

	// CreateCollection creates a new collection.
	// Returns models.ErrDuplicateCollection if the name is taken.
	CreateCollection(ctx context.Context, collection *models.Collection) (uint, error)

	// UpdateCollection updates a collection's protocol and settings.
	// Returns models.ErrCollectionNotFound if the collection doesn't exist.
	UpdateCollection(ctx context.Context, collection *models.Collection) error

	// DeleteCollection deletes a collection by name along with its pools.
	// Returns models.ErrCollectionNotFound if the collection doesn't exist.
	DeleteCollection(ctx context.Context, name string) error

	// ============================================
	// LICENSE POOL OPERATIONS
	// ============================================

	// GetPool returns a license pool by ID with its collection and delivery
	// mechanisms preloaded.
	// Returns models.ErrPoolNotFound if the pool doesn't exist.
	GetPool(ctx context.Context, id uint) (*models.LicensePool, error)

	// FindPool returns the pool in a collection matching the identifier.
	// Returns models.ErrPoolNotFound if no such pool exists.
	FindPool(ctx context.Context, collectionID uint, identifierType, identifier string) (*models.LicensePool, error)

	// CreatePool creates a new license pool.
	// Returns models.ErrDuplicatePool if the identifier is already pooled in
	// the collection.
	CreatePool(ctx context.Context, pool *models.LicensePool) (uint, error)

	// UpdatePoolAvailability updates a pool's copy counts from vendor truth.
	// Returns models.ErrPoolNotFound if the pool doesn't exist.
	UpdatePoolAvailability(ctx context.Context, poolID uint, owned, available, holdQueue int, unlimitedAccess bool) error

	// GetOrCreateDeliveryMechanism returns the mechanism for the pair,
	// creating it if absent.
	GetOrCreateDeliveryMechanism(ctx context.Context, contentType, drmScheme string) (*models.DeliveryMechanism, error)

	// GetOrCreateLPDM makes a delivery mechanism available on a pool,
	// returning the existing row if the pool already offers it.
	GetOrCreateLPDM(ctx context.Context, poolID, mechanismID uint, rightsURI, resourceURL string) (*models.LicensePoolDeliveryMechanism, error)

	// ============================================
	// LOAN OPERATIONS
	// ============================================

	// GetLoan returns the patron's loan on a pool.
	// Returns models.ErrLoanNotFound if no loan exists.
	GetLoan(ctx context.Context, patronID, poolID uint) (*models.Loan, error)

	// GetPatronLoans returns all of a patron's loans with pools preloaded.
	GetPatronLoans(ctx context.Context, patronID uint) ([]*models.Loan, error)

	// UpsertLoan creates the patron's loan on a pool, or refreshes its dates
	// and identifiers when the loan already exists. The (patron, pool)
	// unique index makes concurrent upserts converge on a single row.
	UpsertLoan(ctx context.Context, loan *models.Loan) (*models.Loan, error)

	// DeleteLoan removes a loan by ID. No error if already gone.
	DeleteLoan(ctx context.Context, id uint) error

	// SetLoanFulfillment locks a loan to the delivery mechanism exercised on
	// first fulfillment. Returns models.ErrLoanNotFound if the loan doesn't
	// exist.
	SetLoanFulfillment(ctx context.Context, loanID, lpdmID uint) error

	// ============================================
	// HOLD OPERATIONS
	// ============================================

	// GetHold returns the patron's hold on a pool.
	// Returns models.ErrHoldNotFound if no hold exists.
	GetHold(ctx context.Context, patronID, poolID uint) (*models.Hold, error)

	// GetPatronHolds returns all of a patron's holds with pools preloaded.
	GetPatronHolds(ctx context.Context, patronID uint) ([]*models.Hold, error)

	// UpsertHold creates the patron's hold on a pool, or refreshes its dates
	// and queue position when the hold already exists.
	UpsertHold(ctx context.Context, hold *models.Hold) (*models.Hold, error)

	// DeleteHold removes a hold by ID. No error if already gone.
	DeleteHold(ctx context.Context, id uint) error

	// ============================================
	// CREDENTIAL OPERATIONS
	// ============================================

	// GetCredential returns the credential matching the scope. Nil scope
	// components match rows without that scope.
	// Returns models.ErrCredentialNotFound if no credential exists.
	GetCredential(ctx context.Context, dataSource, credType string, collectionID, patronID *uint) (*models.Credential, error)

	// UpsertCredential creates or replaces the credential for its scope.
	UpsertCredential(ctx context.Context, credential *models.Credential) error

	// ============================================
	// HEALTH & LIFECYCLE
	// ============================================

	// Healthcheck verifies the store is operational.
	Healthcheck(ctx context.Context) error

	// Close closes the store and releases resources.
	Close() error
}
