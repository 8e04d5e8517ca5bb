package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/opencirc/circ/pkg/models"
)

// createTestStore creates an in-memory SQLite store for testing.
func createTestStore(t *testing.T) *GORMStore {
	t.Helper()
	store, err := New(&Config{
		Type: DatabaseTypeSQLite,
		SQLite: SQLiteConfig{
			Path: ":memory:",
		},
	})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	return store
}

func seedLibrary(t *testing.T, s *GORMStore, shortName string) *models.Library {
	t.Helper()
	library := &models.Library{
		Name:       "Library " + shortName,
		ShortName:  shortName,
		AllowHolds: true,
	}
	if _, err := s.CreateLibrary(context.Background(), library); err != nil {
		t.Fatalf("failed to seed library: %v", err)
	}
	return library
}

func seedPatron(t *testing.T, s *GORMStore, libraryID uint, auth string) *models.Patron {
	t.Helper()
	patron := &models.Patron{
		LibraryID:               libraryID,
		AuthorizationIdentifier: auth,
	}
	if _, err := s.CreatePatron(context.Background(), patron); err != nil {
		t.Fatalf("failed to seed patron: %v", err)
	}
	return patron
}

func seedPool(t *testing.T, s *GORMStore, collectionID uint, identifier string) *models.LicensePool {
	t.Helper()
	pool := &models.LicensePool{
		CollectionID:      collectionID,
		DataSource:        "Test Source",
		IdentifierType:    "ISBN",
		Identifier:        identifier,
		LicensesOwned:     3,
		LicensesAvailable: 2,
	}
	if _, err := s.CreatePool(context.Background(), pool); err != nil {
		t.Fatalf("failed to seed pool: %v", err)
	}
	return pool
}

func seedCollection(t *testing.T, s *GORMStore, name string) *models.Collection {
	t.Helper()
	collection := &models.Collection{
		Name:       name,
		Protocol:   "OPDS for Distributors",
		DataSource: "Test Source",
	}
	if _, err := s.CreateCollection(context.Background(), collection); err != nil {
		t.Fatalf("failed to seed collection: %v", err)
	}
	return collection
}

func TestNew(t *testing.T) {
	t.Run("default config uses sqlite", func(t *testing.T) {
		config := &Config{}
		config.ApplyDefaults()

		if config.Type != DatabaseTypeSQLite {
			t.Errorf("expected SQLite, got %s", config.Type)
		}
	})

	t.Run("invalid config returns error", func(t *testing.T) {
		config := &Config{
			Type: "invalid",
		}
		_, err := New(config)
		if err == nil {
			t.Error("expected error for invalid config")
		}
	})

	t.Run("creates in-memory store", func(t *testing.T) {
		store := createTestStore(t)
		defer store.Close()

		if err := store.Healthcheck(context.Background()); err != nil {
			t.Errorf("expected healthy store, got %v", err)
		}
	})
}

func TestLibraryOperations(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	t.Run("create library", func(t *testing.T) {
		library := &models.Library{
			Name:      "Main Library",
			ShortName: "MAIN",
			LoanLimit: 10,
		}
		id, err := store.CreateLibrary(ctx, library)
		if err != nil {
			t.Fatalf("failed to create library: %v", err)
		}
		if id == 0 {
			t.Error("expected non-zero library ID")
		}
	})

	t.Run("duplicate library fails", func(t *testing.T) {
		library := &models.Library{Name: "Main Library", ShortName: "MAIN"}
		_, err := store.CreateLibrary(ctx, library)
		if !errors.Is(err, models.ErrDuplicateLibrary) {
			t.Errorf("expected ErrDuplicateLibrary, got %v", err)
		}
	})

	t.Run("get library", func(t *testing.T) {
		library, err := store.GetLibrary(ctx, "MAIN")
		if err != nil {
			t.Fatalf("failed to get library: %v", err)
		}
		if library.LoanLimit != 10 {
			t.Errorf("expected loan limit 10, got %d", library.LoanLimit)
		}
	})

	t.Run("get library not found", func(t *testing.T) {
		_, err := store.GetLibrary(ctx, "NOPE")
		if !errors.Is(err, models.ErrLibraryNotFound) {
			t.Errorf("expected ErrLibraryNotFound, got %v", err)
		}
	})

	t.Run("update library", func(t *testing.T) {
		library, _ := store.GetLibrary(ctx, "MAIN")
		library.HoldLimit = 5
		if err := store.UpdateLibrary(ctx, library); err != nil {
			t.Fatalf("failed to update library: %v", err)
		}

		updated, _ := store.GetLibrary(ctx, "MAIN")
		if updated.HoldLimit != 5 {
			t.Errorf("expected hold limit 5, got %d", updated.HoldLimit)
		}
	})

	t.Run("delete library", func(t *testing.T) {
		if err := store.DeleteLibrary(ctx, "MAIN"); err != nil {
			t.Fatalf("failed to delete library: %v", err)
		}
		if _, err := store.GetLibrary(ctx, "MAIN"); !errors.Is(err, models.ErrLibraryNotFound) {
			t.Errorf("expected ErrLibraryNotFound after delete, got %v", err)
		}
	})
}

func TestPatronOperations(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	library := seedLibrary(t, store, "NYPL")

	t.Run("create patron", func(t *testing.T) {
		patron := &models.Patron{
			LibraryID:               library.ID,
			AuthorizationIdentifier: "1234",
		}
		id, err := store.CreatePatron(ctx, patron)
		if err != nil {
			t.Fatalf("failed to create patron: %v", err)
		}
		if id == 0 {
			t.Error("expected non-zero patron ID")
		}
	})

	t.Run("duplicate patron within library fails", func(t *testing.T) {
		patron := &models.Patron{
			LibraryID:               library.ID,
			AuthorizationIdentifier: "1234",
		}
		_, err := store.CreatePatron(ctx, patron)
		if !errors.Is(err, models.ErrDuplicatePatron) {
			t.Errorf("expected ErrDuplicatePatron, got %v", err)
		}
	})

	t.Run("same identifier in another library is fine", func(t *testing.T) {
		other := seedLibrary(t, store, "BPL")
		patron := &models.Patron{
			LibraryID:               other.ID,
			AuthorizationIdentifier: "1234",
		}
		if _, err := store.CreatePatron(ctx, patron); err != nil {
			t.Fatalf("expected cross-library patron to succeed: %v", err)
		}
	})

	t.Run("set and clear last activity sync", func(t *testing.T) {
		patron, err := store.GetPatron(ctx, library.ID, "1234")
		if err != nil {
			t.Fatalf("failed to get patron: %v", err)
		}

		now := time.Now().UTC()
		if err := store.SetLastActivitySync(ctx, patron.ID, &now); err != nil {
			t.Fatalf("failed to set sync timestamp: %v", err)
		}

		patron, _ = store.GetPatron(ctx, library.ID, "1234")
		if patron.LastLoanActivitySync == nil {
			t.Fatal("expected sync timestamp to be set")
		}

		if err := store.SetLastActivitySync(ctx, patron.ID, nil); err != nil {
			t.Fatalf("failed to clear sync timestamp: %v", err)
		}

		patron, _ = store.GetPatron(ctx, library.ID, "1234")
		if patron.LastLoanActivitySync != nil {
			t.Error("expected sync timestamp to be cleared")
		}
	})
}

func TestCollectionAndPoolOperations(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	collection := seedCollection(t, store, "Biblio Feed")

	t.Run("duplicate collection fails", func(t *testing.T) {
		dup := &models.Collection{Name: "Biblio Feed", Protocol: "OPDS for Distributors"}
		_, err := store.CreateCollection(ctx, dup)
		if !errors.Is(err, models.ErrDuplicateCollection) {
			t.Errorf("expected ErrDuplicateCollection, got %v", err)
		}
	})

	t.Run("find pool by identifier", func(t *testing.T) {
		seedPool(t, store, collection.ID, "9780000000001")

		pool, err := store.FindPool(ctx, collection.ID, "ISBN", "9780000000001")
		if err != nil {
			t.Fatalf("failed to find pool: %v", err)
		}
		if pool.LicensesOwned != 3 {
			t.Errorf("expected 3 licenses owned, got %d", pool.LicensesOwned)
		}

		_, err = store.FindPool(ctx, collection.ID, "ISBN", "missing")
		if !errors.Is(err, models.ErrPoolNotFound) {
			t.Errorf("expected ErrPoolNotFound, got %v", err)
		}
	})

	t.Run("update pool availability", func(t *testing.T) {
		pool, _ := store.FindPool(ctx, collection.ID, "ISBN", "9780000000001")

		if err := store.UpdatePoolAvailability(ctx, pool.ID, 5, 0, 7, false); err != nil {
			t.Fatalf("failed to update availability: %v", err)
		}

		updated, _ := store.GetPool(ctx, pool.ID)
		if updated.LicensesAvailable != 0 || updated.PatronsInHoldQueue != 7 {
			t.Errorf("availability not updated: %+v", updated)
		}
	})

	t.Run("get or create delivery mechanism is idempotent", func(t *testing.T) {
		first, err := store.GetOrCreateDeliveryMechanism(ctx, models.EPUBMediaType, models.AdobeDRM)
		if err != nil {
			t.Fatalf("failed to create mechanism: %v", err)
		}
		second, err := store.GetOrCreateDeliveryMechanism(ctx, models.EPUBMediaType, models.AdobeDRM)
		if err != nil {
			t.Fatalf("failed on second create: %v", err)
		}
		if first.ID != second.ID {
			t.Errorf("expected same mechanism row, got %d and %d", first.ID, second.ID)
		}
	})

	t.Run("get or create lpdm is idempotent", func(t *testing.T) {
		pool, _ := store.FindPool(ctx, collection.ID, "ISBN", "9780000000001")
		mech, _ := store.GetOrCreateDeliveryMechanism(ctx, models.EPUBMediaType, models.AdobeDRM)

		first, err := store.GetOrCreateLPDM(ctx, pool.ID, mech.ID, models.RightsInCopyright, "")
		if err != nil {
			t.Fatalf("failed to create lpdm: %v", err)
		}
		second, err := store.GetOrCreateLPDM(ctx, pool.ID, mech.ID, models.RightsInCopyright, "")
		if err != nil {
			t.Fatalf("failed on second create: %v", err)
		}
		if first.ID != second.ID {
			t.Errorf("expected same lpdm row, got %d and %d", first.ID, second.ID)
		}
		if second.DeliveryMechanism == nil {
			t.Error("expected delivery mechanism preloaded")
		}
	})

	t.Run("delete collection removes pools", func(t *testing.T) {
		pool, _ := store.FindPool(ctx, collection.ID, "ISBN", "9780000000001")

		if err := store.DeleteCollection(ctx, "Biblio Feed"); err != nil {
			t.Fatalf("failed to delete collection: %v", err)
		}
		if _, err := store.GetPool(ctx, pool.ID); !errors.Is(err, models.ErrPoolNotFound) {
			t.Errorf("expected pool gone with collection, got %v", err)
		}
	})
}

func TestLoanOperations(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	library := seedLibrary(t, store, "NYPL")
	patron := seedPatron(t, store, library.ID, "1234")
	collection := seedCollection(t, store, "Feed")
	pool := seedPool(t, store, collection.ID, "9780000000002")

	t.Run("upsert creates loan", func(t *testing.T) {
		end := time.Now().Add(14 * 24 * time.Hour).UTC()
		loan, err := store.UpsertLoan(ctx, &models.Loan{
			PatronID:      patron.ID,
			LicensePoolID: pool.ID,
			Start:         time.Now().UTC(),
			End:           &end,
		})
		if err != nil {
			t.Fatalf("failed to upsert loan: %v", err)
		}
		if loan.ID == 0 {
			t.Error("expected non-zero loan ID")
		}
	})

	t.Run("upsert refreshes existing loan", func(t *testing.T) {
		before, _ := store.GetLoan(ctx, patron.ID, pool.ID)

		newEnd := time.Now().Add(21 * 24 * time.Hour).UTC()
		external := "vendor-loan-77"
		loan, err := store.UpsertLoan(ctx, &models.Loan{
			PatronID:           patron.ID,
			LicensePoolID:      pool.ID,
			Start:              before.Start,
			End:                &newEnd,
			ExternalIdentifier: &external,
		})
		if err != nil {
			t.Fatalf("failed to upsert loan: %v", err)
		}
		if loan.ID != before.ID {
			t.Errorf("expected same loan row %d, got %d", before.ID, loan.ID)
		}
		if loan.ExternalIdentifier == nil || *loan.ExternalIdentifier != external {
			t.Error("expected external identifier to be stored")
		}
	})

	t.Run("set loan fulfillment", func(t *testing.T) {
		mech, _ := store.GetOrCreateDeliveryMechanism(ctx, models.EPUBMediaType, models.AdobeDRM)
		lpdm, _ := store.GetOrCreateLPDM(ctx, pool.ID, mech.ID, models.RightsInCopyright, "")

		loan, _ := store.GetLoan(ctx, patron.ID, pool.ID)
		if err := store.SetLoanFulfillment(ctx, loan.ID, lpdm.ID); err != nil {
			t.Fatalf("failed to set fulfillment: %v", err)
		}

		locked, _ := store.GetLoan(ctx, patron.ID, pool.ID)
		if locked.FulfillmentID == nil || *locked.FulfillmentID != lpdm.ID {
			t.Error("expected loan locked to lpdm")
		}
	})

	t.Run("delete loan is idempotent", func(t *testing.T) {
		loan, _ := store.GetLoan(ctx, patron.ID, pool.ID)
		if err := store.DeleteLoan(ctx, loan.ID); err != nil {
			t.Fatalf("failed to delete loan: %v", err)
		}
		if err := store.DeleteLoan(ctx, loan.ID); err != nil {
			t.Errorf("expected idempotent delete, got %v", err)
		}
		if _, err := store.GetLoan(ctx, patron.ID, pool.ID); !errors.Is(err, models.ErrLoanNotFound) {
			t.Errorf("expected ErrLoanNotFound, got %v", err)
		}
	})
}

func TestHoldOperations(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	library := seedLibrary(t, store, "NYPL")
	patron := seedPatron(t, store, library.ID, "1234")
	collection := seedCollection(t, store, "Feed")
	pool := seedPool(t, store, collection.ID, "9780000000003")

	t.Run("upsert creates hold with unknown position", func(t *testing.T) {
		hold, err := store.UpsertHold(ctx, &models.Hold{
			PatronID:      patron.ID,
			LicensePoolID: pool.ID,
			Start:         time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("failed to upsert hold: %v", err)
		}
		if hold.Position != nil {
			t.Error("expected unknown queue position")
		}
	})

	t.Run("upsert updates queue position", func(t *testing.T) {
		before, _ := store.GetHold(ctx, patron.ID, pool.ID)

		position := 4
		hold, err := store.UpsertHold(ctx, &models.Hold{
			PatronID:      patron.ID,
			LicensePoolID: pool.ID,
			Start:         before.Start,
			Position:      &position,
		})
		if err != nil {
			t.Fatalf("failed to upsert hold: %v", err)
		}
		if hold.ID != before.ID {
			t.Errorf("expected same hold row %d, got %d", before.ID, hold.ID)
		}
		if hold.Position == nil || *hold.Position != 4 {
			t.Error("expected position 4")
		}
	})

	t.Run("delete hold is idempotent", func(t *testing.T) {
		hold, _ := store.GetHold(ctx, patron.ID, pool.ID)
		if err := store.DeleteHold(ctx, hold.ID); err != nil {
			t.Fatalf("failed to delete hold: %v", err)
		}
		if err := store.DeleteHold(ctx, hold.ID); err != nil {
			t.Errorf("expected idempotent delete, got %v", err)
		}
	})
}

func TestCredentialOperations(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	collection := seedCollection(t, store, "Feed")

	t.Run("upsert and get collection-scoped credential", func(t *testing.T) {
		expires := time.Now().Add(time.Hour).UTC()
		err := store.UpsertCredential(ctx, &models.Credential{
			DataSource:   "Test Source",
			Type:         "bearer_token",
			CollectionID: &collection.ID,
			Credential:   "token-1",
			Expires:      &expires,
		})
		if err != nil {
			t.Fatalf("failed to upsert credential: %v", err)
		}

		cred, err := store.GetCredential(ctx, "Test Source", "bearer_token", &collection.ID, nil)
		if err != nil {
			t.Fatalf("failed to get credential: %v", err)
		}
		if cred.Credential != "token-1" {
			t.Errorf("expected token-1, got %q", cred.Credential)
		}
	})

	t.Run("upsert replaces credential in place", func(t *testing.T) {
		err := store.UpsertCredential(ctx, &models.Credential{
			DataSource:   "Test Source",
			Type:         "bearer_token",
			CollectionID: &collection.ID,
			Credential:   "token-2",
		})
		if err != nil {
			t.Fatalf("failed to upsert credential: %v", err)
		}

		cred, _ := store.GetCredential(ctx, "Test Source", "bearer_token", &collection.ID, nil)
		if cred.Credential != "token-2" {
			t.Errorf("expected token-2, got %q", cred.Credential)
		}
	})

	t.Run("unscoped lookup misses scoped credential", func(t *testing.T) {
		_, err := store.GetCredential(ctx, "Test Source", "bearer_token", nil, nil)
		if !errors.Is(err, models.ErrCredentialNotFound) {
			t.Errorf("expected ErrCredentialNotFound, got %v", err)
		}
	})
}

func TestTransactionSavepoints(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	library := seedLibrary(t, store, "NYPL")
	patron := seedPatron(t, store, library.ID, "1234")
	collection := seedCollection(t, store, "Feed")
	poolA := seedPool(t, store, collection.ID, "9780000000010")
	poolB := seedPool(t, store, collection.ID, "9780000000011")

	t.Run("inner rollback keeps outer work", func(t *testing.T) {
		err := store.Transaction(ctx, func(tx Store) error {
			if _, err := tx.UpsertLoan(ctx, &models.Loan{
				PatronID:      patron.ID,
				LicensePoolID: poolA.ID,
				Start:         time.Now().UTC(),
			}); err != nil {
				return err
			}

			// Inner unit of work fails; the savepoint rolls it back alone.
			innerErr := tx.Transaction(ctx, func(inner Store) error {
				if _, err := inner.UpsertLoan(ctx, &models.Loan{
					PatronID:      patron.ID,
					LicensePoolID: poolB.ID,
					Start:         time.Now().UTC(),
				}); err != nil {
					return err
				}
				return fmt.Errorf("vendor rejected")
			})
			if innerErr == nil {
				t.Error("expected inner transaction error")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("outer transaction failed: %v", err)
		}

		if _, err := store.GetLoan(ctx, patron.ID, poolA.ID); err != nil {
			t.Errorf("expected outer loan to survive: %v", err)
		}
		if _, err := store.GetLoan(ctx, patron.ID, poolB.ID); !errors.Is(err, models.ErrLoanNotFound) {
			t.Errorf("expected inner loan rolled back, got %v", err)
		}
	})

	t.Run("outer rollback discards everything", func(t *testing.T) {
		err := store.Transaction(ctx, func(tx Store) error {
			if _, err := tx.UpsertLoan(ctx, &models.Loan{
				PatronID:      patron.ID,
				LicensePoolID: poolB.ID,
				Start:         time.Now().UTC(),
			}); err != nil {
				return err
			}
			return fmt.Errorf("abort")
		})
		if err == nil {
			t.Fatal("expected transaction error")
		}

		if _, err := store.GetLoan(ctx, patron.ID, poolB.ID); !errors.Is(err, models.ErrLoanNotFound) {
			t.Errorf("expected loan rolled back, got %v", err)
		}
	})
}
