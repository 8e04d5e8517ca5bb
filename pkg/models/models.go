// Package models defines the persistent entities of the circulation manager:
// libraries, patrons, collections, license pools, delivery mechanisms,
// loans, holds, and vendor credentials.
//
// All models are GORM-backed and support both SQLite and PostgreSQL via
// store.New. Schema creation happens through AutoMigrate using AllModels.
package models

// AllModels returns all models for GORM auto-migration.
// Order matters for foreign key creation: referenced tables first.
func AllModels() []any {
	return []any{
		&Library{},
		&Patron{},
		&Collection{},
		&LicensePool{},
		&DeliveryMechanism{},
		&LicensePoolDeliveryMechanism{},
		&Loan{},
		&Hold{},
		&Credential{},
	}
}
