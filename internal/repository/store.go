package repository

import "database/sql"

// Store bundles the MySQL repositories behind one value with the same
// method set as the in-memory store.
type Store struct {
	*RegistryRepo
	*ScopeRepo
	*LedgerRepo
	*RegistrationRepo
	*MoodRepo
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		RegistryRepo:     NewRegistryRepo(db),
		ScopeRepo:        NewScopeRepo(db),
		LedgerRepo:       NewLedgerRepo(db),
		RegistrationRepo: NewRegistrationRepo(db),
		MoodRepo:         NewMoodRepo(db),
	}
}
