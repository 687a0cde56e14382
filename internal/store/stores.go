package store

import (
	"fmt"

	"gorm.io/gorm"
)

// Stores bundles the per-table stores over one gorm handle so a status
// transition and its business side effects can share a transaction.
type Stores struct {
	db *gorm.DB

	Messages      *MessageStore
	Subscriptions *SubscriptionVersionStore
	Providers     *ServiceProviderStore
	SyncClients   *SyncClientStore
	SyncTasks     *SyncTaskStore
}

// New creates the store bundle.
func New(db *gorm.DB) *Stores {
	return &Stores{
		db:            db,
		Messages:      &MessageStore{db: db},
		Subscriptions: &SubscriptionVersionStore{db: db},
		Providers:     &ServiceProviderStore{db: db},
		SyncClients:   &SyncClientStore{db: db},
		SyncTasks:     &SyncTaskStore{db: db},
	}
}

// DB returns the underlying gorm handle.
func (s *Stores) DB() *gorm.DB { return s.db }

// AutoMigrate creates or updates every table the engine uses.
func (s *Stores) AutoMigrate() error {
	if err := s.db.AutoMigrate(
		&ServiceProvider{},
		&SyncClient{},
		&SubscriptionVersion{},
		&SyncTask{},
		&Message{},
	); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Transaction runs fn with a store bundle scoped to one transaction. The
// transaction commits if fn returns nil and rolls back otherwise.
func (s *Stores) Transaction(fn func(tx *Stores) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(New(tx))
	})
}
