package store

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrProviderNotFound is returned when a SPID has no registration.
var ErrProviderNotFound = errors.New("service provider not found")

// ErrNotAuthorized is returned when credentials do not match an enabled
// registration.
var ErrNotAuthorized = errors.New("not authorized")

// ServiceProviderStore manages counterpart registrations.
type ServiceProviderStore struct {
	db *gorm.DB
}

// Create registers a provider. A fresh token is generated when none is given.
func (s *ServiceProviderStore) Create(p *ServiceProvider) (*ServiceProvider, error) {
	if p.Token == "" {
		p.Token = uuid.New().String()
	}
	if err := s.db.Create(p).Error; err != nil {
		return nil, fmt.Errorf("create service provider: %w", err)
	}
	return p, nil
}

// GetBySPID loads one provider by its SPID.
func (s *ServiceProviderStore) GetBySPID(spid string) (*ServiceProvider, error) {
	var p ServiceProvider
	if err := s.db.First(&p, "spid = ?", spid).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProviderNotFound
		}
		return nil, fmt.Errorf("get service provider: %w", err)
	}
	return &p, nil
}

// Authenticate checks spid+token against an enabled registration.
func (s *ServiceProviderStore) Authenticate(spid, token string) (*ServiceProvider, error) {
	var p ServiceProvider
	err := s.db.First(&p, "spid = ? AND token = ? AND enabled = ?", spid, token, true).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotAuthorized
		}
		return nil, fmt.Errorf("authenticate service provider: %w", err)
	}
	return &p, nil
}

// List returns every registration.
func (s *ServiceProviderStore) List() ([]ServiceProvider, error) {
	var ps []ServiceProvider
	if err := s.db.Order("spid ASC").Find(&ps).Error; err != nil {
		return nil, fmt.Errorf("list service providers: %w", err)
	}
	return ps, nil
}

// SetEnabled toggles a registration.
func (s *ServiceProviderStore) SetEnabled(spid string, enabled bool) error {
	result := s.db.Model(&ServiceProvider{}).Where("spid = ?", spid).Update("enabled", enabled)
	if result.Error != nil {
		return fmt.Errorf("update service provider: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrProviderNotFound
	}
	return nil
}

// ErrSyncClientNotFound is returned when a sync client id does not exist.
var ErrSyncClientNotFound = errors.New("sync client not found")

// SyncClientStore manages pull subscribers.
type SyncClientStore struct {
	db *gorm.DB
}

// Create registers a sync client under a provider's SPID. A fresh token is
// generated when none is given.
func (s *SyncClientStore) Create(c *SyncClient) (*SyncClient, error) {
	if c.Token == "" {
		c.Token = uuid.New().String()
	}
	if err := s.db.Create(c).Error; err != nil {
		return nil, fmt.Errorf("create sync client: %w", err)
	}
	return c, nil
}

// Authenticate checks spid+token against an enabled client.
func (s *SyncClientStore) Authenticate(spid, token string) (*SyncClient, error) {
	var c SyncClient
	err := s.db.First(&c, "spid = ? AND token = ? AND enabled = ?", spid, token, true).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotAuthorized
		}
		return nil, fmt.Errorf("authenticate sync client: %w", err)
	}
	return &c, nil
}

// ListEnabled returns the enabled clients subscribed to a provider's changes.
func (s *SyncClientStore) ListEnabled(spid string) ([]SyncClient, error) {
	var cs []SyncClient
	if err := s.db.Where("spid = ? AND enabled = ?", spid, true).Find(&cs).Error; err != nil {
		return nil, fmt.Errorf("list sync clients: %w", err)
	}
	return cs, nil
}

// List returns every client registered under a SPID, or all when spid is
// empty.
func (s *SyncClientStore) List(spid string) ([]SyncClient, error) {
	q := s.db.Order("id ASC")
	if spid != "" {
		q = q.Where("spid = ?", spid)
	}
	var cs []SyncClient
	if err := q.Find(&cs).Error; err != nil {
		return nil, fmt.Errorf("list sync clients: %w", err)
	}
	return cs, nil
}

// SyncTaskStore manages the pending-delivery markers.
type SyncTaskStore struct {
	db *gorm.DB
}

// FanOut records one pending task per enabled client of the record's
// provider. The unique (client, version) index absorbs repeated mutations of
// the same record before a pull, so no client ever sees duplicates.
func (s *SyncTaskStore) FanOut(sv *SubscriptionVersion) error {
	var clients []SyncClient
	if err := s.db.Where("spid = ? AND enabled = ?", sv.ServiceProvID, true).Find(&clients).Error; err != nil {
		return fmt.Errorf("fan out sync tasks: %w", err)
	}
	if len(clients) == 0 {
		return nil
	}

	tasks := make([]SyncTask, 0, len(clients))
	for _, c := range clients {
		tasks = append(tasks, SyncTask{
			ID:                    uuid.New().String(),
			SyncClientID:          c.ID,
			SubscriptionVersionID: sv.ID,
		})
	}
	err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&tasks).Error
	if err != nil {
		return fmt.Errorf("fan out sync tasks: %w", err)
	}
	return nil
}

// ListForClient returns up to limit pending tasks for one client, oldest
// first.
func (s *SyncTaskStore) ListForClient(clientID uint, limit int) ([]SyncTask, error) {
	q := s.db.Where("sync_client_id = ?", clientID).Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var ts []SyncTask
	if err := q.Find(&ts).Error; err != nil {
		return nil, fmt.Errorf("list sync tasks: %w", err)
	}
	return ts, nil
}

// GetTasks loads a client's tasks by task id. Ids belonging to other clients
// are ignored.
func (s *SyncTaskStore) GetTasks(clientID uint, ids []string) ([]SyncTask, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var ts []SyncTask
	err := s.db.Where("sync_client_id = ? AND id IN ?", clientID, ids).Find(&ts).Error
	if err != nil {
		return nil, fmt.Errorf("get sync tasks: %w", err)
	}
	return ts, nil
}

// Ack removes a client's tasks by task id. Unknown or already-acknowledged
// ids are ignored, so retried acknowledgements are harmless.
func (s *SyncTaskStore) Ack(clientID uint, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.db.Where("sync_client_id = ? AND id IN ?", clientID, ids).Delete(&SyncTask{}).Error
	if err != nil {
		return fmt.Errorf("ack sync tasks: %w", err)
	}
	return nil
}
