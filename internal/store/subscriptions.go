package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrSubscriptionVersionNotFound is returned when a (spid, version id) pair
// does not exist.
var ErrSubscriptionVersionNotFound = errors.New("subscription version not found")

// SubscriptionVersionStore is the authoritative portability record table.
type SubscriptionVersionStore struct {
	db *gorm.DB
}

// Get loads one record by its natural key.
func (s *SubscriptionVersionStore) Get(spid string, versionID int64) (*SubscriptionVersion, error) {
	var sv SubscriptionVersion
	err := s.db.First(&sv, "service_prov_id = ? AND subscription_version_id = ?", spid, versionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionVersionNotFound
		}
		return nil, fmt.Errorf("get subscription version: %w", err)
	}
	return &sv, nil
}

// Upsert applies a create download: the row is created on first sight of the
// key and overwritten in place afterwards. The download reason of a deleted
// record is preserved, so a create or modify processed after a delete keeps
// the record's deleted state consistent.
func (s *SubscriptionVersionStore) Upsert(record *SubscriptionVersion) (*SubscriptionVersion, error) {
	existing, err := s.Get(record.ServiceProvID, record.VersionID)
	if err != nil {
		if !errors.Is(err, ErrSubscriptionVersionNotFound) {
			return nil, err
		}
		if err := s.db.Create(record).Error; err != nil {
			return nil, fmt.Errorf("create subscription version: %w", err)
		}
		return record, nil
	}

	existing.TN = record.TN
	existing.RecipientSP = record.RecipientSP
	existing.RecipientEOT = record.RecipientEOT
	existing.ActivationTimestamp = record.ActivationTimestamp
	existing.BroadcastTimestamp = record.BroadcastTimestamp
	existing.RN1 = record.RN1
	existing.NewCNL = record.NewCNL
	existing.LNPType = record.LNPType
	existing.LineType = record.LineType
	existing.OptionalData = record.OptionalData
	if existing.DeletionTimestamp == nil {
		existing.DownloadReason = record.DownloadReason
	}

	if err := s.db.Save(existing).Error; err != nil {
		return nil, fmt.Errorf("update subscription version: %w", err)
	}
	return existing, nil
}

// MarkDeleted applies a delete download: deletion_timestamp and the delete's
// download reason are set, the row stays. Deleting an unknown version is a
// no-op and reports found=false.
func (s *SubscriptionVersionStore) MarkDeleted(spid string, versionID int64, reason string, at time.Time) (*SubscriptionVersion, error) {
	sv, err := s.Get(spid, versionID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionVersionNotFound) {
			return nil, ErrSubscriptionVersionNotFound
		}
		return nil, err
	}

	sv.DownloadReason = reason
	sv.DeletionTimestamp = &at
	if err := s.db.Save(sv).Error; err != nil {
		return nil, fmt.Errorf("mark subscription version deleted: %w", err)
	}
	return sv, nil
}

// QueryActive returns one provider's records matching the given parameterized
// condition, excluding logically deleted rows. The condition must come from
// the filter package's compiler; raw caller text never reaches this query.
func (s *SubscriptionVersionStore) QueryActive(spid string, condition string, args []any) ([]SubscriptionVersion, error) {
	q := s.db.Where("service_prov_id = ? AND subscription_deletion_timestamp IS NULL", spid)
	if condition != "" {
		q = q.Where(condition, args...)
	}

	var svs []SubscriptionVersion
	if err := q.Order("subscription_version_tn ASC, subscription_version_id ASC").Find(&svs).Error; err != nil {
		return nil, fmt.Errorf("query subscription versions: %w", err)
	}
	return svs, nil
}

// ListByIDs loads records by surrogate id, used to resolve sync task payloads.
func (s *SubscriptionVersionStore) ListByIDs(ids []uint) ([]SubscriptionVersion, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var svs []SubscriptionVersion
	if err := s.db.Where("id IN ?", ids).Find(&svs).Error; err != nil {
		return nil, fmt.Errorf("list subscription versions by id: %w", err)
	}
	return svs, nil
}
