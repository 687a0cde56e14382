package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrMessageNotFound is returned when a message id does not exist.
var ErrMessageNotFound = errors.New("message not found")

// MessageStore is the append-only audit log of wire messages. Rows are never
// deleted; only status and error_info change, and error_info only grows.
type MessageStore struct {
	db *gorm.DB
}

// Append records a new message and returns its assigned id.
func (s *MessageStore) Append(msg *Message) (string, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Status == "" {
		msg.Status = StatusReceived
	}
	if err := s.db.Create(msg).Error; err != nil {
		return "", fmt.Errorf("append message: %w", err)
	}
	return msg.ID, nil
}

// Get loads one message by id.
func (s *MessageStore) Get(id string) (*Message, error) {
	var msg Message
	if err := s.db.First(&msg, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &msg, nil
}

// UpdateStatus transitions a message to the given status. Terminal rows are
// immutable: the update is refused once the stored status is terminal.
func (s *MessageStore) UpdateStatus(id string, status MessageStatus) error {
	result := s.db.Model(&Message{}).
		Where("id = ? AND status NOT IN ?", id, []MessageStatus{StatusProcessed, StatusSent, StatusDone}).
		Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("update message status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		var msg Message
		if err := s.db.First(&msg, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMessageNotFound
			}
			return fmt.Errorf("check message: %w", err)
		}
		return fmt.Errorf("message %s is terminal (%s), refusing transition to %s", id, msg.Status, status)
	}
	return nil
}

// AppendError appends diagnostic text and, unless the row is terminal,
// transitions it to the error status. Diagnostics are never cleared.
func (s *MessageStore) AppendError(id string, info string) error {
	stamped := fmt.Sprintf("[%s] %s\n\n", time.Now().UTC().Format(time.RFC3339), info)

	result := s.db.Model(&Message{}).
		Where("id = ? AND status NOT IN ?", id, []MessageStatus{StatusProcessed, StatusSent, StatusDone}).
		Updates(map[string]any{
			"status":     StatusError,
			"error_info": gorm.Expr("error_info || ?", stamped),
		})
	if result.Error != nil {
		return fmt.Errorf("append message error: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// Terminal rows still accept diagnostic append, just not a status change.
		result = s.db.Model(&Message{}).
			Where("id = ?", id).
			Update("error_info", gorm.Expr("error_info || ?", stamped))
		if result.Error != nil {
			return fmt.Errorf("append message error: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrMessageNotFound
		}
	}
	return nil
}

// ListByStatus returns messages in any of the given statuses, oldest first
// by the sender-claimed timestamp. Direction is optional.
func (s *MessageStore) ListByStatus(direction string, statuses []MessageStatus) ([]Message, error) {
	q := s.db.Where("status IN ?", statuses)
	if direction != "" {
		q = q.Where("direction = ?", direction)
	}

	var msgs []Message
	if err := q.Order("message_date_time ASC").Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("list messages by status: %w", err)
	}
	return msgs, nil
}

// ListNonTerminal returns every message the recovery sweep should re-submit,
// oldest first. Error states are included: the sweep is the sole retry path.
func (s *MessageStore) ListNonTerminal() ([]Message, error) {
	return s.ListByStatus("", []MessageStatus{
		StatusReceived, StatusQueued, StatusProcessing, StatusError,
	})
}

// MessageListFilter narrows the operator-facing message listing.
type MessageListFilter struct {
	Direction     string
	ServiceProvID string
	Status        string
	CommandTag    string
}

// List returns a page of messages for the operator API, newest first.
func (s *MessageStore) List(filter MessageListFilter, limit, offset int) ([]Message, int64, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	buildQuery := func(base *gorm.DB) *gorm.DB {
		q := base.Model(&Message{})
		if filter.Direction != "" {
			q = q.Where("direction = ?", filter.Direction)
		}
		if filter.ServiceProvID != "" {
			q = q.Where("service_prov_id = ?", filter.ServiceProvID)
		}
		if filter.Status != "" {
			q = q.Where("status = ?", filter.Status)
		}
		if filter.CommandTag != "" {
			q = q.Where("command_tag = ?", filter.CommandTag)
		}
		return q
	}

	var total int64
	if err := buildQuery(s.db).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	var msgs []Message
	if err := buildQuery(s.db).
		Order("message_date_time DESC").
		Limit(limit).
		Offset(offset).
		Find(&msgs).Error; err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}
	return msgs, total, nil
}
