// Package store holds the gorm models and persistence operations for the
// engine: the append-only message audit log, the subscription version table
// and the service provider / sync client / sync task registrations.
package store

import (
	"time"
)

// MessageStatus is the lifecycle state of a logged message.
type MessageStatus string

const (
	StatusReceived   MessageStatus = "received"   // persisted inbound, awaiting dispatch
	StatusQueued     MessageStatus = "queued"     // outbound, awaiting delivery
	StatusProcessing MessageStatus = "processing" // claimed by a worker
	StatusProcessed  MessageStatus = "processed"  // inbound handled, reply enqueued
	StatusSent       MessageStatus = "sent"       // outbound acknowledged by the remote
	StatusError      MessageStatus = "error"      // failed, retryable via the sweep
	StatusDone       MessageStatus = "done"       // inbound handled, no reply needed
)

// Terminal reports whether the status is a terminal success state. Once
// terminal, a message row is immutable except for diagnostic append.
func (s MessageStatus) Terminal() bool {
	switch s {
	case StatusProcessed, StatusSent, StatusDone:
		return true
	}
	return false
}

// Message is one row of the audit log. Every message that crosses the wire
// in either direction is recorded here verbatim and never deleted.
type Message struct {
	ID              string        `gorm:"primaryKey;column:id;type:varchar(36)"`
	Direction       string        `gorm:"column:direction;index:idx_message_direction_status,priority:1;not null"`
	ServiceProvID   string        `gorm:"column:service_prov_id;size:4;index;not null"`
	InvokeID        int64         `gorm:"column:invoke_id;not null"`
	MessageDateTime time.Time     `gorm:"column:message_date_time;index;not null"`
	CommandTag      string        `gorm:"column:command_tag;size:255;not null"`
	MessageBody     string        `gorm:"column:message_body;type:text;not null"`
	Status          MessageStatus `gorm:"column:status;index:idx_message_direction_status,priority:2;not null"`
	ErrorInfo       string        `gorm:"column:error_info;type:text"`
	CreatedAt       time.Time     `gorm:"column:created_at"`
	UpdatedAt       time.Time     `gorm:"column:updated_at"`
}

func (Message) TableName() string { return "messages" }

// Terminal reports whether the message reached a terminal success state.
func (m *Message) Terminal() bool { return m.Status.Terminal() }

// SubscriptionVersion is one portability record ("bilhete"), keyed by
// (service provider, version id). Deletion is logical: deletion_timestamp is
// set and the row stays.
type SubscriptionVersion struct {
	ID                  uint       `gorm:"primaryKey;column:id"`
	ServiceProvID       string     `gorm:"column:service_prov_id;size:4;uniqueIndex:idx_sv_spid_version,priority:1;index:idx_sv_spid_tn_deletion,priority:1;not null"`
	VersionID           int64      `gorm:"column:subscription_version_id;uniqueIndex:idx_sv_spid_version,priority:2;not null"`
	TN                  string     `gorm:"column:subscription_version_tn;size:11;index:idx_sv_spid_tn_deletion,priority:2;not null"`
	RecipientSP         string     `gorm:"column:subscription_recipient_sp;size:4"`
	RecipientEOT        string     `gorm:"column:subscription_recipient_eot;size:3"`
	ActivationTimestamp time.Time  `gorm:"column:subscription_activation_timestamp"`
	BroadcastTimestamp  *time.Time `gorm:"column:subscription_broadcast_timestamp"`
	RN1                 string     `gorm:"column:subscription_rn1;size:5"`
	NewCNL              string     `gorm:"column:subscription_new_cnl;size:5"`
	LNPType             string     `gorm:"column:subscription_lnp_type;size:4"`
	DownloadReason      string     `gorm:"column:subscription_download_reason;size:8"`
	LineType            string     `gorm:"column:subscription_line_type;size:5"`
	OptionalData        string     `gorm:"column:subscription_optional_data;type:text"`
	DeletionTimestamp   *time.Time `gorm:"column:subscription_deletion_timestamp;index:idx_sv_spid_tn_deletion,priority:3"`
	CreatedAt           time.Time  `gorm:"column:created_at"`
	UpdatedAt           time.Time  `gorm:"column:updated_at"`
}

func (SubscriptionVersion) TableName() string { return "subscription_versions" }

// Deleted reports whether the record has been logically removed.
func (sv *SubscriptionVersion) Deleted() bool { return sv.DeletionTimestamp != nil }

// ServiceProvider is a registered counterpart: its wire credentials and the
// endpoint outbound messages are delivered to.
type ServiceProvider struct {
	ID        uint      `gorm:"primaryKey;column:id"`
	SPID      string    `gorm:"column:spid;size:4;uniqueIndex;not null"`
	Token     string    `gorm:"column:token;size:36;index:idx_provider_spid_token_enabled;not null"`
	Enabled   bool      `gorm:"column:enabled;index:idx_provider_spid_token_enabled;default:true"`
	SPGURL    string    `gorm:"column:spg_url"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (ServiceProvider) TableName() string { return "service_providers" }

// SyncClient is a pull-based subscriber to one provider's subscription
// version changes.
type SyncClient struct {
	ID        uint      `gorm:"primaryKey;column:id"`
	SPID      string    `gorm:"column:spid;size:4;index:idx_syncclient_spid_enabled,priority:1;not null"`
	Token     string    `gorm:"column:token;size:36;not null"`
	Enabled   bool      `gorm:"column:enabled;index:idx_syncclient_spid_enabled,priority:2;default:true"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (SyncClient) TableName() string { return "sync_clients" }

// SyncTask is a pending-delivery marker: this client has not yet pulled this
// subscription version change. The (client, version) pair is unique, so
// repeated mutations before a pull do not multiply tasks.
type SyncTask struct {
	ID                    string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	SyncClientID          uint      `gorm:"column:sync_client_id;uniqueIndex:idx_synctask_client_version,priority:1;not null"`
	SubscriptionVersionID uint      `gorm:"column:subscription_version_id;uniqueIndex:idx_synctask_client_version,priority:2;not null"`
	CreatedAt             time.Time `gorm:"column:created_at"`
}

func (SyncTask) TableName() string { return "sync_tasks" }
