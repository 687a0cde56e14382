package store

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestStores(t *testing.T) *Stores {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	stores := New(db)
	require.NoError(t, stores.AutoMigrate())
	return stores
}

func newTestMessage(direction string, status MessageStatus) *Message {
	return &Message{
		Direction:       direction,
		ServiceProvID:   "9999",
		InvokeID:        1,
		MessageDateTime: time.Now().UTC().Truncate(time.Second),
		CommandTag:      "SVCreateDownload",
		MessageBody:     "<doc/>",
		Status:          status,
	}
}

func newTestSubscription(spid string, versionID int64) *SubscriptionVersion {
	return &SubscriptionVersion{
		ServiceProvID:       spid,
		VersionID:           versionID,
		TN:                  "5511999990000",
		RecipientSP:         "8888",
		RecipientEOT:        "001",
		ActivationTimestamp: time.Now().UTC().Truncate(time.Second),
		RN1:                 "55555",
		DownloadReason:      "new",
	}
}

func TestMessageAppendAssignsID(t *testing.T) {
	stores := setupTestStores(t)

	id, err := stores.Messages.Append(newTestMessage("BDRtoBDO", ""))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msg, err := stores.Messages.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusReceived, msg.Status)
}

func TestMessageStatusTransitions(t *testing.T) {
	stores := setupTestStores(t)

	id, err := stores.Messages.Append(newTestMessage("BDRtoBDO", StatusReceived))
	require.NoError(t, err)

	require.NoError(t, stores.Messages.UpdateStatus(id, StatusProcessing))
	require.NoError(t, stores.Messages.UpdateStatus(id, StatusProcessed))

	// Terminal rows are immutable.
	err = stores.Messages.UpdateStatus(id, StatusReceived)
	require.Error(t, err)

	msg, err := stores.Messages.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, msg.Status)
}

func TestMessageUpdateStatusUnknownID(t *testing.T) {
	stores := setupTestStores(t)
	err := stores.Messages.UpdateStatus("no-such-id", StatusProcessing)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestMessageAppendErrorAccumulates(t *testing.T) {
	stores := setupTestStores(t)

	id, err := stores.Messages.Append(newTestMessage("BDRtoBDO", StatusReceived))
	require.NoError(t, err)

	require.NoError(t, stores.Messages.AppendError(id, "first failure"))
	require.NoError(t, stores.Messages.AppendError(id, "second failure"))

	msg, err := stores.Messages.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusError, msg.Status)
	assert.Contains(t, msg.ErrorInfo, "first failure")
	assert.Contains(t, msg.ErrorInfo, "second failure")
}

func TestMessageAppendErrorKeepsTerminalStatus(t *testing.T) {
	stores := setupTestStores(t)

	id, err := stores.Messages.Append(newTestMessage("BDOtoBDR", StatusQueued))
	require.NoError(t, err)
	require.NoError(t, stores.Messages.UpdateStatus(id, StatusSent))

	require.NoError(t, stores.Messages.AppendError(id, "late diagnostic"))

	msg, err := stores.Messages.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, msg.Status)
	assert.Contains(t, msg.ErrorInfo, "late diagnostic")
}

func TestMessageListNonTerminal(t *testing.T) {
	stores := setupTestStores(t)

	received, err := stores.Messages.Append(newTestMessage("BDRtoBDO", StatusReceived))
	require.NoError(t, err)
	queued, err := stores.Messages.Append(newTestMessage("BDOtoBDR", StatusQueued))
	require.NoError(t, err)
	done, err := stores.Messages.Append(newTestMessage("BDRtoBDO", StatusReceived))
	require.NoError(t, err)
	require.NoError(t, stores.Messages.UpdateStatus(done, StatusDone))

	msgs, err := stores.Messages.ListNonTerminal()
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	ids := []string{msgs[0].ID, msgs[1].ID}
	assert.Contains(t, ids, received)
	assert.Contains(t, ids, queued)
}

func TestSubscriptionUpsertCreatesAndUpdates(t *testing.T) {
	stores := setupTestStores(t)

	first, err := stores.Subscriptions.Upsert(newTestSubscription("9999", 1001))
	require.NoError(t, err)

	modified := newTestSubscription("9999", 1001)
	modified.RN1 = "44444"
	modified.DownloadReason = "modified"
	second, err := stores.Subscriptions.Upsert(modified)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "44444", second.RN1)
	assert.Equal(t, "modified", second.DownloadReason)

	var count int64
	require.NoError(t, stores.DB().Model(&SubscriptionVersion{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestSubscriptionDeletePreservesReasonOnLaterUpsert(t *testing.T) {
	stores := setupTestStores(t)

	_, err := stores.Subscriptions.Upsert(newTestSubscription("9999", 1001))
	require.NoError(t, err)

	deletedAt := time.Now().UTC().Truncate(time.Second)
	sv, err := stores.Subscriptions.MarkDeleted("9999", 1001, "deleted", deletedAt)
	require.NoError(t, err)
	assert.True(t, sv.Deleted())
	assert.Equal(t, "deleted", sv.DownloadReason)

	// A replayed create must not resurrect the download reason.
	replay := newTestSubscription("9999", 1001)
	replay.DownloadReason = "new"
	after, err := stores.Subscriptions.Upsert(replay)
	require.NoError(t, err)
	assert.Equal(t, "deleted", after.DownloadReason)
	assert.True(t, after.Deleted())
}

func TestSubscriptionMarkDeletedUnknownVersion(t *testing.T) {
	stores := setupTestStores(t)
	_, err := stores.Subscriptions.MarkDeleted("9999", 404, "deleted", time.Now())
	assert.ErrorIs(t, err, ErrSubscriptionVersionNotFound)
}

func TestSubscriptionQueryActiveExcludesDeleted(t *testing.T) {
	stores := setupTestStores(t)

	_, err := stores.Subscriptions.Upsert(newTestSubscription("9999", 1001))
	require.NoError(t, err)
	other := newTestSubscription("9999", 1002)
	other.TN = "5511999990001"
	_, err = stores.Subscriptions.Upsert(other)
	require.NoError(t, err)
	_, err = stores.Subscriptions.MarkDeleted("9999", 1002, "deleted", time.Now())
	require.NoError(t, err)

	svs, err := stores.Subscriptions.QueryActive("9999", "subscription_rn1 = ?", []any{"55555"})
	require.NoError(t, err)
	require.Len(t, svs, 1)
	assert.Equal(t, int64(1001), svs[0].VersionID)
}

func TestProviderAuthenticate(t *testing.T) {
	stores := setupTestStores(t)

	p, err := stores.Providers.Create(&ServiceProvider{SPID: "9999", Enabled: true})
	require.NoError(t, err)
	require.NotEmpty(t, p.Token)

	got, err := stores.Providers.Authenticate("9999", p.Token)
	require.NoError(t, err)
	assert.Equal(t, p.SPID, got.SPID)

	_, err = stores.Providers.Authenticate("9999", "wrong-token")
	assert.ErrorIs(t, err, ErrNotAuthorized)

	require.NoError(t, stores.Providers.SetEnabled("9999", false))
	_, err = stores.Providers.Authenticate("9999", p.Token)
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestSyncTaskFanOutDeduplicates(t *testing.T) {
	stores := setupTestStores(t)

	c1, err := stores.SyncClients.Create(&SyncClient{SPID: "9999", Enabled: true})
	require.NoError(t, err)
	c2, err := stores.SyncClients.Create(&SyncClient{SPID: "9999", Enabled: true})
	require.NoError(t, err)
	disabled, err := stores.SyncClients.Create(&SyncClient{SPID: "9999", Enabled: false})
	require.NoError(t, err)
	_ = disabled

	sv, err := stores.Subscriptions.Upsert(newTestSubscription("9999", 1001))
	require.NoError(t, err)

	// Two mutations before any pull must leave exactly one task per client.
	require.NoError(t, stores.SyncTasks.FanOut(sv))
	require.NoError(t, stores.SyncTasks.FanOut(sv))

	t1, err := stores.SyncTasks.ListForClient(c1.ID, 0)
	require.NoError(t, err)
	assert.Len(t, t1, 1)
	t2, err := stores.SyncTasks.ListForClient(c2.ID, 0)
	require.NoError(t, err)
	assert.Len(t, t2, 1)
}

func TestSyncTaskAckIsIdempotent(t *testing.T) {
	stores := setupTestStores(t)

	c, err := stores.SyncClients.Create(&SyncClient{SPID: "9999", Enabled: true})
	require.NoError(t, err)
	sv, err := stores.Subscriptions.Upsert(newTestSubscription("9999", 1001))
	require.NoError(t, err)
	require.NoError(t, stores.SyncTasks.FanOut(sv))

	tasks, err := stores.SyncTasks.ListForClient(c.ID, 0)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	require.NoError(t, stores.SyncTasks.Ack(c.ID, []string{tasks[0].ID}))
	require.NoError(t, stores.SyncTasks.Ack(c.ID, []string{tasks[0].ID}))
	require.NoError(t, stores.SyncTasks.Ack(c.ID, []string{"no-such-task"}))

	remaining, err := stores.SyncTasks.ListForClient(c.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestTransactionRollsBackOnError(t *testing.T) {
	stores := setupTestStores(t)

	err := stores.Transaction(func(tx *Stores) error {
		if _, err := tx.Messages.Append(newTestMessage("BDRtoBDO", StatusReceived)); err != nil {
			return err
		}
		return assert.AnError
	})
	require.Error(t, err)

	msgs, err := stores.Messages.ListNonTerminal()
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
