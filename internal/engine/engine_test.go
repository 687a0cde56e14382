package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bdosoa/bdosoa/internal/spg"
	"github.com/bdosoa/bdosoa/internal/store"
)

// fakeDeliverer records deliveries and fails on demand.
type fakeDeliverer struct {
	delivered []string
	err       error
}

func (f *fakeDeliverer) Deliver(ctx context.Context, provider *store.ServiceProvider, header spg.Header, document string) error {
	if f.err != nil {
		return f.err
	}
	f.delivered = append(f.delivered, document)
	return nil
}

func setupTestEngine(t *testing.T) (*Engine, *store.Stores, *fakeDeliverer) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	stores := store.New(db)
	require.NoError(t, stores.AutoMigrate())

	deliverer := &fakeDeliverer{}
	eng := New(stores, DefaultRegistry(), deliverer, DefaultConfig(), nil)
	return eng, stores, deliverer
}

func newInboundMessage(t *testing.T, body spg.Body) (*spg.Message, []byte) {
	t.Helper()
	msg := &spg.Message{
		Direction: spg.BDRtoBDO,
		Header: spg.Header{
			ServiceProvID:   "9999",
			InvokeID:        42,
			MessageDateTime: time.Now().UTC().Truncate(time.Second),
		},
		Body: body,
	}
	raw, err := spg.Encode(msg)
	require.NoError(t, err)
	return msg, raw
}

func createDownloadBody(versionID int64) *spg.SVCreateDownload {
	return &spg.SVCreateDownload{
		TNVersionID: spg.TNVersionID{TN: "5511999990000", VersionID: versionID},
		Data: spg.SubscriptionData{
			RecipientSP:         "8888",
			RecipientEOT:        "001",
			ActivationTimestamp: time.Now().UTC().Truncate(time.Second),
			RN1:                 "55555",
			DownloadReason:      "new",
		},
	}
}

func TestSubmitPersistsReceived(t *testing.T) {
	eng, stores, _ := setupTestEngine(t)

	msg, raw := newInboundMessage(t, createDownloadBody(1001))
	id, err := eng.Submit(context.Background(), msg, raw)
	require.NoError(t, err)

	row, err := stores.Messages.Get(id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusReceived, row.Status)
	assert.Equal(t, "SVCreateDownload", row.CommandTag)
	assert.Equal(t, string(raw), row.MessageBody)
}

func TestCreateDownloadProcessing(t *testing.T) {
	eng, stores, _ := setupTestEngine(t)
	ctx := context.Background()

	client, err := stores.SyncClients.Create(&store.SyncClient{SPID: "9999", Enabled: true})
	require.NoError(t, err)

	msg, raw := newInboundMessage(t, createDownloadBody(1001))
	id, err := eng.Submit(ctx, msg, raw)
	require.NoError(t, err)

	eng.processOne(ctx, 0, id)

	// Original is terminal, record exists, change fanned out, reply queued.
	row, err := stores.Messages.Get(id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusProcessed, row.Status)

	sv, err := stores.Subscriptions.Get("9999", 1001)
	require.NoError(t, err)
	assert.Equal(t, "5511999990000", sv.TN)

	tasks, err := stores.SyncTasks.ListForClient(client.ID, 0)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	queued, err := stores.Messages.ListByStatus(string(spg.BDOtoBDR), []store.MessageStatus{store.StatusQueued})
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "SVDownloadReply", queued[0].CommandTag)
	assert.Equal(t, msg.Header.InvokeID, queued[0].InvokeID)
}

func TestReplyDelivery(t *testing.T) {
	eng, stores, deliverer := setupTestEngine(t)
	ctx := context.Background()

	_, err := stores.Providers.Create(&store.ServiceProvider{
		SPID: "9999", Enabled: true, SPGURL: "http://spg.example/soap",
	})
	require.NoError(t, err)

	msg, raw := newInboundMessage(t, createDownloadBody(1001))
	id, err := eng.Submit(ctx, msg, raw)
	require.NoError(t, err)
	eng.processOne(ctx, 0, id)

	queued, err := stores.Messages.ListByStatus("", []store.MessageStatus{store.StatusQueued})
	require.NoError(t, err)
	require.Len(t, queued, 1)

	eng.processOne(ctx, 0, queued[0].ID)

	sent, err := stores.Messages.Get(queued[0].ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusSent, sent.Status)
	require.Len(t, deliverer.delivered, 1)
	assert.Contains(t, deliverer.delivered[0], "SVDownloadReply")
}

func TestDeliveryFailureParksInError(t *testing.T) {
	eng, stores, deliverer := setupTestEngine(t)
	ctx := context.Background()
	deliverer.err = errors.New("gateway unreachable")

	_, err := stores.Providers.Create(&store.ServiceProvider{
		SPID: "9999", Enabled: true, SPGURL: "http://spg.example/soap",
	})
	require.NoError(t, err)

	msg, raw := newInboundMessage(t, createDownloadBody(1001))
	id, err := eng.Submit(ctx, msg, raw)
	require.NoError(t, err)
	eng.processOne(ctx, 0, id)

	queued, err := stores.Messages.ListByStatus("", []store.MessageStatus{store.StatusQueued})
	require.NoError(t, err)
	require.Len(t, queued, 1)
	eng.processOne(ctx, 0, queued[0].ID)

	failed, err := stores.Messages.Get(queued[0].ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusError, failed.Status)
	assert.Contains(t, failed.ErrorInfo, "gateway unreachable")
}

func TestDeleteUnknownVersionStillSucceeds(t *testing.T) {
	eng, stores, _ := setupTestEngine(t)
	ctx := context.Background()

	msg, raw := newInboundMessage(t, &spg.SVDeleteDownload{
		VersionID: 404,
		Data:      spg.SubscriptionDeleteData{DownloadReason: "deleted"},
	})
	id, err := eng.Submit(ctx, msg, raw)
	require.NoError(t, err)
	eng.processOne(ctx, 0, id)

	row, err := stores.Messages.Get(id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusProcessed, row.Status)

	queued, err := stores.Messages.ListByStatus("", []store.MessageStatus{store.StatusQueued})
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "SVDownloadReply", queued[0].CommandTag)
}

func TestDeleteMarksRecordAndFansOut(t *testing.T) {
	eng, stores, _ := setupTestEngine(t)
	ctx := context.Background()

	client, err := stores.SyncClients.Create(&store.SyncClient{SPID: "9999", Enabled: true})
	require.NoError(t, err)

	createMsg, createRaw := newInboundMessage(t, createDownloadBody(1001))
	createID, err := eng.Submit(ctx, createMsg, createRaw)
	require.NoError(t, err)
	eng.processOne(ctx, 0, createID)

	tasks, err := stores.SyncTasks.ListForClient(client.ID, 0)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.NoError(t, stores.SyncTasks.Ack(client.ID, []string{tasks[0].ID}))

	deleteMsg, deleteRaw := newInboundMessage(t, &spg.SVDeleteDownload{
		VersionID: 1001,
		Data:      spg.SubscriptionDeleteData{DownloadReason: "deleted"},
	})
	deleteID, err := eng.Submit(ctx, deleteMsg, deleteRaw)
	require.NoError(t, err)
	eng.processOne(ctx, 0, deleteID)

	sv, err := stores.Subscriptions.Get("9999", 1001)
	require.NoError(t, err)
	assert.True(t, sv.Deleted())
	assert.Equal(t, "deleted", sv.DownloadReason)

	// The delete produced a fresh task after the earlier ack.
	tasks, err = stores.SyncTasks.ListForClient(client.ID, 0)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestQueryProducesReply(t *testing.T) {
	eng, stores, _ := setupTestEngine(t)
	ctx := context.Background()

	createMsg, createRaw := newInboundMessage(t, createDownloadBody(1001))
	createID, err := eng.Submit(ctx, createMsg, createRaw)
	require.NoError(t, err)
	eng.processOne(ctx, 0, createID)

	queryMsg, queryRaw := newInboundMessage(t, &spg.QueryBdoSVs{
		QueryExpression: "tn = '5511999990000'",
	})
	queryID, err := eng.Submit(ctx, queryMsg, queryRaw)
	require.NoError(t, err)
	eng.processOne(ctx, 0, queryID)

	row, err := stores.Messages.Get(queryID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusProcessed, row.Status)

	queued, err := stores.Messages.ListByStatus("", []store.MessageStatus{store.StatusQueued})
	require.NoError(t, err)
	var queryReply *store.Message
	for i := range queued {
		if queued[i].CommandTag == "QueryBdoSVsReply" {
			queryReply = &queued[i]
		}
	}
	require.NotNil(t, queryReply)
	assert.Contains(t, queryReply.MessageBody, "5511999990000")
}

func TestQueryWithEmptyExpressionFails(t *testing.T) {
	eng, stores, _ := setupTestEngine(t)
	ctx := context.Background()

	msg, raw := newInboundMessage(t, &spg.QueryBdoSVs{QueryExpression: ""})
	id, err := eng.Submit(ctx, msg, raw)
	require.NoError(t, err)
	eng.processOne(ctx, 0, id)

	row, err := stores.Messages.Get(id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusError, row.Status)
	assert.Contains(t, row.ErrorInfo, "empty expression")
}

func TestLogOnlyMessagesEndDone(t *testing.T) {
	eng, stores, _ := setupTestEngine(t)
	ctx := context.Background()

	msg, raw := newInboundMessage(t, &spg.BDRError{ErrorInfo: "upstream failure"})
	id, err := eng.Submit(ctx, msg, raw)
	require.NoError(t, err)
	eng.processOne(ctx, 0, id)

	row, err := stores.Messages.Get(id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusDone, row.Status)

	queued, err := stores.Messages.ListByStatus("", []store.MessageStatus{store.StatusQueued})
	require.NoError(t, err)
	assert.Empty(t, queued)
}

func TestSweepResetsAndReenqueues(t *testing.T) {
	eng, stores, _ := setupTestEngine(t)
	ctx := context.Background()

	msg, raw := newInboundMessage(t, &spg.QueryBdoSVs{QueryExpression: ""})
	id, err := eng.Submit(ctx, msg, raw)
	require.NoError(t, err)
	eng.processOne(ctx, 0, id)

	row, err := stores.Messages.Get(id)
	require.NoError(t, err)
	require.Equal(t, store.StatusError, row.Status)

	// Drain whatever Submit already put on the queue.
	for {
		select {
		case <-eng.work:
			continue
		default:
		}
		break
	}

	eng.runSweep(ctx)

	row, err = stores.Messages.Get(id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusReceived, row.Status)

	select {
	case got := <-eng.work:
		assert.Equal(t, id, got)
	default:
		t.Fatal("sweep did not re-enqueue the message")
	}
}
