package engine

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bdosoa/bdosoa/internal/delivery"
	"github.com/bdosoa/bdosoa/internal/spg"
	"github.com/bdosoa/bdosoa/internal/store"
)

// Full path of one create download: receive, process, fan out, deliver the
// acknowledgement to a live gateway stub.
func TestCreateDownloadEndToEnd(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	stores := store.New(db)
	require.NoError(t, stores.AutoMigrate())

	var gotDocument string
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		call, err := spg.ParseCall(raw)
		require.NoError(t, err)
		gotDocument = call.Message

		envelope, err := spg.EncodeResult(spg.NamespaceSPG, call.Method, spg.SuccessCode)
		require.NoError(t, err)
		w.Header().Set("Content-Type", "text/xml")
		_, _ = w.Write(envelope)
	}))
	defer gateway.Close()

	_, err = stores.Providers.Create(&store.ServiceProvider{
		SPID: "1111", Enabled: true, SPGURL: gateway.URL,
	})
	require.NoError(t, err)
	client, err := stores.SyncClients.Create(&store.SyncClient{SPID: "1111", Enabled: true})
	require.NoError(t, err)

	eng := New(stores, DefaultRegistry(), delivery.New(delivery.DefaultConfig(), nil), DefaultConfig(), nil)
	ctx := context.Background()

	msg := &spg.Message{
		Direction: spg.BDRtoBDO,
		Header: spg.Header{
			ServiceProvID:   "1111",
			InvokeID:        1,
			MessageDateTime: time.Now().UTC().Truncate(time.Second),
		},
		Body: &spg.SVCreateDownload{
			TNVersionID: spg.TNVersionID{TN: "11988887777", VersionID: 42},
			Data: spg.SubscriptionData{
				RecipientSP:         "2222",
				RecipientEOT:        "001",
				ActivationTimestamp: time.Now().UTC().Truncate(time.Second),
				DownloadReason:      "new",
			},
		},
	}
	raw, err := spg.Encode(msg)
	require.NoError(t, err)

	id, err := eng.Submit(ctx, msg, raw)
	require.NoError(t, err)
	eng.processOne(ctx, 0, id)

	original, err := stores.Messages.Get(id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusProcessed, original.Status)

	sv, err := stores.Subscriptions.Get("1111", 42)
	require.NoError(t, err)
	assert.Equal(t, "11988887777", sv.TN)
	assert.Equal(t, "2222", sv.RecipientSP)

	tasks, err := stores.SyncTasks.ListForClient(client.ID, 0)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	queued, err := stores.Messages.ListByStatus("", []store.MessageStatus{store.StatusQueued})
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, string(spg.BDOtoBDR), queued[0].Direction)
	assert.Equal(t, "SVDownloadReply", queued[0].CommandTag)

	eng.processOne(ctx, 0, queued[0].ID)

	sent, err := stores.Messages.Get(queued[0].ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusSent, sent.Status)
	assert.Contains(t, gotDocument, "SVDownloadReply")

	// A sweep after everything is terminal is a no-op.
	eng.runSweep(ctx)
	after, err := stores.Messages.ListNonTerminal()
	require.NoError(t, err)
	assert.Empty(t, after)
	tasks, err = stores.SyncTasks.ListForClient(client.ID, 0)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}
