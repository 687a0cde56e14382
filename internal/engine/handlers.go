package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/bdosoa/bdosoa/internal/filter"
	"github.com/bdosoa/bdosoa/internal/spg"
	"github.com/bdosoa/bdosoa/internal/store"
)

// handleSVCreateDownload applies a create (or modify) download, fans the
// change out to the sync clients and acknowledges with status 0.
func handleSVCreateDownload(ctx context.Context, tx *store.Stores, msg *spg.Message) (*spg.Message, error) {
	body, ok := msg.Body.(*spg.SVCreateDownload)
	if !ok {
		return nil, fmt.Errorf("unexpected body type %T", msg.Body)
	}

	record := subscriptionFromDownload(msg.Header.ServiceProvID, body)
	saved, err := tx.Subscriptions.Upsert(record)
	if err != nil {
		return nil, err
	}
	if err := tx.SyncTasks.FanOut(saved); err != nil {
		return nil, err
	}

	return msg.Reply(&spg.SVDownloadReply{Status: 0}), nil
}

// handleSVDeleteDownload marks a record deleted and fans the change out.
// Deleting an unknown version is acknowledged as a success without side
// effects, so replayed deletes stay idempotent.
func handleSVDeleteDownload(ctx context.Context, tx *store.Stores, msg *spg.Message) (*spg.Message, error) {
	body, ok := msg.Body.(*spg.SVDeleteDownload)
	if !ok {
		return nil, fmt.Errorf("unexpected body type %T", msg.Body)
	}

	deletedAt := msg.Header.MessageDateTime
	if body.Data.BroadcastWindowStart != nil {
		deletedAt = *body.Data.BroadcastWindowStart
	}
	sv, err := tx.Subscriptions.MarkDeleted(
		msg.Header.ServiceProvID,
		body.VersionID,
		body.Data.DownloadReason,
		deletedAt,
	)
	if err != nil {
		if errors.Is(err, store.ErrSubscriptionVersionNotFound) {
			return msg.Reply(&spg.SVDownloadReply{Status: 0}), nil
		}
		return nil, err
	}
	if err := tx.SyncTasks.FanOut(sv); err != nil {
		return nil, err
	}

	return msg.Reply(&spg.SVDownloadReply{Status: 0}), nil
}

// handleQueryBdoSVs answers a subscription version query. The expression is
// parsed and compiled; an expression that does not parse fails the message.
func handleQueryBdoSVs(ctx context.Context, tx *store.Stores, msg *spg.Message) (*spg.Message, error) {
	body, ok := msg.Body.(*spg.QueryBdoSVs)
	if !ok {
		return nil, fmt.Errorf("unexpected body type %T", msg.Body)
	}

	expr, err := filter.Parse(body.QueryExpression)
	if err != nil {
		return nil, err
	}

	condition, args := expr.Condition()
	svs, err := tx.Subscriptions.QueryActive(msg.Header.ServiceProvID, condition, args)
	if err != nil {
		return nil, err
	}

	reply := &spg.QueryBdoSVsReply{SVList: make([]spg.SubscriptionVersionData, 0, len(svs))}
	for i := range svs {
		reply.SVList = append(reply.SVList, subscriptionToWire(&svs[i]))
	}
	return msg.Reply(reply), nil
}

// handleLogOnly accepts a message that needs no reply and no state change.
// The audit log row is the whole outcome.
func handleLogOnly(ctx context.Context, tx *store.Stores, msg *spg.Message) (*spg.Message, error) {
	return nil, nil
}

func subscriptionFromDownload(spid string, body *spg.SVCreateDownload) *store.SubscriptionVersion {
	return &store.SubscriptionVersion{
		ServiceProvID:       spid,
		VersionID:           body.TNVersionID.VersionID,
		TN:                  body.TNVersionID.TN,
		RecipientSP:         body.Data.RecipientSP,
		RecipientEOT:        body.Data.RecipientEOT,
		ActivationTimestamp: body.Data.ActivationTimestamp,
		BroadcastTimestamp:  body.Data.BroadcastWindowStart,
		RN1:                 body.Data.RN1,
		NewCNL:              body.Data.NewCNL,
		LNPType:             body.Data.LNPType,
		DownloadReason:      body.Data.DownloadReason,
		LineType:            body.Data.LineType,
		OptionalData:        body.Data.OptionalData,
	}
}

func subscriptionToWire(sv *store.SubscriptionVersion) spg.SubscriptionVersionData {
	return spg.SubscriptionVersionData{
		TNVersionID: spg.TNVersionID{TN: sv.TN, VersionID: sv.VersionID},
		Data: spg.SubscriptionData{
			RecipientSP:          sv.RecipientSP,
			RecipientEOT:         sv.RecipientEOT,
			ActivationTimestamp:  sv.ActivationTimestamp,
			BroadcastWindowStart: sv.BroadcastTimestamp,
			RN1:                  sv.RN1,
			NewCNL:               sv.NewCNL,
			LNPType:              sv.LNPType,
			DownloadReason:       sv.DownloadReason,
			LineType:             sv.LineType,
			OptionalData:         sv.OptionalData,
		},
	}
}
