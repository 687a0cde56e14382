package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bdosoa/bdosoa/internal/store"
)

// syncRecord is the JSON shape of one subscription version change.
type syncRecord struct {
	TaskID              string     `json:"taskId"`
	VersionID           int64      `json:"versionId"`
	TN                  string     `json:"tn"`
	RecipientSP         string     `json:"recipientSp,omitempty"`
	RecipientEOT        string     `json:"recipientEot,omitempty"`
	ActivationTimestamp time.Time  `json:"activationTimestamp"`
	BroadcastTimestamp  *time.Time `json:"broadcastTimestamp,omitempty"`
	RN1                 string     `json:"rn1,omitempty"`
	NewCNL              string     `json:"newCnl,omitempty"`
	LNPType             string     `json:"lnpType,omitempty"`
	DownloadReason      string     `json:"downloadReason,omitempty"`
	LineType            string     `json:"lineType,omitempty"`
	OptionalData        string     `json:"optionalData,omitempty"`
	DeletionTimestamp   *time.Time `json:"deletionTimestamp,omitempty"`
}

func (s *Server) authenticateSyncClient(w http.ResponseWriter, r *http.Request) *store.SyncClient {
	spid := chi.URLParam(r, "spid")
	token := chi.URLParam(r, "token")

	client, err := s.stores.SyncClients.Authenticate(spid, token)
	if err != nil {
		if errors.Is(err, store.ErrNotAuthorized) {
			writeError(w, http.StatusForbidden, "not authorized")
			return nil
		}
		s.logger.Error("sync client authentication failed", "spid", spid, "error", err)
		writeError(w, http.StatusInternalServerError, "authentication unavailable")
		return nil
	}
	return client
}

// handleSyncGet serves a sync poll. Without parameters it lists pending task
// ids, oldest first, up to the page limit. With one or more task parameters
// it resolves those tasks to their current record payloads.
func (s *Server) handleSyncGet(w http.ResponseWriter, r *http.Request) {
	client := s.authenticateSyncClient(w, r)
	if client == nil {
		return
	}

	taskIDs := r.URL.Query()["task"]
	if len(taskIDs) == 0 {
		tasks, err := s.stores.SyncTasks.ListForClient(client.ID, s.cfg.SyncPageLimit)
		if err != nil {
			s.logger.Error("failed to list sync tasks", "clientID", client.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to list tasks")
			return
		}
		ids := make([]string, len(tasks))
		for i := range tasks {
			ids[i] = tasks[i].ID
		}
		writeJSON(w, http.StatusOK, map[string]any{"tasks": ids})
		return
	}

	tasks, err := s.stores.SyncTasks.GetTasks(client.ID, taskIDs)
	if err != nil {
		s.logger.Error("failed to load sync tasks", "clientID", client.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load tasks")
		return
	}

	svIDs := make([]uint, len(tasks))
	taskBySV := make(map[uint]string, len(tasks))
	for i := range tasks {
		svIDs[i] = tasks[i].SubscriptionVersionID
		taskBySV[tasks[i].SubscriptionVersionID] = tasks[i].ID
	}
	svs, err := s.stores.Subscriptions.ListByIDs(svIDs)
	if err != nil {
		s.logger.Error("failed to load sync records", "clientID", client.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load records")
		return
	}

	records := make([]syncRecord, 0, len(svs))
	for i := range svs {
		sv := &svs[i]
		records = append(records, syncRecord{
			TaskID:              taskBySV[sv.ID],
			VersionID:           sv.VersionID,
			TN:                  sv.TN,
			RecipientSP:         sv.RecipientSP,
			RecipientEOT:        sv.RecipientEOT,
			ActivationTimestamp: sv.ActivationTimestamp,
			BroadcastTimestamp:  sv.BroadcastTimestamp,
			RN1:                 sv.RN1,
			NewCNL:              sv.NewCNL,
			LNPType:             sv.LNPType,
			DownloadReason:      sv.DownloadReason,
			LineType:            sv.LineType,
			OptionalData:        sv.OptionalData,
			DeletionTimestamp:   sv.DeletionTimestamp,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

// handleSyncAck acknowledges tasks by id. Acknowledging an unknown or
// already-acknowledged id is a no-op, so retried acks always succeed.
func (s *Server) handleSyncAck(w http.ResponseWriter, r *http.Request) {
	client := s.authenticateSyncClient(w, r)
	if client == nil {
		return
	}

	taskIDs := r.URL.Query()["task"]
	if len(taskIDs) == 0 {
		writeError(w, http.StatusBadRequest, "missing task parameter")
		return
	}

	if err := s.stores.SyncTasks.Ack(client.ID, taskIDs); err != nil {
		s.logger.Error("failed to ack sync tasks", "clientID", client.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to ack tasks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}
