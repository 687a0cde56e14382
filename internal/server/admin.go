package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bdosoa/bdosoa/internal/store"
)

// handleFlushQueue requests an immediate recovery sweep: everything
// non-terminal is re-submitted to the workers.
func (s *Server) handleFlushQueue(w http.ResponseWriter, r *http.Request) {
	s.engine.TriggerSweep()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sweep requested"})
}

// messageResponse is the operator view of one audit log row.
type messageResponse struct {
	ID              string    `json:"id"`
	Direction       string    `json:"direction"`
	ServiceProvID   string    `json:"serviceProvId"`
	InvokeID        int64     `json:"invokeId"`
	MessageDateTime time.Time `json:"messageDateTime"`
	CommandTag      string    `json:"commandTag"`
	Status          string    `json:"status"`
	ErrorInfo       string    `json:"errorInfo,omitempty"`
	MessageBody     string    `json:"messageBody,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func messageToResponse(m *store.Message, withBody bool) messageResponse {
	resp := messageResponse{
		ID:              m.ID,
		Direction:       m.Direction,
		ServiceProvID:   m.ServiceProvID,
		InvokeID:        m.InvokeID,
		MessageDateTime: m.MessageDateTime,
		CommandTag:      m.CommandTag,
		Status:          string(m.Status),
		ErrorInfo:       m.ErrorInfo,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
	if withBody {
		resp.MessageBody = m.MessageBody
	}
	return resp
}

// handleListMessages handles GET /api/messages.
// Query params: direction, spid, status, commandTag, limit, offset.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	filter := store.MessageListFilter{
		Direction:     r.URL.Query().Get("direction"),
		ServiceProvID: r.URL.Query().Get("spid"),
		Status:        r.URL.Query().Get("status"),
		CommandTag:    r.URL.Query().Get("commandTag"),
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			limit = v
		}
	}
	offset := 0
	if o := r.URL.Query().Get("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil && v > 0 {
			offset = v
		}
	}

	msgs, total, err := s.stores.Messages.List(filter, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list messages: %v", err))
		return
	}

	out := make([]messageResponse, len(msgs))
	for i := range msgs {
		out[i] = messageToResponse(&msgs[i], false)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages":  out,
		"totalSize": total,
	})
}

// handleGetMessage handles GET /api/messages/{messageId}.
func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "messageId")
	msg, err := s.stores.Messages.Get(id)
	if err != nil {
		if errors.Is(err, store.ErrMessageNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("message %q not found", id))
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get message: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, messageToResponse(msg, true))
}

type providerResponse struct {
	SPID    string `json:"spid"`
	Token   string `json:"token,omitempty"`
	Enabled bool   `json:"enabled"`
	SPGURL  string `json:"spgUrl,omitempty"`
}

// handleCreateProvider registers a counterpart and returns its access token.
// The token is only ever shown in this response.
func (s *Server) handleCreateProvider(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SPID   string `json:"spid"`
		SPGURL string `json:"spgUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if len(req.SPID) == 0 || len(req.SPID) > 4 {
		writeError(w, http.StatusBadRequest, "spid must be 1 to 4 characters")
		return
	}

	p, err := s.stores.Providers.Create(&store.ServiceProvider{
		SPID:    req.SPID,
		SPGURL:  req.SPGURL,
		Enabled: true,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to create provider: %v", err))
		return
	}
	writeJSON(w, http.StatusCreated, providerResponse{
		SPID:    p.SPID,
		Token:   p.Token,
		Enabled: p.Enabled,
		SPGURL:  p.SPGURL,
	})
}

// handleListProviders handles GET /api/providers. Tokens are not listed.
func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	ps, err := s.stores.Providers.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list providers: %v", err))
		return
	}
	out := make([]providerResponse, len(ps))
	for i := range ps {
		out[i] = providerResponse{SPID: ps[i].SPID, Enabled: ps[i].Enabled, SPGURL: ps[i].SPGURL}
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": out})
}

func (s *Server) handleSetProviderEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		spid := chi.URLParam(r, "spid")
		if err := s.stores.Providers.SetEnabled(spid, enabled); err != nil {
			if errors.Is(err, store.ErrProviderNotFound) {
				writeError(w, http.StatusNotFound, fmt.Sprintf("provider %q not found", spid))
				return
			}
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to update provider: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"spid": spid, "enabled": enabled})
	}
}

type syncClientResponse struct {
	ID      uint   `json:"id"`
	SPID    string `json:"spid"`
	Token   string `json:"token,omitempty"`
	Enabled bool   `json:"enabled"`
}

// handleCreateSyncClient registers a pull subscriber under a provider's SPID
// and returns its access token.
func (s *Server) handleCreateSyncClient(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SPID string `json:"spid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if _, err := s.stores.Providers.GetBySPID(req.SPID); err != nil {
		if errors.Is(err, store.ErrProviderNotFound) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("provider %q not found", req.SPID))
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to check provider: %v", err))
		return
	}

	c, err := s.stores.SyncClients.Create(&store.SyncClient{SPID: req.SPID, Enabled: true})
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to create sync client: %v", err))
		return
	}
	writeJSON(w, http.StatusCreated, syncClientResponse{
		ID:      c.ID,
		SPID:    c.SPID,
		Token:   c.Token,
		Enabled: c.Enabled,
	})
}

// handleListSyncClients handles GET /api/sync-clients. Tokens are not listed.
func (s *Server) handleListSyncClients(w http.ResponseWriter, r *http.Request) {
	cs, err := s.stores.SyncClients.List(r.URL.Query().Get("spid"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list sync clients: %v", err))
		return
	}
	out := make([]syncClientResponse, len(cs))
	for i := range cs {
		out[i] = syncClientResponse{ID: cs[i].ID, SPID: cs[i].SPID, Enabled: cs[i].Enabled}
	}
	writeJSON(w, http.StatusOK, map[string]any{"syncClients": out})
}
