package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bdosoa/bdosoa/internal/spg"
	"github.com/bdosoa/bdosoa/internal/store"
)

// maxEnvelopeSize bounds one SOAP request body.
const maxEnvelopeSize = 4 << 20

// handleSOAP receives one message from a counterpart. The integer result is
// the whole contract: "0" once the message is durably persisted, "-1" for any
// receive failure. Processing happens asynchronously after the "0".
func (s *Server) handleSOAP(w http.ResponseWriter, r *http.Request) {
	spid := chi.URLParam(r, "spid")
	token := chi.URLParam(r, "token")

	if _, err := s.stores.Providers.Authenticate(spid, token); err != nil {
		if errors.Is(err, store.ErrNotAuthorized) {
			writeError(w, http.StatusForbidden, "not authorized")
			return
		}
		s.logger.Error("provider authentication failed", "spid", spid, "error", err)
		writeError(w, http.StatusInternalServerError, "authentication unavailable")
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxEnvelopeSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	call, err := spg.ParseCall(raw)
	if err != nil {
		s.logger.Warn("rejecting malformed call", "spid", spid, "error", err)
		writeSOAP(w, http.StatusInternalServerError, spg.EncodeFault(err.Error()))
		return
	}

	result := s.receive(r, spid, call)
	envelope, err := spg.EncodeResult(spg.NamespaceBDO, call.Method, result)
	if err != nil {
		s.logger.Error("failed to encode result", "spid", spid, "error", err)
		writeSOAP(w, http.StatusInternalServerError, spg.EncodeFault("internal error"))
		return
	}
	writeSOAP(w, http.StatusOK, envelope)
}

// receive validates and persists one message document, returning the
// protocol result code.
func (s *Server) receive(r *http.Request, spid string, call *spg.Call) string {
	logger := s.logger.With("spid", spid, "method", call.Method, "header", call.Header)

	msg, err := spg.Decode([]byte(call.Message))
	if err != nil {
		logger.Warn("rejecting message", "error", err)
		return spg.FailureCode
	}
	if !msg.Direction.Inbound() {
		logger.Warn("rejecting message on outbound direction", "direction", msg.Direction)
		return spg.FailureCode
	}
	if msg.Header.ServiceProvID != spid {
		logger.Warn("rejecting message for foreign spid", "messageSPID", msg.Header.ServiceProvID)
		return spg.FailureCode
	}

	id, err := s.engine.Submit(r.Context(), msg, []byte(call.Message))
	if err != nil {
		logger.Error("failed to persist message", "error", err)
		return spg.FailureCode
	}

	logger.Info("message received", "messageID", id, "commandTag", msg.CommandTag())
	return spg.SuccessCode
}

func writeSOAP(w http.ResponseWriter, status int, envelope []byte) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(envelope)
}
