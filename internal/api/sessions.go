package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"humansign/internal/chain"
	"humansign/internal/seal"
	"humansign/internal/session"
)

// StartSessionRequest is the body of POST /sessions.
type StartSessionRequest struct {
	Subject      string `json:"subject"`
	SessionIndex int    `json:"session_index"`
	Rep          int    `json:"rep"`
}

// AddEventsRequest carries events in wire order, each as [ts, "keydown"|"keyup"].
type AddEventsRequest struct {
	Events []chain.Event `json:"events"`
}

// SealRequest is the body of POST /sessions/{id}/seal. Document is the
// exact text the chain is bound to.
type SealRequest struct {
	Document *string `json:"document"`
}

// SealResponse wraps a seal result with its artifact form.
type SealResponse struct {
	*seal.Result
	Artifact map[string]string `json:"artifact"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ok(w, map[string]any{"sessions": s.sessions.Sessions()})
}

// handleStartSession handles POST /api/v1/sessions
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, ErrBadRequest.WithMessage("Invalid request body"))
		return
	}
	if req.SessionIndex < 0 || req.Rep < 0 {
		writeError(w, NewValidationError("session_index", "session_index and rep must not be negative"))
		return
	}

	if req.Subject == "" {
		req.Subject = s.subject
	}

	sess, err := s.sessions.Start(r.Context(), seal.Metadata{
		Subject:      req.Subject,
		SessionIndex: req.SessionIndex,
		Rep:          req.Rep,
	})
	if err != nil {
		s.serverError(w, r, "start session", err)
		return
	}
	created(w, sess.Status())
}

// handleGetSession handles GET /api/v1/sessions/{id}
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.serverError(w, r, "get session", err)
		return
	}
	ok(w, sess.Status())
}

// handleAddEvents handles POST /api/v1/sessions/{id}/events
func (s *Server) handleAddEvents(w http.ResponseWriter, r *http.Request) {
	var req AddEventsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, NewValidationError("events", err.Error()))
		return
	}
	if len(req.Events) == 0 {
		writeError(w, NewValidationError("events", "at least one event is required"))
		return
	}

	sess, err := s.sessions.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.serverError(w, r, "add events", err)
		return
	}
	for i, ev := range req.Events {
		if err := sess.AddEvent(r.Context(), ev.Timestamp, ev.Type); err != nil {
			// Clients resume the batch after the accepted prefix.
			accepted := i
			if errors.Is(err, session.ErrNotPersisted) {
				accepted++
			}
			s.logFailure(w, r, "add events", err, AsAPIError(err).WithDetails(map[string]int{"accepted": accepted}))
			return
		}
	}
	ok(w, sess.Status())
}

// handleFlush handles POST /api/v1/sessions/{id}/flush
func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.serverError(w, r, "flush", err)
		return
	}
	if err := sess.Flush(r.Context()); err != nil {
		s.serverError(w, r, "flush", err)
		return
	}
	ok(w, sess.Status())
}

// handleSeal handles POST /api/v1/sessions/{id}/seal
func (s *Server) handleSeal(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 2*s.limits.MaxArtifactBytes)

	var req SealRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, AsBodyError(err))
		return
	}
	if req.Document == nil {
		writeError(w, NewValidationError("document", "document is required"))
		return
	}

	sess, err := s.sessions.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.serverError(w, r, "seal", err)
		return
	}
	res, err := sess.SealDocument(r.Context(), []byte(*req.Document))
	if err != nil {
		s.serverError(w, r, "seal", err)
		return
	}
	ok(w, SealResponse{Result: res, Artifact: map[string]string{"jws": res.Token}})
}

// handleEndSession handles DELETE /api/v1/sessions/{id} and POST .../end
func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	// End only reaches live sessions; load a persisted one first.
	sess, err := s.sessions.Resume(r.Context(), id)
	if err != nil {
		s.serverError(w, r, "end session", err)
		return
	}
	if sess.Ended() {
		noContent(w)
		return
	}
	if err := s.sessions.End(r.Context(), id); err != nil {
		s.serverError(w, r, "end session", err)
		return
	}
	noContent(w)
}

// handleListSeals handles GET /api/v1/sessions/{id}/seals
func (s *Server) handleListSeals(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.sessions.Resume(r.Context(), id); err != nil {
		s.serverError(w, r, "list seals", err)
		return
	}
	seals, err := s.sessions.Seals(r.Context(), id)
	if err != nil {
		s.serverError(w, r, "list seals", err)
		return
	}
	ok(w, map[string]any{"seals": seals, "count": len(seals)})
}

// serverError logs unexpected failures before mapping them for the client.
func (s *Server) serverError(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.logFailure(w, r, op, err, AsAPIError(err))
}

func (s *Server) logFailure(w http.ResponseWriter, r *http.Request, op string, err error, apiErr *APIError) {
	if apiErr.StatusCode >= http.StatusInternalServerError {
		s.logger.WithContext(r.Context()).Error("request failed", "op", op, "error", err)
	}
	writeError(w, apiErr)
}
