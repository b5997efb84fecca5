// Package handler exposes the verification orchestrator over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"fides/internal/audit"
	"fides/internal/conference"
	"fides/internal/verification"
	id "fides/pkg/domain"
	dErrors "fides/pkg/domain-errors"
	"fides/pkg/platform/httputil"
	"fides/pkg/requestcontext"
)

// Service defines the orchestrator operations the handler needs.
type Service interface {
	Create(ctx context.Context, policyName string) (*verification.Session, error)
	Get(ctx context.Context, sid id.SessionID) (*verification.Session, verification.Evaluation, error)
	SubmitOutcome(ctx context.Context, sid id.SessionID, channel verification.ChannelType, input verification.SubmitInput) (*verification.ChannelResult, *verification.Session, verification.Evaluation, error)
	RunChannels(ctx context.Context, sid id.SessionID, channels []verification.ChannelType, params map[string]any) (*verification.Session, verification.Evaluation, error)
	Advance(ctx context.Context, sid id.SessionID, from, to verification.Stage) (*verification.Session, error)
	AddSignature(ctx context.Context, sid id.SessionID, role verification.SignerRole, payload string) (*verification.Session, error)
	Cancel(ctx context.Context, sid id.SessionID) (*verification.Session, error)
	Exists(ctx context.Context, sid id.SessionID) error
}

// AccessCodes issues and checks signer access codes.
type AccessCodes interface {
	Issue(ctx context.Context, sessionID id.SessionID) (string, error)
	Verify(ctx context.Context, sessionID id.SessionID, code string) error
}

// Conference receives video conference lifecycle events.
type Conference interface {
	Handle(ctx context.Context, sessionID id.SessionID, event conference.Event) error
}

// AuditTrail reads the per-session event trail.
type AuditTrail interface {
	List(ctx context.Context, sessionID id.SessionID) ([]audit.Event, error)
}

// Handler wires session endpoints to the orchestrator.
type Handler struct {
	service    Service
	codes      AccessCodes
	conference Conference
	trail      AuditTrail
	logger     *slog.Logger
}

// New constructs a verification handler with its dependencies.
func New(service Service, codes AccessCodes, conf Conference, trail AuditTrail, logger *slog.Logger) *Handler {
	return &Handler{
		service:    service,
		codes:      codes,
		conference: conf,
		trail:      trail,
		logger:     logger,
	}
}

// Register mounts the session endpoints. requireOperator guards the
// operator-only routes (advance, audit trail).
func (h *Handler) Register(r chi.Router, requireOperator func(http.Handler) http.Handler) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Get("/{sessionID}", h.HandleGet)
		r.Post("/{sessionID}/channels/{channelType}/attempts", h.HandleSubmitAttempt)
		r.Post("/{sessionID}/verify", h.HandleRunChannels)
		r.Post("/{sessionID}/cancel", h.HandleCancel)
		r.Post("/{sessionID}/signatures", h.HandleSignature)
		r.Post("/{sessionID}/conference/events", h.HandleConferenceEvent)

		r.Group(func(r chi.Router) {
			if requireOperator != nil {
				r.Use(requireOperator)
			}
			r.Post("/{sessionID}/advance", h.HandleAdvance)
			r.Get("/{sessionID}/audit", h.HandleAuditTrail)
		})
	})
}

// HandleCreate handles POST /sessions.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[CreateSessionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	session, err := h.service.Create(ctx, req.Policy)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	accessCode := ""
	if h.codes != nil {
		accessCode, err = h.codes.Issue(ctx, session.ID)
		if err != nil {
			h.logger.ErrorContext(ctx, "access code issuance failed",
				"request_id", requestID,
				"session_id", session.ID,
				"error", err,
			)
			httputil.WriteError(w, err)
			return
		}
	}

	httputil.WriteJSON(w, http.StatusCreated, fromSession(session, nil, accessCode))
}

// HandleGet handles GET /sessions/{sessionID}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sid, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	session, ev, err := h.service.Get(ctx, sid)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromSession(session, &ev, ""))
}

// HandleSubmitAttempt handles POST /sessions/{id}/channels/{type}/attempts.
func (h *Handler) HandleSubmitAttempt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	sid, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	channel, err := verification.ParseChannelType(chi.URLParam(r, "channelType"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[SubmitAttemptRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, session, ev, err := h.service.SubmitOutcome(ctx, sid, channel, req.Input())
	if err != nil {
		h.logger.WarnContext(ctx, "channel attempt rejected",
			"request_id", requestID,
			"session_id", sid,
			"channel", channel,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "channel attempt recorded",
		"request_id", requestID,
		"session_id", sid,
		"channel", channel,
		"status", result.Status,
		"outcome", ev.Outcome,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, AttemptResponse{
		Result:     fromResult(*result),
		Stage:      string(session.Stage),
		Evaluation: fromEvaluation(ev),
	})
}

// HandleRunChannels handles POST /sessions/{id}/verify: server-side
// invocation of the requested channels.
func (h *Handler) HandleRunChannels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	sid, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[RunChannelsRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	session, ev, err := h.service.RunChannels(ctx, sid, req.ParsedChannels(), req.Params)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromSession(session, &ev, ""))
}

// HandleAdvance handles POST /sessions/{id}/advance (operator only).
func (h *Handler) HandleAdvance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	if requestcontext.OperatorID(ctx).IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}
	sid, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[AdvanceRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	session, err := h.service.Advance(ctx, sid, req.parsedFrom, req.parsedTo)
	if err != nil {
		h.logger.WarnContext(ctx, "stage advance rejected",
			"request_id", requestID,
			"session_id", sid,
			"from", req.From,
			"to", req.To,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromSession(session, nil, ""))
}

// HandleCancel handles POST /sessions/{id}/cancel. Operators cancel with
// their token; the subject cancels with the session access code.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sid, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	if requestcontext.OperatorID(ctx).IsNil() {
		var req CancelRequest
		if err := decodeOptional(r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}
		if h.codes == nil || req.AccessCode == "" {
			httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "access code required"))
			return
		}
		if err := h.codes.Verify(ctx, sid, req.AccessCode); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}

	session, err := h.service.Cancel(ctx, sid)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromSession(session, nil, ""))
}

// HandleSignature handles POST /sessions/{id}/signatures. Notaries sign with
// their operator token; subjects authenticate with the access code.
func (h *Handler) HandleSignature(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	sid, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[SignatureRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	switch req.parsedRole {
	case verification.SignerNotary:
		if requestcontext.OperatorID(ctx).IsNil() {
			httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "notary signatures require an operator token"))
			return
		}
	case verification.SignerSubject:
		if h.codes == nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "access codes are not enabled"))
			return
		}
		if err := h.codes.Verify(ctx, sid, req.AccessCode); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}

	session, err := h.service.AddSignature(ctx, sid, req.parsedRole, req.Signature)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "signature accepted",
		"request_id", requestID,
		"session_id", sid,
		"role", req.Role,
	)
	httputil.WriteJSON(w, http.StatusOK, fromSession(session, nil, ""))
}

// HandleConferenceEvent handles POST /sessions/{id}/conference/events.
func (h *Handler) HandleConferenceEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	sid, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	if h.conference == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "conference tracking is not enabled"))
		return
	}
	if err := h.service.Exists(ctx, sid); err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[ConferenceEventRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	if err := h.conference.Handle(ctx, sid, req.Event()); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandleAuditTrail handles GET /sessions/{id}/audit (operator only).
func (h *Handler) HandleAuditTrail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if requestcontext.OperatorID(ctx).IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}
	sid, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	if err := h.service.Exists(ctx, sid); err != nil {
		httputil.WriteError(w, err)
		return
	}

	events, err := h.trail.List(ctx, sid)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromAuditTrail(events))
}

func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) (id.SessionID, bool) {
	sid, err := id.ParseSessionID(chi.URLParam(r, "sessionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.SessionID{}, false
	}
	return sid, true
}

// decodeOptional tolerates an empty body, for endpoints where the body only
// carries optional credentials.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body")
}
