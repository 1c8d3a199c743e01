package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"certledger/internal/revocation/models"
	"certledger/internal/revocation/service"
	"certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/httputil"
	"certledger/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/service_mock.go -package=mocks

// Service defines the revocation operations exposed over HTTP.
type Service interface {
	Initiate(ctx context.Context, actor domain.Actor, cmd service.InitiateCommand) (*models.Record, error)
	Decide(ctx context.Context, actor domain.Actor, cmd service.DecideCommand) (*models.Record, error)
	Execute(ctx context.Context, actor domain.Actor, id domain.RevocationID) (*models.Record, error)
	FileAppeal(ctx context.Context, actor domain.Actor, id domain.RevocationID, grounds string) (*models.Record, error)
	DecideAppeal(ctx context.Context, actor domain.Actor, id domain.RevocationID, grant bool, comments string) (*models.Record, error)
	Get(ctx context.Context, id domain.RevocationID) (*models.Record, error)
	ListByCertificate(ctx context.Context, certID domain.CertificateID) ([]models.Record, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts the revocation endpoints. All of them require an actor.
func (h *Handler) Register(r chi.Router) {
	r.Post("/revocations", h.HandleInitiate)
	r.Get("/revocations/{id}", h.HandleGet)
	r.Post("/revocations/{id}/decisions", h.HandleDecide)
	r.Post("/revocations/{id}/execute", h.HandleExecute)
	r.Post("/revocations/{id}/appeal", h.HandleAppeal)
	r.Post("/revocations/{id}/appeal/decision", h.HandleAppealDecision)
	r.Get("/certificates/{id}/revocations", h.HandleListByCertificate)
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	actor := requestcontext.Actor(r.Context())
	if actor.IsZero() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return domain.Actor{}, false
	}
	return actor, true
}

func pathRevocationID(w http.ResponseWriter, r *http.Request) (domain.RevocationID, bool) {
	id, err := domain.ParseRevocationID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return domain.RevocationID{}, false
	}
	return id, true
}

// HandleInitiate handles POST /revocations.
func (h *Handler) HandleInitiate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[InitiateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	record, err := h.service.Initiate(ctx, actor, service.InitiateCommand{
		CertificateID: req.certID,
		Reason:        req.reason,
		Description:   req.Description,
		Evidence:      req.Evidence,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "revocation initiation failed",
			"request_id", requestID,
			"certificate_id", req.certID,
			"actor", actor.ID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromRecord(record))
}

// HandleDecide handles POST /revocations/{id}/decisions.
func (h *Handler) HandleDecide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := pathRevocationID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[DecisionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	record, err := h.service.Decide(ctx, actor, service.DecideCommand{
		RevocationID: id,
		Decision:     req.decision,
		Comments:     req.Comments,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "revocation decision failed",
			"request_id", requestID,
			"revocation_id", id,
			"actor", actor.ID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromRecord(record))
}

// HandleExecute handles POST /revocations/{id}/execute.
func (h *Handler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := pathRevocationID(w, r)
	if !ok {
		return
	}

	record, err := h.service.Execute(ctx, actor, id)
	if err != nil {
		h.logger.WarnContext(ctx, "revocation execution failed",
			"request_id", requestID,
			"revocation_id", id,
			"code", dErrors.CodeOf(err),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "revocation executed",
		"request_id", requestID,
		"revocation_id", id,
		"tx_id", record.Execution.TxID,
	)
	httputil.WriteJSON(w, http.StatusOK, FromRecord(record))
}

// HandleAppeal handles POST /revocations/{id}/appeal.
func (h *Handler) HandleAppeal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := pathRevocationID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[AppealRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	record, err := h.service.FileAppeal(ctx, actor, id, req.Grounds)
	if err != nil {
		h.logger.WarnContext(ctx, "appeal filing failed",
			"request_id", requestID,
			"revocation_id", id,
			"actor", actor.ID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromRecord(record))
}

// HandleAppealDecision handles POST /revocations/{id}/appeal/decision.
func (h *Handler) HandleAppealDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := pathRevocationID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[AppealDecisionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	record, err := h.service.DecideAppeal(ctx, actor, id, req.grant, req.Comments)
	if err != nil {
		h.logger.WarnContext(ctx, "appeal decision failed",
			"request_id", requestID,
			"revocation_id", id,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromRecord(record))
}

// HandleGet handles GET /revocations/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	id, ok := pathRevocationID(w, r)
	if !ok {
		return
	}
	record, err := h.service.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromRecord(record))
}

// HandleListByCertificate handles GET /certificates/{id}/revocations.
func (h *Handler) HandleListByCertificate(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	certID, err := domain.ParseCertificateID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	records, err := h.service.ListByCertificate(r.Context(), certID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromRecords(certID.String(), records))
}
