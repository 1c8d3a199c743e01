package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"certledger/internal/anchor"
	"certledger/internal/audit"
	"certledger/internal/certificate/models"
	"certledger/internal/certificate/service"
	"certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/httputil"
	"certledger/pkg/requestcontext"
)

// maxContentBytes bounds raw documents posted for verification.
const maxContentBytes = 20 << 20

//go:generate mockgen -source=handler.go -destination=mocks/service_mock.go -package=mocks

// Service defines the certificate operations exposed over HTTP.
type Service interface {
	Submit(ctx context.Context, actor domain.Actor, cmd service.SubmitCommand) (*models.Certificate, error)
	Process(ctx context.Context, actor domain.Actor, cmd service.ProcessCommand) (*service.ProcessResult, error)
	Anchor(ctx context.Context, actor domain.Actor, id domain.CertificateID) (*models.Certificate, *anchor.Receipt, error)
	Revert(ctx context.Context, actor domain.Actor, id domain.CertificateID, comments string) (*models.Certificate, error)
	Resubmit(ctx context.Context, actor domain.Actor, id domain.CertificateID) (*models.Certificate, error)
	Get(ctx context.Context, id domain.CertificateID) (*models.Certificate, error)
	History(ctx context.Context, id domain.CertificateID) ([]audit.Entry, error)
	Verify(ctx context.Context, query string) (*service.VerificationResult, error)
	VerifyContent(ctx context.Context, query string, raw []byte) (*service.VerificationResult, error)
	LogVerification(ctx context.Context, event service.VerificationEvent)
}

// Handler wires certificate endpoints to the lifecycle service.
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

// Register mounts the authenticated certificate endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/certificates", h.HandleSubmit)
	r.Post("/certificates/process", h.HandleProcess)
	r.Get("/certificates/{id}", h.HandleGet)
	r.Get("/certificates/{id}/audit", h.HandleHistory)
	r.Post("/certificates/{id}/anchor", h.HandleAnchor)
	r.Post("/certificates/{id}/revert", h.HandleRevert)
	r.Post("/certificates/{id}/resubmit", h.HandleResubmit)
}

// RegisterPublic mounts the unauthenticated verification endpoints.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Get("/certificates/verify/{id}", h.HandleVerify)
	r.Post("/certificates/verify/{id}", h.HandleVerifyContent)
	r.Post("/certificates/verification-log", h.HandleVerificationLog)
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	actor := requestcontext.Actor(r.Context())
	if actor.IsZero() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return domain.Actor{}, false
	}
	return actor, true
}

func pathCertificateID(w http.ResponseWriter, r *http.Request) (domain.CertificateID, bool) {
	id, err := domain.ParseCertificateID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return domain.CertificateID{}, false
	}
	return id, true
}

// HandleSubmit handles POST /certificates.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[SubmitRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	cert, err := h.service.Submit(ctx, actor, service.SubmitCommand{
		Attributes:  req.Attributes(),
		ContentHash: req.ContentHash,
		Content:     req.DecodedContent(),
	})
	if err != nil {
		h.logger.WarnContext(ctx, "certificate submission failed",
			"request_id", requestID,
			"actor", actor.ID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "certificate submitted",
		"request_id", requestID,
		"certificate_id", cert.ID,
		"actor", actor.ID,
	)
	httputil.WriteJSON(w, http.StatusCreated, FromSubmitted(cert))
}

// HandleProcess handles POST /certificates/process.
func (h *Handler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[ProcessRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.service.Process(ctx, actor, service.ProcessCommand{
		CertificateID: req.certID,
		Decision:      req.decision,
		Comments:      req.Comments,
		Signature:     req.Signature,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "approval decision failed",
			"request_id", requestID,
			"certificate_id", req.certID,
			"actor", actor.ID,
			"decision_committed", result != nil,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "approval decision processed",
		"request_id", requestID,
		"certificate_id", req.certID,
		"status", result.Certificate.Status,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, FromProcessed(result))
}

// HandleAnchor handles POST /certificates/{id}/anchor.
func (h *Handler) HandleAnchor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := pathCertificateID(w, r)
	if !ok {
		return
	}

	cert, receipt, err := h.service.Anchor(ctx, actor, id)
	if err != nil {
		h.logger.WarnContext(ctx, "anchoring failed",
			"request_id", requestID,
			"certificate_id", id,
			"category", anchor.CategoryOf(err),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &AnchorResponse{
		CertificateID: cert.ID.String(),
		Status:        cert.Status.String(),
		Anchor:        fromReceipt(receipt),
	})
}

// HandleRevert handles POST /certificates/{id}/revert.
func (h *Handler) HandleRevert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := pathCertificateID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[RevertRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	cert, err := h.service.Revert(ctx, actor, id, req.Comments)
	if err != nil {
		h.logger.WarnContext(ctx, "revert failed",
			"request_id", requestID,
			"certificate_id", id,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromCertificate(cert))
}

// HandleResubmit handles POST /certificates/{id}/resubmit.
func (h *Handler) HandleResubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := pathCertificateID(w, r)
	if !ok {
		return
	}

	cert, err := h.service.Resubmit(ctx, actor, id)
	if err != nil {
		h.logger.WarnContext(ctx, "resubmission failed",
			"request_id", requestID,
			"certificate_id", id,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromCertificate(cert))
}

// HandleGet handles GET /certificates/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	id, ok := pathCertificateID(w, r)
	if !ok {
		return
	}
	cert, err := h.service.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromCertificate(cert))
}

// HandleHistory handles GET /certificates/{id}/audit.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	id, ok := pathCertificateID(w, r)
	if !ok {
		return
	}
	entries, err := h.service.History(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromHistory(id.String(), entries))
}

// HandleVerify handles GET /certificates/verify/{id}. The identifier may be a
// certificate id, a content hash, or a ledger transaction id. Unknown
// identifiers are answered with 200 and is_valid=false.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := chi.URLParam(r, "id")

	result, err := h.service.Verify(ctx, query)
	if err != nil {
		h.logger.ErrorContext(ctx, "verification failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	h.record(ctx, result)
	httputil.WriteJSON(w, http.StatusOK, FromVerification(result))
}

// HandleVerifyContent handles POST /certificates/verify/{id} with the raw
// document as the request body.
func (h *Handler) HandleVerifyContent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := chi.URLParam(r, "id")

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxContentBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "document is too large"))
			return
		}
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "failed to read document"))
		return
	}
	if len(raw) == 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "document body is required"))
		return
	}

	result, err := h.service.VerifyContent(ctx, query, raw)
	if err != nil {
		h.logger.ErrorContext(ctx, "content verification failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	h.record(ctx, result)
	httputil.WriteJSON(w, http.StatusOK, FromVerification(result))
}

func (h *Handler) record(ctx context.Context, result *service.VerificationResult) {
	event := service.VerificationEvent{
		Query:     result.Query,
		Outcome:   result.Outcome(),
		ClientIP:  requestcontext.ClientIP(ctx),
		UserAgent: requestcontext.UserAgent(ctx),
		At:        requestcontext.Now(ctx),
	}
	if result.Certificate != nil {
		event.CertificateID = result.Certificate.ID.String()
	}
	h.service.LogVerification(ctx, event)
}

// HandleVerificationLog handles POST /certificates/verification-log, used by
// clients that verify offline and report the attempt afterwards.
func (h *Handler) HandleVerificationLog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[VerificationLogRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	h.service.LogVerification(ctx, service.VerificationEvent{
		Query:         req.Query,
		CertificateID: req.CertificateID,
		Outcome:       req.Outcome,
		ClientIP:      requestcontext.ClientIP(ctx),
		UserAgent:     requestcontext.UserAgent(ctx),
		At:            requestcontext.Now(ctx),
	})
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
