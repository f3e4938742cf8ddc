package quotes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/quotedesk/quotedesk/internal/platform/httpx"
	"github.com/quotedesk/quotedesk/internal/pricing"
	"github.com/quotedesk/quotedesk/internal/shared"
)

// DocumentRenderer produces a printable PDF for a quotation. Nil means
// document rendering is not configured.
type DocumentRenderer interface {
	QuotationPDF(ctx context.Context, q *QuotationView) ([]byte, error)
}

type Handler struct {
	logger   *slog.Logger
	service  *Service
	renderer DocumentRenderer
	validate *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service, renderer DocumentRenderer) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		renderer: renderer,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var verr *pricing.ValidationError
	switch {
	case errors.As(err, &verr):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", verr.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrCommentRequired):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Comment Required", err.Error())
	case errors.Is(err, ErrQuotationExpired):
		httpx.Problem(w, http.StatusConflict, "Quotation Expired", err.Error())
	case errors.Is(err, ErrNotExpired):
		httpx.Problem(w, http.StatusConflict, "Not Expired", err.Error())
	case errors.Is(err, ErrVersionConflict):
		httpx.Problem(w, http.StatusConflict, "Version Conflict", err.Error())
	case errors.Is(err, ErrTerminalStatus):
		httpx.Problem(w, http.StatusConflict, "Quotation Closed", err.Error())
	case errors.Is(err, ErrItemsNotNormalized):
		httpx.Problem(w, http.StatusConflict, "Items Not Normalized", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Already Processed", err.Error())
	default:
		h.logger.Error("quotes handler", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func (h *Handler) decodeValid(r *http.Request, w http.ResponseWriter, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateQuotationRequest
	if !h.decodeValid(r, w, &req) {
		return
	}
	view, err := h.service.Create(r.Context(), req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, view)
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid quotation id")
		return
	}
	view, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	req := ListQuotationsRequest{Limit: 50}

	if v := r.URL.Query().Get("customer_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			req.CustomerID = &id
		}
	}
	if v := r.URL.Query().Get("status"); v != "" {
		status := QuotationStatus(v)
		req.Status = &status
	}
	req.DateFrom = parseDate(r.URL.Query().Get("date_from"))
	req.DateTo = parseDate(r.URL.Query().Get("date_to"))
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			req.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			req.Offset = n
		}
	}

	views, total, err := h.service.List(r.Context(), req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"quotations": views,
		"total":      total,
	})
}

func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid quotation id")
		return
	}
	var req SaveQuotationRequest
	if !h.decodeValid(r, w, &req) {
		return
	}
	view, err := h.service.Save(r.Context(), id, req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) Reissue(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid quotation id")
		return
	}
	var req ReissueRequest
	if !h.decodeValid(r, w, &req) {
		return
	}
	result, err := h.service.Reissue(r.Context(), id, req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) Revisions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid quotation id")
		return
	}
	revisions, err := h.service.Revisions(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"revisions": revisions})
}

// Preview values lines without persisting, for live totals in intake forms.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Lines []LineItemReq `json:"lines" validate:"dive"`
	}
	if !h.decodeValid(r, w, &req) {
		return
	}

	results := make([]pricing.LineResult, 0, len(req.Lines))
	inputs := make([]pricing.LineInput, 0, len(req.Lines))
	for _, lr := range req.Lines {
		res, err := h.service.ComputeLine(lr.Input())
		if err != nil {
			h.respondError(w, err)
			return
		}
		results = append(results, res)
		inputs = append(inputs, lr.Input())
	}
	totals, err := h.service.ComputeTotals(inputs)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"lines":  results,
		"totals": totals,
	})
}

// PDF streams a printable version of the quotation.
func (h *Handler) PDF(w http.ResponseWriter, r *http.Request) {
	if h.renderer == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Rendering Unavailable", "document rendering is not configured")
		return
	}
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid quotation id")
		return
	}
	view, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	pdf, err := h.renderer.QuotationPDF(r.Context(), view)
	if err != nil {
		h.logger.Error("render quotation pdf", slog.Int64("id", id), slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Rendering Failed", "could not render the quotation document")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%s.pdf", view.DocNumber))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summary(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) CreateFollowup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid quotation id")
		return
	}
	var req CreateFollowupRequest
	if !h.decodeValid(r, w, &req) {
		return
	}
	followup, err := h.service.CreateFollowup(r.Context(), id, req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, followup)
}

func (h *Handler) CompleteFollowup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid followup id")
		return
	}
	if err := h.service.CompleteFollowup(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"done": true})
}

func (h *Handler) DueFollowups(w http.ResponseWriter, r *http.Request) {
	followups, err := h.service.DueFollowups(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"followups": followups})
}

func parseDate(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil
	}
	return &t
}
