package pricing

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-pricing/internal/platform/httpx"
)

// Handler exposes the pricing engine over JSON HTTP endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
	}
}

// MountRoutes registers pricing routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/simulate", h.simulateQuery)
	r.Post("/simulate", h.simulateBody)
	r.Post("/simulate/batch", h.simulateBatch)
	r.Post("/rules/bulk", h.bulkRules)
	r.Post("/books/{id}/activate", h.setBookActive(true))
	r.Post("/books/{id}/deactivate", h.setBookActive(false))
	r.Delete("/books/{id}", h.deleteBook)
	r.Post("/cache/invalidate", h.invalidateCache)
}

func (h *Handler) simulateQuery(w http.ResponseWriter, r *http.Request) {
	req, err := simulateRequestFromQuery(r.URL.Query())
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	h.simulate(w, r, req)
}

func (h *Handler) simulateBody(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.simulate(w, r, req)
}

func (h *Handler) simulate(w http.ResponseWriter, r *http.Request, req simulateRequest) {
	if err := h.validate(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Resolve(r.Context(), req.toRequest())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newSimulateResponse(res))
}

func (h *Handler) simulateBatch(w http.ResponseWriter, r *http.Request) {
	var body batchRequest
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validate(body); err != nil {
		httpx.RespondError(w, err)
		return
	}
	reqs := make([]Request, len(body.Lines))
	for i, line := range body.Lines {
		reqs[i] = line.toRequest()
	}
	results, err := h.service.ResolveLines(r.Context(), reqs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := batchResponse{Lines: make([]simulateResponse, len(results))}
	for i, res := range results {
		out.Lines[i] = newSimulateResponse(res)
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) bulkRules(w http.ResponseWriter, r *http.Request) {
	var body bulkRulesRequest
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validate(body); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.BulkRules(r.Context(), BulkRuleCommand{Action: BulkAction(body.Action), RuleIDs: body.RuleIDs})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) setBookActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.bookID(w, r)
		if !ok {
			return
		}
		if err := h.service.SetBookActive(r.Context(), id, active); err != nil {
			h.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) deleteBook(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bookID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteBook(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) invalidateCache(w http.ResponseWriter, r *http.Request) {
	ver, err := h.service.InvalidateCache(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, cacheResponse{Version: ver})
}

func (h *Handler) bookID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: invalid book id", httpx.ErrValidation))
		return 0, false
	}
	return id, true
}

func (h *Handler) validate(v any) error {
	err := h.validator.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", httpx.ErrValidation, strings.Join(msgs, "; "))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrProductNotFound):
		httpx.Problem(w, http.StatusNotFound, "Product Not Found", err.Error())
	case errors.Is(err, ErrRuleNotFound), errors.Is(err, ErrBookNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Quantity", err.Error())
	case errors.Is(err, ErrUnknownCustomer):
		httpx.Problem(w, http.StatusBadRequest, "Unknown Customer", err.Error())
	case errors.Is(err, ErrInvalidCommand):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrBookInUse):
		httpx.Problem(w, http.StatusConflict, "Price Book In Use", err.Error())
	case errors.Is(err, ErrLookupFailure):
		h.logger.Error("pricing lookup failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Pricing Data Unavailable", "")
	default:
		h.logger.Error("pricing request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
	if IsClientError(err) {
		h.logger.Debug("pricing request rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
}
