package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tokoarang/storefront/internal/platform/httpx"
)

// actorHeader carries the staff id for deletions.
const actorHeader = "X-Actor-ID"

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/transactions", func(r chi.Router) {
		r.Get("/", h.listTransactions)
		r.Post("/", h.createTransaction)
		r.Get("/{id}", h.getTransaction)
		r.Patch("/{id}", h.updateTransaction)
		r.Delete("/{id}", h.deleteTransaction)
	})
	r.Get("/summary", h.getSummary)
	r.Post("/summary/recompute", h.recomputeSummary)
	r.Post("/orders/{orderID}/reduce", h.reduceForOrder)
	r.Post("/orders/{orderID}/restore", h.restoreForOrder)
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	filter, errs := parseFilter(r)
	if len(errs) > 0 {
		httpx.JSON(w, http.StatusBadRequest, map[string]any{"errors": errs})
		return
	}
	rows, err := h.service.ListTransactions(r.Context(), filter)
	if err != nil {
		h.fail(w, "list coal transactions", err)
		return
	}
	h.logger.Info("listed coal transactions", slog.Int("count", len(rows)))
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) createTransaction(w http.ResponseWriter, r *http.Request) {
	var input TransactionInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	tx, err := h.service.AddTransaction(r.Context(), input)
	h.writeMutation(w, "create coal transaction", http.StatusCreated, tx, err)
}

func (h *Handler) getTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.service.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "get coal transaction", err)
		return
	}
	httpx.JSON(w, http.StatusOK, tx)
}

func (h *Handler) updateTransaction(w http.ResponseWriter, r *http.Request) {
	var patch TransactionPatch
	if err := httpx.DecodeJSON(r, &patch); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	tx, err := h.service.UpdateTransaction(r.Context(), chi.URLParam(r, "id"), patch)
	h.writeMutation(w, "update coal transaction", http.StatusOK, tx, err)
}

func (h *Handler) deleteTransaction(w http.ResponseWriter, r *http.Request) {
	err := h.service.DeleteTransaction(r.Context(), chi.URLParam(r, "id"), r.Header.Get(actorHeader))
	switch {
	case err == nil:
		httpx.NoContent(w)
	case errors.Is(err, ErrSummaryStale):
		h.logger.Warn("coal transaction deleted, summary stale", slog.Any("error", err))
		w.WriteHeader(http.StatusAccepted)
	default:
		h.fail(w, "delete coal transaction", err)
	}
}

func (h *Handler) getSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.GetSummary(r.Context())
	if err != nil {
		h.fail(w, "get inventory summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) recomputeSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.RecomputeSummary(r.Context())
	if err != nil {
		h.fail(w, "recompute inventory summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) reduceForOrder(w http.ResponseWriter, r *http.Request) {
	var evt OrderStockEvent
	if err := httpx.DecodeJSON(r, &evt); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	tx, err := h.service.ReduceStockFromOrder(r.Context(), chi.URLParam(r, "orderID"), evt.Items, evt.UserID)
	h.writeOrderResult(w, "reduce stock from order", tx, err)
}

func (h *Handler) restoreForOrder(w http.ResponseWriter, r *http.Request) {
	var evt OrderStockEvent
	if err := httpx.DecodeJSON(r, &evt); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	tx, err := h.service.RestoreStockFromCancelledOrder(r.Context(), chi.URLParam(r, "orderID"), evt.Items, evt.UserID)
	h.writeOrderResult(w, "restore stock from cancelled order", tx, err)
}

func (h *Handler) writeOrderResult(w http.ResponseWriter, op string, tx *Transaction, err error) {
	if tx == nil && err == nil {
		httpx.NoContent(w)
		return
	}
	var row Transaction
	if tx != nil {
		row = *tx
	}
	h.writeMutation(w, op, http.StatusCreated, row, err)
}

func (h *Handler) writeMutation(w http.ResponseWriter, op string, status int, tx Transaction, err error) {
	switch {
	case err == nil:
		httpx.JSON(w, status, tx)
	case errors.Is(err, ErrSummaryStale):
		h.logger.Warn(op+": summary stale", slog.String("id", tx.ID), slog.Any("error", err))
		httpx.JSON(w, http.StatusAccepted, tx)
	default:
		h.fail(w, op, err)
	}
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !errors.Is(err, ErrValidation) && !errors.Is(err, ErrTransactionNotFound) {
		h.logger.Error(op+" failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func parseFilter(r *http.Request) (TransactionFilter, map[string]string) {
	errs := make(map[string]string)
	q := r.URL.Query()
	filter := TransactionFilter{Type: TransactionType(q.Get("type"))}
	if from := q.Get("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			errs["from"] = "from must be YYYY-MM-DD"
		} else {
			filter.From = t
		}
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			errs["to"] = "to must be YYYY-MM-DD"
		} else {
			// end of day
			filter.To = t.Add(24*time.Hour - time.Nanosecond)
		}
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			errs["limit"] = "limit must be a positive integer"
		} else {
			filter.Limit = n
		}
	}
	return filter, errs
}
