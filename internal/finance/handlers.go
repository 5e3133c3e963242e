package finance

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"mintify/internal/identity"
	"mintify/internal/log"
	"mintify/internal/metrics"
	"mintify/internal/storage"
)

// Router builds the finance service HTTP surface. All /api routes trust the
// gateway-propagated identity header and reject requests without it.
func Router(svc *Service, logger *log.Logger) http.Handler {
	h := &handlers{svc: svc, logger: logger}

	r := chi.NewRouter()
	r.Use(metrics.Middleware("finance"))

	r.Get("/health", handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(identity.Require(logger))
		r.Post("/api/transactions", h.createTransaction)
		r.Get("/api/transactions", h.listTransactions)
		r.Get("/api/transactions/{id}", h.getTransaction)
		r.Post("/api/budgets", h.createBudget)
		r.Get("/api/budgets", h.listBudgets)
		r.Get("/api/summary", h.summary)
	})

	return r
}

type handlers struct {
	svc    *Service
	logger *log.Logger
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "finance"})
}

type transactionRequest struct {
	Type        string   `json:"type"`
	Amount      *float64 `json:"amount"`
	Category    string   `json:"category"`
	Date        string   `json:"date"`
	Description string   `json:"description"`
	Source      string   `json:"source"`
}

func (h *handlers) createTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	if req.Amount == nil {
		writeError(w, http.StatusBadRequest, "amount must be a number.")
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date is required.")
		return
	}

	tx, err := h.svc.CreateTransaction(r.Context(), identity.UserID(r.Context()), TransactionInput{
		Type:        req.Type,
		Amount:      *req.Amount,
		Category:    req.Category,
		Date:        date,
		Description: req.Description,
		Source:      req.Source,
	})
	if err != nil {
		h.logger.WarnContext(r.Context(), "Transaction rejected", "error", err)
		writeError(w, http.StatusBadRequest, err.Error()+".")
		return
	}

	writeJSON(w, http.StatusCreated, tx)
}

func (h *handlers) listTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.TransactionFilter{
		Type:     q.Get("type"),
		Category: q.Get("category"),
	}
	if v := q.Get("from"); v != "" {
		if from, err := parseDate(v); err == nil {
			filter.From = from
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err := parseDate(v); err == nil {
			filter.To = to
		}
	}

	txs, err := h.svc.ListTransactions(r.Context(), identity.UserID(r.Context()), filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "List transactions failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch transactions.")
		return
	}
	if txs == nil {
		txs = []storage.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

func (h *handlers) getTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.svc.GetTransaction(r.Context(), identity.UserID(r.Context()), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Transaction not found.")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Get transaction failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch transaction.")
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

type budgetRequest struct {
	Category string   `json:"category"`
	Limit    *float64 `json:"limit"`
	Period   string   `json:"period"`
}

func (h *handlers) createBudget(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	if req.Limit == nil {
		writeError(w, http.StatusBadRequest, "limit must be a number.")
		return
	}

	b, err := h.svc.CreateBudget(r.Context(), identity.UserID(r.Context()), BudgetInput{
		Category: req.Category,
		Limit:    *req.Limit,
		Period:   req.Period,
	})
	if err != nil {
		h.logger.WarnContext(r.Context(), "Budget rejected", "error", err)
		writeError(w, http.StatusBadRequest, err.Error()+".")
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *handlers) listBudgets(w http.ResponseWriter, r *http.Request) {
	budgets, err := h.svc.ListBudgets(r.Context(), identity.UserID(r.Context()))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "List budgets failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch budgets.")
		return
	}
	if budgets == nil {
		budgets = []storage.Budget{}
	}
	writeJSON(w, http.StatusOK, budgets)
}

func (h *handlers) summary(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	year, month := now.Year(), now.Month()
	if v := r.URL.Query().Get("year"); v != "" {
		if y, err := strconv.Atoi(v); err == nil {
			year = y
		}
	}
	if v := r.URL.Query().Get("month"); v != "" {
		if m, err := strconv.Atoi(v); err == nil && m >= 1 && m <= 12 {
			month = time.Month(m)
		}
	}

	rows, err := h.svc.MonthlySummary(r.Context(), identity.UserID(r.Context()), year, month)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Summary failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to build summary.")
		return
	}
	if rows == nil {
		rows = []CategorySummary{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// parseDate accepts RFC 3339 timestamps or plain YYYY-MM-DD dates.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("empty date")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
