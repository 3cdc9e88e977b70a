package handlers

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"finance-ledger/internal/ledger"
	"finance-ledger/internal/models"
)

// transactionRequest accepts amount as either a JSON number or a string.
type transactionRequest struct {
	Amount      json.RawMessage `json:"amount"`
	Category    string          `json:"category"`
	Type        string          `json:"type"`
	Date        string          `json:"date"`
	Description string          `json:"description"`
}

func (req transactionRequest) input() models.TransactionInput {
	return models.TransactionInput{
		Amount:      strings.Trim(strings.TrimSpace(string(req.Amount)), `"`),
		Category:    req.Category,
		Type:        req.Type,
		Date:        req.Date,
		Description: req.Description,
	}
}

// ListTransactions returns a filtered page of the caller's transactions.
func (h *Handlers) ListTransactions(w http.ResponseWriter, r *http.Request) {
	id, _ := GetIdentityFromContext(r)
	q, err := parseListQuery(r.URL.Query())
	if err != nil {
		writeServiceError(w, "ListTransactions", err)
		return
	}

	page, err := h.ledger.GetTransactions(r.Context(), id, q)
	if err != nil {
		writeServiceError(w, "ListTransactions", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// CreateTransaction records a transaction for the caller.
func (h *Handlers) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	id, _ := GetIdentityFromContext(r)
	var req transactionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	t, err := h.ledger.AddTransaction(r.Context(), id, req.input())
	if err != nil {
		writeServiceError(w, "CreateTransaction", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]models.Transaction{"transaction": t})
}

// UpdateTransaction overwrites a transaction owned by the caller.
func (h *Handlers) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id, _ := GetIdentityFromContext(r)
	txID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req transactionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	t, err := h.ledger.EditTransaction(r.Context(), id, txID, req.input())
	if err != nil {
		writeServiceError(w, "UpdateTransaction", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]models.Transaction{"transaction": t})
}

// DeleteTransaction removes a transaction owned by the caller.
func (h *Handlers) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, _ := GetIdentityFromContext(r)
	txID, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.ledger.DeleteTransaction(r.Context(), id, txID); err != nil {
		writeServiceError(w, "DeleteTransaction", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "transaction deleted"})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid transaction id")
		return 0, false
	}
	return id, true
}

func parseListQuery(values url.Values) (ledger.ListQuery, error) {
	var q ledger.ListQuery
	var err error

	if q.Page, err = positiveInt(values, "page"); err != nil {
		return q, err
	}
	if q.Limit, err = positiveInt(values, "limit"); err != nil {
		return q, err
	}

	q.Filter.Category = strings.TrimSpace(values.Get("category"))
	if raw := values.Get("type"); raw != "" {
		if q.Filter.Type, err = models.ParseTxType(raw); err != nil {
			return q, err
		}
	}
	if q.Filter.From, err = optionalDate(values, "startDate"); err != nil {
		return q, err
	}
	if q.Filter.To, err = optionalDate(values, "endDate"); err != nil {
		return q, err
	}
	return q, nil
}

func positiveInt(values url.Values, key string) (int, error) {
	raw := values.Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, models.ValidationError{Field: key, Message: key + " must be a positive integer"}
	}
	return n, nil
}

func optionalDate(values url.Values, key string) (models.Date, error) {
	raw := values.Get(key)
	if raw == "" {
		return "", nil
	}
	d, err := models.ParseDate(raw)
	if err != nil {
		return "", models.ValidationError{Field: key, Message: key + " must be formatted as YYYY-MM-DD"}
	}
	return d, nil
}
