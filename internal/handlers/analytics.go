package handlers

import (
	"net/http"
	"strconv"

	"finance-ledger/internal/ledger"
	"finance-ledger/internal/models"
)

// Analytics returns the caller's summary, category breakdown and monthly series.
func (h *Handlers) Analytics(w http.ResponseWriter, r *http.Request) {
	id, _ := GetIdentityFromContext(r)
	values := r.URL.Query()

	var q ledger.AnalyticsQuery
	var err error
	if q.From, err = optionalDate(values, "startDate"); err != nil {
		writeServiceError(w, "Analytics", err)
		return
	}
	if q.To, err = optionalDate(values, "endDate"); err != nil {
		writeServiceError(w, "Analytics", err)
		return
	}
	// Year defaults to the current one when absent.
	if yearStr := values.Get("year"); yearStr != "" {
		y, err := strconv.Atoi(yearStr)
		if err != nil || y < 1 || y > 9999 {
			writeServiceError(w, "Analytics", models.ValidationError{Field: "year", Message: "year must be a four digit number"})
			return
		}
		q.Year = y
	}

	report, err := h.ledger.Analytics(r.Context(), id, q)
	if err != nil {
		writeServiceError(w, "Analytics", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
