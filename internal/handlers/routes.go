package handlers

import (
	"net/http"

	"finance-ledger/internal/models"
)

// Routes registers every endpoint. Paths under /api mirror the JSON API;
// everything except /healthz and the auth entry points requires a token.
func (h *Handlers) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", Health)

	mux.HandleFunc("POST /api/auth/register", h.Register)
	mux.HandleFunc("POST /api/auth/login", h.Login)
	mux.HandleFunc("POST /api/auth/logout", h.Logout)
	mux.Handle("GET /api/auth/me", h.Authenticate(http.HandlerFunc(h.Me)))

	mux.Handle("GET /api/transactions", h.Authenticate(http.HandlerFunc(h.ListTransactions)))
	mux.Handle("POST /api/transactions", h.Authenticate(http.HandlerFunc(h.CreateTransaction)))
	mux.Handle("PUT /api/transactions/{id}", h.Authenticate(http.HandlerFunc(h.UpdateTransaction)))
	mux.Handle("DELETE /api/transactions/{id}", h.Authenticate(http.HandlerFunc(h.DeleteTransaction)))

	mux.Handle("GET /api/analytics/summary", h.Authenticate(http.HandlerFunc(h.Analytics)))

	adminOnly := Authorize(models.RoleAdmin)
	mux.Handle("GET /api/admin/users/count", h.Authenticate(adminOnly(http.HandlerFunc(h.UserCount))))

	return mux
}
