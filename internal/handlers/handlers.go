package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"slices"
	"strings"
	"time"

	"finance-ledger/internal/auth"
	"finance-ledger/internal/ledger"
	"finance-ledger/internal/models"
)

// Context key type to avoid collisions.
type contextKey string

const (
	// IdentityContextKey is the context key for the authenticated caller.
	IdentityContextKey contextKey = "identity"
	// TokenCookieName is the name of the session token cookie.
	TokenCookieName = "token"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	ledger       *ledger.Service
	accounts     *ledger.Accounts
	codec        *auth.Codec
	secureCookie bool
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(svc *ledger.Service, accounts *ledger.Accounts, codec *auth.Codec, secureCookie bool) *Handlers {
	return &Handlers{ledger: svc, accounts: accounts, codec: codec, secureCookie: secureCookie}
}

// GetIdentityFromContext retrieves the authenticated caller from request context.
func GetIdentityFromContext(r *http.Request) (models.Identity, bool) {
	id, ok := r.Context().Value(IdentityContextKey).(models.Identity)
	return id, ok
}

// Authenticate requires a valid session token. The cookie wins over an
// Authorization header when both are present.
func (h *Handlers) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := tokenFromRequest(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
			return
		}

		id, err := h.codec.Verify(token)
		if err != nil {
			code := "invalid_token"
			if errors.Is(err, auth.ErrExpired) {
				code = "token_expired"
			}
			writeError(w, http.StatusUnauthorized, code, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), IdentityContextKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Authorize admits callers whose role is one of roles. No roles admits any
// authenticated caller. It must run after Authenticate.
func Authorize(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := GetIdentityFromContext(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
				return
			}
			if len(roles) > 0 && !slices.Contains(roles, id.Role) {
				writeError(w, http.StatusForbidden, "forbidden", "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func tokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(TokenCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return bearerToken(r.Header.Get("Authorization"))
}

func bearerToken(header string) string {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// Register creates an account and signs the caller in.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sess, err := h.accounts.Register(r.Context(), req.Email, req.Password, req.Role)
	if err != nil {
		writeServiceError(w, "Register", err)
		return
	}
	h.setTokenCookie(w, sess.Token, sess.ExpiresAt)
	writeJSON(w, http.StatusCreated, sess)
}

// Login exchanges credentials for a session token.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sess, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, "Login", err)
		return
	}
	h.setTokenCookie(w, sess.Token, sess.ExpiresAt)
	writeJSON(w, http.StatusOK, sess)
}

// Logout clears the token cookie. Issued tokens stay valid until they expire.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	h.clearTokenCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// Me returns the identity carried by the caller's token.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	id, _ := GetIdentityFromContext(r)
	writeJSON(w, http.StatusOK, map[string]models.Identity{"user": id})
}

// UserCount reports how many accounts exist. Admin only.
func (h *Handlers) UserCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.accounts.UserCount(r.Context())
	if err != nil {
		writeServiceError(w, "UserCount", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (h *Handlers) setTokenCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     TokenCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(auth.TokenTTL.Seconds()),
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handlers) clearTokenCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     TokenCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteStrictMode,
	})
}

// Health answers liveness probes.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := decoder.Decode(dst); err != nil {
		log.Printf("decode request body: %v", err)
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}
