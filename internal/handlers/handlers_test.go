package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"finance-ledger/internal/auth"
	"finance-ledger/internal/cache"
	"finance-ledger/internal/ledger"
	"finance-ledger/internal/models"
	"finance-ledger/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"
)

type sessionResponse struct {
	User struct {
		ID    int64       `json:"id"`
		Email string      `json:"email"`
		Role  models.Role `json:"role"`
	} `json:"user"`
	Token string `json:"token"`
}

type transactionResponse struct {
	Transaction struct {
		ID       int64       `json:"id"`
		UserID   int64       `json:"user_id"`
		Amount   json.Number `json:"amount"`
		Category string      `json:"category"`
		Type     string      `json:"type"`
		Date     string      `json:"date"`
	} `json:"transaction"`
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Field   string `json:"field"`
		Message string `json:"message"`
	} `json:"error"`
}

// HandlersTestSuite exercises the JSON API against an in-memory database.
type HandlersTestSuite struct {
	suite.Suite
	db       *storage.DB
	codec    *auth.Codec
	accounts *ledger.Accounts
	mux      http.Handler
}

func (suite *HandlersTestSuite) SetupSuite() {
	auth.PasswordCost = bcrypt.MinCost
}

func (suite *HandlersTestSuite) SetupTest() {
	db, err := storage.NewDB(":memory:")
	require.NoError(suite.T(), err, "failed to create test database")
	suite.db = db
	suite.codec = auth.NewCodec([]byte("handler-test-secret"))
	suite.accounts = ledger.NewAccounts(db, suite.codec, false)
	svc := ledger.NewService(db, cache.NewMemory(0))
	suite.mux = NewHandlers(svc, suite.accounts, suite.codec, false).Routes()
}

func (suite *HandlersTestSuite) TearDownTest() {
	suite.db.Close()
}

func (suite *HandlersTestSuite) request(method, path string, body any, token string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(suite.T(), err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	suite.mux.ServeHTTP(w, req)
	return w
}

func (suite *HandlersTestSuite) decode(w *httptest.ResponseRecorder, dst any) {
	require.NoError(suite.T(), json.Unmarshal(w.Body.Bytes(), dst), "body: %s", w.Body.String())
}

func (suite *HandlersTestSuite) register(email string) sessionResponse {
	w := suite.request(http.MethodPost, "/api/auth/register", map[string]string{"email": email, "password": "secret1"}, "")
	require.Equal(suite.T(), http.StatusCreated, w.Code, w.Body.String())
	var sess sessionResponse
	suite.decode(w, &sess)
	return sess
}

func (suite *HandlersTestSuite) admin() sessionResponse {
	_, err := suite.accounts.EnsureAdmin(context.Background(), "root@x.com", "rootpass")
	require.NoError(suite.T(), err)
	w := suite.request(http.MethodPost, "/api/auth/login", map[string]string{"email": "root@x.com", "password": "rootpass"}, "")
	require.Equal(suite.T(), http.StatusOK, w.Code)
	var sess sessionResponse
	suite.decode(w, &sess)
	return sess
}

func (suite *HandlersTestSuite) create(token string, body any) transactionResponse {
	w := suite.request(http.MethodPost, "/api/transactions", body, token)
	require.Equal(suite.T(), http.StatusCreated, w.Code, w.Body.String())
	var tx transactionResponse
	suite.decode(w, &tx)
	return tx
}

func (suite *HandlersTestSuite) TestRegisterLoginAndRecord() {
	w := suite.request(http.MethodPost, "/api/auth/register", `{"email":"a@x.com","password":"secret1"}`, "")
	require.Equal(suite.T(), http.StatusCreated, w.Code)

	cookie := w.Result().Cookies()[0]
	assert.Equal(suite.T(), TokenCookieName, cookie.Name)
	assert.True(suite.T(), cookie.HttpOnly)
	assert.Equal(suite.T(), http.SameSiteStrictMode, cookie.SameSite)
	assert.Equal(suite.T(), int(auth.TokenTTL.Seconds()), cookie.MaxAge)
	assert.NotContains(suite.T(), w.Body.String(), "password")

	w = suite.request(http.MethodPost, "/api/auth/login", `{"email":"a@x.com","password":"secret1"}`, "")
	require.Equal(suite.T(), http.StatusOK, w.Code)
	var sess sessionResponse
	suite.decode(w, &sess)

	id, err := suite.codec.Verify(sess.Token)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), sess.User.ID, id.UserID)
	assert.Equal(suite.T(), models.RoleUser, id.Role)

	tx := suite.create(sess.Token, `{"amount":50,"category":"food","type":"expense"}`)
	assert.Equal(suite.T(), json.Number("50"), tx.Transaction.Amount)
	assert.Equal(suite.T(), sess.User.ID, tx.Transaction.UserID)

	w = suite.request(http.MethodGet, "/api/transactions", nil, sess.Token)
	require.Equal(suite.T(), http.StatusOK, w.Code)
	var page ledger.Page
	suite.decode(w, &page)
	assert.Equal(suite.T(), 1, page.Pagination.Total)
	assert.Equal(suite.T(), 1, page.Pagination.TotalPages)
	require.Len(suite.T(), page.Transactions, 1)
	assert.Equal(suite.T(), tx.Transaction.ID, page.Transactions[0].ID)
}

func (suite *HandlersTestSuite) TestAmountAsString() {
	sess := suite.register("a@x.com")
	tx := suite.create(sess.Token, `{"amount":"19.99","category":"books","type":"expense","date":"2025-06-01"}`)
	assert.Equal(suite.T(), json.Number("19.99"), tx.Transaction.Amount)
	assert.Equal(suite.T(), "2025-06-01", tx.Transaction.Date)
}

func (suite *HandlersTestSuite) TestDuplicateEmail() {
	suite.register("a@x.com")

	w := suite.request(http.MethodPost, "/api/auth/register", map[string]string{"email": "A@x.com", "password": "secret2"}, "")
	assert.Equal(suite.T(), http.StatusConflict, w.Code)

	n, err := suite.db.UserCount(context.Background())
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 1, n)
}

func (suite *HandlersTestSuite) TestRegisterErrors() {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{"email":`, http.StatusBadRequest},
		{"short password", `{"email":"a@x.com","password":"abc"}`, http.StatusBadRequest},
		{"admin signup disabled", `{"email":"a@x.com","password":"secret1","role":"admin"}`, http.StatusForbidden},
	}
	for _, tt := range tests {
		suite.Run(tt.name, func() {
			w := suite.request(http.MethodPost, "/api/auth/register", tt.body, "")
			assert.Equal(suite.T(), tt.want, w.Code)
		})
	}
}

func (suite *HandlersTestSuite) TestLoginWrongPassword() {
	suite.register("a@x.com")
	w := suite.request(http.MethodPost, "/api/auth/login", `{"email":"a@x.com","password":"nope123"}`, "")
	assert.Equal(suite.T(), http.StatusUnauthorized, w.Code)

	var body errorBody
	suite.decode(w, &body)
	assert.Equal(suite.T(), "invalid_credentials", body.Error.Code)
}

func (suite *HandlersTestSuite) TestNegativeAmountRejected() {
	sess := suite.register("a@x.com")

	w := suite.request(http.MethodPost, "/api/transactions", `{"amount":-5,"category":"food","type":"expense"}`, sess.Token)
	require.Equal(suite.T(), http.StatusBadRequest, w.Code)
	var body errorBody
	suite.decode(w, &body)
	assert.Equal(suite.T(), "amount", body.Error.Field)

	w = suite.request(http.MethodPost, "/api/transactions", `{"amount":1e13,"category":"food","type":"expense"}`, sess.Token)
	assert.Equal(suite.T(), http.StatusBadRequest, w.Code)

	w = suite.request(http.MethodGet, "/api/transactions", nil, sess.Token)
	var page ledger.Page
	suite.decode(w, &page)
	assert.Zero(suite.T(), page.Pagination.Total)
}

func (suite *HandlersTestSuite) TestAuthentication() {
	sess := suite.register("a@x.com")

	expiredCodec := auth.NewCodec([]byte("handler-test-secret"), auth.WithClock(func() time.Time {
		return time.Now().Add(-8 * 24 * time.Hour)
	}))
	expired, _, err := expiredCodec.Issue(sess.User.ID, models.RoleUser)
	require.NoError(suite.T(), err)

	tests := []struct {
		name     string
		cookie   string
		bearer   string
		want     int
		wantCode string
	}{
		{"no token", "", "", http.StatusUnauthorized, "unauthenticated"},
		{"garbage bearer", "", "not-a-token", http.StatusUnauthorized, "invalid_token"},
		{"expired", "", expired, http.StatusUnauthorized, "token_expired"},
		{"valid bearer", "", sess.Token, http.StatusOK, ""},
		{"valid cookie", sess.Token, "", http.StatusOK, ""},
		{"cookie wins over bearer", sess.Token, "garbage", http.StatusOK, ""},
		{"bad cookie is not rescued by bearer", "garbage", sess.Token, http.StatusUnauthorized, "invalid_token"},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: TokenCookieName, Value: tt.cookie})
			}
			if tt.bearer != "" {
				req.Header.Set("Authorization", "Bearer "+tt.bearer)
			}
			w := httptest.NewRecorder()
			suite.mux.ServeHTTP(w, req)

			assert.Equal(suite.T(), tt.want, w.Code)
			if tt.wantCode != "" {
				var body errorBody
				suite.decode(w, &body)
				assert.Equal(suite.T(), tt.wantCode, body.Error.Code)
			}
		})
	}
}

func (suite *HandlersTestSuite) TestOwnership() {
	alice := suite.register("alice@x.com")
	bob := suite.register("bob@x.com")
	root := suite.admin()

	tx := suite.create(alice.Token, map[string]any{"amount": 10, "category": "food", "type": "expense"})
	path := fmt.Sprintf("/api/transactions/%d", tx.Transaction.ID)
	update := map[string]any{"amount": 12, "category": "food", "type": "expense", "date": "2025-06-02"}

	w := suite.request(http.MethodPut, path, update, bob.Token)
	assert.Equal(suite.T(), http.StatusForbidden, w.Code)
	w = suite.request(http.MethodDelete, path, nil, bob.Token)
	assert.Equal(suite.T(), http.StatusForbidden, w.Code)

	w = suite.request(http.MethodPut, path, update, root.Token)
	require.Equal(suite.T(), http.StatusOK, w.Code, w.Body.String())
	var updated transactionResponse
	suite.decode(w, &updated)
	assert.Equal(suite.T(), json.Number("12"), updated.Transaction.Amount)
	assert.Equal(suite.T(), alice.User.ID, updated.Transaction.UserID)

	w = suite.request(http.MethodDelete, path, nil, alice.Token)
	assert.Equal(suite.T(), http.StatusOK, w.Code)
	w = suite.request(http.MethodDelete, path, nil, alice.Token)
	assert.Equal(suite.T(), http.StatusNotFound, w.Code)

	w = suite.request(http.MethodPut, "/api/transactions/abc", update, alice.Token)
	assert.Equal(suite.T(), http.StatusBadRequest, w.Code)
}

func (suite *HandlersTestSuite) TestListFiltersAndValidation() {
	sess := suite.register("a@x.com")
	suite.create(sess.Token, `{"amount":1,"category":"food","type":"expense","date":"2025-01-10"}`)
	suite.create(sess.Token, `{"amount":2,"category":"rent","type":"expense","date":"2025-02-10"}`)
	suite.create(sess.Token, `{"amount":3,"category":"pay","type":"income","date":"2025-03-10"}`)

	tests := []struct {
		query string
		want  int
		total int
	}{
		{"", http.StatusOK, 3},
		{"?type=expense", http.StatusOK, 2},
		{"?category=rent", http.StatusOK, 1},
		{"?startDate=2025-02-01&endDate=2025-02-28", http.StatusOK, 1},
		{"?page=2&limit=2", http.StatusOK, 3},
		{"?page=0", http.StatusBadRequest, 0},
		{"?page=100000000000000001&limit=100", http.StatusBadRequest, 0},
		{"?limit=abc", http.StatusBadRequest, 0},
		{"?type=transfer", http.StatusBadRequest, 0},
		{"?startDate=yesterday", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		suite.Run(tt.query, func() {
			w := suite.request(http.MethodGet, "/api/transactions"+tt.query, nil, sess.Token)
			require.Equal(suite.T(), tt.want, w.Code, w.Body.String())
			if tt.want == http.StatusOK {
				var page ledger.Page
				suite.decode(w, &page)
				assert.Equal(suite.T(), tt.total, page.Pagination.Total)
			}
		})
	}
}

func (suite *HandlersTestSuite) TestAnalytics() {
	sess := suite.register("a@x.com")
	suite.create(sess.Token, `{"amount":100,"category":"pay","type":"income","date":"2025-04-01"}`)
	suite.create(sess.Token, `{"amount":40,"category":"food","type":"expense","date":"2025-04-02"}`)

	w := suite.request(http.MethodGet, "/api/analytics/summary?year=2025", nil, sess.Token)
	require.Equal(suite.T(), http.StatusOK, w.Code)
	assert.Contains(suite.T(), w.Body.String(), `"balance":60`)
	assert.Contains(suite.T(), w.Body.String(), `"month":"2025-04"`)

	w = suite.request(http.MethodGet, "/api/analytics/summary?year=twenty", nil, sess.Token)
	assert.Equal(suite.T(), http.StatusBadRequest, w.Code)
}

func (suite *HandlersTestSuite) TestAdminRoute() {
	user := suite.register("a@x.com")
	root := suite.admin()

	w := suite.request(http.MethodGet, "/api/admin/users/count", nil, user.Token)
	assert.Equal(suite.T(), http.StatusForbidden, w.Code)

	w = suite.request(http.MethodGet, "/api/admin/users/count", nil, root.Token)
	require.Equal(suite.T(), http.StatusOK, w.Code)
	assert.JSONEq(suite.T(), `{"count":2}`, w.Body.String())
}

func (suite *HandlersTestSuite) TestLogoutClearsCookie() {
	w := suite.request(http.MethodPost, "/api/auth/logout", nil, "")
	require.Equal(suite.T(), http.StatusOK, w.Code)
	cookie := w.Result().Cookies()[0]
	assert.Equal(suite.T(), TokenCookieName, cookie.Name)
	assert.Empty(suite.T(), cookie.Value)
	assert.Negative(suite.T(), cookie.MaxAge)
}

func TestHandlersSuite(t *testing.T) {
	suite.Run(t, new(HandlersTestSuite))
}

func TestAuthorizeWithoutRoles(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), IdentityContextKey, models.Identity{UserID: 1, Role: models.RoleUser}))
	w := httptest.NewRecorder()
	Authorize()(ok).ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	Authorize()(ok).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("bearer abc"))
	assert.Empty(t, bearerToken("Basic abc"))
	assert.Empty(t, bearerToken("Bearer"))
	assert.Empty(t, bearerToken(""))
}

func TestRateLimiter(t *testing.T) {
	limiter, err := NewRateLimiter(RateLimitConfig{PerMinute: 1, Burst: 2})
	require.NoError(t, err)
	h := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code, "other clients have their own bucket")
}

func TestRateLimiterEvictsIdleClients(t *testing.T) {
	limiter, err := NewRateLimiter(RateLimitConfig{PerMinute: 60, Burst: 1})
	require.NoError(t, err)
	now := time.Now()
	limiter.now = func() time.Time { return now }

	assert.True(t, limiter.allow("a"))
	now = now.Add(limiterIdle + time.Second)
	assert.True(t, limiter.allow("b"))
	assert.NotContains(t, limiter.clients, "a")
}

func TestRateLimiterIgnoresSpoofedForwardedFor(t *testing.T) {
	limiter, err := NewRateLimiter(RateLimitConfig{PerMinute: 1, Burst: 1})
	require.NoError(t, err)
	h := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "203.0.113.9:5555"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRateLimiterClientIP(t *testing.T) {
	limiter, err := NewRateLimiter(RateLimitConfig{TrustedProxies: []string{"10.0.0.0/8", "192.168.1.5"}})
	require.NoError(t, err)

	tests := []struct {
		name      string
		remote    string
		forwarded string
		want      string
	}{
		{"untrusted peer ignores header", "203.0.113.9:1", "1.2.3.4", "203.0.113.9"},
		{"trusted peer uses header", "10.1.2.3:1", "1.2.3.4", "1.2.3.4"},
		{"rightmost untrusted hop wins", "10.1.2.3:1", "6.6.6.6, 1.2.3.4, 192.168.1.5", "1.2.3.4"},
		{"trusted peer without header", "192.168.1.5:1", "", "192.168.1.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			assert.Equal(t, tt.want, limiter.clientIP(req))
		})
	}

	_, err = NewRateLimiter(RateLimitConfig{TrustedProxies: []string{"10.0.0.0/99"}})
	assert.Error(t, err)
}

func TestLoggingMiddlewareRequestID(t *testing.T) {
	var seen string
	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get(RequestIDHeader)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, strings.HasPrefix(seen, "req_"), seen)
	assert.Equal(t, seen, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "client-supplied")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "client-supplied", w.Header().Get(RequestIDHeader))
}
