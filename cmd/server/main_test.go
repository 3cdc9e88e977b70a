package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"finance-ledger/internal/auth"
	"finance-ledger/internal/cache"
	"finance-ledger/internal/config"
	"finance-ledger/internal/handlers"
	"finance-ledger/internal/ledger"
	"finance-ledger/internal/storage"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupRouter(t *testing.T) {
	// Setup dependencies
	db, err := storage.NewDB(":memory:")
	require.NoError(t, err, "failed to create database")
	defer db.Close()

	codec := auth.NewCodec([]byte("router-secret"))
	h := handlers.NewHandlers(
		ledger.NewService(db, cache.NewMemory(0)),
		ledger.NewAccounts(db, codec, false),
		codec, false,
	)
	router, err := setupRouter(h, config.Config{
		CORSOrigins:        []string{"http://app.test"},
		RateLimitPerMinute: 600,
		RateLimitBurst:     100,
	})
	require.NoError(t, err)

	// Verify routes
	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{
			name:       "Health check is public",
			method:     "GET",
			path:       "/healthz",
			wantStatus: http.StatusOK,
		},
		{
			name:       "Transactions require auth",
			method:     "GET",
			path:       "/api/transactions",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "Analytics require auth",
			method:     "GET",
			path:       "/api/analytics/summary",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "Admin route requires auth",
			method:     "GET",
			path:       "/api/admin/users/count",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "Wrong method",
			method:     "PATCH",
			path:       "/api/transactions/1",
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "Unknown path",
			method:     "GET",
			path:       "/nope",
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, http.NoBody)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code,
				"%s %s returned unexpected status", tt.method, tt.path)
			assert.NotEmpty(t, w.Header().Get(handlers.RequestIDHeader))
		})
	}
}

func TestSetupRouterCORS(t *testing.T) {
	db, err := storage.NewDB(":memory:")
	require.NoError(t, err)
	defer db.Close()

	codec := auth.NewCodec([]byte("router-secret"))
	h := handlers.NewHandlers(ledger.NewService(db, cache.NewMemory(0)), ledger.NewAccounts(db, codec, false), codec, false)
	router, err := setupRouter(h, config.Config{CORSOrigins: []string{"http://app.test"}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodOptions, "/api/transactions", http.NoBody)
	req.Header.Set("Origin", "http://app.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "http://app.test", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestSetupRouterRejectsBadProxy(t *testing.T) {
	db, err := storage.NewDB(":memory:")
	require.NoError(t, err)
	defer db.Close()

	codec := auth.NewCodec([]byte("router-secret"))
	h := handlers.NewHandlers(ledger.NewService(db, cache.NewMemory(0)), ledger.NewAccounts(db, codec, false), codec, false)
	_, err = setupRouter(h, config.Config{TrustedProxies: []string{"not-an-ip"}})
	assert.Error(t, err)
}

func TestOpenCache(t *testing.T) {
	c, closeFn, err := openCache(context.Background(), config.Config{})
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &cache.Memory{}, c)

	mr := miniredis.RunT(t)
	c, closeFn, err = openCache(context.Background(), config.Config{RedisURL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &cache.Redis{}, c)

	_, _, err = openCache(context.Background(), config.Config{RedisURL: "://bad"})
	assert.Error(t, err)
}
