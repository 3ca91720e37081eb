package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	_ "github.com/odyssey-erp/odyssey-ledger/testing"
)

func TestInTestMode(t *testing.T) {
	RefreshTestMode()
	assert.True(t, InTestMode())

	t.Cleanup(RefreshTestMode)
	t.Setenv("ODYSSEY_TEST_MODE", "0")
	RefreshTestMode()
	assert.False(t, InTestMode())
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, "10 0 * * *", cfg.ClosingCron)
		assert.Equal(t, "America/Sao_Paulo", cfg.ClosingLocation().String())
		assert.Positive(t, cfg.LockTimeout)
	})

	t.Run("unknown timezone fails at startup", func(t *testing.T) {
		t.Setenv("CLOSING_TIMEZONE", "Mars/Olympus")
		_, err := LoadConfig()
		assert.Error(t, err)
	})

	t.Run("unsupported log format", func(t *testing.T) {
		t.Setenv("LOG_FORMAT", "xml")
		_, err := LoadConfig()
		assert.Error(t, err)
	})

	t.Run("system user must be positive", func(t *testing.T) {
		t.Setenv("SYSTEM_USER_ID", "0")
		_, err := LoadConfig()
		assert.Error(t, err)
	})
}

func TestIdentityMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var got shared.Actor
	var found bool
	h := IdentityMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, found = shared.ActorFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderUserID, "42")
	req.Header.Set(HeaderUserRole, "finance")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.True(t, found)
	assert.Equal(t, shared.Actor{UserID: 42, Role: shared.RoleFinance}, got)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderUserID, "abc")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.False(t, found)
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestRouter_Health(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ok := NewRouter(RouterParams{Logger: logger, Config: &Config{}, Database: stubPinger{}, Metrics: observability.NewMetrics()})
	rec := httptest.NewRecorder()
	ok.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	rec = httptest.NewRecorder()
	ok.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	down := NewRouter(RouterParams{Logger: logger, Config: &Config{}, Database: stubPinger{err: errors.New("down")}})
	rec = httptest.NewRecorder()
	down.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
