package rbac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

func serve(t *testing.T, mw func(http.Handler) http.Handler, actor *shared.Actor) *httptest.ResponseRecorder {
	t.Helper()
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/blocks/1/close", nil)
	if actor != nil {
		req = req.WithContext(shared.ContextWithActor(req.Context(), *actor))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRequireAllByRole(t *testing.T) {
	m := Middleware{Service: NewService(nil)}
	closeGate := m.RequireAll(shared.PermLedgerBlockClose)

	tests := []struct {
		name   string
		actor  *shared.Actor
		status int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"admin", &shared.Actor{UserID: 1, Role: shared.RoleAdmin}, http.StatusNoContent},
		{"finance lower case", &shared.Actor{UserID: 2, Role: "finance"}, http.StatusNoContent},
		{"operator", &shared.Actor{UserID: 3, Role: shared.RoleOperator}, http.StatusForbidden},
		{"viewer", &shared.Actor{UserID: 4, Role: shared.RoleViewer}, http.StatusForbidden},
		{"unknown role", &shared.Actor{UserID: 5, Role: "AUDITOR"}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, closeGate, tt.actor)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestRequireAnyAcceptsOneOf(t *testing.T) {
	m := Middleware{Service: NewService(nil)}
	gate := m.RequireAny(shared.PermClosingManage, shared.PermLedgerView)

	rec := serve(t, gate, &shared.Actor{UserID: 9, Role: shared.RoleViewer})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestEffectivePermissionsReturnsCopy(t *testing.T) {
	svc := NewService([]Role{{Name: "clerk", Permissions: []string{" Ledger.View "}}})
	perms, err := svc.EffectivePermissions(context.Background(), "CLERK")
	assert.NoError(t, err)
	assert.Equal(t, []string{"ledger.view"}, perms)

	perms[0] = "mutated"
	again, _ := svc.EffectivePermissions(context.Background(), "clerk")
	assert.Equal(t, []string{"ledger.view"}, again)

	_, err = svc.EffectivePermissions(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}
