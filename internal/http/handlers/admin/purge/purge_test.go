package purge

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/license-keys/internal/http/middlewarectx"
	"github.com/magabrotheeeer/license-keys/internal/models"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) PurgeAccount(ctx context.Context, actor models.Account, uid string) error {
	return m.Called(ctx, actor, uid).Error(0)
}

func TestPurgeHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	admin := models.Account{UID: "a1", Role: models.RoleAdmin}

	tests := []struct {
		name     string
		err      error
		status   int
		wantBody string
	}{
		{"purged", nil, http.StatusOK, `{"status":"OK","data":{"deleted":"u1"}}`},
		{"admin target", models.ErrAdminImmutable, http.StatusForbidden, `{"status":"Error","error":"admin accounts cannot be modified"}`},
		{"missing", models.ErrAccountNotFound, http.StatusNotFound, `{"status":"Error","error":"account not found"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			svc.On("PurgeAccount", mock.Anything, admin, "u1").Return(tt.err)

			req := httptest.NewRequest(http.MethodDelete, "/admin/users/u1", nil)
			rctx := chi.NewRouteContext()
			rctx.URLParams.Add("id", "u1")
			ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
			req = req.WithContext(middlewarectx.WithAccount(ctx, admin))
			w := httptest.NewRecorder()

			New(logger, svc).ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
			svc.AssertExpectations(t)
		})
	}
}
