package invites

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/license-keys/internal/http/middlewarectx"
	"github.com/magabrotheeeer/license-keys/internal/models"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) CreateInvite(ctx context.Context, actor models.Account, maxUses int) (models.InviteCode, error) {
	args := m.Called(ctx, actor, maxUses)
	inv, _ := args.Get(0).(models.InviteCode)
	return inv, args.Error(1)
}

func (m *MockService) ListInvites(ctx context.Context, actor models.Account) ([]models.InviteCode, error) {
	args := m.Called(ctx, actor)
	list, _ := args.Get(0).([]models.InviteCode)
	return list, args.Error(1)
}

func TestInvitesHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	admin := models.Account{UID: "a1", Role: models.RoleAdmin}

	withAdmin := func(req *http.Request) *http.Request {
		return req.WithContext(middlewarectx.WithAccount(req.Context(), admin))
	}

	t.Run("create", func(t *testing.T) {
		svc := new(MockService)
		svc.On("CreateInvite", mock.Anything, admin, 5).Return(models.InviteCode{ID: "i1", Code: "VENOM-INV", MaxUses: 5}, nil)
		w := httptest.NewRecorder()
		New(logger, svc).Create(w, withAdmin(httptest.NewRequest(http.MethodPost, "/admin/invites", bytes.NewBufferString(`{"maxUses":5}`))))

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.True(t, strings.Contains(w.Body.String(), `"code":"VENOM-INV"`), w.Body.String())
		svc.AssertExpectations(t)
	})

	t.Run("create rejects zero uses", func(t *testing.T) {
		svc := new(MockService)
		w := httptest.NewRecorder()
		New(logger, svc).Create(w, withAdmin(httptest.NewRequest(http.MethodPost, "/admin/invites", bytes.NewBufferString(`{"maxUses":0}`))))
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		svc.AssertExpectations(t)
	})

	t.Run("list", func(t *testing.T) {
		svc := new(MockService)
		svc.On("ListInvites", mock.Anything, admin).Return([]models.InviteCode{{ID: "i1"}, {ID: "i2"}}, nil)
		w := httptest.NewRecorder()
		New(logger, svc).List(w, withAdmin(httptest.NewRequest(http.MethodGet, "/admin/invites", nil)))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, strings.Contains(w.Body.String(), `"id":"i2"`), w.Body.String())
		svc.AssertExpectations(t)
	})
}
