package activations

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
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

func (m *MockService) RecordActivation(ctx context.Context, actor models.Account, id string) (models.LicenseKey, error) {
	args := m.Called(ctx, actor, id)
	k, _ := args.Get(0).(models.LicenseKey)
	return k, args.Error(1)
}

func (m *MockService) RecordDeactivation(ctx context.Context, actor models.Account, id string) (models.LicenseKey, error) {
	args := m.Called(ctx, actor, id)
	k, _ := args.Get(0).(models.LicenseKey)
	return k, args.Error(1)
}

func TestActivationsHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	actor := models.Account{UID: "u1"}

	tests := []struct {
		name           string
		method         string
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:   "activate",
			method: http.MethodPost,
			setupMock: func(m *MockService) {
				m.On("RecordActivation", mock.Anything, actor, "k1").
					Return(models.LicenseKey{ID: "k1", DeviceCount: 1, DeviceLimit: 2, IsActive: true}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"deviceCount":1`,
		},
		{
			name:   "limit reached",
			method: http.MethodPost,
			setupMock: func(m *MockService) {
				m.On("RecordActivation", mock.Anything, actor, "k1").Return(nil, models.ErrDeviceLimitExceeded)
			},
			expectedStatus: http.StatusConflict,
			expectedBody:   `device limit reached`,
		},
		{
			name:   "deactivate",
			method: http.MethodDelete,
			setupMock: func(m *MockService) {
				m.On("RecordDeactivation", mock.Anything, actor, "k1").
					Return(models.LicenseKey{ID: "k1", DeviceCount: 0, IsActive: true}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"deviceCount":0`,
		},
		{
			name:           "wrong method",
			method:         http.MethodPut,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusMethodNotAllowed,
			expectedBody:   `method not allowed`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			tt.setupMock(svc)

			req := httptest.NewRequest(tt.method, "/keys/k1/activations", nil)
			rctx := chi.NewRouteContext()
			rctx.URLParams.Add("id", "k1")
			ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
			req = req.WithContext(middlewarectx.WithAccount(ctx, actor))
			w := httptest.NewRecorder()

			New(logger, svc).ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.True(t, strings.Contains(w.Body.String(), tt.expectedBody),
				"response body should contain %s, got %s", tt.expectedBody, w.Body.String())
			svc.AssertExpectations(t)
		})
	}
}
