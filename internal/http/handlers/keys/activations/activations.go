// Package activations учитывает активации устройств ключа:
// POST регистрирует устройство, DELETE снимает.
package activations

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/license-keys/internal/http/middlewarectx"
	"github.com/magabrotheeeer/license-keys/internal/http/response"
	"github.com/magabrotheeeer/license-keys/internal/lib/sl"
	"github.com/magabrotheeeer/license-keys/internal/models"
)

type Service interface {
	RecordActivation(ctx context.Context, actor models.Account, id string) (models.LicenseKey, error)
	RecordDeactivation(ctx context.Context, actor models.Account, id string) (models.LicenseKey, error)
}

type Handler struct {
	log     *slog.Logger
	service Service
}

func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Активация устройства
// @Description POST увеличивает счётчик устройств, если лимит не исчерпан; DELETE уменьшает, не ниже нуля.
// @Tags Keys
// @Produce  json
// @Security BearerAuth
// @Param id path string true "ID ключа"
// @Success 200 {object} response.Response
// @Failure 409 {object} response.ErrorResponse "Лимит устройств исчерпан"
// @Router /keys/{id}/activations [post]
// @Router /keys/{id}/activations [delete]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.keys.activations"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	actor, ok := middlewarectx.AccountFrom(r.Context())
	if !ok {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("user identification missing"))
		return
	}
	id := chi.URLParam(r, "id")

	var (
		key models.LicenseKey
		err error
	)
	switch r.Method {
	case http.MethodPost:
		key, err = h.service.RecordActivation(r.Context(), actor, id)
	case http.MethodDelete:
		key, err = h.service.RecordDeactivation(r.Context(), actor, id)
	default:
		render.Status(r, http.StatusMethodNotAllowed)
		render.JSON(w, r, response.Error("method not allowed"))
		return
	}
	if err != nil {
		log.Error("failed to record activation", slog.String("id", id), slog.String("method", r.Method), sl.Err(err))
		status, resp := response.FromError(err)
		render.Status(r, status)
		render.JSON(w, r, resp)
		return
	}

	log.Info("activation recorded", slog.String("id", id), slog.Int("device_count", key.DeviceCount))
	render.JSON(w, r, response.StatusOKWithData(key.View(time.Now())))
}
