// Package purge удаляет учётную запись вместе с её ключами.
package purge

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/license-keys/internal/http/middlewarectx"
	"github.com/magabrotheeeer/license-keys/internal/http/response"
	"github.com/magabrotheeeer/license-keys/internal/lib/sl"
	"github.com/magabrotheeeer/license-keys/internal/models"
)

type Service interface {
	PurgeAccount(ctx context.Context, actor models.Account, uid string) error
}

type Handler struct {
	log     *slog.Logger
	service Service
}

func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Удалить пользователя и его ключи
// @Tags Admin
// @Produce  json
// @Security BearerAuth
// @Param id path string true "UID пользователя"
// @Success 200 {object} response.Response
// @Failure 403 {object} response.ErrorResponse "Администратора удалить нельзя"
// @Failure 404 {object} response.ErrorResponse
// @Router /admin/users/{id} [delete]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.purge"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	actor, _ := middlewarectx.AccountFrom(r.Context())
	uid := chi.URLParam(r, "id")
	if err := h.service.PurgeAccount(r.Context(), actor, uid); err != nil {
		log.Error("failed to purge account", slog.String("uid", uid), sl.Err(err))
		status, resp := response.FromError(err)
		render.Status(r, status)
		render.JSON(w, r, resp)
		return
	}

	log.Info("account purged", slog.String("uid", uid))
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"deleted": uid,
	}))
}
