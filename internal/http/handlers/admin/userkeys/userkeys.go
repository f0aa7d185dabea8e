// Package userkeys отдаёт администратору ключи выбранного пользователя.
package userkeys

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
	ListByOwner(ctx context.Context, actor models.Account, ownerUID string) ([]models.KeyView, error)
}

type Handler struct {
	log     *slog.Logger
	service Service
}

func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Ключи пользователя
// @Tags Admin
// @Produce  json
// @Security BearerAuth
// @Param id path string true "UID пользователя"
// @Success 200 {object} response.Response
// @Router /admin/users/{id}/keys [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.userkeys"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	actor, _ := middlewarectx.AccountFrom(r.Context())
	uid := chi.URLParam(r, "id")
	list, err := h.service.ListByOwner(r.Context(), actor, uid)
	if err != nil {
		log.Error("failed to list keys", slog.String("uid", uid), sl.Err(err))
		status, resp := response.FromError(err)
		render.Status(r, status)
		render.JSON(w, r, resp)
		return
	}
	render.JSON(w, r, response.StatusOKWithData(list))
}
