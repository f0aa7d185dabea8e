// Package durations отдаёт длительности ключа, доступные текущему пользователю.
package durations

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/license-keys/internal/http/middlewarectx"
	"github.com/magabrotheeeer/license-keys/internal/http/response"
	"github.com/magabrotheeeer/license-keys/internal/models"
)

type Service interface {
	AllowedDurations(actor models.Account) []models.Duration
}

type Handler struct {
	log     *slog.Logger
	service Service
}

func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Доступные длительности
// @Tags Keys
// @Produce  json
// @Security BearerAuth
// @Success 200 {object} response.Response
// @Router /durations [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	actor, ok := middlewarectx.AccountFrom(r.Context())
	if !ok {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("user identification missing"))
		return
	}
	render.JSON(w, r, response.StatusOKWithData(h.service.AllowedDurations(actor)))
}
