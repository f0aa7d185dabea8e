// Package invites реализует выпуск и просмотр инвайт-кодов.
package invites

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/license-keys/internal/http/middlewarectx"
	"github.com/magabrotheeeer/license-keys/internal/http/response"
	"github.com/magabrotheeeer/license-keys/internal/lib/sl"
	"github.com/magabrotheeeer/license-keys/internal/models"
)

// Request — число регистраций, которые можно выполнить по коду.
type Request struct {
	MaxUses int `json:"maxUses" validate:"required,min=1,max=1000"`
}

type Service interface {
	CreateInvite(ctx context.Context, actor models.Account, maxUses int) (models.InviteCode, error)
	ListInvites(ctx context.Context, actor models.Account) ([]models.InviteCode, error)
}

type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service, validate: validator.New()}
}

// List godoc
// @Summary Инвайт-коды
// @Tags Admin
// @Produce  json
// @Security BearerAuth
// @Success 200 {object} response.Response
// @Router /admin/invites [get]
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.invites.list"

	actor, _ := middlewarectx.AccountFrom(r.Context())
	list, err := h.service.ListInvites(r.Context(), actor)
	if err != nil {
		h.log.Error("failed to list invites", slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())), sl.Err(err))
		status, resp := response.FromError(err)
		render.Status(r, status)
		render.JSON(w, r, resp)
		return
	}
	render.JSON(w, r, response.StatusOKWithData(list))
}

// Create godoc
// @Summary Выпустить инвайт-код
// @Tags Admin
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param request body Request true "Лимит использований"
// @Success 201 {object} response.Response
// @Failure 422 {object} response.ErrorResponse
// @Router /admin/invites [post]
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.invites.create"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	actor, _ := middlewarectx.AccountFrom(r.Context())

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	invite, err := h.service.CreateInvite(r.Context(), actor, req.MaxUses)
	if err != nil {
		log.Error("failed to create invite", sl.Err(err))
		status, resp := response.FromError(err)
		render.Status(r, status)
		render.JSON(w, r, resp)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, response.StatusOKWithData(invite))
}
