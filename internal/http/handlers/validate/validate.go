// Package validate реализует публичную проверку ключа игровым клиентом.
//
// Ответ всегда имеет вид {"result","message","game","expiresAt"} без обёртки
// response.Response: клиенты разбирают именно это тело. Итоги invalid,
// blocked, expired и success отдаются с кодом 200. Если хранилище недоступно,
// ответ 503 с result=invalid, чтобы клиент не принял ключ.
package validate

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/license-keys/internal/lib/sl"
	"github.com/magabrotheeeer/license-keys/internal/models"
)

type Service interface {
	Validate(ctx context.Context, keyString string) (models.Validation, error)
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
// @Summary Проверить ключ
// @Description Итог проверки отдаётся в теле с кодом 200. Ничего не меняет.
// @Tags Validate
// @Produce  json
// @Param key query string true "Строка ключа"
// @Success 200 {object} models.Validation
// @Failure 503 {object} models.Validation "Хранилище недоступно"
// @Router /validate [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.validate"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	keyString := r.URL.Query().Get("key")
	res, err := h.service.Validate(r.Context(), keyString)
	if err != nil {
		log.Error("validation failed", sl.Key(keyString), sl.Err(err))
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, models.Validation{
			Result:  models.ValidationInvalid,
			Message: "validation temporarily unavailable",
		})
		return
	}

	log.Info("key validated", sl.Key(keyString), slog.String("result", string(res.Result)))
	render.JSON(w, r, res)
}
