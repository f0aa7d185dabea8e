// Package middlewarectx содержит HTTP middleware сервиса: проверку JWT,
// доступ только для администратора и ограничение частоты запросов.
//
// JWTMiddleware проверяет токен из заголовка Authorization, перечитывает
// учётную запись и кладёт её в контекст запроса. Для WebSocket-подключений,
// где браузер не может задать заголовок, токен принимается из параметра token.
package middlewarectx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/license-keys/internal/http/response"
	"github.com/magabrotheeeer/license-keys/internal/lib/sl"
	"github.com/magabrotheeeer/license-keys/internal/models"
)

// Key тип для ключей контекста HTTP-запроса.
type Key string

// AccountKey — ключ учётной записи в контексте.
const AccountKey Key = "account"

// Service описывает проверку токена сессии.
type Service interface {
	CurrentAccount(ctx context.Context, token string) (models.Account, error)
}

// WithAccount кладёт учётную запись в контекст.
func WithAccount(ctx context.Context, acc models.Account) context.Context {
	return context.WithValue(ctx, AccountKey, acc)
}

// AccountFrom достаёт учётную запись из контекста.
func AccountFrom(ctx context.Context) (models.Account, bool) {
	acc, ok := ctx.Value(AccountKey).(models.Account)
	return acc, ok && acc.UID != ""
}

// JWTMiddleware возвращает HTTP middleware, который проверяет JWT.
//
// Если токен валиден, добавляет учётную запись в контекст запроса,
// иначе возвращает ошибку с HTTP статусом 401 Unauthorized.
func JWTMiddleware(authService Service, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.JWTMiddleware"

			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			tokenStr, ok := bearer(r)
			if !ok {
				log.Warn("missing or invalid authorization header")
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("missing or invalid authorization header"))
				return
			}

			acc, err := authService.CurrentAccount(r.Context(), tokenStr)
			if err != nil {
				log.Warn("token rejected", sl.Err(err))
				status, resp := response.FromError(err)
				if status == http.StatusNotFound {
					status, resp = http.StatusUnauthorized, response.Error("invalid or expired token")
				}
				render.Status(r, status)
				render.JSON(w, r, resp)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), acc)))
		})
	}
}

func bearer(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		if !strings.HasPrefix(h, "Bearer ") {
			return "", false
		}
		tok := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		return tok, tok != ""
	}
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok, true
	}
	return "", false
}
