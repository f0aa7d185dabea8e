// Package response содержит вспомогательные типы и функции для формирования
// унифицированных JSON‑ответов HTTP‑обработчиков: успешные ответы, ошибки,
// сообщения валидации и сопоставление доменных ошибок с HTTP-статусами.
package response

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/license-keys/internal/models"
)

// Response описывает стандартную структуру JSON‑ответа сервера.
// Поле Status — статус запроса ("OK" или "Error").
// Поле Error — текст ошибки (опционально, при неуспехе).
// Поле Data — данные ответа (опционально, при успехе).
type Response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// ErrorResponse — структура ошибки для Swagger-документации.
type ErrorResponse struct {
	Status string `json:"status" example:"Error"`
	Error  string `json:"error" example:"invalid request body"`
}

const (
	// StatusOK — значение статуса для успешного ответа.
	StatusOK = "OK"
	// StatusError — значение статуса для ответа с ошибкой.
	StatusError = "Error"
)

// StatusOKWithData возвращает успешный Response с переданными данными.
func StatusOKWithData(data any) Response {
	return Response{
		Status: StatusOK,
		Data:   data,
	}
}

// Error возвращает Response с ошибкой и переданным сообщением.
func Error(msg string) Response {
	return Response{
		Status: StatusError,
		Error:  msg,
	}
}

// ValidationError формирует Response со статусом Error на основе ошибок валидации.
// Каждое нарушение формируется в человеко‑читаемый текст, объединённый через запятую.
func ValidationError(errs validator.ValidationErrors) Response {
	var errsMsgs []string

	for _, err := range errs {
		switch err.ActualTag() {
		case "required":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is a required field", err.Field()))
		case "min":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is too short or too small", err.Field()))
		case "max":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is too long or too large", err.Field()))
		case "email":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be a valid email", err.Field()))
		case "oneof":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be one of: %s", err.Field(), err.Param()))
		default:
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is not a valid", err.Field()))
		}
	}
	return Response{
		Status: StatusError,
		Error:  strings.Join(errsMsgs, ", "),
	}
}

type errorMapping struct {
	target error
	status int
	msg    string
}

// Порядок важен: конкретные ошибки проверяются раньше своих базовых видов.
var mappings = []errorMapping{
	{models.ErrUsernameTaken, http.StatusConflict, "username already taken"},
	{models.ErrQuotaExceeded, http.StatusConflict, "registration limit reached"},
	{models.ErrInviteExhausted, http.StatusConflict, "invite code exhausted"},
	{models.ErrDuplicateKey, http.StatusConflict, "key collision, try again"},
	{models.ErrAccountNotFound, http.StatusNotFound, "account not found"},
	{models.ErrKeyNotFound, http.StatusNotFound, "key not found"},
	{models.ErrInviteNotFound, http.StatusNotFound, "invite code not found"},
	{models.ErrWeakCredential, http.StatusBadRequest, "password is too weak"},
	{models.ErrInvalidUsername, http.StatusBadRequest, "username must be 3-32 characters of a-z, 0-9, _ . -"},
	{models.ErrInviteRequired, http.StatusBadRequest, "invite code required"},
	{models.ErrKeyCreationDenied, http.StatusForbidden, "key creation not allowed, trial already used"},
	{models.ErrDurationNotAllowed, http.StatusBadRequest, "duration not allowed"},
	{models.ErrDeviceLimitNotAllowed, http.StatusBadRequest, "device limit not allowed"},
	{models.ErrDeviceLimitExceeded, http.StatusConflict, "device limit reached"},
	{models.ErrVIPHoursNotAllowed, http.StatusBadRequest, "vip duration not allowed"},
	{models.ErrAdminImmutable, http.StatusForbidden, "admin accounts cannot be modified"},
	{models.ErrForbidden, http.StatusForbidden, "forbidden"},
	{models.ErrBadCredential, http.StatusUnauthorized, "invalid username or password"},
	{models.ErrInvalidToken, http.StatusUnauthorized, "invalid or expired token"},
	{models.ErrConflict, http.StatusConflict, "conflict"},
	{models.ErrNotFound, http.StatusNotFound, "not found"},
	{models.ErrPolicyViolation, http.StatusBadRequest, "request violates policy"},
	{models.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{models.ErrUpstreamUnavailable, http.StatusServiceUnavailable, "service temporarily unavailable"},
}

// FromError сопоставляет доменную ошибку HTTP-статусу и ответу с фиксированным
// текстом. Внутренние подробности ошибки клиенту не передаются.
func FromError(err error) (int, Response) {
	for _, m := range mappings {
		if errors.Is(err, m.target) {
			return m.status, Error(m.msg)
		}
	}
	return http.StatusInternalServerError, Error("internal server error")
}
