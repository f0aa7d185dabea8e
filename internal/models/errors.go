package models

import (
	"errors"
	"fmt"
)

// Базовые виды ошибок. Конкретные ошибки оборачивают один из них,
// поэтому вызывающий код проверяет вид через errors.Is.
var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrPolicyViolation     = errors.New("policy violation")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

var (
	ErrAccountNotFound = fmt.Errorf("%w: account", ErrNotFound)
	ErrKeyNotFound     = fmt.Errorf("%w: license key", ErrNotFound)
	ErrInviteNotFound  = fmt.Errorf("%w: invite code", ErrNotFound)

	ErrUsernameTaken   = fmt.Errorf("%w: username taken", ErrConflict)
	ErrQuotaExceeded   = fmt.Errorf("%w: account quota exceeded", ErrConflict)
	ErrDuplicateKey    = fmt.Errorf("%w: duplicate key string", ErrConflict)
	ErrInviteExhausted = fmt.Errorf("%w: invite code exhausted", ErrConflict)

	ErrWeakCredential        = fmt.Errorf("%w: weak credential", ErrPolicyViolation)
	ErrInvalidUsername       = fmt.Errorf("%w: invalid username", ErrPolicyViolation)
	ErrInviteRequired        = fmt.Errorf("%w: invite code required", ErrPolicyViolation)
	ErrKeyCreationDenied     = fmt.Errorf("%w: key creation not allowed", ErrPolicyViolation)
	ErrDurationNotAllowed    = fmt.Errorf("%w: duration not allowed", ErrPolicyViolation)
	ErrDeviceLimitNotAllowed = fmt.Errorf("%w: device limit not allowed", ErrPolicyViolation)
	ErrDeviceLimitExceeded   = fmt.Errorf("%w: device limit exceeded", ErrPolicyViolation)
	ErrVIPHoursNotAllowed    = fmt.Errorf("%w: vip duration not allowed", ErrPolicyViolation)
	ErrForbidden             = fmt.Errorf("%w: forbidden", ErrPolicyViolation)
	ErrAdminImmutable        = fmt.Errorf("%w: admin accounts cannot be purged", ErrPolicyViolation)

	ErrBadCredential = fmt.Errorf("%w: bad credential", ErrUnauthorized)
	ErrInvalidToken  = fmt.Errorf("%w: invalid token", ErrUnauthorized)
)

// Upstream оборачивает ошибку хранилища или внешнего сервиса в ErrUpstreamUnavailable.
func Upstream(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
}
