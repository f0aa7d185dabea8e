// Package retry повторяет вызовы к хранилищу при временной недоступности.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/magabrotheeeer/license-keys/internal/models"
)

// InitialInterval — пауза перед единственным повтором.
var InitialInterval = 100 * time.Millisecond

// Once выполняет fn и повторяет её один раз с паузой, если ошибка
// относится к ErrUpstreamUnavailable. Остальные ошибки возвращаются сразу.
func Once(ctx context.Context, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = InitialInterval
	b.RandomizationFactor = 0.2

	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, models.ErrUpstreamUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, 1), ctx))
}

// OnceValue — вариант Once для функций, возвращающих значение.
func OnceValue[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var out T
	err := Once(ctx, func() error {
		v, err := fn()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
