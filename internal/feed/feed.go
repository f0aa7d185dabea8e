// Package feed реализует ленту изменений лицензионных ключей.
//
// Реестр публикует снимок ключа после каждой записи. Доставка at-least-once:
// потребители применяют снимки идемпотентно по (Key.ID, Key.Revision) и
// отбрасывают снимки с ревизией меньше уже виденной.
package feed

import (
	"context"

	"github.com/magabrotheeeer/license-keys/internal/models"
)

// Notifier принимает события ленты. Публикация не должна блокировать запись
// в реестр, поэтому ошибки доставки реализация обрабатывает сама.
type Notifier interface {
	Publish(ctx context.Context, ev models.KeyEvent)
}

// Multi рассылает событие всем вложенным получателям по порядку.
type Multi []Notifier

// Publish реализует Notifier.
func (m Multi) Publish(ctx context.Context, ev models.KeyEvent) {
	for _, n := range m {
		if n != nil {
			n.Publish(ctx, ev)
		}
	}
}

// Nop отбрасывает события.
type Nop struct{}

// Publish реализует Notifier.
func (Nop) Publish(context.Context, models.KeyEvent) {}

// RoutingKey возвращает ключ маршрутизации события в брокере.
func RoutingKey(t models.EventType) string {
	return "key." + string(t)
}
