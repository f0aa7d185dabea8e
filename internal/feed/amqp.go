package feed

import (
	"context"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/license-keys/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/license-keys/internal/lib/sl"
	"github.com/magabrotheeeer/license-keys/internal/models"
)

// AMQPNotifier публикует события в topic-exchange RabbitMQ с ключом
// маршрутизации key.<type>.
type AMQPNotifier struct {
	log      *slog.Logger
	exchange string

	mu sync.Mutex
	ch *amqp.Channel
}

// NewAMQPNotifier создаёт издателя поверх подготовленного канала.
func NewAMQPNotifier(log *slog.Logger, ch *amqp.Channel, exchange string) *AMQPNotifier {
	return &AMQPNotifier{log: log, ch: ch, exchange: exchange}
}

// Publish реализует Notifier. Ошибка публикации логируется и не
// возвращается в реестр: запись в хранилище уже зафиксирована.
func (n *AMQPNotifier) Publish(_ context.Context, ev models.KeyEvent) {
	const op = "feed.AMQPNotifier.Publish"

	n.mu.Lock()
	err := rabbitmq.PublishMessage(n.ch, n.exchange, RoutingKey(ev.Type), ev)
	n.mu.Unlock()

	if err != nil {
		n.log.Error("failed to publish key event",
			slog.String("op", op),
			slog.String("type", string(ev.Type)),
			slog.String("key_id", ev.Key.ID),
			slog.Int64("revision", ev.Key.Revision),
			sl.Err(err))
	}
}

// Close закрывает канал.
func (n *AMQPNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ch.Close()
}
