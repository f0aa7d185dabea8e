package feed

import (
	"context"
	"log/slog"
	"sync"

	"github.com/magabrotheeeer/license-keys/internal/models"
)

// DefaultBuffer — размер буфера подписки по умолчанию.
const DefaultBuffer = 64

// Subscription — подписка на события. Канал закрывается при отписке или
// когда подписчик не успевает вычитывать события.
type Subscription struct {
	C <-chan models.KeyEvent

	ch       chan models.KeyEvent
	hub      *Hub
	ownerUID string
	all      bool
	once     sync.Once
}

// Close отписывает подписчика. Повторный вызов безопасен.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Hub раздаёт события подписчикам внутри процесса: владельцу ключа и
// подписчикам со всеми событиями (администраторы).
type Hub struct {
	log    *slog.Logger
	buffer int

	mu     sync.RWMutex
	owners map[string]map[*Subscription]struct{}
	all    map[*Subscription]struct{}
}

// NewHub создаёт пустой хаб. buffer <= 0 означает DefaultBuffer.
func NewHub(log *slog.Logger, buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		log:    log,
		buffer: buffer,
		owners: make(map[string]map[*Subscription]struct{}),
		all:    make(map[*Subscription]struct{}),
	}
}

// Subscribe подписывает на события ключей ownerUID. При all=true подписчик
// получает события всех владельцев.
func (h *Hub) Subscribe(ownerUID string, all bool) *Subscription {
	ch := make(chan models.KeyEvent, h.buffer)
	sub := &Subscription{C: ch, ch: ch, hub: h, ownerUID: ownerUID, all: all}

	h.mu.Lock()
	defer h.mu.Unlock()
	if all {
		h.all[sub] = struct{}{}
		return sub
	}
	set, ok := h.owners[ownerUID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.owners[ownerUID] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Publish реализует Notifier. Переполненные подписки закрываются.
func (h *Hub) Publish(_ context.Context, ev models.KeyEvent) {
	var slow []*Subscription

	h.mu.RLock()
	deliver := func(sub *Subscription) {
		select {
		case sub.ch <- ev:
		default:
			slow = append(slow, sub)
		}
	}
	for sub := range h.owners[ev.Key.OwnerUID] {
		deliver(sub)
	}
	for sub := range h.all {
		deliver(sub)
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		h.log.Warn("dropping slow feed subscriber", slog.String("owner", sub.ownerUID), slog.Bool("all", sub.all))
		h.remove(sub)
	}
}

// Len возвращает число активных подписок.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := len(h.all)
	for _, set := range h.owners {
		n += len(set)
	}
	return n
}

// Close закрывает все подписки.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.all))
	for sub := range h.all {
		subs = append(subs, sub)
	}
	for _, set := range h.owners {
		for sub := range set {
			subs = append(subs, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range subs {
		h.remove(sub)
	}
}

func (h *Hub) remove(sub *Subscription) {
	sub.once.Do(func() {
		h.mu.Lock()
		if sub.all {
			delete(h.all, sub)
		} else if set, ok := h.owners[sub.ownerUID]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(h.owners, sub.ownerUID)
			}
		}
		close(sub.ch)
		h.mu.Unlock()
	})
}
