// Package stream отдаёт ленту изменений ключей по WebSocket.
//
// Пользователь получает события своих ключей, администратор все события.
// Каждое сообщение — JSON models.KeyEvent. Если клиент не успевает читать,
// хаб закрывает подписку и соединение закрывается; клиент переподключается
// и перечитывает список ключей.
package stream

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/gorilla/websocket"

	"github.com/magabrotheeeer/license-keys/internal/feed"
	"github.com/magabrotheeeer/license-keys/internal/http/middlewarectx"
	"github.com/magabrotheeeer/license-keys/internal/http/response"
	"github.com/magabrotheeeer/license-keys/internal/lib/sl"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Subscriber выдаёт подписки на события ключей.
type Subscriber interface {
	Subscribe(ownerUID string, all bool) *feed.Subscription
}

type Handler struct {
	log      *slog.Logger
	hub      Subscriber
	upgrader websocket.Upgrader
}

func New(log *slog.Logger, hub Subscriber) *Handler {
	return &Handler{
		log: log,
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Аутентификация идёт по токену, а не по cookie, поэтому Origin не проверяется.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP godoc
// @Summary Лента изменений ключей
// @Description WebSocket. Токен передаётся в заголовке Authorization или в параметре token.
// @Tags Keys
// @Security BearerAuth
// @Param token query string false "JWT для браузерных клиентов"
// @Success 101 {object} models.KeyEvent
// @Router /keys/stream [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.keys.stream"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	actor, ok := middlewarectx.AccountFrom(r.Context())
	if !ok {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("user identification missing"))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("websocket upgrade failed", sl.Err(err))
		return
	}

	sub := h.hub.Subscribe(actor.UID, actor.IsAdmin())
	log = log.With(slog.String("uid", actor.UID), slog.Bool("all", actor.IsAdmin()))
	log.Info("feed subscriber connected")

	done := make(chan struct{})
	go h.readPump(conn, sub, done, log)
	h.writePump(conn, sub, done, log)
}

// readPump вычитывает управляющие кадры и замечает закрытие соединения клиентом.
func (h *Handler) readPump(conn *websocket.Conn, sub *feed.Subscription, done chan<- struct{}, log *slog.Logger) {
	defer func() {
		sub.Close()
		close(done)
	}()
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("unexpected websocket close", sl.Err(err))
			}
			return
		}
	}
}

func (h *Handler) writePump(conn *websocket.Conn, sub *feed.Subscription, done <-chan struct{}, log *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.Close()
		_ = conn.Close()
		log.Info("feed subscriber disconnected")
	}()

	for {
		select {
		case ev, ok := <-sub.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscription closed"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				log.Warn("failed to write event", sl.Err(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
