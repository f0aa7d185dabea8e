package models

import "time"

// EventType — тип события ленты изменений ключей.
type EventType string

const (
	EventKeyCreated EventType = "created"
	EventKeyUpdated EventType = "updated"
	EventKeyDeleted EventType = "deleted"
)

// KeyEvent — снимок ключа после записи. Доставка at-least-once,
// потребители должны применять снимки идемпотентно по (Key.ID, Key.Revision).
type KeyEvent struct {
	Type EventType  `json:"type"`
	Key  LicenseKey `json:"key"`
	At   time.Time  `json:"at"`
}
