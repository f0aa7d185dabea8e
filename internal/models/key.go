package models

import "time"

// KeyStatus — производный статус ключа. Никогда не хранится, вычисляется при чтении.
type KeyStatus string

const (
	KeyStatusNotStarted KeyStatus = "not started yet"
	KeyStatusActive     KeyStatus = "active"
	KeyStatusExpired    KeyStatus = "expired"
	KeyStatusBlocked    KeyStatus = "blocked"
)

// LicenseKey — ограниченный по времени ключ, выданный учётной записи.
//
// ExpiresAt фиксируется при создании и не продлевается; nil означает ключ,
// срок которого ещё не запущен.
type LicenseKey struct {
	ID              string     `json:"id"`
	OwnerUID        string     `json:"userId"`
	AppTag          string     `json:"game"`
	KeyString       string     `json:"keyString"`
	DeviceLimit     int        `json:"deviceLimit"`
	DeviceCount     int        `json:"deviceCount"`
	DurationMinutes int        `json:"durationMinutes"`
	DurationLabel   string     `json:"durationLabel"`
	CreatedAt       time.Time  `json:"createdAt"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
	IsActive        bool       `json:"isActive"`
	Revision        int64      `json:"revision"`
}

// DeriveStatus вычисляет статус ключа на момент now.
//
// Порядок проверки: BLOCKED, затем EXPIRED (строго now > expiresAt),
// затем NOT_STARTED (срок не запущен), иначе ACTIVE.
func DeriveStatus(k LicenseKey, now time.Time) KeyStatus {
	switch {
	case !k.IsActive:
		return KeyStatusBlocked
	case k.ExpiresAt != nil && now.After(*k.ExpiresAt):
		return KeyStatusExpired
	case k.ExpiresAt == nil:
		return KeyStatusNotStarted
	default:
		return KeyStatusActive
	}
}

// KeyView — ключ вместе со статусом, вычисленным в момент ответа.
type KeyView struct {
	LicenseKey
	Status KeyStatus `json:"status"`
}

// View возвращает представление ключа со статусом на момент now.
func (k LicenseKey) View(now time.Time) KeyView {
	return KeyView{LicenseKey: k, Status: DeriveStatus(k, now)}
}

// KeyRequest — параметры создания ключа, пришедшие от клиента.
type KeyRequest struct {
	AppTag          string `json:"game" validate:"required,max=64"`
	DurationMinutes int    `json:"durationMinutes" validate:"min=0"`
	DeviceLimit     int    `json:"deviceLimit" validate:"min=0"`
}

// Duration — разрешённая длительность ключа.
type Duration struct {
	Minutes int    `json:"mins"`
	Label   string `json:"label"`
}
