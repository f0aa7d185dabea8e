// Package models содержит доменные структуры сервиса лицензионных ключей:
// учётные записи, ключи, инвайт-коды, события ленты изменений и ошибки.
// Структуры используются в бизнес‑логике, хранилищах и HTTP-слое.
package models

import (
	"strings"
	"time"
)

const (
	// RoleStandard — обычная учётная запись, подпадает под лимит регистраций.
	RoleStandard = "standard"
	// RoleAdmin — администратор, лимит регистраций на него не распространяется.
	RoleAdmin = "admin"
)

// AdminVIPUntil — "практически бесконечный" срок VIP для администратора (01.01.2100 UTC).
var AdminVIPUntil = time.UnixMilli(4102444800000).UTC()

// Account представляет зарегистрированного пользователя консоли.
type Account struct {
	UID          string     `json:"uid"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"`
	VIPUntil     *time.Time `json:"vipUntil,omitempty"`
	TrialUsed    bool       `json:"trialUsed"`
	KeysCreated  int        `json:"keysCreated"`
	InvitedBy    string     `json:"invitedBy,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// IsAdmin сообщает, является ли учётная запись администратором.
func (a Account) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// IsVIP сообщает, действует ли VIP на момент now (vipUntil строго позже now).
func (a Account) IsVIP(now time.Time) bool {
	return a.VIPUntil != nil && a.VIPUntil.After(now)
}

// NormalizeUsername приводит имя пользователя к каноническому виду для проверки уникальности.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// NewAccount — входные данные регистрации после валидации и хэширования пароля.
type NewAccount struct {
	Username     string
	Email        string
	PasswordHash string
	Role         string
	VIPUntil     *time.Time
	InviteCode   string
}

// AccountView — представление учётной записи для HTTP-ответов.
type AccountView struct {
	Account
	IsVIP bool `json:"isVIP"`
}

// View возвращает представление учётной записи с вычисленным на момент now флагом VIP.
func (a Account) View(now time.Time) AccountView {
	return AccountView{Account: a, IsVIP: a.IsVIP(now)}
}
