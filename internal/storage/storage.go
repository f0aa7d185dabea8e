// Package storage описывает контракт хранилища учётных записей, ключей
// и инвайт-кодов. Реализации: postgresql (pgx) и bolt (bbolt).
//
// Все операции, меняющие несколько сущностей, выполняются одной транзакцией:
// регистрация с проверкой лимита и погашением инвайта, создание ключа
// с отметкой об использованном пробном периоде.
package storage

import (
	"context"
	"time"

	"github.com/magabrotheeeer/license-keys/internal/models"
)

// KeyBuilder вызывается внутри транзакции создания ключа с заблокированной
// учётной записью владельца. Возвращает ключ для вставки и признак того,
// что создание расходует пробный период.
type KeyBuilder func(owner models.Account) (key models.LicenseKey, consumeTrial bool, err error)

// Accounts — операции над учётными записями.
type Accounts interface {
	// CreateAccount атомарно проверяет уникальность имени, лимит обычных
	// учётных записей (limit <= 0 — без лимита), погашает инвайт-код
	// и вставляет запись.
	CreateAccount(ctx context.Context, acc models.NewAccount, limit int) (models.Account, error)
	GetAccount(ctx context.Context, uid string) (models.Account, error)
	GetAccountByUsername(ctx context.Context, username string) (models.Account, error)
	ListAccounts(ctx context.Context) ([]models.Account, error)
	SetVIPUntil(ctx context.Context, uid string, until time.Time) (models.Account, error)
	PromoteToAdmin(ctx context.Context, uid string, vipUntil time.Time) (models.Account, error)
	// DeleteAccount удаляет учётную запись вместе с её ключами и возвращает удалённые ключи.
	DeleteAccount(ctx context.Context, uid string) ([]models.LicenseKey, error)
}

// Keys — операции над лицензионными ключами.
type Keys interface {
	CreateKey(ctx context.Context, ownerUID string, build KeyBuilder) (models.LicenseKey, error)
	GetKey(ctx context.Context, id string) (models.LicenseKey, error)
	FindKeyByString(ctx context.Context, keyString string) (models.LicenseKey, error)
	// ListKeysByOwner возвращает ключи владельца, новые первыми.
	ListKeysByOwner(ctx context.Context, ownerUID string) ([]models.LicenseKey, error)
	ToggleKey(ctx context.Context, id string) (models.LicenseKey, error)
	DeleteKey(ctx context.Context, id string) (models.LicenseKey, error)
	// IncrementDevices увеличивает счётчик активаций, если он меньше лимита.
	IncrementDevices(ctx context.Context, id string) (models.LicenseKey, error)
	// DecrementDevices уменьшает счётчик активаций, не опускаясь ниже нуля.
	DecrementDevices(ctx context.Context, id string) (models.LicenseKey, error)
}

// Invites — операции над инвайт-кодами.
type Invites interface {
	CreateInvite(ctx context.Context, invite models.InviteCode) (models.InviteCode, error)
	ListInvites(ctx context.Context) ([]models.InviteCode, error)
}

// Repository — полный контракт хранилища.
type Repository interface {
	Accounts
	Keys
	Invites
	Ping(ctx context.Context) error
	Close() error
}
