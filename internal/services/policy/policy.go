// Package policy решает, какие ключи может выпустить учётная запись.
// Функции пакета чистые: никаких обращений к хранилищу и побочных эффектов.
package policy

import (
	"fmt"
	"time"

	"github.com/magabrotheeeer/license-keys/internal/models"
)

// Durations — белый список длительностей ключей для администраторов и VIP.
var Durations = []models.Duration{
	{Minutes: 60, Label: "1 Hour"},
	{Minutes: 120, Label: "2 Hours"},
	{Minutes: 180, Label: "3 Hours"},
	{Minutes: 300, Label: "5 Hours"},
	{Minutes: 1440, Label: "1 Day"},
	{Minutes: 2880, Label: "2 Days"},
	{Minutes: 4320, Label: "3 Days"},
	{Minutes: 7200, Label: "5 Days"},
	{Minutes: 14400, Label: "10 Days"},
	{Minutes: 28800, Label: "20 Days"},
	{Minutes: 43200, Label: "30 Days"},
}

// VIPHours — допустимые сроки выдачи VIP в часах.
var VIPHours = []int{1, 5, 24, 72, 168, 720, 87600}

// Config — параметры политики.
type Config struct {
	TrialDurationMinutes int
	MaxDeviceLimit       int
}

// Grant — решение политики по запросу на создание ключа.
type Grant struct {
	DurationMinutes int
	DurationLabel   string
	DeviceLimit     int
	// ConsumeTrial — создание ключа расходует пробный период учётной записи.
	ConsumeTrial bool
}

// Policy — набор правил выдачи ключей.
type Policy struct {
	trialMinutes   int
	maxDeviceLimit int
}

// New создаёт политику. Нулевые значения заменяются значениями по умолчанию.
func New(cfg Config) *Policy {
	p := &Policy{trialMinutes: cfg.TrialDurationMinutes, maxDeviceLimit: cfg.MaxDeviceLimit}
	if p.trialMinutes <= 0 {
		p.trialMinutes = 60
	}
	if p.maxDeviceLimit < 1 {
		p.maxDeviceLimit = 1
	}
	return p
}

// Privileged сообщает, снимаются ли с учётной записи ограничения пробного периода.
func Privileged(acc models.Account, now time.Time) bool {
	return acc.IsAdmin() || acc.IsVIP(now)
}

// CanCreateKey сообщает, может ли учётная запись выпустить ключ.
// Обычная учётная запись выпускает ровно один пробный ключ за всё время,
// независимо от того, сколько ключей было удалено или истекло.
func (p *Policy) CanCreateKey(acc models.Account, now time.Time) bool {
	return Privileged(acc, now) || !acc.TrialUsed
}

// MaxDuration возвращает наибольшую допустимую длительность в минутах.
func (p *Policy) MaxDuration(acc models.Account, now time.Time) int {
	if Privileged(acc, now) {
		return Durations[len(Durations)-1].Minutes
	}
	return p.trialMinutes
}

// MaxDeviceLimit возвращает наибольший допустимый лимит устройств.
func (p *Policy) MaxDeviceLimit(acc models.Account, now time.Time) int {
	if Privileged(acc, now) {
		return p.maxDeviceLimit
	}
	return 1
}

// AllowedDurations возвращает длительности, доступные учётной записи.
func (p *Policy) AllowedDurations(acc models.Account, now time.Time) []models.Duration {
	if Privileged(acc, now) {
		out := make([]models.Duration, len(Durations))
		copy(out, Durations)
		return out
	}
	return []models.Duration{{Minutes: p.trialMinutes, Label: Label(p.trialMinutes)}}
}

// Decide проверяет запрос на создание ключа. Значения вне политики
// отклоняются, а не подрезаются; нулевые значения означают значение по умолчанию.
func (p *Policy) Decide(acc models.Account, req models.KeyRequest, now time.Time) (Grant, error) {
	if !p.CanCreateKey(acc, now) {
		return Grant{}, models.ErrKeyCreationDenied
	}

	if !Privileged(acc, now) {
		if req.DurationMinutes != 0 && req.DurationMinutes != p.trialMinutes {
			return Grant{}, models.ErrDurationNotAllowed
		}
		if req.DeviceLimit > 1 || req.DeviceLimit < 0 {
			return Grant{}, models.ErrDeviceLimitNotAllowed
		}
		return Grant{
			DurationMinutes: p.trialMinutes,
			DurationLabel:   Label(p.trialMinutes),
			DeviceLimit:     1,
			ConsumeTrial:    true,
		}, nil
	}

	minutes := req.DurationMinutes
	if minutes == 0 {
		minutes = Durations[0].Minutes
	}
	label, ok := whitelisted(minutes)
	if !ok {
		return Grant{}, models.ErrDurationNotAllowed
	}

	devices := req.DeviceLimit
	if devices == 0 {
		devices = 1
	}
	if devices < 1 || devices > p.maxDeviceLimit {
		return Grant{}, models.ErrDeviceLimitNotAllowed
	}

	return Grant{DurationMinutes: minutes, DurationLabel: label, DeviceLimit: devices}, nil
}

// VIPDuration переводит срок VIP в часах в длительность, если он из белого списка.
func VIPDuration(hours int) (time.Duration, error) {
	for _, h := range VIPHours {
		if h == hours {
			return time.Duration(hours) * time.Hour, nil
		}
	}
	return 0, models.ErrVIPHoursNotAllowed
}

// Label возвращает подпись длительности.
func Label(minutes int) string {
	if label, ok := whitelisted(minutes); ok {
		return label
	}
	if minutes == 1 {
		return "1 Minute"
	}
	return fmt.Sprintf("%d Minutes", minutes)
}

func whitelisted(minutes int) (string, bool) {
	for _, d := range Durations {
		if d.Minutes == minutes {
			return d.Label, true
		}
	}
	return "", false
}
