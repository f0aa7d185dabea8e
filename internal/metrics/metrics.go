// Package metrics объявляет счётчики Prometheus сервиса.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics — набор счётчиков, которые обновляют сервисы.
type Metrics struct {
	Validations   *prometheus.CounterVec
	KeysCreated   *prometheus.CounterVec
	KeyWrites     *prometheus.CounterVec
	Registrations *prometheus.CounterVec
	Logins        *prometheus.CounterVec
	CacheLookups  *prometheus.CounterVec
}

// New регистрирует счётчики в reg. nil означает prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Validations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "license_keys",
			Name:      "validations_total",
			Help:      "Key validation requests by result.",
		}, []string{"result"}),
		KeysCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "license_keys",
			Name:      "keys_created_total",
			Help:      "Issued license keys by account kind.",
		}, []string{"kind"}),
		KeyWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "license_keys",
			Name:      "key_writes_total",
			Help:      "Writes to existing keys by event type.",
		}, []string{"type"}),
		Registrations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "license_keys",
			Name:      "registrations_total",
			Help:      "Registration attempts by outcome.",
		}, []string{"outcome"}),
		Logins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "license_keys",
			Name:      "logins_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "license_keys",
			Name:      "cache_lookups_total",
			Help:      "Key cache lookups by outcome.",
		}, []string{"outcome"}),
	}
}

// Discard возвращает счётчики, зарегистрированные в отдельном реестре.
// Используется в тестах и инструментах, которым не нужен /metrics.
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}
