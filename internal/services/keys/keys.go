// Package keys содержит бизнес-логику реестра лицензионных ключей:
// выпуск по правилам политики, блокировку, удаление, учёт устройств
// и проверку ключа игровым клиентом.
package keys

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/magabrotheeeer/license-keys/internal/cache"
	"github.com/magabrotheeeer/license-keys/internal/feed"
	"github.com/magabrotheeeer/license-keys/internal/lib/retry"
	"github.com/magabrotheeeer/license-keys/internal/lib/sl"
	"github.com/magabrotheeeer/license-keys/internal/metrics"
	"github.com/magabrotheeeer/license-keys/internal/models"
	"github.com/magabrotheeeer/license-keys/internal/services/policy"
	"github.com/magabrotheeeer/license-keys/internal/storage"
)

// maxKeyAttempts — сколько раз генерируется новая строка при коллизии.
const maxKeyAttempts = 3

// KeyRepository описывает хранилище ключей.
type KeyRepository interface {
	// CreateKey вызывает build внутри транзакции с заблокированным владельцем.
	CreateKey(ctx context.Context, ownerUID string, build storage.KeyBuilder) (models.LicenseKey, error)
	GetKey(ctx context.Context, id string) (models.LicenseKey, error)
	FindKeyByString(ctx context.Context, keyString string) (models.LicenseKey, error)
	ListKeysByOwner(ctx context.Context, ownerUID string) ([]models.LicenseKey, error)
	ToggleKey(ctx context.Context, id string) (models.LicenseKey, error)
	DeleteKey(ctx context.Context, id string) (models.LicenseKey, error)
	IncrementDevices(ctx context.Context, id string) (models.LicenseKey, error)
	DecrementDevices(ctx context.Context, id string) (models.LicenseKey, error)
}

// Cache описывает кэш записей ключей. SetIfNewer не перезаписывает запись
// с большей ревизией.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	SetIfNewer(ctx context.Context, key string, value any, revision int64, expiration time.Duration) (bool, error)
	Invalidate(ctx context.Context, keys ...string) error
}

// cacheEntry — запись кэша. Deleted помечает удалённый ключ, чтобы
// запоздавшее чтение не вернуло его в кэш.
type cacheEntry struct {
	Key     models.LicenseKey `json:"key"`
	Deleted bool              `json:"deleted,omitempty"`
}

// Generator выпускает строки ключей.
type Generator interface {
	Key() (string, error)
}

// Summary — сводка для панели пользователя.
type Summary struct {
	Keys        []models.KeyView  `json:"keys"`
	ActiveCount int               `json:"activeCount"`
	CanCreate   bool              `json:"canCreate"`
	Durations   []models.Duration `json:"durations"`
}

// Option настраивает KeyService.
type Option func(*KeyService)

// WithCache включает кэш записей ключей с временем жизни ttl.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(s *KeyService) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

// WithMetrics включает счётчики.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *KeyService) { s.metrics = m }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *KeyService) { s.now = now }
}

// KeyService реализует реестр ключей.
type KeyService struct {
	repo     KeyRepository
	policy   *policy.Policy
	gen      Generator
	notifier feed.Notifier
	log      *slog.Logger

	cache    Cache
	cacheTTL time.Duration
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewKeyService создаёт реестр ключей.
func NewKeyService(repo KeyRepository, p *policy.Policy, gen Generator, notifier feed.Notifier, log *slog.Logger, opts ...Option) *KeyService {
	if notifier == nil {
		notifier = feed.Nop{}
	}
	s := &KeyService{
		repo:     repo,
		policy:   p,
		gen:      gen,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateKey выпускает ключ для actor. Политика применяется к учётной записи,
// прочитанной внутри транзакции, поэтому параллельные запросы не могут
// израсходовать пробный период дважды.
func (s *KeyService) CreateKey(ctx context.Context, actor models.Account, req models.KeyRequest) (models.LicenseKey, error) {
	const op = "services.keys.CreateKey"

	req.AppTag = strings.TrimSpace(req.AppTag)
	if req.AppTag == "" {
		return models.LicenseKey{}, fmt.Errorf("%s: %w: game is required", op, models.ErrPolicyViolation)
	}

	var (
		created models.LicenseKey
		grant   policy.Grant
		err     error
	)
	for attempt := 1; attempt <= maxKeyAttempts; attempt++ {
		var keyString string
		keyString, err = s.gen.Key()
		if err != nil {
			return models.LicenseKey{}, fmt.Errorf("%s: %w", op, err)
		}

		build := func(owner models.Account) (models.LicenseKey, bool, error) {
			now := s.now().UTC()
			g, err := s.policy.Decide(owner, req, now)
			if err != nil {
				return models.LicenseKey{}, false, err
			}
			grant = g
			expiresAt := now.Add(time.Duration(g.DurationMinutes) * time.Minute)
			return models.LicenseKey{
				OwnerUID:        owner.UID,
				AppTag:          req.AppTag,
				KeyString:       keyString,
				DeviceLimit:     g.DeviceLimit,
				DurationMinutes: g.DurationMinutes,
				DurationLabel:   g.DurationLabel,
				CreatedAt:       now,
				ExpiresAt:       &expiresAt,
				IsActive:        true,
			}, g.ConsumeTrial, nil
		}

		created, err = retry.OnceValue(ctx, func() (models.LicenseKey, error) {
			return s.repo.CreateKey(ctx, actor.UID, build)
		})
		if !errors.Is(err, models.ErrDuplicateKey) {
			break
		}
		s.log.Warn("key string collision, regenerating", slog.Int("attempt", attempt))
	}
	if err != nil {
		return models.LicenseKey{}, fmt.Errorf("%s: %w", op, err)
	}

	if s.metrics != nil {
		kind := "privileged"
		if grant.ConsumeTrial {
			kind = "trial"
		}
		s.metrics.KeysCreated.WithLabelValues(kind).Inc()
	}
	s.log.Info("license key created",
		slog.String("id", created.ID),
		slog.String("owner", created.OwnerUID),
		slog.String("game", created.AppTag),
		slog.Int("duration_minutes", created.DurationMinutes),
		sl.Key(created.KeyString))
	s.publish(ctx, models.EventKeyCreated, created)
	return created, nil
}

// ToggleKey блокирует или разблокирует ключ. Доступно владельцу и администратору.
func (s *KeyService) ToggleKey(ctx context.Context, actor models.Account, id string) (models.LicenseKey, error) {
	const op = "services.keys.ToggleKey"
	if _, err := s.authorize(ctx, actor, id); err != nil {
		return models.LicenseKey{}, fmt.Errorf("%s: %w", op, err)
	}
	k, err := retry.OnceValue(ctx, func() (models.LicenseKey, error) {
		return s.repo.ToggleKey(ctx, id)
	})
	if err != nil {
		return models.LicenseKey{}, fmt.Errorf("%s: %w", op, err)
	}
	s.afterWrite(ctx, models.EventKeyUpdated, k)
	return k, nil
}

// DeleteKey безвозвратно удаляет ключ. Только для администратора.
func (s *KeyService) DeleteKey(ctx context.Context, actor models.Account, id string) error {
	const op = "services.keys.DeleteKey"
	if !actor.IsAdmin() {
		return fmt.Errorf("%s: %w", op, models.ErrForbidden)
	}
	k, err := retry.OnceValue(ctx, func() (models.LicenseKey, error) {
		return s.repo.DeleteKey(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("license key deleted", slog.String("id", id), slog.String("by", actor.UID))
	s.afterWrite(ctx, models.EventKeyDeleted, k)
	return nil
}

// RecordActivation регистрирует активацию устройства.
func (s *KeyService) RecordActivation(ctx context.Context, actor models.Account, id string) (models.LicenseKey, error) {
	const op = "services.keys.RecordActivation"
	if _, err := s.authorize(ctx, actor, id); err != nil {
		return models.LicenseKey{}, fmt.Errorf("%s: %w", op, err)
	}
	k, err := retry.OnceValue(ctx, func() (models.LicenseKey, error) {
		return s.repo.IncrementDevices(ctx, id)
	})
	if err != nil {
		return models.LicenseKey{}, fmt.Errorf("%s: %w", op, err)
	}
	s.afterWrite(ctx, models.EventKeyUpdated, k)
	return k, nil
}

// RecordDeactivation снимает активацию устройства.
func (s *KeyService) RecordDeactivation(ctx context.Context, actor models.Account, id string) (models.LicenseKey, error) {
	const op = "services.keys.RecordDeactivation"
	if _, err := s.authorize(ctx, actor, id); err != nil {
		return models.LicenseKey{}, fmt.Errorf("%s: %w", op, err)
	}
	k, err := retry.OnceValue(ctx, func() (models.LicenseKey, error) {
		return s.repo.DecrementDevices(ctx, id)
	})
	if err != nil {
		return models.LicenseKey{}, fmt.Errorf("%s: %w", op, err)
	}
	s.afterWrite(ctx, models.EventKeyUpdated, k)
	return k, nil
}

// ListByOwner возвращает ключи владельца, новые первыми. Чужие ключи
// доступны только администратору.
func (s *KeyService) ListByOwner(ctx context.Context, actor models.Account, ownerUID string) ([]models.KeyView, error) {
	const op = "services.keys.ListByOwner"
	if ownerUID != actor.UID && !actor.IsAdmin() {
		return nil, fmt.Errorf("%s: %w", op, models.ErrForbidden)
	}
	list, err := retry.OnceValue(ctx, func() ([]models.LicenseKey, error) {
		return s.repo.ListKeysByOwner(ctx, ownerUID)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	now := s.now()
	views := make([]models.KeyView, 0, len(list))
	for _, k := range list {
		views = append(views, k.View(now))
	}
	return views, nil
}

// Summary возвращает ключи actor, число действующих и право на создание.
func (s *KeyService) Summary(ctx context.Context, actor models.Account) (Summary, error) {
	const op = "services.keys.Summary"
	views, err := s.ListByOwner(ctx, actor, actor.UID)
	if err != nil {
		return Summary{}, fmt.Errorf("%s: %w", op, err)
	}
	now := s.now()
	active := 0
	for _, v := range views {
		if v.Status == models.KeyStatusActive {
			active++
		}
	}
	return Summary{
		Keys:        views,
		ActiveCount: active,
		CanCreate:   s.policy.CanCreateKey(actor, now),
		Durations:   s.policy.AllowedDurations(actor, now),
	}, nil
}

// AllowedDurations возвращает длительности, которые может выбрать actor.
func (s *KeyService) AllowedDurations(actor models.Account) []models.Duration {
	return s.policy.AllowedDurations(actor, s.now())
}

// FindByKeyString ищет ключ по строке, сначала в кэше.
func (s *KeyService) FindByKeyString(ctx context.Context, keyString string) (models.LicenseKey, error) {
	const op = "services.keys.FindByKeyString"

	if entry, ok := s.cached(ctx, keyString); ok {
		if entry.Deleted {
			return models.LicenseKey{}, fmt.Errorf("%s: %w", op, models.ErrKeyNotFound)
		}
		return entry.Key, nil
	}
	k, err := retry.OnceValue(ctx, func() (models.LicenseKey, error) {
		return s.repo.FindKeyByString(ctx, keyString)
	})
	if err != nil {
		return models.LicenseKey{}, fmt.Errorf("%s: %w", op, err)
	}
	s.store(ctx, cacheEntry{Key: k})
	return k, nil
}

// Validate отвечает игровому клиенту. Ничего не меняет: статус вычисляется
// из сохранённых isActive и expiresAt на момент запроса.
func (s *KeyService) Validate(ctx context.Context, keyString string) (models.Validation, error) {
	const op = "services.keys.Validate"

	res, err := s.validate(ctx, strings.TrimSpace(keyString))
	if err != nil {
		return models.Validation{}, fmt.Errorf("%s: %w", op, err)
	}
	if s.metrics != nil {
		s.metrics.Validations.WithLabelValues(string(res.Result)).Inc()
	}
	return res, nil
}

func (s *KeyService) validate(ctx context.Context, keyString string) (models.Validation, error) {
	if keyString == "" {
		return models.Validation{Result: models.ValidationInvalid, Message: "No key provided"}, nil
	}
	k, err := s.FindByKeyString(ctx, keyString)
	if errors.Is(err, models.ErrNotFound) {
		return models.Validation{Result: models.ValidationInvalid, Message: "Key not found"}, nil
	}
	if err != nil {
		return models.Validation{}, err
	}

	res := models.Validation{Game: k.AppTag}
	if k.ExpiresAt != nil {
		ms := k.ExpiresAt.UnixMilli()
		res.ExpiresAt = &ms
	}
	switch models.DeriveStatus(k, s.now()) {
	case models.KeyStatusBlocked:
		res.Result, res.Message = models.ValidationBlocked, "This key has been blocked"
	case models.KeyStatusExpired:
		res.Result, res.Message = models.ValidationExpired, "License expired"
	default:
		res.Result, res.Message = models.ValidationSuccess, "Authentication successful"
	}
	return res, nil
}

// KeysRemoved публикует удаление ключей, исчезнувших вместе с учётной записью.
func (s *KeyService) KeysRemoved(ctx context.Context, removed []models.LicenseKey) {
	for _, k := range removed {
		k.Revision++
		s.afterWrite(ctx, models.EventKeyDeleted, k)
	}
}

func (s *KeyService) authorize(ctx context.Context, actor models.Account, id string) (models.LicenseKey, error) {
	k, err := retry.OnceValue(ctx, func() (models.LicenseKey, error) {
		return s.repo.GetKey(ctx, id)
	})
	if err != nil {
		return models.LicenseKey{}, err
	}
	if k.OwnerUID != actor.UID && !actor.IsAdmin() {
		return models.LicenseKey{}, models.ErrForbidden
	}
	return k, nil
}

// afterWrite кладёт новый снимок в кэш и публикует событие. Запись в кэш
// идёт по ревизии, поэтому параллельное чтение старого снимка её не затрёт.
func (s *KeyService) afterWrite(ctx context.Context, t models.EventType, k models.LicenseKey) {
	s.store(ctx, cacheEntry{Key: k, Deleted: t == models.EventKeyDeleted})
	if s.metrics != nil {
		s.metrics.KeyWrites.WithLabelValues(string(t)).Inc()
	}
	s.publish(ctx, t, k)
}

func (s *KeyService) publish(ctx context.Context, t models.EventType, k models.LicenseKey) {
	s.notifier.Publish(ctx, models.KeyEvent{Type: t, Key: k, At: s.now().UTC()})
}

func (s *KeyService) cached(ctx context.Context, keyString string) (cacheEntry, bool) {
	if s.cache == nil {
		return cacheEntry{}, false
	}
	var entry cacheEntry
	found, err := s.cache.Get(ctx, cache.KeyName(keyString), &entry)
	if err != nil {
		s.log.Warn("key cache read failed", sl.Key(keyString), sl.Err(err))
		found = false
	}
	if s.metrics != nil {
		outcome := "miss"
		if found {
			outcome = "hit"
		}
		s.metrics.CacheLookups.WithLabelValues(outcome).Inc()
	}
	return entry, found
}

func (s *KeyService) store(ctx context.Context, entry cacheEntry) {
	if s.cache == nil || s.cacheTTL <= 0 {
		return
	}
	name := cache.KeyName(entry.Key.KeyString)
	stored, err := s.cache.SetIfNewer(ctx, name, entry, entry.Key.Revision, s.cacheTTL)
	if err != nil {
		s.log.Warn("key cache write failed", sl.Key(entry.Key.KeyString), sl.Err(err))
		s.evict(ctx, entry.Key.KeyString)
		return
	}
	if !stored {
		s.log.Debug("newer key revision already cached",
			sl.Key(entry.Key.KeyString), slog.Int64("revision", entry.Key.Revision))
	}
}

func (s *KeyService) evict(ctx context.Context, keyString string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, cache.KeyName(keyString)); err != nil {
		s.log.Warn("key cache invalidation failed", sl.Key(keyString), sl.Err(err))
	}
}
