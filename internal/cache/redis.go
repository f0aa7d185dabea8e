// Package cache реализует кэш записей лицензионных ключей поверх Redis.
// В кэше лежат только хранимые поля ключа; статус всегда вычисляется при чтении.
// Рядом с каждой записью хранится её ревизия: запись с меньшей ревизией
// не может вытеснить более новую.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/magabrotheeeer/license-keys/internal/config"
)

const (
	keyPrefix      = "license-key:"
	revisionSuffix = ":rev"
)

// KEYS[1] — запись, KEYS[2] — её ревизия; ARGV: значение, ревизия, TTL в мс.
var setIfNewerScript = redis.NewScript(`
local current = redis.call('GET', KEYS[2])
if current and tonumber(current) > tonumber(ARGV[2]) then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

// Cache — клиент Redis с JSON-сериализацией значений.
type Cache struct {
	Db *redis.Client
}

// InitServer подключается к Redis и проверяет соединение.
func InitServer(ctx context.Context, cfg config.RedisConnection) (*Cache, error) {
	const op = "cache.InitServer"
	db := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		Username:     cfg.User,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	if err := db.Ping(ctx).Err(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Cache{Db: db}, nil
}

// KeyName возвращает имя записи кэша для строки ключа.
func KeyName(keyString string) string {
	return keyPrefix + keyString
}

// Get читает значение в result. Второй результат false, если записи нет.
func (c *Cache) Get(ctx context.Context, key string, result any) (bool, error) {
	const op = "cache.Get"
	val, err := c.Db.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if err = json.Unmarshal(val, result); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}

// SetIfNewer сохраняет значение с ревизией revision, если в кэше нет записи
// с большей ревизией. Первый результат false, если запись была новее.
func (c *Cache) SetIfNewer(ctx context.Context, key string, value any, revision int64, expiration time.Duration) (bool, error) {
	const op = "cache.SetIfNewer"
	if expiration <= 0 {
		return false, fmt.Errorf("%s: expiration must be positive", op)
	}
	jsonData, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	stored, err := setIfNewerScript.Run(ctx, c.Db,
		[]string{key, revisionKey(key)},
		jsonData, revision, expiration.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return stored == 1, nil
}

func revisionKey(key string) string {
	return key + revisionSuffix
}

// Invalidate удаляет записи. Ревизии остаются, поэтому запоздалая запись
// старой ревизии после удаления тоже будет отклонена.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	const op = "cache.Invalidate"
	if len(keys) == 0 {
		return nil
	}
	if err := c.Db.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Ping проверяет соединение.
func (c *Cache) Ping(ctx context.Context) error {
	return c.Db.Ping(ctx).Err()
}

// Close закрывает клиент.
func (c *Cache) Close() error {
	return c.Db.Close()
}
