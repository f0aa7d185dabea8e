// Package bolt реализует хранилище сервиса на встраиваемой базе bbolt.
//
// Все записи идут через db.Update, которая сериализует писателей, поэтому
// проверка лимита регистраций, погашение инвайта и вставка выполняются
// атомарно без дополнительных блокировок.
package bolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/magabrotheeeer/license-keys/internal/models"
	"github.com/magabrotheeeer/license-keys/internal/storage"
)

var _ storage.Repository = (*Storage)(nil)

var (
	bucketUsers      = []byte("users")
	bucketUsernames  = []byte("usernames")
	bucketKeys       = []byte("keys")
	bucketKeyStrings = []byte("key_strings")
	bucketInvites    = []byte("invites")
)

// Storage — хранилище на bbolt.
type Storage struct {
	db *bbolt.DB
}

// Open открывает (или создаёт) файл базы и инициализирует бакеты.
func Open(path string, timeout time.Duration) (*Storage, error) {
	const op = "storage.bolt.Open"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return nil, fmt.Errorf("%s: %w", op, models.Upstream(err))
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketUsers, bucketUsernames, bucketKeys, bucketKeyStrings, bucketInvites} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Storage{db: db}, nil
}

// Ping проверяет, что база открыта.
func (s *Storage) Ping(_ context.Context) error {
	return s.db.View(func(*bbolt.Tx) error { return nil })
}

// Close закрывает файл базы.
func (s *Storage) Close() error {
	return s.db.Close()
}

// update и view прерываются, если контекст уже отменён.
func (s *Storage) update(ctx context.Context, fn func(tx *bbolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(fn)
}

func (s *Storage) view(ctx context.Context, fn func(tx *bbolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(fn)
}

func get[T any](b *bbolt.Bucket, id []byte, notFound error) (T, error) {
	var out T
	v := b.Get(id)
	if v == nil {
		return out, notFound
	}
	if err := json.Unmarshal(v, &out); err != nil {
		return out, err
	}
	return out, nil
}

func put(b *bbolt.Bucket, id []byte, v any) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(id, buf)
}
