package bolt

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/magabrotheeeer/license-keys/internal/models"
	"github.com/magabrotheeeer/license-keys/internal/storage"
)

// CreateKey создаёт ключ и обновляет счётчики владельца в одной транзакции.
func (s *Storage) CreateKey(ctx context.Context, ownerUID string, build storage.KeyBuilder) (models.LicenseKey, error) {
	const op = "storage.bolt.CreateKey"

	var created models.LicenseKey
	err := s.update(ctx, func(tx *bbolt.Tx) error {
		users := tx.Bucket(bucketUsers)
		owner, err := get[accountRecord](users, []byte(ownerUID), models.ErrAccountNotFound)
		if err != nil {
			return err
		}

		key, consumeTrial, err := build(owner.model())
		if err != nil {
			return err
		}
		if key.ID == "" {
			key.ID = uuid.NewString()
		}

		strs := tx.Bucket(bucketKeyStrings)
		if strs.Get([]byte(key.KeyString)) != nil {
			return models.ErrDuplicateKey
		}

		key.OwnerUID = owner.UID
		key.DeviceCount = 0
		key.Revision = 1
		key.CreatedAt = key.CreatedAt.UTC()
		key.ExpiresAt = utcPtr(key.ExpiresAt)

		if err := put(tx.Bucket(bucketKeys), []byte(key.ID), key); err != nil {
			return err
		}
		if err := strs.Put([]byte(key.KeyString), []byte(key.ID)); err != nil {
			return err
		}

		owner.KeysCreated++
		owner.TrialUsed = owner.TrialUsed || consumeTrial
		if err := put(users, []byte(owner.UID), owner); err != nil {
			return err
		}
		created = key
		return nil
	})
	if err != nil {
		return models.LicenseKey{}, fmt.Errorf("%s: %w", op, err)
	}
	return created, nil
}

// GetKey возвращает ключ по идентификатору.
func (s *Storage) GetKey(ctx context.Context, id string) (models.LicenseKey, error) {
	const op = "storage.bolt.GetKey"
	var k models.LicenseKey
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		var err error
		k, err = get[models.LicenseKey](tx.Bucket(bucketKeys), []byte(id), models.ErrKeyNotFound)
		return err
	})
	if err != nil {
		return models.LicenseKey{}, fmt.Errorf("%s: %w", op, err)
	}
	return k, nil
}

// FindKeyByString ищет ключ по точному совпадению строки.
func (s *Storage) FindKeyByString(ctx context.Context, keyString string) (models.LicenseKey, error) {
	const op = "storage.bolt.FindKeyByString"
	var k models.LicenseKey
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketKeyStrings).Get([]byte(keyString))
		if id == nil {
			return models.ErrKeyNotFound
		}
		var err error
		k, err = get[models.LicenseKey](tx.Bucket(bucketKeys), id, models.ErrKeyNotFound)
		return err
	})
	if err != nil {
		return models.LicenseKey{}, fmt.Errorf("%s: %w", op, err)
	}
	return k, nil
}

// ListKeysByOwner возвращает ключи владельца, новые первыми.
func (s *Storage) ListKeysByOwner(ctx context.Context, ownerUID string) ([]models.LicenseKey, error) {
	const op = "storage.bolt.ListKeysByOwner"
	var result []models.LicenseKey
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		var err error
		result, err = keysByOwner(tx.Bucket(bucketKeys), ownerUID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

func keysByOwner(b *bbolt.Bucket, ownerUID string) ([]models.LicenseKey, error) {
	result := make([]models.LicenseKey, 0)
	err := b.ForEach(func(k, _ []byte) error {
		key, err := get[models.LicenseKey](b, k, models.ErrKeyNotFound)
		if err != nil {
			return err
		}
		if key.OwnerUID == ownerUID {
			result = append(result, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// ToggleKey инвертирует флаг активности. Срок действия не меняется.
func (s *Storage) ToggleKey(ctx context.Context, id string) (models.LicenseKey, error) {
	const op = "storage.bolt.ToggleKey"
	return s.mutateKey(ctx, op, id, func(k *models.LicenseKey) error {
		k.IsActive = !k.IsActive
		return nil
	})
}

// DeleteKey удаляет ключ и возвращает его последний снимок.
func (s *Storage) DeleteKey(ctx context.Context, id string) (models.LicenseKey, error) {
	const op = "storage.bolt.DeleteKey"
	var k models.LicenseKey
	err := s.update(ctx, func(tx *bbolt.Tx) error {
		keys := tx.Bucket(bucketKeys)
		var err error
		k, err = get[models.LicenseKey](keys, []byte(id), models.ErrKeyNotFound)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketKeyStrings).Delete([]byte(k.KeyString)); err != nil {
			return err
		}
		return keys.Delete([]byte(id))
	})
	if err != nil {
		return models.LicenseKey{}, fmt.Errorf("%s: %w", op, err)
	}
	k.Revision++
	return k, nil
}

// IncrementDevices регистрирует активацию устройства, если лимит не исчерпан.
func (s *Storage) IncrementDevices(ctx context.Context, id string) (models.LicenseKey, error) {
	const op = "storage.bolt.IncrementDevices"
	return s.mutateKey(ctx, op, id, func(k *models.LicenseKey) error {
		if k.DeviceCount >= k.DeviceLimit {
			return models.ErrDeviceLimitExceeded
		}
		k.DeviceCount++
		return nil
	})
}

// DecrementDevices снимает активацию, не опуская счётчик ниже нуля.
func (s *Storage) DecrementDevices(ctx context.Context, id string) (models.LicenseKey, error) {
	const op = "storage.bolt.DecrementDevices"
	return s.mutateKey(ctx, op, id, func(k *models.LicenseKey) error {
		if k.DeviceCount > 0 {
			k.DeviceCount--
		}
		return nil
	})
}

func (s *Storage) mutateKey(ctx context.Context, op, id string, fn func(k *models.LicenseKey) error) (models.LicenseKey, error) {
	var k models.LicenseKey
	err := s.update(ctx, func(tx *bbolt.Tx) error {
		keys := tx.Bucket(bucketKeys)
		var err error
		k, err = get[models.LicenseKey](keys, []byte(id), models.ErrKeyNotFound)
		if err != nil {
			return err
		}
		if err := fn(&k); err != nil {
			return err
		}
		k.Revision++
		return put(keys, []byte(id), k)
	})
	if err != nil {
		return models.LicenseKey{}, fmt.Errorf("%s: %w", op, err)
	}
	return k, nil
}
