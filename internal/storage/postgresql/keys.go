package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/license-keys/internal/models"
	"github.com/magabrotheeeer/license-keys/internal/storage"
)

const keyColumns = `id, owner_uid, app_tag, key_string, device_limit, device_count,
	duration_minutes, duration_label, created_at, expires_at, is_active, revision`

func scanKey(row rowScanner) (models.LicenseKey, error) {
	var (
		k         models.LicenseKey
		expiresAt sql.NullTime
	)
	if err := row.Scan(&k.ID, &k.OwnerUID, &k.AppTag, &k.KeyString, &k.DeviceLimit, &k.DeviceCount,
		&k.DurationMinutes, &k.DurationLabel, &k.CreatedAt, &expiresAt, &k.IsActive, &k.Revision); err != nil {
		return models.LicenseKey{}, err
	}
	k.CreatedAt = k.CreatedAt.UTC()
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		k.ExpiresAt = &t
	}
	return k, nil
}

func collectKeys(rows *sql.Rows) ([]models.LicenseKey, error) {
	defer func() {
		_ = rows.Close()
	}()
	result := make([]models.LicenseKey, 0)
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, k)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return result, nil
}

// CreateKey создаёт ключ и при необходимости отмечает пробный период
// использованным в одной транзакции. Строка владельца блокируется
// SELECT ... FOR UPDATE, поэтому параллельные создания для одного
// владельца видят результат друг друга.
func (s *Storage) CreateKey(ctx context.Context, ownerUID string, build storage.KeyBuilder) (models.LicenseKey, error) {
	const op = "storage.postgresql.CreateKey"
	if _, err := uuid.Parse(ownerUID); err != nil {
		return models.LicenseKey{}, fmt.Errorf("%s: %w", op, models.ErrAccountNotFound)
	}

	var created models.LicenseKey
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		owner, err := scanAccount(tx.QueryRowContext(ctx,
			`SELECT `+accountColumns+` FROM users WHERE uid = $1 FOR UPDATE`, ownerUID))
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrAccountNotFound
		}
		if err != nil {
			return classify(err)
		}

		key, consumeTrial, err := build(owner)
		if err != nil {
			return err
		}
		if key.ID == "" {
			key.ID = uuid.NewString()
		}

		row := tx.QueryRowContext(ctx, `INSERT INTO license_keys
				(id, owner_uid, app_tag, key_string, device_limit, device_count, duration_minutes,
				 duration_label, created_at, expires_at, is_active, revision)
			VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8, $9, $10, 1)
			RETURNING `+keyColumns,
			key.ID, owner.UID, key.AppTag, key.KeyString, key.DeviceLimit, key.DurationMinutes,
			key.DurationLabel, key.CreatedAt.UTC(), key.ExpiresAt, key.IsActive)
		created, err = scanKey(row)
		if err != nil {
			if _, ok := uniqueViolation(err); ok {
				return models.ErrDuplicateKey
			}
			return classify(err)
		}

		if _, err := tx.ExecContext(ctx, `UPDATE users
			SET keys_created = keys_created + 1,
			    trial_used = trial_used OR $2
			WHERE uid = $1`, owner.UID, consumeTrial); err != nil {
			return classify(err)
		}
		return nil
	})
	if err != nil {
		return models.LicenseKey{}, fmt.Errorf("%s: %w", op, err)
	}
	return created, nil
}

// GetKey возвращает ключ по идентификатору.
func (s *Storage) GetKey(ctx context.Context, id string) (models.LicenseKey, error) {
	const op = "storage.postgresql.GetKey"
	if _, err := uuid.Parse(id); err != nil {
		return models.LicenseKey{}, fmt.Errorf("%s: %w", op, models.ErrKeyNotFound)
	}
	return s.queryKey(ctx, op, `SELECT `+keyColumns+` FROM license_keys WHERE id = $1`, id)
}

// FindKeyByString ищет ключ по точному совпадению строки (уникальный индекс).
func (s *Storage) FindKeyByString(ctx context.Context, keyString string) (models.LicenseKey, error) {
	const op = "storage.postgresql.FindKeyByString"
	return s.queryKey(ctx, op, `SELECT `+keyColumns+` FROM license_keys WHERE key_string = $1`, keyString)
}

// ListKeysByOwner возвращает ключи владельца в порядке убывания даты создания.
func (s *Storage) ListKeysByOwner(ctx context.Context, ownerUID string) ([]models.LicenseKey, error) {
	const op = "storage.postgresql.ListKeysByOwner"
	if _, err := uuid.Parse(ownerUID); err != nil {
		return []models.LicenseKey{}, nil
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT `+keyColumns+` FROM license_keys
		WHERE owner_uid = $1
		ORDER BY created_at DESC, id`, ownerUID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, classify(err))
	}
	keys, err := collectKeys(rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return keys, nil
}

// ToggleKey инвертирует административный флаг активности. Срок действия не меняется.
func (s *Storage) ToggleKey(ctx context.Context, id string) (models.LicenseKey, error) {
	const op = "storage.postgresql.ToggleKey"
	if _, err := uuid.Parse(id); err != nil {
		return models.LicenseKey{}, fmt.Errorf("%s: %w", op, models.ErrKeyNotFound)
	}
	return s.queryKey(ctx, op, `UPDATE license_keys
		SET is_active = NOT is_active, revision = revision + 1
		WHERE id = $1
		RETURNING `+keyColumns, id)
}

// DeleteKey безвозвратно удаляет ключ и возвращает его последний снимок.
func (s *Storage) DeleteKey(ctx context.Context, id string) (models.LicenseKey, error) {
	const op = "storage.postgresql.DeleteKey"
	if _, err := uuid.Parse(id); err != nil {
		return models.LicenseKey{}, fmt.Errorf("%s: %w", op, models.ErrKeyNotFound)
	}
	k, err := s.queryKey(ctx, op, `DELETE FROM license_keys WHERE id = $1 RETURNING `+keyColumns, id)
	if err != nil {
		return models.LicenseKey{}, err
	}
	k.Revision++
	return k, nil
}

// IncrementDevices регистрирует активацию устройства условным обновлением.
func (s *Storage) IncrementDevices(ctx context.Context, id string) (models.LicenseKey, error) {
	const op = "storage.postgresql.IncrementDevices"
	if _, err := uuid.Parse(id); err != nil {
		return models.LicenseKey{}, fmt.Errorf("%s: %w", op, models.ErrKeyNotFound)
	}
	k, err := s.queryKey(ctx, op, `UPDATE license_keys
		SET device_count = device_count + 1, revision = revision + 1
		WHERE id = $1 AND device_count < device_limit
		RETURNING `+keyColumns, id)
	if errors.Is(err, models.ErrKeyNotFound) {
		_, getErr := s.GetKey(ctx, id)
		return models.LicenseKey{}, missedActivation(op, getErr)
	}
	return k, err
}

// missedActivation разбирает условное обновление без строк по результату
// повторного чтения ключа. Ошибка чтения возвращается как есть.
func missedActivation(op string, getErr error) error {
	switch {
	case getErr == nil:
		return fmt.Errorf("%s: %w", op, models.ErrDeviceLimitExceeded)
	case errors.Is(getErr, models.ErrNotFound):
		return fmt.Errorf("%s: %w", op, models.ErrKeyNotFound)
	default:
		return fmt.Errorf("%s: %w", op, getErr)
	}
}

// DecrementDevices снимает активацию устройства, не опуская счётчик ниже нуля.
func (s *Storage) DecrementDevices(ctx context.Context, id string) (models.LicenseKey, error) {
	const op = "storage.postgresql.DecrementDevices"
	if _, err := uuid.Parse(id); err != nil {
		return models.LicenseKey{}, fmt.Errorf("%s: %w", op, models.ErrKeyNotFound)
	}
	return s.queryKey(ctx, op, `UPDATE license_keys
		SET device_count = GREATEST(device_count - 1, 0), revision = revision + 1
		WHERE id = $1
		RETURNING `+keyColumns, id)
}

func (s *Storage) queryKey(ctx context.Context, op, query string, args ...any) (models.LicenseKey, error) {
	k, err := scanKey(s.DB.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return models.LicenseKey{}, fmt.Errorf("%s: %w", op, models.ErrKeyNotFound)
	}
	if err != nil {
		if checkViolation(err) {
			return models.LicenseKey{}, fmt.Errorf("%s: %w", op, models.ErrDeviceLimitExceeded)
		}
		return models.LicenseKey{}, fmt.Errorf("%s: %w", op, classify(err))
	}
	return k, nil
}
