package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/license-keys/internal/models"
)

const accountColumns = `uid, username, email, password_hash, role, vip_until,
	trial_used, keys_created, invited_by, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (models.Account, error) {
	var (
		a         models.Account
		vipUntil  sql.NullTime
		invitedBy sql.NullString
	)
	if err := row.Scan(&a.UID, &a.Username, &a.Email, &a.PasswordHash, &a.Role, &vipUntil,
		&a.TrialUsed, &a.KeysCreated, &invitedBy, &a.CreatedAt); err != nil {
		return models.Account{}, err
	}
	if vipUntil.Valid {
		t := vipUntil.Time.UTC()
		a.VIPUntil = &t
	}
	a.InvitedBy = invitedBy.String
	a.CreatedAt = a.CreatedAt.UTC()
	return a, nil
}

// CreateAccount регистрирует учётную запись одной транзакцией.
//
// Регистрации сериализуются advisory-блокировкой, поэтому проверка лимита
// и вставка не могут перемешаться между параллельными запросами.
// Уникальный индекс по нормализованному имени остаётся последней защитой.
func (s *Storage) CreateAccount(ctx context.Context, acc models.NewAccount, limit int) (models.Account, error) {
	const op = "storage.postgresql.CreateAccount"

	normalized := models.NormalizeUsername(acc.Username)
	var created models.Account

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, quotaLockID); err != nil {
			return classify(err)
		}

		var taken bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM users WHERE username_normalized = $1)`, normalized).Scan(&taken); err != nil {
			return classify(err)
		}
		if taken {
			return models.ErrUsernameTaken
		}

		if acc.Role != models.RoleAdmin && limit > 0 {
			var count int
			if err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM users WHERE role <> $1`, models.RoleAdmin).Scan(&count); err != nil {
				return classify(err)
			}
			if count >= limit {
				return models.ErrQuotaExceeded
			}
		}

		var invitedBy string
		if acc.InviteCode != "" {
			err := tx.QueryRowContext(ctx, `UPDATE invites
				SET use_count = use_count + 1
				WHERE code = $1 AND use_count < max_uses
				RETURNING created_by`, acc.InviteCode).Scan(&invitedBy)
			if errors.Is(err, sql.ErrNoRows) {
				var exists bool
				if err := tx.QueryRowContext(ctx,
					`SELECT EXISTS (SELECT 1 FROM invites WHERE code = $1)`, acc.InviteCode).Scan(&exists); err != nil {
					return classify(err)
				}
				if exists {
					return models.ErrInviteExhausted
				}
				return models.ErrInviteNotFound
			}
			if err != nil {
				return classify(err)
			}
		}

		row := tx.QueryRowContext(ctx, `INSERT INTO users
				(uid, username, username_normalized, email, password_hash, role, vip_until, invited_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING `+accountColumns,
			uuid.NewString(), acc.Username, normalized, acc.Email, acc.PasswordHash, acc.Role,
			acc.VIPUntil, nullString(invitedBy), time.Now().UTC())
		a, err := scanAccount(row)
		if err != nil {
			if _, ok := uniqueViolation(err); ok {
				return models.ErrUsernameTaken
			}
			return classify(err)
		}
		created = a
		return nil
	})
	if err != nil {
		return models.Account{}, fmt.Errorf("%s: %w", op, err)
	}
	return created, nil
}

// GetAccount возвращает учётную запись по UID.
func (s *Storage) GetAccount(ctx context.Context, uid string) (models.Account, error) {
	const op = "storage.postgresql.GetAccount"
	if _, err := uuid.Parse(uid); err != nil {
		return models.Account{}, fmt.Errorf("%s: %w", op, models.ErrAccountNotFound)
	}
	a, err := scanAccount(s.DB.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM users WHERE uid = $1`, uid))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, fmt.Errorf("%s: %w", op, models.ErrAccountNotFound)
	}
	if err != nil {
		return models.Account{}, fmt.Errorf("%s: %w", op, classify(err))
	}
	return a, nil
}

// GetAccountByUsername возвращает учётную запись по имени без учёта регистра.
func (s *Storage) GetAccountByUsername(ctx context.Context, username string) (models.Account, error) {
	const op = "storage.postgresql.GetAccountByUsername"
	a, err := scanAccount(s.DB.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM users WHERE username_normalized = $1`,
		models.NormalizeUsername(username)))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, fmt.Errorf("%s: %w", op, models.ErrAccountNotFound)
	}
	if err != nil {
		return models.Account{}, fmt.Errorf("%s: %w", op, classify(err))
	}
	return a, nil
}

// ListAccounts возвращает все учётные записи, новые первыми.
func (s *Storage) ListAccounts(ctx context.Context) ([]models.Account, error) {
	const op = "storage.postgresql.ListAccounts"
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, classify(err))
	}
	defer func() {
		_ = rows.Close()
	}()

	result := make([]models.Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, classify(err))
	}
	return result, nil
}

// SetVIPUntil устанавливает срок действия VIP.
func (s *Storage) SetVIPUntil(ctx context.Context, uid string, until time.Time) (models.Account, error) {
	const op = "storage.postgresql.SetVIPUntil"
	return s.updateAccount(ctx, op, uid,
		`UPDATE users SET vip_until = $2 WHERE uid = $1 RETURNING `+accountColumns, until.UTC())
}

// PromoteToAdmin делает учётную запись администратором.
func (s *Storage) PromoteToAdmin(ctx context.Context, uid string, vipUntil time.Time) (models.Account, error) {
	const op = "storage.postgresql.PromoteToAdmin"
	return s.updateAccount(ctx, op, uid,
		`UPDATE users SET role = 'admin', vip_until = $2 WHERE uid = $1 RETURNING `+accountColumns, vipUntil.UTC())
}

func (s *Storage) updateAccount(ctx context.Context, op, uid, query string, args ...any) (models.Account, error) {
	if _, err := uuid.Parse(uid); err != nil {
		return models.Account{}, fmt.Errorf("%s: %w", op, models.ErrAccountNotFound)
	}
	a, err := scanAccount(s.DB.QueryRowContext(ctx, query, append([]any{uid}, args...)...))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, fmt.Errorf("%s: %w", op, models.ErrAccountNotFound)
	}
	if err != nil {
		return models.Account{}, fmt.Errorf("%s: %w", op, classify(err))
	}
	return a, nil
}

// DeleteAccount удаляет учётную запись вместе с ключами. Строка владельца
// блокируется первой, как в CreateKey, поэтому ключ, созданный параллельно,
// попадает в список удалённых, а не исчезает каскадно.
func (s *Storage) DeleteAccount(ctx context.Context, uid string) ([]models.LicenseKey, error) {
	const op = "storage.postgresql.DeleteAccount"
	if _, err := uuid.Parse(uid); err != nil {
		return nil, fmt.Errorf("%s: %w", op, models.ErrAccountNotFound)
	}

	var removed []models.LicenseKey
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var locked int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE uid = $1 FOR UPDATE`, uid).Scan(&locked)
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrAccountNotFound
		}
		if err != nil {
			return classify(err)
		}

		rows, err := tx.QueryContext(ctx,
			`DELETE FROM license_keys WHERE owner_uid = $1 RETURNING `+keyColumns, uid)
		if err != nil {
			return classify(err)
		}
		removed, err = collectKeys(rows)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE uid = $1`, uid)
		if err != nil {
			return classify(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return classify(err)
		}
		if n == 0 {
			return models.ErrAccountNotFound
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return removed, nil
}
