package postgresql

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/license-keys/internal/models"
)

const inviteColumns = `id, code, created_by, use_count, max_uses, created_at`

func scanInvite(row rowScanner) (models.InviteCode, error) {
	var c models.InviteCode
	if err := row.Scan(&c.ID, &c.Code, &c.CreatedBy, &c.UseCount, &c.MaxUses, &c.CreatedAt); err != nil {
		return models.InviteCode{}, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

// CreateInvite сохраняет новый инвайт-код.
func (s *Storage) CreateInvite(ctx context.Context, invite models.InviteCode) (models.InviteCode, error) {
	const op = "storage.postgresql.CreateInvite"
	if invite.ID == "" {
		invite.ID = uuid.NewString()
	}
	if invite.CreatedAt.IsZero() {
		invite.CreatedAt = time.Now().UTC()
	}
	c, err := scanInvite(s.DB.QueryRowContext(ctx, `INSERT INTO invites
			(id, code, created_by, use_count, max_uses, created_at)
		VALUES ($1, $2, $3, 0, $4, $5)
		RETURNING `+inviteColumns,
		invite.ID, invite.Code, invite.CreatedBy, invite.MaxUses, invite.CreatedAt))
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return models.InviteCode{}, fmt.Errorf("%s: %w", op, models.ErrDuplicateKey)
		}
		return models.InviteCode{}, fmt.Errorf("%s: %w", op, classify(err))
	}
	return c, nil
}

// ListInvites возвращает все инвайт-коды, новые первыми.
func (s *Storage) ListInvites(ctx context.Context) ([]models.InviteCode, error) {
	const op = "storage.postgresql.ListInvites"
	rows, err := s.DB.QueryContext(ctx, `SELECT `+inviteColumns+` FROM invites ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, classify(err))
	}
	defer func() {
		_ = rows.Close()
	}()

	result := make([]models.InviteCode, 0)
	for rows.Next() {
		c, err := scanInvite(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, classify(err))
	}
	return result, nil
}
