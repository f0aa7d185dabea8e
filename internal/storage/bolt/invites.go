package bolt

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/magabrotheeeer/license-keys/internal/models"
)

// CreateInvite сохраняет новый инвайт-код. Бакет индексирован по коду.
func (s *Storage) CreateInvite(ctx context.Context, invite models.InviteCode) (models.InviteCode, error) {
	const op = "storage.bolt.CreateInvite"

	invite.ID = uuid.NewString()
	invite.UseCount = 0
	invite.CreatedAt = time.Now().UTC()

	err := s.update(ctx, func(tx *bbolt.Tx) error {
		invites := tx.Bucket(bucketInvites)
		if invites.Get([]byte(invite.Code)) != nil {
			return models.ErrDuplicateKey
		}
		return put(invites, []byte(invite.Code), invite)
	})
	if err != nil {
		return models.InviteCode{}, fmt.Errorf("%s: %w", op, err)
	}
	return invite, nil
}

// ListInvites возвращает все инвайт-коды, новые первыми.
func (s *Storage) ListInvites(ctx context.Context) ([]models.InviteCode, error) {
	const op = "storage.bolt.ListInvites"
	result := make([]models.InviteCode, 0)
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		invites := tx.Bucket(bucketInvites)
		return invites.ForEach(func(k, _ []byte) error {
			inv, err := get[models.InviteCode](invites, k, models.ErrInviteNotFound)
			if err != nil {
				return err
			}
			result = append(result, inv)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}
