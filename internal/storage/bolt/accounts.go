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

// accountRecord — хранимое представление учётной записи (с хэшем пароля).
type accountRecord struct {
	UID          string     `json:"uid"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"password_hash"`
	Role         string     `json:"role"`
	VIPUntil     *time.Time `json:"vip_until,omitempty"`
	TrialUsed    bool       `json:"trial_used"`
	KeysCreated  int        `json:"keys_created"`
	InvitedBy    string     `json:"invited_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func (r accountRecord) model() models.Account {
	return models.Account{
		UID:          r.UID,
		Username:     r.Username,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		Role:         r.Role,
		VIPUntil:     r.VIPUntil,
		TrialUsed:    r.TrialUsed,
		KeysCreated:  r.KeysCreated,
		InvitedBy:    r.InvitedBy,
		CreatedAt:    r.CreatedAt,
	}
}

// CreateAccount регистрирует учётную запись в одной транзакции записи.
func (s *Storage) CreateAccount(ctx context.Context, acc models.NewAccount, limit int) (models.Account, error) {
	const op = "storage.bolt.CreateAccount"

	normalized := []byte(models.NormalizeUsername(acc.Username))
	var created accountRecord

	err := s.update(ctx, func(tx *bbolt.Tx) error {
		users := tx.Bucket(bucketUsers)
		usernames := tx.Bucket(bucketUsernames)

		if usernames.Get(normalized) != nil {
			return models.ErrUsernameTaken
		}

		if acc.Role != models.RoleAdmin && limit > 0 {
			count, err := countStandard(users)
			if err != nil {
				return err
			}
			if count >= limit {
				return models.ErrQuotaExceeded
			}
		}

		var invitedBy string
		if acc.InviteCode != "" {
			invites := tx.Bucket(bucketInvites)
			invite, err := get[models.InviteCode](invites, []byte(acc.InviteCode), models.ErrInviteNotFound)
			if err != nil {
				return err
			}
			if invite.Exhausted() {
				return models.ErrInviteExhausted
			}
			invite.UseCount++
			if err := put(invites, []byte(invite.Code), invite); err != nil {
				return err
			}
			invitedBy = invite.CreatedBy
		}

		created = accountRecord{
			UID:          uuid.NewString(),
			Username:     acc.Username,
			Email:        acc.Email,
			PasswordHash: acc.PasswordHash,
			Role:         acc.Role,
			VIPUntil:     utcPtr(acc.VIPUntil),
			InvitedBy:    invitedBy,
			CreatedAt:    time.Now().UTC(),
		}
		if err := put(users, []byte(created.UID), created); err != nil {
			return err
		}
		return usernames.Put(normalized, []byte(created.UID))
	})
	if err != nil {
		return models.Account{}, fmt.Errorf("%s: %w", op, err)
	}
	return created.model(), nil
}

func countStandard(users *bbolt.Bucket) (int, error) {
	count := 0
	err := users.ForEach(func(k, _ []byte) error {
		rec, err := get[accountRecord](users, k, models.ErrAccountNotFound)
		if err != nil {
			return err
		}
		if rec.Role != models.RoleAdmin {
			count++
		}
		return nil
	})
	return count, err
}

// GetAccount возвращает учётную запись по UID.
func (s *Storage) GetAccount(ctx context.Context, uid string) (models.Account, error) {
	const op = "storage.bolt.GetAccount"
	var rec accountRecord
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		var err error
		rec, err = get[accountRecord](tx.Bucket(bucketUsers), []byte(uid), models.ErrAccountNotFound)
		return err
	})
	if err != nil {
		return models.Account{}, fmt.Errorf("%s: %w", op, err)
	}
	return rec.model(), nil
}

// GetAccountByUsername возвращает учётную запись по имени без учёта регистра.
func (s *Storage) GetAccountByUsername(ctx context.Context, username string) (models.Account, error) {
	const op = "storage.bolt.GetAccountByUsername"
	var rec accountRecord
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		uid := tx.Bucket(bucketUsernames).Get([]byte(models.NormalizeUsername(username)))
		if uid == nil {
			return models.ErrAccountNotFound
		}
		var err error
		rec, err = get[accountRecord](tx.Bucket(bucketUsers), uid, models.ErrAccountNotFound)
		return err
	})
	if err != nil {
		return models.Account{}, fmt.Errorf("%s: %w", op, err)
	}
	return rec.model(), nil
}

// ListAccounts возвращает все учётные записи, новые первыми.
func (s *Storage) ListAccounts(ctx context.Context) ([]models.Account, error) {
	const op = "storage.bolt.ListAccounts"
	result := make([]models.Account, 0)
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		users := tx.Bucket(bucketUsers)
		return users.ForEach(func(k, _ []byte) error {
			rec, err := get[accountRecord](users, k, models.ErrAccountNotFound)
			if err != nil {
				return err
			}
			result = append(result, rec.model())
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

// SetVIPUntil устанавливает срок действия VIP.
func (s *Storage) SetVIPUntil(ctx context.Context, uid string, until time.Time) (models.Account, error) {
	const op = "storage.bolt.SetVIPUntil"
	return s.mutateAccount(ctx, op, uid, func(rec *accountRecord) {
		u := until.UTC()
		rec.VIPUntil = &u
	})
}

// PromoteToAdmin делает учётную запись администратором.
func (s *Storage) PromoteToAdmin(ctx context.Context, uid string, vipUntil time.Time) (models.Account, error) {
	const op = "storage.bolt.PromoteToAdmin"
	return s.mutateAccount(ctx, op, uid, func(rec *accountRecord) {
		u := vipUntil.UTC()
		rec.Role = models.RoleAdmin
		rec.VIPUntil = &u
	})
}

func (s *Storage) mutateAccount(ctx context.Context, op, uid string, fn func(rec *accountRecord)) (models.Account, error) {
	var rec accountRecord
	err := s.update(ctx, func(tx *bbolt.Tx) error {
		users := tx.Bucket(bucketUsers)
		var err error
		rec, err = get[accountRecord](users, []byte(uid), models.ErrAccountNotFound)
		if err != nil {
			return err
		}
		fn(&rec)
		return put(users, []byte(uid), rec)
	})
	if err != nil {
		return models.Account{}, fmt.Errorf("%s: %w", op, err)
	}
	return rec.model(), nil
}

// DeleteAccount удаляет учётную запись и все её ключи.
func (s *Storage) DeleteAccount(ctx context.Context, uid string) ([]models.LicenseKey, error) {
	const op = "storage.bolt.DeleteAccount"
	removed := make([]models.LicenseKey, 0)
	err := s.update(ctx, func(tx *bbolt.Tx) error {
		users := tx.Bucket(bucketUsers)
		rec, err := get[accountRecord](users, []byte(uid), models.ErrAccountNotFound)
		if err != nil {
			return err
		}

		keys := tx.Bucket(bucketKeys)
		owned, err := keysByOwner(keys, uid)
		if err != nil {
			return err
		}
		for _, k := range owned {
			if err := keys.Delete([]byte(k.ID)); err != nil {
				return err
			}
			if err := tx.Bucket(bucketKeyStrings).Delete([]byte(k.KeyString)); err != nil {
				return err
			}
			removed = append(removed, k)
		}

		if err := tx.Bucket(bucketUsernames).Delete([]byte(models.NormalizeUsername(rec.Username))); err != nil {
			return err
		}
		return users.Delete([]byte(uid))
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return removed, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
