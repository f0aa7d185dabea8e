// Package invites управляет инвайт-кодами регистрации.
package invites

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/license-keys/internal/lib/retry"
	"github.com/magabrotheeeer/license-keys/internal/lib/sl"
	"github.com/magabrotheeeer/license-keys/internal/models"
)

const (
	maxCodeAttempts = 3
	// MaxUsesLimit — верхняя граница числа использований одного кода.
	MaxUsesLimit = 1000
)

// Repository описывает хранилище инвайт-кодов.
type Repository interface {
	CreateInvite(ctx context.Context, invite models.InviteCode) (models.InviteCode, error)
	ListInvites(ctx context.Context) ([]models.InviteCode, error)
}

// Generator выпускает строки инвайт-кодов.
type Generator interface {
	Invite() (string, error)
}

// InviteService создаёт и перечисляет инвайт-коды. Все операции только для администратора.
type InviteService struct {
	repo Repository
	gen  Generator
	log  *slog.Logger
}

// NewInviteService создаёт сервис инвайт-кодов.
func NewInviteService(repo Repository, gen Generator, log *slog.Logger) *InviteService {
	return &InviteService{repo: repo, gen: gen, log: log}
}

// CreateInvite выпускает код на maxUses регистраций.
func (s *InviteService) CreateInvite(ctx context.Context, actor models.Account, maxUses int) (models.InviteCode, error) {
	const op = "services.invites.CreateInvite"
	if !actor.IsAdmin() {
		return models.InviteCode{}, fmt.Errorf("%s: %w", op, models.ErrForbidden)
	}
	if maxUses < 1 || maxUses > MaxUsesLimit {
		return models.InviteCode{}, fmt.Errorf("%s: %w: max uses must be within 1..%d", op, models.ErrPolicyViolation, MaxUsesLimit)
	}

	var (
		invite models.InviteCode
		err    error
	)
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		var code string
		code, err = s.gen.Invite()
		if err != nil {
			return models.InviteCode{}, fmt.Errorf("%s: %w", op, err)
		}
		invite, err = retry.OnceValue(ctx, func() (models.InviteCode, error) {
			return s.repo.CreateInvite(ctx, models.InviteCode{Code: code, CreatedBy: actor.UID, MaxUses: maxUses})
		})
		if !errors.Is(err, models.ErrDuplicateKey) {
			break
		}
	}
	if err != nil {
		s.log.Error("failed to create invite", sl.Err(err))
		return models.InviteCode{}, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("invite created", slog.String("id", invite.ID), slog.String("by", actor.UID), slog.Int("max_uses", maxUses))
	return invite, nil
}

// ListInvites возвращает все коды, новые первыми.
func (s *InviteService) ListInvites(ctx context.Context, actor models.Account) ([]models.InviteCode, error) {
	const op = "services.invites.ListInvites"
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%s: %w", op, models.ErrForbidden)
	}
	list, err := retry.OnceValue(ctx, func() ([]models.InviteCode, error) {
		return s.repo.ListInvites(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return list, nil
}
