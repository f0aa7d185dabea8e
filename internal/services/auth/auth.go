// Package auth содержит бизнес-логику учётных записей: регистрацию с лимитом,
// вход, проверку сессии и административные операции над пользователями.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/magabrotheeeer/license-keys/internal/lib/jwt"
	"github.com/magabrotheeeer/license-keys/internal/lib/password"
	"github.com/magabrotheeeer/license-keys/internal/lib/retry"
	"github.com/magabrotheeeer/license-keys/internal/lib/sl"
	"github.com/magabrotheeeer/license-keys/internal/metrics"
	"github.com/magabrotheeeer/license-keys/internal/models"
	"github.com/magabrotheeeer/license-keys/internal/services/policy"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_.-]{3,32}$`)

// AccountRepository описывает хранилище учётных записей.
type AccountRepository interface {
	// CreateAccount атомарно проверяет лимит и уникальность имени, гасит инвайт и вставляет запись.
	CreateAccount(ctx context.Context, acc models.NewAccount, limit int) (models.Account, error)
	GetAccount(ctx context.Context, uid string) (models.Account, error)
	GetAccountByUsername(ctx context.Context, username string) (models.Account, error)
	ListAccounts(ctx context.Context) ([]models.Account, error)
	SetVIPUntil(ctx context.Context, uid string, until time.Time) (models.Account, error)
	PromoteToAdmin(ctx context.Context, uid string, vipUntil time.Time) (models.Account, error)
	// DeleteAccount удаляет учётную запись вместе с ключами и возвращает удалённые ключи.
	DeleteAccount(ctx context.Context, uid string) ([]models.LicenseKey, error)
}

// KeysRemovedHook получает ключи, удалённые вместе с учётной записью.
type KeysRemovedHook interface {
	KeysRemoved(ctx context.Context, keys []models.LicenseKey)
}

// Config — параметры регистрации.
type Config struct {
	UserLimit     int
	RequireInvite bool
	EmailDomain   string
	// BootstrapUsername и BootstrapPassword — пара, регистрация с которой
	// создаёт администратора. Пустые значения отключают механизм.
	BootstrapUsername string
	BootstrapPassword string
}

func (c Config) isBootstrap(username, rawPassword string) bool {
	if c.BootstrapUsername == "" || c.BootstrapPassword == "" {
		return false
	}
	return models.NormalizeUsername(username) == models.NormalizeUsername(c.BootstrapUsername) &&
		rawPassword == c.BootstrapPassword
}

// RegisterRequest — данные регистрации.
type RegisterRequest struct {
	Username   string
	Password   string
	Email      string
	InviteCode string
}

// Option настраивает AuthService.
type Option func(*AuthService)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *AuthService) { s.now = now }
}

// WithKeysRemovedHook задаёт получателя ключей, удалённых при очистке учётной записи.
func WithKeysRemovedHook(h KeysRemovedHook) Option {
	return func(s *AuthService) { s.hook = h }
}

// AuthService отвечает за регистрацию, авторизацию и управление учётными записями.
type AuthService struct {
	users    AccountRepository
	jwtMaker jwt.Maker
	cfg      Config
	metrics  *metrics.Metrics
	log      *slog.Logger
	hook     KeysRemovedHook
	now      func() time.Time
}

// NewAuthService создает новый экземпляр AuthService.
func NewAuthService(users AccountRepository, jwtMaker jwt.Maker, cfg Config, m *metrics.Metrics, log *slog.Logger, opts ...Option) *AuthService {
	if cfg.EmailDomain == "" {
		cfg.EmailDomain = "venom.vip"
	}
	s := &AuthService{
		users:    users,
		jwtMaker: jwtMaker,
		cfg:      cfg,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register создаёт учётную запись. Проверка лимита, уникальности имени и
// погашение инвайта выполняются хранилищем одной транзакцией.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (models.Account, error) {
	const op = "services.auth.Register"

	acc, err := s.register(ctx, req)
	s.countRegistration(err)
	if err != nil {
		return models.Account{}, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("account registered",
		slog.String("uid", acc.UID),
		slog.String("username", acc.Username),
		slog.String("role", acc.Role))
	return acc, nil
}

func (s *AuthService) register(ctx context.Context, req RegisterRequest) (models.Account, error) {
	username := strings.TrimSpace(req.Username)
	normalized := models.NormalizeUsername(username)
	if !usernamePattern.MatchString(normalized) {
		return models.Account{}, models.ErrInvalidUsername
	}
	if err := password.CheckStrength(req.Password); err != nil {
		return models.Account{}, fmt.Errorf("%w: %w", models.ErrWeakCredential, err)
	}

	newAcc := models.NewAccount{
		Username:   username,
		Email:      strings.TrimSpace(req.Email),
		Role:       models.RoleStandard,
		InviteCode: strings.TrimSpace(req.InviteCode),
	}
	if newAcc.Email == "" {
		newAcc.Email = normalized + "@" + s.cfg.EmailDomain
	}

	if s.cfg.isBootstrap(username, req.Password) {
		vipUntil := models.AdminVIPUntil
		newAcc.Role = models.RoleAdmin
		newAcc.VIPUntil = &vipUntil
		newAcc.InviteCode = ""
		s.log.Warn("bootstrap admin credentials used for registration", slog.String("username", username))
	} else if s.cfg.RequireInvite && newAcc.InviteCode == "" {
		return models.Account{}, models.ErrInviteRequired
	}

	hash, err := password.GetHash(req.Password)
	if err != nil {
		return models.Account{}, err
	}
	newAcc.PasswordHash = hash

	return retry.OnceValue(ctx, func() (models.Account, error) {
		return s.users.CreateAccount(ctx, newAcc, s.cfg.UserLimit)
	})
}

func (s *AuthService) countRegistration(err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, models.ErrQuotaExceeded):
		outcome = "quota_exceeded"
	case errors.Is(err, models.ErrUsernameTaken):
		outcome = "username_taken"
	case errors.Is(err, models.ErrPolicyViolation):
		outcome = "rejected"
	default:
		outcome = "error"
	}
	s.metrics.Registrations.WithLabelValues(outcome).Inc()
}

// Login проверяет пароль и выпускает сессионный токен.
func (s *AuthService) Login(ctx context.Context, username, rawPassword string) (string, models.Account, error) {
	const op = "services.auth.Login"

	token, acc, err := s.login(ctx, username, rawPassword)
	if s.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "failed"
		}
		s.metrics.Logins.WithLabelValues(outcome).Inc()
	}
	if err != nil {
		return "", models.Account{}, fmt.Errorf("%s: %w", op, err)
	}
	return token, acc, nil
}

func (s *AuthService) login(ctx context.Context, username, rawPassword string) (string, models.Account, error) {
	acc, err := retry.OnceValue(ctx, func() (models.Account, error) {
		return s.users.GetAccountByUsername(ctx, username)
	})
	if err != nil {
		return "", models.Account{}, err
	}
	if err := password.CompareHash(acc.PasswordHash, rawPassword); err != nil {
		if password.IsMismatch(err) {
			return "", models.Account{}, models.ErrBadCredential
		}
		return "", models.Account{}, err
	}
	token, err := s.jwtMaker.GenerateToken(acc.Username, acc.Role, acc.UID)
	if err != nil {
		return "", models.Account{}, err
	}
	return token, acc, nil
}

// CurrentAccount проверяет токен и возвращает актуальную учётную запись.
// Удалённая учётная запись делает токен недействительным.
func (s *AuthService) CurrentAccount(ctx context.Context, token string) (models.Account, error) {
	const op = "services.auth.CurrentAccount"

	claims, err := s.jwtMaker.ParseToken(token)
	if err != nil {
		return models.Account{}, fmt.Errorf("%s: %w: %w", op, models.ErrInvalidToken, err)
	}
	acc, err := retry.OnceValue(ctx, func() (models.Account, error) {
		return s.users.GetAccount(ctx, claims.UserUID())
	})
	if errors.Is(err, models.ErrNotFound) {
		return models.Account{}, fmt.Errorf("%s: %w", op, models.ErrInvalidToken)
	}
	if err != nil {
		return models.Account{}, fmt.Errorf("%s: %w", op, err)
	}
	return acc, nil
}

// GetAccount возвращает учётную запись по UID.
func (s *AuthService) GetAccount(ctx context.Context, uid string) (models.Account, error) {
	const op = "services.auth.GetAccount"
	acc, err := retry.OnceValue(ctx, func() (models.Account, error) {
		return s.users.GetAccount(ctx, uid)
	})
	if err != nil {
		return models.Account{}, fmt.Errorf("%s: %w", op, err)
	}
	return acc, nil
}

// ListAccounts возвращает все учётные записи. Только для администратора.
func (s *AuthService) ListAccounts(ctx context.Context, actor models.Account) ([]models.Account, error) {
	const op = "services.auth.ListAccounts"
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%s: %w", op, models.ErrForbidden)
	}
	accounts, err := retry.OnceValue(ctx, func() ([]models.Account, error) {
		return s.users.ListAccounts(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return accounts, nil
}

// GrantVIP выдаёт VIP на hours часов от текущего момента.
func (s *AuthService) GrantVIP(ctx context.Context, actor models.Account, uid string, hours int) (models.Account, error) {
	const op = "services.auth.GrantVIP"
	if !actor.IsAdmin() {
		return models.Account{}, fmt.Errorf("%s: %w", op, models.ErrForbidden)
	}
	d, err := policy.VIPDuration(hours)
	if err != nil {
		return models.Account{}, fmt.Errorf("%s: %w", op, err)
	}

	target, err := s.GetAccount(ctx, uid)
	if err != nil {
		return models.Account{}, fmt.Errorf("%s: %w", op, err)
	}
	if target.IsAdmin() {
		return models.Account{}, fmt.Errorf("%s: %w", op, models.ErrAdminImmutable)
	}

	acc, err := s.users.SetVIPUntil(ctx, uid, s.now().UTC().Add(d))
	if err != nil {
		return models.Account{}, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("vip granted",
		slog.String("uid", uid),
		slog.Int("hours", hours),
		slog.String("by", actor.UID))
	return acc, nil
}

// PurgeAccount удаляет учётную запись и все её ключи. Администраторов удалить нельзя.
func (s *AuthService) PurgeAccount(ctx context.Context, actor models.Account, uid string) error {
	const op = "services.auth.PurgeAccount"
	if !actor.IsAdmin() {
		return fmt.Errorf("%s: %w", op, models.ErrForbidden)
	}
	target, err := s.GetAccount(ctx, uid)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if target.IsAdmin() {
		return fmt.Errorf("%s: %w", op, models.ErrAdminImmutable)
	}

	removed, err := s.users.DeleteAccount(ctx, uid)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if s.hook != nil && len(removed) > 0 {
		s.hook.KeysRemoved(ctx, removed)
	}
	s.log.Info("account purged",
		slog.String("uid", uid),
		slog.Int("keys_removed", len(removed)),
		slog.String("by", actor.UID))
	return nil
}

// SeedAdmin создаёт администратора или повышает существующую учётную запись.
// Второй результат true, если учётная запись была создана.
func (s *AuthService) SeedAdmin(ctx context.Context, username, rawPassword, email string) (models.Account, bool, error) {
	const op = "services.auth.SeedAdmin"

	existing, err := s.users.GetAccountByUsername(ctx, username)
	switch {
	case err == nil:
		acc, err := s.users.PromoteToAdmin(ctx, existing.UID, models.AdminVIPUntil)
		if err != nil {
			return models.Account{}, false, fmt.Errorf("%s: %w", op, err)
		}
		s.log.Info("account promoted to admin", slog.String("uid", acc.UID))
		return acc, false, nil
	case !errors.Is(err, models.ErrNotFound):
		return models.Account{}, false, fmt.Errorf("%s: %w", op, err)
	}

	normalized := models.NormalizeUsername(username)
	if !usernamePattern.MatchString(normalized) {
		return models.Account{}, false, fmt.Errorf("%s: %w", op, models.ErrInvalidUsername)
	}
	if err := password.CheckStrength(rawPassword); err != nil {
		return models.Account{}, false, fmt.Errorf("%s: %w: %w", op, models.ErrWeakCredential, err)
	}
	hash, err := password.GetHash(rawPassword)
	if err != nil {
		return models.Account{}, false, fmt.Errorf("%s: %w", op, err)
	}
	if email == "" {
		email = normalized + "@" + s.cfg.EmailDomain
	}
	vipUntil := models.AdminVIPUntil
	acc, err := s.users.CreateAccount(ctx, models.NewAccount{
		Username:     strings.TrimSpace(username),
		Email:        email,
		PasswordHash: hash,
		Role:         models.RoleAdmin,
		VIPUntil:     &vipUntil,
	}, 0)
	if err != nil {
		s.log.Error("failed to seed admin", sl.Err(err))
		return models.Account{}, false, fmt.Errorf("%s: %w", op, err)
	}
	return acc, true, nil
}
