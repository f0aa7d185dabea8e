package auth_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/license-keys/internal/lib/jwt"
	"github.com/magabrotheeeer/license-keys/internal/lib/password"
	"github.com/magabrotheeeer/license-keys/internal/metrics"
	"github.com/magabrotheeeer/license-keys/internal/models"
	"github.com/magabrotheeeer/license-keys/internal/services/auth"
)

type AccountRepoMock struct {
	mock.Mock
}

func (m *AccountRepoMock) CreateAccount(ctx context.Context, acc models.NewAccount, limit int) (models.Account, error) {
	args := m.Called(ctx, acc, limit)
	return args.Get(0).(models.Account), args.Error(1)
}

func (m *AccountRepoMock) GetAccount(ctx context.Context, uid string) (models.Account, error) {
	args := m.Called(ctx, uid)
	return args.Get(0).(models.Account), args.Error(1)
}

func (m *AccountRepoMock) GetAccountByUsername(ctx context.Context, username string) (models.Account, error) {
	args := m.Called(ctx, username)
	return args.Get(0).(models.Account), args.Error(1)
}

func (m *AccountRepoMock) ListAccounts(ctx context.Context) ([]models.Account, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Account), args.Error(1)
}

func (m *AccountRepoMock) SetVIPUntil(ctx context.Context, uid string, until time.Time) (models.Account, error) {
	args := m.Called(ctx, uid, until)
	return args.Get(0).(models.Account), args.Error(1)
}

func (m *AccountRepoMock) PromoteToAdmin(ctx context.Context, uid string, vipUntil time.Time) (models.Account, error) {
	args := m.Called(ctx, uid, vipUntil)
	return args.Get(0).(models.Account), args.Error(1)
}

func (m *AccountRepoMock) DeleteAccount(ctx context.Context, uid string) ([]models.LicenseKey, error) {
	args := m.Called(ctx, uid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.LicenseKey), args.Error(1)
}

type hookRecorder struct {
	keys []models.LicenseKey
}

func (h *hookRecorder) KeysRemoved(_ context.Context, keys []models.LicenseKey) {
	h.keys = append(h.keys, keys...)
}

var (
	fixedNow = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	admin    = models.Account{UID: "admin-uid", Username: "root", Role: models.RoleAdmin}
	member   = models.Account{UID: "member-uid", Username: "member", Role: models.RoleStandard}
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newService(repo *AccountRepoMock, cfg auth.Config, opts ...auth.Option) *auth.AuthService {
	opts = append([]auth.Option{auth.WithClock(func() time.Time { return fixedNow })}, opts...)
	return auth.NewAuthService(repo, jwt.NewJWTMaker("secret", time.Hour), cfg, metrics.Discard(), discard(), opts...)
}

func TestAuthService_Register(t *testing.T) {
	tests := []struct {
		name       string
		cfg        auth.Config
		req        auth.RegisterRequest
		setupMocks func(r *AccountRepoMock)
		wantErr    error
		wantRole   string
	}{
		{
			name: "standard account with derived email",
			cfg:  auth.Config{UserLimit: 5},
			req:  auth.RegisterRequest{Username: " Player_One ", Password: "secret1"},
			setupMocks: func(r *AccountRepoMock) {
				r.On("CreateAccount", mock.Anything, mock.MatchedBy(func(a models.NewAccount) bool {
					return a.Username == "Player_One" &&
						a.Email == "player_one@venom.vip" &&
						a.Role == models.RoleStandard &&
						a.VIPUntil == nil &&
						password.CompareHash(a.PasswordHash, "secret1") == nil
				}), 5).Return(models.Account{UID: "u1", Username: "Player_One", Role: models.RoleStandard}, nil).Once()
			},
			wantRole: models.RoleStandard,
		},
		{
			name: "explicit email kept",
			cfg:  auth.Config{UserLimit: 5, EmailDomain: "example.org"},
			req:  auth.RegisterRequest{Username: "alice", Password: "secret1", Email: "a@b.c"},
			setupMocks: func(r *AccountRepoMock) {
				r.On("CreateAccount", mock.Anything, mock.MatchedBy(func(a models.NewAccount) bool {
					return a.Email == "a@b.c"
				}), 5).Return(models.Account{UID: "u2", Role: models.RoleStandard}, nil).Once()
			},
			wantRole: models.RoleStandard,
		},
		{
			name: "bootstrap pair creates admin",
			cfg:  auth.Config{UserLimit: 5, RequireInvite: true, BootstrapUsername: "Owner", BootstrapPassword: "letmein"},
			req:  auth.RegisterRequest{Username: "owner", Password: "letmein"},
			setupMocks: func(r *AccountRepoMock) {
				r.On("CreateAccount", mock.Anything, mock.MatchedBy(func(a models.NewAccount) bool {
					return a.Role == models.RoleAdmin && a.VIPUntil != nil && a.VIPUntil.Equal(models.AdminVIPUntil)
				}), 5).Return(models.Account{UID: "a1", Role: models.RoleAdmin}, nil).Once()
			},
			wantRole: models.RoleAdmin,
		},
		{
			name: "bootstrap username with wrong password is standard",
			cfg:  auth.Config{BootstrapUsername: "owner", BootstrapPassword: "letmein"},
			req:  auth.RegisterRequest{Username: "owner", Password: "guessing"},
			setupMocks: func(r *AccountRepoMock) {
				r.On("CreateAccount", mock.Anything, mock.MatchedBy(func(a models.NewAccount) bool {
					return a.Role == models.RoleStandard
				}), 0).Return(models.Account{UID: "u3", Role: models.RoleStandard}, nil).Once()
			},
			wantRole: models.RoleStandard,
		},
		{
			name:       "weak password",
			req:        auth.RegisterRequest{Username: "alice", Password: "123"},
			setupMocks: func(_ *AccountRepoMock) {},
			wantErr:    models.ErrWeakCredential,
		},
		{
			name:       "invalid username",
			req:        auth.RegisterRequest{Username: "a b", Password: "secret1"},
			setupMocks: func(_ *AccountRepoMock) {},
			wantErr:    models.ErrInvalidUsername,
		},
		{
			name:       "invite required",
			cfg:        auth.Config{RequireInvite: true},
			req:        auth.RegisterRequest{Username: "alice", Password: "secret1"},
			setupMocks: func(_ *AccountRepoMock) {},
			wantErr:    models.ErrInviteRequired,
		},
		{
			name: "quota exceeded",
			cfg:  auth.Config{UserLimit: 5},
			req:  auth.RegisterRequest{Username: "sixth", Password: "secret1"},
			setupMocks: func(r *AccountRepoMock) {
				r.On("CreateAccount", mock.Anything, mock.Anything, 5).
					Return(models.Account{}, models.ErrQuotaExceeded).Once()
			},
			wantErr: models.ErrConflict,
		},
		{
			name: "upstream retried once",
			req:  auth.RegisterRequest{Username: "alice", Password: "secret1"},
			setupMocks: func(r *AccountRepoMock) {
				r.On("CreateAccount", mock.Anything, mock.Anything, 0).
					Return(models.Account{}, models.Upstream(errors.New("conn reset"))).Once()
				r.On("CreateAccount", mock.Anything, mock.Anything, 0).
					Return(models.Account{UID: "u4", Role: models.RoleStandard}, nil).Once()
			},
			wantRole: models.RoleStandard,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(AccountRepoMock)
			tt.setupMocks(repo)
			svc := newService(repo, tt.cfg)

			got, err := svc.Register(context.Background(), tt.req)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantRole, got.Role)
			}
			repo.AssertExpectations(t)
		})
	}
}

func TestAuthService_Login(t *testing.T) {
	hash, err := password.GetHash("correctpassword")
	require.NoError(t, err)
	stored := models.Account{UID: "u1", Username: "alice", PasswordHash: hash, Role: models.RoleStandard}

	tests := []struct {
		name       string
		password   string
		setupMocks func(r *AccountRepoMock)
		wantErr    error
	}{
		{
			name:     "success",
			password: "correctpassword",
			setupMocks: func(r *AccountRepoMock) {
				r.On("GetAccountByUsername", mock.Anything, "alice").Return(stored, nil).Once()
			},
		},
		{
			name:     "bad credential",
			password: "wrong",
			setupMocks: func(r *AccountRepoMock) {
				r.On("GetAccountByUsername", mock.Anything, "alice").Return(stored, nil).Once()
			},
			wantErr: models.ErrBadCredential,
		},
		{
			name:     "unknown user",
			password: "whatever",
			setupMocks: func(r *AccountRepoMock) {
				r.On("GetAccountByUsername", mock.Anything, "alice").Return(models.Account{}, models.ErrAccountNotFound).Once()
			},
			wantErr: models.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(AccountRepoMock)
			tt.setupMocks(repo)
			svc := newService(repo, auth.Config{})

			token, acc, err := svc.Login(context.Background(), "alice", tt.password)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, token)
			} else {
				require.NoError(t, err)
				assert.NotEmpty(t, token)
				assert.Equal(t, "u1", acc.UID)
			}
			repo.AssertExpectations(t)
		})
	}
}

func TestAuthService_CurrentAccount(t *testing.T) {
	maker := jwt.NewJWTMaker("secret", time.Hour)
	token, err := maker.GenerateToken("alice", models.RoleStandard, "u1")
	require.NoError(t, err)

	t.Run("valid token", func(t *testing.T) {
		repo := new(AccountRepoMock)
		repo.On("GetAccount", mock.Anything, "u1").Return(models.Account{UID: "u1", Username: "alice"}, nil).Once()
		svc := newService(repo, auth.Config{})

		acc, err := svc.CurrentAccount(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, "alice", acc.Username)
	})

	t.Run("purged account", func(t *testing.T) {
		repo := new(AccountRepoMock)
		repo.On("GetAccount", mock.Anything, "u1").Return(models.Account{}, models.ErrAccountNotFound).Once()
		svc := newService(repo, auth.Config{})

		_, err := svc.CurrentAccount(context.Background(), token)
		assert.ErrorIs(t, err, models.ErrInvalidToken)
	})

	t.Run("garbage token", func(t *testing.T) {
		svc := newService(new(AccountRepoMock), auth.Config{})
		_, err := svc.CurrentAccount(context.Background(), "not-a-token")
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	})
}

func TestAuthService_GrantVIP(t *testing.T) {
	t.Run("sets vip until now plus hours", func(t *testing.T) {
		repo := new(AccountRepoMock)
		repo.On("GetAccount", mock.Anything, member.UID).Return(member, nil).Once()
		until := fixedNow.Add(72 * time.Hour)
		repo.On("SetVIPUntil", mock.Anything, member.UID, until).Return(models.Account{UID: member.UID, VIPUntil: &until}, nil).Once()
		svc := newService(repo, auth.Config{})

		acc, err := svc.GrantVIP(context.Background(), admin, member.UID, 72)
		require.NoError(t, err)
		assert.True(t, acc.IsVIP(fixedNow))
		repo.AssertExpectations(t)
	})

	t.Run("hours outside whitelist", func(t *testing.T) {
		svc := newService(new(AccountRepoMock), auth.Config{})
		_, err := svc.GrantVIP(context.Background(), admin, member.UID, 2)
		assert.ErrorIs(t, err, models.ErrVIPHoursNotAllowed)
	})

	t.Run("non-admin actor", func(t *testing.T) {
		svc := newService(new(AccountRepoMock), auth.Config{})
		_, err := svc.GrantVIP(context.Background(), member, member.UID, 24)
		assert.ErrorIs(t, err, models.ErrForbidden)
	})

	t.Run("admin target", func(t *testing.T) {
		repo := new(AccountRepoMock)
		repo.On("GetAccount", mock.Anything, admin.UID).Return(admin, nil).Once()
		svc := newService(repo, auth.Config{})
		_, err := svc.GrantVIP(context.Background(), admin, admin.UID, 24)
		assert.ErrorIs(t, err, models.ErrAdminImmutable)
	})
}

func TestAuthService_PurgeAccount(t *testing.T) {
	t.Run("removes keys and notifies hook", func(t *testing.T) {
		repo := new(AccountRepoMock)
		repo.On("GetAccount", mock.Anything, member.UID).Return(member, nil).Once()
		removed := []models.LicenseKey{{ID: "k1", OwnerUID: member.UID}, {ID: "k2", OwnerUID: member.UID}}
		repo.On("DeleteAccount", mock.Anything, member.UID).Return(removed, nil).Once()
		hook := &hookRecorder{}
		svc := newService(repo, auth.Config{}, auth.WithKeysRemovedHook(hook))

		require.NoError(t, svc.PurgeAccount(context.Background(), admin, member.UID))
		assert.Len(t, hook.keys, 2)
		repo.AssertExpectations(t)
	})

	t.Run("admin cannot be purged", func(t *testing.T) {
		repo := new(AccountRepoMock)
		repo.On("GetAccount", mock.Anything, admin.UID).Return(admin, nil).Once()
		svc := newService(repo, auth.Config{})

		err := svc.PurgeAccount(context.Background(), admin, admin.UID)
		assert.ErrorIs(t, err, models.ErrAdminImmutable)
		repo.AssertNotCalled(t, "DeleteAccount", mock.Anything, mock.Anything)
	})

	t.Run("missing account", func(t *testing.T) {
		repo := new(AccountRepoMock)
		repo.On("GetAccount", mock.Anything, "nope").Return(models.Account{}, models.ErrAccountNotFound).Once()
		svc := newService(repo, auth.Config{})

		err := svc.PurgeAccount(context.Background(), admin, "nope")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestAuthService_ListAccounts(t *testing.T) {
	repo := new(AccountRepoMock)
	repo.On("ListAccounts", mock.Anything).Return([]models.Account{admin, member}, nil).Once()
	svc := newService(repo, auth.Config{})

	got, err := svc.ListAccounts(context.Background(), admin)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = svc.ListAccounts(context.Background(), member)
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestAuthService_SeedAdmin(t *testing.T) {
	t.Run("creates new admin", func(t *testing.T) {
		repo := new(AccountRepoMock)
		repo.On("GetAccountByUsername", mock.Anything, "owner").Return(models.Account{}, models.ErrAccountNotFound).Once()
		repo.On("CreateAccount", mock.Anything, mock.MatchedBy(func(a models.NewAccount) bool {
			return a.Role == models.RoleAdmin && a.Email == "owner@venom.vip"
		}), 0).Return(models.Account{UID: "a1", Role: models.RoleAdmin}, nil).Once()
		svc := newService(repo, auth.Config{})

		acc, created, err := svc.SeedAdmin(context.Background(), "owner", "longpassword", "")
		require.NoError(t, err)
		assert.True(t, created)
		assert.True(t, acc.IsAdmin())
		repo.AssertExpectations(t)
	})

	t.Run("promotes existing account", func(t *testing.T) {
		repo := new(AccountRepoMock)
		repo.On("GetAccountByUsername", mock.Anything, "member").Return(member, nil).Once()
		repo.On("PromoteToAdmin", mock.Anything, member.UID, models.AdminVIPUntil).
			Return(models.Account{UID: member.UID, Role: models.RoleAdmin}, nil).Once()
		svc := newService(repo, auth.Config{})

		acc, created, err := svc.SeedAdmin(context.Background(), "member", "ignored", "")
		require.NoError(t, err)
		assert.False(t, created)
		assert.True(t, acc.IsAdmin())
		repo.AssertExpectations(t)
	})
}
