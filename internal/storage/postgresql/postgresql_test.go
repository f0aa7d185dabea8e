package postgresql

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/magabrotheeeer/license-keys/internal/migrations"
	"github.com/magabrotheeeer/license-keys/internal/models"
)

func setupTestDatabase(t *testing.T) *Storage {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("keys"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})

	root, err := filepath.Abs("../../..")
	require.NoError(t, err)
	require.NoError(t, migrations.Run(s.DB, filepath.Join(root, "migrations")))
	return s
}

func standard(username string) models.NewAccount {
	return models.NewAccount{
		Username:     username,
		Email:        username + "@venom.vip",
		PasswordHash: "hash",
		Role:         models.RoleStandard,
	}
}

func hourKey(keyString string, consumeTrial bool) func(models.Account) (models.LicenseKey, bool, error) {
	return func(owner models.Account) (models.LicenseKey, bool, error) {
		if consumeTrial && owner.TrialUsed {
			return models.LicenseKey{}, false, models.ErrKeyCreationDenied
		}
		now := time.Now().UTC().Truncate(time.Microsecond)
		exp := now.Add(time.Hour)
		return models.LicenseKey{
			AppTag:          "cs2",
			KeyString:       keyString,
			DeviceLimit:     1,
			DurationMinutes: 60,
			DurationLabel:   "1 Hour",
			CreatedAt:       now,
			ExpiresAt:       &exp,
			IsActive:        true,
		}, consumeTrial, nil
	}
}

func TestStorage(t *testing.T) {
	s := setupTestDatabase(t)
	ctx := context.Background()

	t.Run("registration quota under concurrency", func(t *testing.T) {
		const limit = 5
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			ok      int
			refused int
		)
		for i := 0; i < 12; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.CreateAccount(ctx, standard(fmt.Sprintf("quota%d", i)), limit)
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					ok++
				} else if errors.Is(err, models.ErrQuotaExceeded) {
					refused++
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, limit, ok)
		assert.Equal(t, 7, refused)

		admin := standard("boss")
		admin.Role = models.RoleAdmin
		_, err := s.CreateAccount(ctx, admin, limit)
		assert.NoError(t, err)
	})

	t.Run("username is case-insensitive", func(t *testing.T) {
		_, err := s.CreateAccount(ctx, standard("QUOTA0"), 0)
		assert.ErrorIs(t, err, models.ErrUsernameTaken)

		got, err := s.GetAccountByUsername(ctx, "Quota0")
		require.NoError(t, err)
		assert.Equal(t, "hash", got.PasswordHash)
	})

	t.Run("trial consumed once", func(t *testing.T) {
		acc, err := s.CreateAccount(ctx, standard("trialist"), 0)
		require.NoError(t, err)

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			created int
		)
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.CreateKey(ctx, acc.UID, hourKey(fmt.Sprintf("VENOM-TRIAL-%d", i), true))
				if err == nil {
					mu.Lock()
					created++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, created)

		got, err := s.GetAccount(ctx, acc.UID)
		require.NoError(t, err)
		assert.True(t, got.TrialUsed)
		assert.Equal(t, 1, got.KeysCreated)
	})

	t.Run("key lifecycle", func(t *testing.T) {
		acc, err := s.CreateAccount(ctx, standard("lifecycle"), 0)
		require.NoError(t, err)

		key, err := s.CreateKey(ctx, acc.UID, hourKey("VENOM-LIFE-1", false))
		require.NoError(t, err)
		assert.Equal(t, int64(1), key.Revision)

		_, err = s.CreateKey(ctx, acc.UID, hourKey("VENOM-LIFE-1", false))
		assert.ErrorIs(t, err, models.ErrDuplicateKey)

		found, err := s.FindKeyByString(ctx, "VENOM-LIFE-1")
		require.NoError(t, err)
		assert.Equal(t, key.ID, found.ID)

		toggled, err := s.ToggleKey(ctx, key.ID)
		require.NoError(t, err)
		assert.False(t, toggled.IsActive)
		assert.True(t, key.ExpiresAt.Equal(*toggled.ExpiresAt))

		_, err = s.IncrementDevices(ctx, key.ID)
		require.NoError(t, err)
		_, err = s.IncrementDevices(ctx, key.ID)
		assert.ErrorIs(t, err, models.ErrDeviceLimitExceeded)

		deleted, err := s.DeleteKey(ctx, key.ID)
		require.NoError(t, err)
		assert.Equal(t, key.ID, deleted.ID)

		_, err = s.GetKey(ctx, key.ID)
		assert.ErrorIs(t, err, models.ErrKeyNotFound)
		_, err = s.GetKey(ctx, "not-a-uuid")
		assert.ErrorIs(t, err, models.ErrKeyNotFound)
	})

	t.Run("invites", func(t *testing.T) {
		_, err := s.CreateInvite(ctx, models.InviteCode{Code: "INV-PG", CreatedBy: "boss", MaxUses: 1})
		require.NoError(t, err)

		withInvite := standard("invited")
		withInvite.InviteCode = "INV-PG"
		acc, err := s.CreateAccount(ctx, withInvite, 0)
		require.NoError(t, err)
		assert.Equal(t, "boss", acc.InvitedBy)

		again := standard("invited2")
		again.InviteCode = "INV-PG"
		_, err = s.CreateAccount(ctx, again, 0)
		assert.ErrorIs(t, err, models.ErrInviteExhausted)

		again.InviteCode = "MISSING"
		_, err = s.CreateAccount(ctx, again, 0)
		assert.ErrorIs(t, err, models.ErrInviteNotFound)
	})

	t.Run("delete account cascades", func(t *testing.T) {
		acc, err := s.CreateAccount(ctx, standard("cascade"), 0)
		require.NoError(t, err)
		_, err = s.CreateKey(ctx, acc.UID, hourKey("VENOM-CASCADE", false))
		require.NoError(t, err)

		removed, err := s.DeleteAccount(ctx, acc.UID)
		require.NoError(t, err)
		assert.Len(t, removed, 1)

		_, err = s.FindKeyByString(ctx, "VENOM-CASCADE")
		assert.ErrorIs(t, err, models.ErrKeyNotFound)
	})

	t.Run("delete account waits for concurrent key creation", func(t *testing.T) {
		acc, err := s.CreateAccount(ctx, standard("racer"), 0)
		require.NoError(t, err)

		locked := make(chan struct{})
		release := make(chan struct{})
		build := hourKey("VENOM-RACER", false)
		created := make(chan error, 1)
		go func() {
			_, err := s.CreateKey(ctx, acc.UID, func(owner models.Account) (models.LicenseKey, bool, error) {
				close(locked)
				<-release
				return build(owner)
			})
			created <- err
		}()
		<-locked

		type result struct {
			removed []models.LicenseKey
			err     error
		}
		deleted := make(chan result, 1)
		go func() {
			removed, err := s.DeleteAccount(ctx, acc.UID)
			deleted <- result{removed: removed, err: err}
		}()

		require.Eventually(t, func() bool {
			var waiting int
			err := s.DB.QueryRowContext(ctx, `SELECT count(*) FROM pg_stat_activity
				WHERE wait_event_type = 'Lock' AND datname = current_database()`).Scan(&waiting)
			return err == nil && waiting > 0
		}, 5*time.Second, 20*time.Millisecond)

		close(release)
		require.NoError(t, <-created)

		res := <-deleted
		require.NoError(t, res.err)
		require.Len(t, res.removed, 1)
		assert.Equal(t, "VENOM-RACER", res.removed[0].KeyString)
	})
}

func TestMissedActivation(t *testing.T) {
	outage := models.Upstream(errors.New("connection reset"))

	tests := []struct {
		name   string
		getErr error
		want   error
	}{
		{name: "key exists", getErr: nil, want: models.ErrDeviceLimitExceeded},
		{name: "key missing", getErr: fmt.Errorf("get: %w", models.ErrKeyNotFound), want: models.ErrKeyNotFound},
		{name: "storage unavailable", getErr: outage, want: models.ErrUpstreamUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := missedActivation("op", tt.getErr)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.NotErrorIs(t, missedActivation("op", outage), models.ErrKeyNotFound)
}
