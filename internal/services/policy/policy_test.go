package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/license-keys/internal/models"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func vipUntil(d time.Duration) *time.Time {
	t := now.Add(d)
	return &t
}

func TestCanCreateKey(t *testing.T) {
	p := New(Config{TrialDurationMinutes: 60, MaxDeviceLimit: 5})

	tests := []struct {
		name string
		acc  models.Account
		want bool
	}{
		{"fresh standard", models.Account{Role: models.RoleStandard}, true},
		{"trial used", models.Account{Role: models.RoleStandard, TrialUsed: true}, false},
		{"vip with trial used", models.Account{Role: models.RoleStandard, TrialUsed: true, VIPUntil: vipUntil(time.Hour)}, true},
		{"vip expired exactly now", models.Account{Role: models.RoleStandard, TrialUsed: true, VIPUntil: vipUntil(0)}, false},
		{"admin", models.Account{Role: models.RoleAdmin, TrialUsed: true}, true},
		{"bootstrap admin", models.Account{Role: models.RoleAdmin, TrialUsed: true, VIPUntil: &models.AdminVIPUntil}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.CanCreateKey(tt.acc, now))
		})
	}
}

func TestDecide(t *testing.T) {
	p := New(Config{TrialDurationMinutes: 60, MaxDeviceLimit: 5})
	standard := models.Account{Role: models.RoleStandard}
	vip := models.Account{Role: models.RoleStandard, TrialUsed: true, VIPUntil: vipUntil(24 * time.Hour)}
	admin := models.Account{Role: models.RoleAdmin}

	tests := []struct {
		name    string
		acc     models.Account
		req     models.KeyRequest
		want    Grant
		wantErr error
	}{
		{
			name: "trial defaults",
			acc:  standard,
			req:  models.KeyRequest{AppTag: "cs2"},
			want: Grant{DurationMinutes: 60, DurationLabel: "1 Hour", DeviceLimit: 1, ConsumeTrial: true},
		},
		{
			name: "trial explicit 60",
			acc:  standard,
			req:  models.KeyRequest{AppTag: "cs2", DurationMinutes: 60, DeviceLimit: 1},
			want: Grant{DurationMinutes: 60, DurationLabel: "1 Hour", DeviceLimit: 1, ConsumeTrial: true},
		},
		{
			name:    "trial longer duration rejected",
			acc:     standard,
			req:     models.KeyRequest{AppTag: "cs2", DurationMinutes: 1440},
			wantErr: models.ErrDurationNotAllowed,
		},
		{
			name:    "trial extra devices rejected",
			acc:     standard,
			req:     models.KeyRequest{AppTag: "cs2", DeviceLimit: 2},
			wantErr: models.ErrDeviceLimitNotAllowed,
		},
		{
			name:    "trial already used",
			acc:     models.Account{Role: models.RoleStandard, TrialUsed: true},
			req:     models.KeyRequest{AppTag: "cs2"},
			wantErr: models.ErrKeyCreationDenied,
		},
		{
			name: "vip picks whitelisted duration",
			acc:  vip,
			req:  models.KeyRequest{AppTag: "cs2", DurationMinutes: 4320, DeviceLimit: 3},
			want: Grant{DurationMinutes: 4320, DurationLabel: "3 Days", DeviceLimit: 3},
		},
		{
			name: "admin defaults",
			acc:  admin,
			req:  models.KeyRequest{AppTag: "cs2"},
			want: Grant{DurationMinutes: 60, DurationLabel: "1 Hour", DeviceLimit: 1},
		},
		{
			name:    "admin off-list duration",
			acc:     admin,
			req:     models.KeyRequest{AppTag: "cs2", DurationMinutes: 61},
			wantErr: models.ErrDurationNotAllowed,
		},
		{
			name:    "admin device limit above max",
			acc:     admin,
			req:     models.KeyRequest{AppTag: "cs2", DeviceLimit: 6},
			wantErr: models.ErrDeviceLimitNotAllowed,
		},
		{
			name:    "negative device limit",
			acc:     admin,
			req:     models.KeyRequest{AppTag: "cs2", DeviceLimit: -1},
			wantErr: models.ErrDeviceLimitNotAllowed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Decide(tt.acc, tt.req, now)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, models.ErrPolicyViolation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMaxDurationAndDevices(t *testing.T) {
	p := New(Config{TrialDurationMinutes: 60, MaxDeviceLimit: 4})
	standard := models.Account{Role: models.RoleStandard}
	admin := models.Account{Role: models.RoleAdmin}

	assert.Equal(t, 60, p.MaxDuration(standard, now))
	assert.Equal(t, 43200, p.MaxDuration(admin, now))
	assert.Equal(t, 1, p.MaxDeviceLimit(standard, now))
	assert.Equal(t, 4, p.MaxDeviceLimit(admin, now))
}

func TestAllowedDurations(t *testing.T) {
	p := New(Config{TrialDurationMinutes: 30})

	trial := p.AllowedDurations(models.Account{Role: models.RoleStandard}, now)
	assert.Equal(t, []models.Duration{{Minutes: 30, Label: "30 Minutes"}}, trial)

	all := p.AllowedDurations(models.Account{Role: models.RoleAdmin}, now)
	require.Len(t, all, len(Durations))
	all[0].Label = "mutated"
	assert.Equal(t, "1 Hour", Durations[0].Label)
}

func TestNew_Defaults(t *testing.T) {
	p := New(Config{})
	g, err := p.Decide(models.Account{Role: models.RoleStandard}, models.KeyRequest{AppTag: "x"}, now)
	require.NoError(t, err)
	assert.Equal(t, 60, g.DurationMinutes)
	assert.Equal(t, 1, p.MaxDeviceLimit(models.Account{Role: models.RoleAdmin}, now))
}

func TestVIPDuration(t *testing.T) {
	d, err := VIPDuration(72)
	require.NoError(t, err)
	assert.Equal(t, 72*time.Hour, d)

	for _, bad := range []int{0, 2, -1, 100000} {
		_, err := VIPDuration(bad)
		assert.ErrorIs(t, err, models.ErrVIPHoursNotAllowed, "hours=%d", bad)
	}
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "10 Days", Label(14400))
	assert.Equal(t, "1 Minute", Label(1))
	assert.Equal(t, "45 Minutes", Label(45))
}
