package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Validations.WithLabelValues("success").Inc()
	m.Validations.WithLabelValues("success").Inc()
	m.Validations.WithLabelValues("invalid").Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Validations.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Validations.WithLabelValues("invalid")))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
	assert.Equal(t, "license_keys_validations_total", families[0].GetName())
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}

func TestDiscard_Independent(t *testing.T) {
	a, b := Discard(), Discard()
	a.KeysCreated.WithLabelValues("trial").Inc()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.KeysCreated.WithLabelValues("trial")))
}
