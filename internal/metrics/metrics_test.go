package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_Idempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))
}

func TestCounters(t *testing.T) {
	hits := Lookups.WithLabelValues("single", "hit")
	before := testutil.ToFloat64(hits)
	hits.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(hits))

	skipped := RowsSkipped.WithLabelValues("s", "empty_key")
	before = testutil.ToFloat64(skipped)
	skipped.Add(3)
	assert.Equal(t, before+3, testutil.ToFloat64(skipped))
}

func TestCollectors_Lint(t *testing.T) {
	RebuildCount.WithLabelValues("2026", "ok").Add(0)
	RebuildDuration.WithLabelValues("2026").Observe(0)
	Entries.WithLabelValues("2026").Set(0)
	RowsSkipped.WithLabelValues("2026", "empty_key").Add(0)
	StalenessChecks.WithLabelValues("fresh").Add(0)
	Lookups.WithLabelValues("single", "found").Add(0)
	LookupCache.WithLabelValues("hit").Add(0)

	for _, c := range Collectors() {
		problems, err := testutil.CollectAndLint(c)
		require.NoError(t, err)
		assert.Empty(t, problems)
	}
}
