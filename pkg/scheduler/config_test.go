package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_MatchesDocumentedDefaults(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, PolicyDependencyAware, c.Policy)
	assert.Equal(t, 4, c.MaxParallel)
	assert.True(t, c.EnableTools)
	assert.Equal(t, 512, c.MaxTokens)
	assert.InDelta(t, 0.7, c.Temperature, 0.0001)
	assert.False(t, c.RetryFailed)
	assert.Equal(t, 2, c.MaxRetries)
	require.NoError(t, c.Validate())
}

func TestWithDefaults_FillsOnlyZeroNumericFields(t *testing.T) {
	c := Config{Policy: PolicySequential, MaxParallel: 8}.WithDefaults()
	assert.Equal(t, PolicySequential, c.Policy)
	assert.Equal(t, 8, c.MaxParallel)
	assert.Equal(t, 512, c.MaxTokens)
}

func TestValidate_RejectsUnknownPolicy(t *testing.T) {
	c := DefaultConfig()
	c.Policy = "not-a-policy"
	require.ErrorIs(t, c.Validate(), ErrConfiguration)
}

func TestValidate_RejectsNonPositiveMaxParallel(t *testing.T) {
	c := DefaultConfig()
	c.MaxParallel = 0
	require.ErrorIs(t, c.Validate(), ErrConfiguration)
}

func TestValidate_RejectsOutOfRangeTemperature(t *testing.T) {
	c := DefaultConfig()
	c.Temperature = 2.5
	require.ErrorIs(t, c.Validate(), ErrConfiguration)
}

func TestValidate_RejectsNegativeMaxRetries(t *testing.T) {
	c := DefaultConfig()
	c.MaxRetries = -1
	require.ErrorIs(t, c.Validate(), ErrConfiguration)
}

func TestEffectiveMaxParallel_ParallelPolicyIsFourX(t *testing.T) {
	c := DefaultConfig()
	c.Policy = PolicyParallel
	c.MaxParallel = 4
	assert.Equal(t, 16, c.effectiveMaxParallel())
}

func TestEffectiveMaxParallel_DependencyAwareUnscaled(t *testing.T) {
	c := DefaultConfig()
	c.MaxParallel = 4
	assert.Equal(t, 4, c.effectiveMaxParallel())
}
