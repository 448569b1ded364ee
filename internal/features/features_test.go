package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestManager_Flags(t *testing.T) {
	m := NewDefaultManager(true, false, true)

	assert.True(t, m.IsEnabled(FeatureWeeklyClaims))
	assert.False(t, m.IsEnabled(FeatureCacheFallback))
	assert.False(t, m.IsEnabled("unknown"))

	m.Enable(FeatureCacheFallback)
	m.Disable(FeatureWeeklyClaims)
	m.Enable("unknown")

	assert.True(t, m.IsEnabled(FeatureCacheFallback))
	assert.False(t, m.IsEnabled(FeatureWeeklyClaims))
	assert.False(t, m.IsEnabled("unknown"))

	all := m.GetAll()
	assert.Len(t, all, 3)
	all[FeatureEventHooks] = FeatureFlag{Name: FeatureEventHooks}
	assert.True(t, m.IsEnabled(FeatureEventHooks))
}
