package correlation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRules(t *testing.T) {
	rules := DefaultRules()
	require.NotEmpty(t, rules)

	engine := createTestEngine(t)
	for _, rule := range rules {
		assert.NoError(t, rule.Validate(), "default rule %q must validate", rule.Name)
		assert.True(t, rule.Enabled, "default rule %q must be enabled", rule.Name)
		assert.NoError(t, engine.AddRule(rule))
	}
}
