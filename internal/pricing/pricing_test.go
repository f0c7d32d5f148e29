package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixture = `
default_per_k_token: 0.004
providers:
  acme: {input_per_k: 0.001, output_per_k: 0.003}
models:
  acme-large: {input_per_k: 0.01, output_per_k: 0.03}
`

func TestTable_LookupFallbackOrder(t *testing.T) {
	table, err := Parse([]byte(fixture))
	require.NoError(t, err)

	tests := []struct {
		name     string
		provider string
		model    string
		want     float64
	}{
		{name: "model listed", provider: "acme", model: "acme-large", want: 0.02},
		{name: "model lookup is case insensitive", provider: "acme", model: "ACME-Large", want: 0.02},
		{name: "provider fallback", provider: "acme", model: "acme-tiny", want: 0.002},
		{name: "constant last resort", provider: "unknown", model: "mystery", want: 0.004},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, table.CostPerKToken(tt.provider, tt.model), 1e-9)
		})
	}
}

func TestTable_Estimate(t *testing.T) {
	table, err := Parse([]byte(fixture))
	require.NoError(t, err)

	got := table.Estimate("acme", "acme-large", 2000, 1000)
	assert.InDelta(t, 0.02+0.03, got, 1e-9)
}

func TestParse_MissingDefaultUsesConstant(t *testing.T) {
	table, err := Parse([]byte("models: {}\n"))
	require.NoError(t, err)
	assert.InDelta(t, DefaultCostPerKToken, table.CostPerKToken("x", "y"), 1e-9)
}

func TestDefault_EmbeddedTableLoads(t *testing.T) {
	table := Default()
	assert.Greater(t, table.CostPerKToken("openai", "gpt-4o"), 0.0)
	assert.Greater(t, table.CostPerKToken("anthropic", "unlisted-claude"), 0.0)
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("models: [unclosed"))
	assert.Error(t, err)
}
