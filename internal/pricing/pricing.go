package pricing

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultCostPerKToken is the last-resort blended price when neither the
// model nor its provider is listed.
const DefaultCostPerKToken = 0.002

//go:embed pricing.yaml
var embeddedTable []byte

// Price is a per-1K-token price pair in USD.
type Price struct {
	InputPerK  float64 `yaml:"input_per_k"`
	OutputPerK float64 `yaml:"output_per_k"`
}

// Blended returns the 1:1 input/output average used for ranking.
func (p Price) Blended() float64 {
	return (p.InputPerK + p.OutputPerK) / 2
}

type fileTable struct {
	DefaultPerK float64          `yaml:"default_per_k_token"`
	Providers   map[string]Price `yaml:"providers"`
	Models      map[string]Price `yaml:"models"`
}

// Table resolves approximate prices by model name, falling back to a
// provider-level price and then a constant. It is read-only after load.
type Table struct {
	defaultPerK float64
	providers   map[string]Price
	models      map[string]Price
}

// Default returns the table compiled into the binary.
func Default() *Table {
	t, err := Parse(embeddedTable)
	if err != nil {
		panic(fmt.Sprintf("pricing: embedded table is invalid: %v", err))
	}
	return t
}

// Load reads a YAML override file. An empty path yields the embedded table.
func Load(path string) (*Table, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pricing file: %w", err)
	}
	return Parse(data)
}

// Parse builds a table from YAML bytes.
func Parse(data []byte) (*Table, error) {
	var ft fileTable
	if err := yaml.Unmarshal(data, &ft); err != nil {
		return nil, fmt.Errorf("failed to parse pricing table: %w", err)
	}

	t := &Table{
		defaultPerK: ft.DefaultPerK,
		providers:   make(map[string]Price, len(ft.Providers)),
		models:      make(map[string]Price, len(ft.Models)),
	}
	if t.defaultPerK <= 0 {
		t.defaultPerK = DefaultCostPerKToken
	}
	for k, v := range ft.Providers {
		t.providers[strings.ToLower(k)] = v
	}
	for k, v := range ft.Models {
		t.models[strings.ToLower(k)] = v
	}
	return t, nil
}

// Lookup returns the price for a model, trying the model name, then the
// provider, then the constant default (as a flat blended price).
func (t *Table) Lookup(provider, model string) Price {
	if p, ok := t.models[strings.ToLower(model)]; ok {
		return p
	}
	if p, ok := t.providers[strings.ToLower(provider)]; ok {
		return p
	}
	return Price{InputPerK: t.defaultPerK, OutputPerK: t.defaultPerK}
}

// CostPerKToken returns the blended ranking price for a model.
func (t *Table) CostPerKToken(provider, model string) float64 {
	return t.Lookup(provider, model).Blended()
}

// Estimate prices a completed request.
func (t *Table) Estimate(provider, model string, tokensIn, tokensOut int) float64 {
	p := t.Lookup(provider, model)
	return float64(tokensIn)/1000*p.InputPerK + float64(tokensOut)/1000*p.OutputPerK
}
