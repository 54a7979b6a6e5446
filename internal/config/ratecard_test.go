package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRateCardResolveLongestPrefix(t *testing.T) {
	card, err := ParseRateCard(DefaultRateCardFile())
	require.NoError(t, err)

	mini := card.Resolve("gpt-4o-mini-2024-07-18")
	assert.Equal(t, "gpt-4o-mini", mini.Model)
	assert.True(t, mini.InputPer1K.Equal(decimal.RequireFromString("0.00015")))

	full := card.Resolve("GPT-4o-2024-08-06")
	assert.Equal(t, "gpt-4o", full.Model)

	unknown := card.Resolve("mystery-model")
	assert.Equal(t, "default", unknown.Model)
	assert.True(t, unknown.OutputPer1K.Equal(decimal.RequireFromString("0.002")))
}

func TestParseRateCardRejectsInvalid(t *testing.T) {
	_, err := ParseRateCard(RateCardFile{
		Default: ModelRate{Model: "default", InputPer1K: "0.001", OutputPer1K: "0.002"},
	})
	assert.Error(t, err)

	_, err = ParseRateCard(RateCardFile{
		Default: ModelRate{Model: "default", InputPer1K: "0.001", OutputPer1K: "0.002"},
		Models:  []ModelRate{{Model: "x", InputPer1K: "-1", OutputPer1K: "0"}},
	})
	assert.Error(t, err)

	_, err = ParseRateCard(RateCardFile{
		Default: ModelRate{Model: "default", InputPer1K: "abc", OutputPer1K: "0.002"},
		Models:  []ModelRate{{Model: "x", InputPer1K: "1", OutputPer1K: "1"}},
	})
	assert.Error(t, err)
}

func TestLoadRateCardFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ratecard.yml")
	body := `ratecard:
  default:
    model: default
    input_per_1k: "1"
    output_per_1k: "2"
  models:
    - model: test-model
      input_per_1k: "0.5"
      output_per_1k: "1.5"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	holder, err := LoadRateCardFile(path, zap.NewNop())
	require.NoError(t, err)

	rate := holder.Get().Resolve("test-model-v2")
	assert.Equal(t, "test-model", rate.Model)
	assert.True(t, rate.OutputPer1K.Equal(decimal.RequireFromString("1.5")))
	assert.Equal(t, "default", holder.Get().Resolve("other").Model)
}
