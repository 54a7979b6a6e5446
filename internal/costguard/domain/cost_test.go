package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/leadcore/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestCost(t *testing.T) {
	rate := config.Rate{
		InputPer1K:  decimal.RequireFromString("0.0025"),
		OutputPer1K: decimal.RequireFromString("0.01"),
	}
	got := Cost(rate, 2000, 500)
	assert.True(t, got.Equal(decimal.RequireFromString("0.01")), got.String())
	assert.True(t, Cost(rate, 0, 0).IsZero())
}

func TestEvaluate(t *testing.T) {
	capUSD := decimal.NewFromInt(10)
	ratio := decimal.RequireFromString("0.8")

	assert.Equal(t, StateNormal, Evaluate(decimal.RequireFromString("7.99"), capUSD, ratio))
	assert.Equal(t, StateSoftAlert, Evaluate(decimal.RequireFromString("8"), capUSD, ratio))
	assert.Equal(t, StateSoftAlert, Evaluate(decimal.RequireFromString("10"), capUSD, ratio))
	assert.Equal(t, StatePaused, Evaluate(decimal.RequireFromString("10.01"), capUSD, ratio))
}
