package domain

import (
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/leadcore/internal/config"
)

var thousand = decimal.NewFromInt(1000)

// Cost prices a call as (in/1000)*inputRate + (out/1000)*outputRate.
func Cost(rate config.Rate, inputTokens, outputTokens int64) decimal.Decimal {
	in := decimal.NewFromInt(inputTokens).Div(thousand).Mul(rate.InputPer1K)
	out := decimal.NewFromInt(outputTokens).Div(thousand).Mul(rate.OutputPer1K)
	return in.Add(out)
}

// Evaluate derives the state of a day's cumulative cost against cap. Only a
// cost strictly above cap pauses; a cost exactly at cap is a soft alert.
func Evaluate(cost, capUSD, softRatio decimal.Decimal) State {
	if cost.GreaterThan(capUSD) {
		return StatePaused
	}
	if cost.GreaterThanOrEqual(capUSD.Mul(softRatio)) {
		return StateSoftAlert
	}
	return StateNormal
}
