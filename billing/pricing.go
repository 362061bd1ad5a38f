// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

// Package billing implements token accounting: the pricing function, the
// response-size token estimate, JWT re-issue, and the middleware that
// debits user balances through a conditional UPDATE.
package billing

import (
	"math"
	"strings"

	"github.com/Her50/yukpomnang-sub000/intent"
)

// xafPerToken is the base conversion rate before the per-intent factor.
const xafPerToken = 0.004

// CostXAF prices n consumed LLM tokens for the given intent, in XAF.
// Search is free; service creation carries a 100x factor, everything
// else 10x. Cost in tokens is identical to cost in XAF (1:1), which
// keeps the two ledgers from drifting.
func CostXAF(intentLabel string, tokens int) float64 {
	if tokens <= 0 {
		return 0
	}
	switch intentLabel {
	case intent.IntentCreationService:
		return float64(tokens) * xafPerToken * 100
	case intent.IntentRechercheBesoin:
		return 0
	default:
		return float64(tokens) * xafPerToken * 10
	}
}

// CostTokens is CostXAF rounded to whole tokens for the debit UPDATE.
func CostTokens(intentLabel string, tokens int) int64 {
	return int64(math.Round(CostXAF(intentLabel, tokens)))
}

// defaultTokenEstimate applies when the response carries no usable signal.
const defaultTokenEstimate = 25

// EstimateTokens estimates consumed tokens from the response body when
// the handler did not report them. JSON responses map through fixed size
// tiers; other content is charged by length with a floor of 10.
func EstimateTokens(body []byte, contentType string) int {
	if len(body) == 0 {
		return defaultTokenEstimate
	}
	if strings.Contains(contentType, "json") {
		switch n := len(body); {
		case n <= 500:
			return 15
		case n <= 2000:
			return 25
		case n <= 5000:
			return 40
		default:
			return 60
		}
	}
	if est := len(body) / 100; est > 10 {
		return est
	}
	return 10
}
