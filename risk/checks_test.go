package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestEvaluate(t *testing.T) {
	t.Parallel()

	policy := Policy{
		MaxOpenPositions:    2,
		MaxPositionNotional: dec("50000"),
		MaxAccountNotional:  dec("80000"),
	}

	tests := []struct {
		name  string
		in    Intent
		exp   Exposure
		codes []string
	}{
		{"allowed", Intent{"BTCUSDT", dec("45000")}, Exposure{}, nil},
		{"zero notional", Intent{"BTCUSDT", decimal.Zero}, Exposure{}, []string{"NO_NOTIONAL"}},
		{"too many", Intent{"BTCUSDT", dec("10")}, Exposure{OpenPositions: 2, Notional: dec("20")}, []string{"TOO_MANY_POSITIONS"}},
		{"too large", Intent{"BTCUSDT", dec("50001")}, Exposure{}, []string{"POSITION_TOO_LARGE"}},
		{"account cap", Intent{"ETHUSDT", dec("40000")}, Exposure{OpenPositions: 1, Notional: dec("45000")}, []string{"ACCOUNT_TOO_LARGE"}},
		{"all caps", Intent{"ETHUSDT", dec("60000")}, Exposure{OpenPositions: 2, Notional: dec("45000")},
			[]string{"TOO_MANY_POSITIONS", "POSITION_TOO_LARGE", "ACCOUNT_TOO_LARGE"}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Evaluate(policy, tt.in, tt.exp)
			assert.Equal(t, len(tt.codes) == 0, got.Allowed)
			var codes []string
			for _, v := range got.Violations {
				codes = append(codes, v.Code)
			}
			assert.Equal(t, tt.codes, codes)
		})
	}
}

func TestEvaluateUnlimited(t *testing.T) {
	t.Parallel()

	got := Evaluate(Policy{}, Intent{"BTCUSDT", dec("1e12")}, Exposure{OpenPositions: 1000, Notional: dec("1e15")})
	assert.True(t, got.Allowed)
	assert.Empty(t, got.Reason())
}

func TestCheckExposure(t *testing.T) {
	t.Parallel()

	p := Policy{MaxAccountNotional: dec("100000")}
	assert.True(t, CheckExposure(p, Exposure{Notional: dec("100000")}).Allowed)

	d := CheckExposure(p, Exposure{Notional: dec("100000.01")})
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason(), "exceeds max 100000")
}
