package services

import (
	"referral-service/internal/config"

	"github.com/shopspring/decimal"
)

var basisPointsDivisor = decimal.NewFromInt(10000)

// TierTable maps an agent's monthly revenue to a commission rate.
type TierTable struct {
	BaseRateBps             int64
	PremiumRateBps          int64
	PremiumThresholdKopecks int64
}

func TierTableFrom(cfg config.BusinessConfig) TierTable {
	return TierTable{
		BaseRateBps:             cfg.TierBaseRateBps,
		PremiumRateBps:          cfg.TierPremiumRateBps,
		PremiumThresholdKopecks: cfg.TierPremiumThresholdKopecks,
	}
}

// Rate returns the rate for the month's revenue and whether it is the premium tier.
func (t TierTable) Rate(revenueKopecks int64) (int64, bool) {
	if revenueKopecks >= t.PremiumThresholdKopecks {
		return t.PremiumRateBps, true
	}
	return t.BaseRateBps, false
}

// ApplyRate returns amount * bps / 10000, rounded half away from zero.
func ApplyRate(amountKopecks, bps int64) int64 {
	return decimal.NewFromInt(amountKopecks).
		Mul(decimal.NewFromInt(bps)).
		Div(basisPointsDivisor).
		Round(0).
		IntPart()
}

// formatRubles renders kopecks for user-facing messages.
func formatRubles(kopecks int64) string {
	return decimal.New(kopecks, -2).StringFixed(2) + " RUB"
}
