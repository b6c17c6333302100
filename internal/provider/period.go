package provider

import (
	"time"

	"github.com/prepmed/billing/pkg/types"

	"go.uber.org/zap"
)

// resolvePeriodEnd prefers the provider-reported period end; when the provider
// has none yet (e.g. an authenticated mandate before the first charge) it
// falls back to start plus the tier duration and marks the source so the
// fallback stays visible downstream.
func resolvePeriodEnd(log *zap.SugaredLogger, tier *types.SubscriptionTier, start, providerEnd time.Time) (time.Time, PeriodSource) {
	if !providerEnd.IsZero() && providerEnd.After(start) {
		return providerEnd, PeriodSourceProvider
	}
	end := start.AddDate(0, tier.DurationMonths, 0)
	log.Infow("period end from tier duration",
		"tier_id", tier.ID,
		"start", start,
		"end", end,
	)
	return end, PeriodSourceTierDuration
}
