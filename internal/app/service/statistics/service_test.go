package statistics

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/prepmed/billing/internal/models"
	"github.com/prepmed/billing/pkg/config"
	"github.com/prepmed/billing/pkg/tool"
	"github.com/prepmed/billing/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&models.UserSubscription{},
		&models.SubscriptionDailySnapshot{},
	))
	cfg := &config.Config{
		Tiers: []*types.SubscriptionTier{
			{ID: "tier_quarterly", PriceCents: 4900, DurationMonths: 3},
			{ID: "tier_free", DurationMonths: 1},
		},
	}
	return New(cfg, db), db
}

func seedSubscription(t *testing.T, db *gorm.DB, userID string, kind types.ProviderKind, tierID string, start, end time.Time) {
	t.Helper()
	var subID *string
	if kind != types.ProviderKindNone {
		id := "sub_" + userID
		subID = &id
	}
	require.NoError(t, db.Create(&models.UserSubscription{
		ID:                     tool.GenerateUUIDV7(),
		UserID:                 userID,
		TierID:                 tierID,
		Status:                 types.SubscriptionStatusActive,
		ProviderKind:           kind,
		ProviderSubscriptionID: subID,
		StartDate:              start,
		EndDate:                end,
	}).Error)
}

func TestWriteDailySnapshot_Rerunnable(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	now := time.Now()

	seedSubscription(t, db, "u-1", types.ProviderKindStripe, "tier_quarterly", now, now.AddDate(0, 3, 0))
	seedSubscription(t, db, "u-2", types.ProviderKindNone, "tier_free", now, now.AddDate(0, 1, 0))

	require.NoError(t, svc.WriteDailySnapshot(ctx, now))
	require.NoError(t, svc.WriteDailySnapshot(ctx, now))

	var snaps []models.SubscriptionDailySnapshot
	require.NoError(t, db.Find(&snaps).Error)
	require.Len(t, snaps, 1)
	assert.EqualValues(t, 2, snaps[0].ActiveCount)
	assert.EqualValues(t, 2, snaps[0].NewCount)
}

func TestGetSubscriptionStatistic(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	now := time.Now()

	seedSubscription(t, db, "u-1", types.ProviderKindStripe, "tier_quarterly", now, now.AddDate(0, 3, 0))
	seedSubscription(t, db, "u-2", types.ProviderKindRazorpay, "tier_quarterly", now, now.AddDate(0, 3, 0))
	seedSubscription(t, db, "u-3", types.ProviderKindNone, "tier_free", now, now.AddDate(0, 1, 0))

	resp, err := svc.GetSubscriptionStatistic(ctx, &StatisticRequest{
		DataItems: []*StatisticDataItem{
			{ID: StatisticTypeTotalActiveSubscriptionCount},
			{ID: StatisticTypeProviderBreakdown},
			{ID: StatisticTypeDailyRevenueCents},
			{ID: StatisticTypeRewardGrantCount},
		},
	})
	require.NoError(t, err)

	total := resp.DataItems[StatisticTypeTotalActiveSubscriptionCount]
	require.Len(t, total, 1)
	assert.EqualValues(t, 3, total[0].Value)

	breakdown := resp.DataItems[StatisticTypeProviderBreakdown]
	assert.Len(t, breakdown, 3)

	revenue := resp.DataItems[StatisticTypeDailyRevenueCents]
	require.Len(t, revenue, 1)
	// Two paid quarterly purchases; the reward grant prices at zero.
	assert.EqualValues(t, 9800, revenue[0].Value)

	grants := resp.DataItems[StatisticTypeRewardGrantCount]
	require.Len(t, grants, 1)
	assert.EqualValues(t, 1, grants[0].Value)
}

func TestGetSubscriptionStatistic_RevenueSeriesOrdered(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	days := []time.Time{
		time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		time.Date(2026, 5, 2, 12, 0, 0, 0, time.UTC),
		time.Date(2026, 5, 3, 12, 0, 0, 0, time.UTC),
	}
	for i, day := range days {
		seedSubscription(t, db, fmt.Sprintf("u-%d", i), types.ProviderKindStripe, "tier_quarterly", day, day.AddDate(0, 3, 0))
	}

	resp, err := svc.GetSubscriptionStatistic(ctx, &StatisticRequest{
		DataItems: []*StatisticDataItem{{ID: StatisticTypeDailyRevenueCents}},
	})
	require.NoError(t, err)

	revenue := resp.DataItems[StatisticTypeDailyRevenueCents]
	require.Len(t, revenue, 3)
	for i, day := range days {
		assert.Equal(t, day.Format(time.DateOnly), revenue[i].Date)
		assert.EqualValues(t, 4900, revenue[i].Value)
	}
}

func TestGetSubscriptionStatistic_UnknownItem(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.GetSubscriptionStatistic(context.Background(), &StatisticRequest{
		DataItems: []*StatisticDataItem{{ID: StatisticType("bogus")}},
	})
	assert.Error(t, err)
}
