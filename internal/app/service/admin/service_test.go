package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/prepmed/billing/internal/app/service/ledger"
	"github.com/prepmed/billing/internal/models"
	"github.com/prepmed/billing/pkg/apperr"
	"github.com/prepmed/billing/pkg/config"
	"github.com/prepmed/billing/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
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
		&models.UserAccessFlag{},
		&models.SubscriptionLog{},
	))
	cfg := &config.Config{
		Tiers: []*types.SubscriptionTier{
			{ID: "tier_quarterly", DurationMonths: 3, StripePriceID: "price_q"},
			{ID: "tier_free", DurationMonths: 1},
		},
		Admin: config.AdminConfig{DefaultTierID: "tier_free"},
	}
	log := zap.NewNop().Sugar()
	return NewService(cfg, log, ledger.NewService(cfg, db, log)), db
}

func TestOverrideSubscription_ActivateDefaultTier(t *testing.T) {
	svc, _ := newTestService(t)

	sub, err := svc.OverrideSubscription(context.Background(), &OverrideRequest{
		UserID:                "u-1",
		HasActiveSubscription: true,
		OperatorID:            "admin-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "tier_free", sub.TierID)
	assert.Equal(t, types.ProviderKindNone, sub.ProviderKind)
	assert.Equal(t, types.SubscriptionStatusActive, sub.Status)
}

func TestOverrideSubscription_ActivateExplicitEndDate(t *testing.T) {
	svc, _ := newTestService(t)

	end := time.Now().AddDate(0, 6, 0)
	sub, err := svc.OverrideSubscription(context.Background(), &OverrideRequest{
		UserID:                "u-1",
		HasActiveSubscription: true,
		TierID:                "tier_quarterly",
		EndDate:               &end,
	})
	require.NoError(t, err)
	assert.WithinDuration(t, end, sub.EndDate, time.Second)

	past := time.Now().Add(-time.Hour)
	_, err = svc.OverrideSubscription(context.Background(), &OverrideRequest{
		UserID:                "u-2",
		HasActiveSubscription: true,
		TierID:                "tier_quarterly",
		EndDate:               &past,
	})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestOverrideSubscription_DeactivatePaidLeavesBillingNote(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	subID := "sub_1"
	now := time.Now()
	_, err := svc.ledger.ApplyTransition(ctx, &ledger.TransitionDraft{
		UserID:                 "u-1",
		TierID:                 "tier_quarterly",
		Status:                 types.SubscriptionStatusActive,
		ProviderKind:           types.ProviderKindStripe,
		ProviderSubscriptionID: &subID,
		StartDate:              now,
		EndDate:                now.AddDate(0, 3, 0),
		Reason:                 types.SubscriptionChangeReasonPurchase,
	})
	require.NoError(t, err)

	sub, err := svc.OverrideSubscription(ctx, &OverrideRequest{
		UserID:     "u-1",
		OperatorID: "admin-1",
	})
	require.NoError(t, err)
	assert.Equal(t, types.SubscriptionStatusInactive, sub.Status)

	var flag models.UserAccessFlag
	require.NoError(t, db.Where("user_id = ?", "u-1").First(&flag).Error)
	assert.False(t, flag.HasActiveSubscription)
}

func TestOverrideSubscription_DeactivateWithoutActiveRow(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.OverrideSubscription(context.Background(), &OverrideRequest{
		UserID: "u-1",
	})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestSendFreeGrant(t *testing.T) {
	svc, _ := newTestService(t)

	sub, err := svc.SendFreeGrant(context.Background(), "u-1", "tier_free", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, "tier_free", sub.TierID)

	_, err = svc.SendFreeGrant(context.Background(), "", "tier_free", "admin-1")
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}
