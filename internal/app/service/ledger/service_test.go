package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/prepmed/billing/internal/models"
	"github.com/prepmed/billing/pkg/apperr"
	"github.com/prepmed/billing/pkg/config"
	"github.com/prepmed/billing/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
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
	return db
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	cfg := &config.Config{
		Tiers: []*types.SubscriptionTier{
			{ID: "tier_quarterly", DurationMonths: 3, StripePriceID: "price_q"},
			{ID: "tier_free", DurationMonths: 1},
		},
	}
	return NewService(cfg, newTestDB(t), zap.NewNop().Sugar())
}

func strPtr(s string) *string { return &s }

func activationDraft(userID, subID string) *TransitionDraft {
	now := time.Now()
	return &TransitionDraft{
		UserID:                 userID,
		TierID:                 "tier_quarterly",
		Status:                 types.SubscriptionStatusActive,
		ProviderKind:           types.ProviderKindStripe,
		ProviderSubscriptionID: strPtr(subID),
		ProviderStatus:         "active",
		StartDate:              now,
		EndDate:                now.AddDate(0, 3, 0),
		Reason:                 types.SubscriptionChangeReasonPurchase,
	}
}

func activeRowCount(t *testing.T, db *gorm.DB, userID string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&models.UserSubscription{}).
		Where("user_id = ? AND status = ?", userID, types.SubscriptionStatusActive).
		Count(&count).Error)
	return count
}

func TestApplyTransition_FirstActivation(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	row, err := s.ApplyTransition(ctx, activationDraft("u-1", "sub_1"))
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, types.SubscriptionStatusActive, row.Status)
	assert.Equal(t, "tier_quarterly", row.TierID)

	has, err := s.GetAccessFlag(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestApplyTransition_RepeatedDeliveryIsIdempotent(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	draft := activationDraft("u-1", "sub_1")

	first, err := s.ApplyTransition(ctx, draft)
	require.NoError(t, err)
	second, err := s.ApplyTransition(ctx, draft)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	var count int64
	require.NoError(t, s.db.Model(&models.UserSubscription{}).Where("user_id = ?", "u-1").Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestApplyTransition_RenewalExtendsInPlace(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	first, err := s.ApplyTransition(ctx, activationDraft("u-1", "sub_1"))
	require.NoError(t, err)

	renewal := activationDraft("u-1", "sub_1")
	renewal.StartDate = first.EndDate
	renewal.EndDate = first.EndDate.AddDate(0, 3, 0)
	renewal.Reason = types.SubscriptionChangeReasonRenew

	renewed, err := s.ApplyTransition(ctx, renewal)
	require.NoError(t, err)
	assert.Equal(t, first.ID, renewed.ID)
	assert.True(t, renewed.EndDate.After(first.EndDate))
	assert.EqualValues(t, 1, activeRowCount(t, s.db, "u-1"))
}

func TestApplyTransition_ReplaceKeepsSingleActiveRow(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	now := time.Now()

	// Reward grant first, then a paid purchase replaces it.
	_, err := s.ApplyTransition(ctx, &TransitionDraft{
		UserID:       "u-1",
		TierID:       "tier_free",
		Status:       types.SubscriptionStatusActive,
		ProviderKind: types.ProviderKindNone,
		StartDate:    now,
		EndDate:      now.AddDate(0, 1, 0),
		Reason:       types.SubscriptionChangeReasonRewardGrant,
	})
	require.NoError(t, err)

	paid, err := s.ApplyTransition(ctx, activationDraft("u-1", "sub_1"))
	require.NoError(t, err)

	assert.EqualValues(t, 1, activeRowCount(t, s.db, "u-1"))
	active, err := s.GetActiveSubscription(ctx, "u-1", now.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, paid.ID, active.ID)

	// History is preserved.
	var total int64
	require.NoError(t, s.db.Model(&models.UserSubscription{}).Where("user_id = ?", "u-1").Count(&total).Error)
	assert.EqualValues(t, 2, total)
}

func TestApplyTransition_ReplacedRowEndsWhenClosed(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	now := time.Now()

	grant, err := s.ApplyTransition(ctx, &TransitionDraft{
		UserID:       "u-1",
		TierID:       "tier_free",
		Status:       types.SubscriptionStatusActive,
		ProviderKind: types.ProviderKindNone,
		StartDate:    now,
		EndDate:      now.AddDate(0, 1, 0),
		Reason:       types.SubscriptionChangeReasonRewardGrant,
	})
	require.NoError(t, err)

	_, err = s.ApplyTransition(ctx, activationDraft("u-1", "sub_1"))
	require.NoError(t, err)

	var closed models.UserSubscription
	require.NoError(t, s.db.Where("id = ?", grant.ID).First(&closed).Error)
	assert.Equal(t, types.SubscriptionStatusInactive, closed.Status)
	assert.WithinDuration(t, time.Now(), closed.EndDate, 5*time.Second)
}

func TestApplyTransition_ConcurrentDistinctKeyActivations(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	now := time.Now()

	// A paid webhook and a reward grant land for the same user at once; the
	// per-user serialization in ApplyTransition must leave exactly one active
	// row whichever commits first.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := s.ApplyTransition(ctx, activationDraft("u-1", "sub_1"))
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := s.ApplyTransition(ctx, &TransitionDraft{
			UserID:       "u-1",
			TierID:       "tier_free",
			Status:       types.SubscriptionStatusActive,
			ProviderKind: types.ProviderKindNone,
			StartDate:    now,
			EndDate:      now.AddDate(0, 1, 0),
			Reason:       types.SubscriptionChangeReasonRewardGrant,
		})
		assert.NoError(t, err)
	}()
	wg.Wait()

	assert.EqualValues(t, 1, activeRowCount(t, s.db, "u-1"))
	has, err := s.GetAccessFlag(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestApplyTransition_CancelClearsAccess(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.ApplyTransition(ctx, activationDraft("u-1", "sub_1"))
	require.NoError(t, err)

	_, err = s.ApplyTransition(ctx, &TransitionDraft{
		UserID:                 "u-1",
		Status:                 types.SubscriptionStatusInactive,
		ProviderKind:           types.ProviderKindStripe,
		ProviderSubscriptionID: strPtr("sub_1"),
		ProviderStatus:         "canceled",
		Reason:                 types.SubscriptionChangeReasonCancel,
	})
	require.NoError(t, err)

	has, err := s.GetAccessFlag(ctx, "u-1")
	require.NoError(t, err)
	assert.False(t, has)
	assert.EqualValues(t, 0, activeRowCount(t, s.db, "u-1"))
}

func TestApplyTransition_CancelForUnknownSubscriptionIsNoop(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.ApplyTransition(ctx, activationDraft("u-1", "sub_1"))
	require.NoError(t, err)

	// Cancel names a subscription the ledger never saw; the active row stays.
	_, err = s.ApplyTransition(ctx, &TransitionDraft{
		UserID:                 "u-1",
		Status:                 types.SubscriptionStatusInactive,
		ProviderKind:           types.ProviderKindStripe,
		ProviderSubscriptionID: strPtr("sub_other"),
		Reason:                 types.SubscriptionChangeReasonCancel,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, activeRowCount(t, s.db, "u-1"))
}

func TestApplyTransition_SyncAndWebhookEitherOrder(t *testing.T) {
	// The synchronous confirmation and the provider webhook both announce the
	// same purchase; whichever lands second must fold into the same row.
	for _, order := range []string{"sync_first", "webhook_first"} {
		t.Run(order, func(t *testing.T) {
			s := newTestService(t)
			ctx := context.Background()

			sync := activationDraft("u-1", "sub_1")
			webhook := activationDraft("u-1", "sub_1")
			webhook.Reason = types.SubscriptionChangeReasonRenew

			var err error
			if order == "sync_first" {
				_, err = s.ApplyTransition(ctx, sync)
				require.NoError(t, err)
				_, err = s.ApplyTransition(ctx, webhook)
			} else {
				_, err = s.ApplyTransition(ctx, webhook)
				require.NoError(t, err)
				_, err = s.ApplyTransition(ctx, sync)
			}
			require.NoError(t, err)

			var count int64
			require.NoError(t, s.db.Model(&models.UserSubscription{}).Where("user_id = ?", "u-1").Count(&count).Error)
			assert.EqualValues(t, 1, count)
			assert.EqualValues(t, 1, activeRowCount(t, s.db, "u-1"))
		})
	}
}

func TestApplyTransition_ProviderSubscriptionOwnedByOtherUser(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.ApplyTransition(ctx, activationDraft("u-1", "sub_1"))
	require.NoError(t, err)

	hijack := activationDraft("u-2", "sub_1")
	_, err = s.ApplyTransition(ctx, hijack)
	assert.True(t, errors.Is(err, apperr.ErrConflict))
}

func TestApplyTransition_Validation(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.ApplyTransition(ctx, &TransitionDraft{Reason: types.SubscriptionChangeReasonPurchase})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	draft := activationDraft("u-1", "sub_1")
	draft.EndDate = draft.StartDate
	_, err = s.ApplyTransition(ctx, draft)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestListSubscriptions_Filters(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.ApplyTransition(ctx, activationDraft("u-1", "sub_1"))
	require.NoError(t, err)
	_, err = s.ApplyTransition(ctx, activationDraft("u-2", "sub_2"))
	require.NoError(t, err)

	rows, total, err := s.ListSubscriptions(ctx, []types.CommonFilter{
		{Field: "user_id", Operator: types.CommonFilterOperatorEq, Values: []any{"u-1"}},
	}, 1, 20)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, rows, 1)
	assert.Equal(t, "u-1", rows[0].UserID)

	rows, total, err = s.ListSubscriptions(ctx, []types.CommonFilter{
		{Field: "provider_kind", Operator: types.CommonFilterOperatorIn, Values: []any{string(types.ProviderKindStripe), string(types.ProviderKindRazorpay)}},
	}, 1, 20)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, rows, 2)

	day := time.Now().Format(time.DateOnly)
	_, total, err = s.ListSubscriptions(ctx, []types.CommonFilter{
		{Field: "start_date", Operator: types.CommonFilterOperatorDateRange, Values: []any{day, day}},
	}, 1, 20)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)

	_, total, err = s.ListSubscriptions(ctx, []types.CommonFilter{
		{Field: "start_date", Operator: types.CommonFilterOperatorDateRange, Values: []any{"1999-01-01", "1999-01-02"}},
	}, 1, 20)
	require.NoError(t, err)
	assert.EqualValues(t, 0, total)
}

func TestExpireDue(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	now := time.Now()

	past := activationDraft("u-1", "sub_1")
	past.StartDate = now.AddDate(0, -4, 0)
	past.EndDate = now.Add(-time.Hour)
	_, err := s.ApplyTransition(ctx, past)
	require.NoError(t, err)

	_, err = s.ApplyTransition(ctx, activationDraft("u-2", "sub_2"))
	require.NoError(t, err)

	expired, err := s.ExpireDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	assert.EqualValues(t, 0, activeRowCount(t, s.db, "u-1"))
	assert.EqualValues(t, 1, activeRowCount(t, s.db, "u-2"))

	has, err := s.GetAccessFlag(ctx, "u-1")
	require.NoError(t, err)
	assert.False(t, has)
}
