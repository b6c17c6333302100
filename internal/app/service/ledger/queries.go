package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prepmed/billing/internal/models"
	"github.com/prepmed/billing/pkg/logctx"
	"github.com/prepmed/billing/pkg/types"

	"gorm.io/gorm"
)

// GetCurrentSubscription returns the user's most recent subscription row, or
// nil when the user never had one.
func (s *Service) GetCurrentSubscription(ctx context.Context, userID string) (*models.UserSubscription, error) {
	var row models.UserSubscription
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id desc").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load current subscription: %w", err)
	}
	return &row, nil
}

// GetActiveSubscription returns the user's active row granting access at the
// given instant, or nil.
func (s *Service) GetActiveSubscription(ctx context.Context, userID string, at time.Time) (*models.UserSubscription, error) {
	var row models.UserSubscription
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND end_date > ?", userID, types.SubscriptionStatusActive, at).
		Order("end_date desc").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load active subscription: %w", err)
	}
	return &row, nil
}

// GetAccessFlag returns the cached access boolean. A missing row means the
// user never went through any subscription flow and has no access.
func (s *Service) GetAccessFlag(ctx context.Context, userID string) (bool, error) {
	var flag models.UserAccessFlag
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&flag).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load access flag: %w", err)
	}
	return flag.HasActiveSubscription, nil
}

// ListSubscriptions pages through ledger rows for the admin screens.
func (s *Service) ListSubscriptions(ctx context.Context, filters []types.CommonFilter, page, pageSize int) ([]*models.UserSubscription, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 20
	}

	query := s.db.WithContext(ctx).Model(&models.UserSubscription{})
	for i := range filters {
		query = query.Where(&filters[i])
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count subscriptions: %w", err)
	}

	var rows []*models.UserSubscription
	if err := query.
		Order("id desc").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return rows, total, nil
}

// ExpireDue closes every active row whose period has ended. Each user is
// handled in its own transition so one bad row cannot wedge the sweep.
func (s *Service) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	var due []*models.UserSubscription
	if err := s.db.WithContext(ctx).
		Where("status = ? AND end_date <= ?", types.SubscriptionStatusActive, now).
		Find(&due).Error; err != nil {
		return 0, fmt.Errorf("failed to load due subscriptions: %w", err)
	}

	expired := 0
	for _, row := range due {
		draft := &TransitionDraft{
			UserID:                 row.UserID,
			Status:                 types.SubscriptionStatusInactive,
			ProviderKind:           row.ProviderKind,
			ProviderSubscriptionID: row.ProviderSubscriptionID,
			Reason:                 types.SubscriptionChangeReasonExpire,
			Extra:                  map[string]interface{}{"trigger": "expiry_sweep"},
		}
		if _, err := s.ApplyTransition(ctx, draft); err != nil {
			logctx.FromCtx(ctx, s.log).Errorf("failed to expire subscription, user_id=%s row_id=%s: %v", row.UserID, row.ID, err)
			continue
		}
		expired++
	}
	return expired, nil
}
