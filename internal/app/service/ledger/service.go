package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prepmed/billing/internal/models"
	"github.com/prepmed/billing/pkg/apperr"
	"github.com/prepmed/billing/pkg/config"
	"github.com/prepmed/billing/pkg/logctx"
	"github.com/prepmed/billing/pkg/tool"
	"github.com/prepmed/billing/pkg/types"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Service owns all writes to user_subscription and user_access_flag. Every
// state change funnels through ApplyTransition so the single-active-row
// invariant and the access-flag recompute happen in one transaction,
// regardless of which flow (checkout, webhook, reward, admin, expiry sweep)
// triggered the change.
type Service struct {
	cfg *config.Config
	db  *gorm.DB
	log *zap.SugaredLogger
}

func NewService(cfg *config.Config, db *gorm.DB, log *zap.SugaredLogger) *Service {
	return &Service{cfg: cfg, db: db, log: log}
}

// TransitionDraft describes one desired ledger change.
type TransitionDraft struct {
	UserID                 string
	TierID                 string
	Status                 types.SubscriptionStatus
	ProviderKind           types.ProviderKind
	ProviderSubscriptionID *string
	ProviderCustomerID     string
	ProviderStatus         string
	StartDate              time.Time
	EndDate                time.Time
	Reason                 types.SubscriptionChangeReason
	// Extra lands in the audit log (operator id, trace id, trigger source).
	Extra map[string]interface{}
}

func (d *TransitionDraft) validate() error {
	if d.UserID == "" {
		return fmt.Errorf("%w: transition missing user id", apperr.ErrValidation)
	}
	if d.Reason == "" {
		return fmt.Errorf("%w: transition missing reason", apperr.ErrValidation)
	}
	if d.Status == types.SubscriptionStatusActive {
		if d.TierID == "" {
			return fmt.Errorf("%w: activation missing tier id", apperr.ErrValidation)
		}
		if d.EndDate.IsZero() || !d.EndDate.After(d.StartDate) {
			return fmt.Errorf("%w: activation period is empty", apperr.ErrValidation)
		}
	}
	return nil
}

// changeRecord is one before/after pair destined for the audit log.
type changeRecord struct {
	before *models.UserSubscription
	after  *models.UserSubscription
	reason types.SubscriptionChangeReason
	extra  map[string]interface{}
}

// ApplyTransition applies the draft against the user's current ledger state.
// Outcomes:
//   - same (provider, subscription id) as an existing row: refresh that row in
//     place; a delivery carrying nothing new is a no-op, which is what makes
//     repeated webhook deliveries harmless.
//   - activation with a different active row present: the old row is closed
//     and the new one inserted in the same transaction, so there is never an
//     instant with two active rows.
//   - deactivation: the targeted row (by provider subscription id, or the
//     user's active row for provider-less drafts) flips to inactive.
//
// The access flag is recomputed before commit in every case.
func (s *Service) ApplyTransition(ctx context.Context, draft *TransitionDraft) (*models.UserSubscription, error) {
	if err := draft.validate(); err != nil {
		return nil, err
	}

	var result *models.UserSubscription
	var changes []*changeRecord

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		changes = changes[:0]

		if err := s.lockUser(ctx, tx, draft.UserID); err != nil {
			return err
		}

		match, err := s.findProviderRow(ctx, tx, draft)
		if err != nil {
			return err
		}
		if match != nil && match.UserID != draft.UserID {
			return fmt.Errorf("%w: provider subscription %s/%s belongs to another user",
				apperr.ErrConflict, draft.ProviderKind, *draft.ProviderSubscriptionID)
		}

		active, err := s.findActiveRow(ctx, tx, draft.UserID)
		if err != nil {
			return err
		}

		switch {
		case match != nil:
			result, err = s.refreshRow(ctx, tx, match, draft, &changes)
			if err != nil {
				return err
			}
			// Reactivating a provider row while a different row is active
			// would break the invariant; close the other row first.
			if result.Status == types.SubscriptionStatusActive && active != nil && active.ID != result.ID {
				if err := s.closeRow(ctx, tx, active, draft, &changes); err != nil {
					return err
				}
			}
		case draft.Status == types.SubscriptionStatusActive:
			if active != nil {
				if err := s.closeRow(ctx, tx, active, draft, &changes); err != nil {
					return err
				}
			}
			result, err = s.insertRow(ctx, tx, draft, &changes)
			if err != nil {
				return err
			}
		default:
			// Deactivation. Provider-less drafts (admin, expiry of reward rows)
			// target whatever row is active; provider drafts must name the row,
			// and an unknown subscription id closes nothing.
			if active != nil && active.ProviderKind == draft.ProviderKind &&
				(draft.ProviderSubscriptionID == nil || active.SameProviderSubscription(draft.ProviderKind, draft.ProviderSubscriptionID)) {
				if err := s.closeRow(ctx, tx, active, draft, &changes); err != nil {
					return err
				}
				result = active
			} else {
				logctx.FromCtx(ctx, s.log).Warnf("deactivation matched no row, user_id=%s provider=%s", draft.UserID, draft.ProviderKind)
			}
		}

		return s.recomputeAccessFlag(ctx, tx, draft.UserID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply subscription transition: %w", err)
	}

	if len(changes) > 0 {
		go s.writeLogs(ctx, draft.UserID, changes)
	}
	return result, nil
}

// lockUser serializes transitions per user for the rest of the transaction.
// Without it two activations with distinct provider keys (say a webhook racing
// a reward grant) read the same active-row snapshot under read committed and
// both insert, leaving two active rows. The advisory lock is released at
// commit/rollback. Sqlite has no advisory locks and runs its writers on a
// single connection, which serializes them anyway.
func (s *Service) lockUser(ctx context.Context, tx *gorm.DB, userID string) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	if err := tx.WithContext(ctx).Exec("SELECT pg_advisory_xact_lock(hashtext(?))", userID).Error; err != nil {
		return fmt.Errorf("failed to lock user ledger: %w", err)
	}
	return nil
}

func (s *Service) findProviderRow(ctx context.Context, tx *gorm.DB, draft *TransitionDraft) (*models.UserSubscription, error) {
	if draft.ProviderKind == types.ProviderKindNone || draft.ProviderSubscriptionID == nil {
		return nil, nil
	}
	var row models.UserSubscription
	err := tx.WithContext(ctx).
		Where("provider_kind = ? AND provider_subscription_id = ?", draft.ProviderKind, *draft.ProviderSubscriptionID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load provider subscription row: %w", err)
	}
	return &row, nil
}

func (s *Service) findActiveRow(ctx context.Context, tx *gorm.DB, userID string) (*models.UserSubscription, error) {
	var row models.UserSubscription
	err := tx.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, types.SubscriptionStatusActive).
		Order("end_date desc").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load active subscription row: %w", err)
	}
	return &row, nil
}

// refreshRow folds the draft into an existing row for the same provider
// subscription. Returns the row unchanged when the draft carries nothing new.
func (s *Service) refreshRow(ctx context.Context, tx *gorm.DB, row *models.UserSubscription, draft *TransitionDraft, changes *[]*changeRecord) (*models.UserSubscription, error) {
	before := *row

	updated := *row
	updated.Status = draft.Status
	updated.ProviderStatus = draft.ProviderStatus
	if draft.TierID != "" {
		updated.TierID = draft.TierID
	}
	if !draft.StartDate.IsZero() {
		updated.StartDate = draft.StartDate
	}
	if !draft.EndDate.IsZero() {
		updated.EndDate = draft.EndDate
	}
	if draft.ProviderCustomerID != "" {
		updated.ProviderCustomerID = draft.ProviderCustomerID
	}

	if updated.Status == before.Status &&
		updated.ProviderStatus == before.ProviderStatus &&
		updated.TierID == before.TierID &&
		updated.StartDate.Equal(before.StartDate) &&
		updated.EndDate.Equal(before.EndDate) &&
		updated.ProviderCustomerID == before.ProviderCustomerID {
		logctx.FromCtx(ctx, s.log).Infof("subscription transition is a no-op, user_id=%s row_id=%s reason=%s", row.UserID, row.ID, draft.Reason)
		return row, nil
	}

	if err := tx.WithContext(ctx).Save(&updated).Error; err != nil {
		return nil, fmt.Errorf("failed to refresh subscription row: %w", err)
	}
	*changes = append(*changes, &changeRecord{before: &before, after: &updated, reason: draft.Reason, extra: draft.Extra})
	return &updated, nil
}

func (s *Service) insertRow(ctx context.Context, tx *gorm.DB, draft *TransitionDraft, changes *[]*changeRecord) (*models.UserSubscription, error) {
	row := &models.UserSubscription{
		ID:                     tool.GenerateUUIDV7(),
		UserID:                 draft.UserID,
		TierID:                 draft.TierID,
		Status:                 types.SubscriptionStatusActive,
		ProviderKind:           draft.ProviderKind,
		ProviderSubscriptionID: draft.ProviderSubscriptionID,
		ProviderCustomerID:     draft.ProviderCustomerID,
		ProviderStatus:         draft.ProviderStatus,
		StartDate:              draft.StartDate,
		EndDate:                draft.EndDate,
	}
	if row.StartDate.IsZero() {
		row.StartDate = time.Now()
	}
	if err := tx.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("failed to insert subscription row: %w", err)
	}
	*changes = append(*changes, &changeRecord{before: nil, after: row, reason: draft.Reason, extra: draft.Extra})
	return row, nil
}

func (s *Service) closeRow(ctx context.Context, tx *gorm.DB, row *models.UserSubscription, draft *TransitionDraft, changes *[]*changeRecord) error {
	before := *row
	row.Status = types.SubscriptionStatusInactive
	// A closed row stops running now; leaving the original end_date would make
	// the history read as months of entitlement that never happened.
	if now := time.Now(); row.EndDate.After(now) {
		row.EndDate = now
	}
	if draft.Status == types.SubscriptionStatusInactive && draft.ProviderStatus != "" {
		row.ProviderStatus = draft.ProviderStatus
	}
	if err := tx.WithContext(ctx).Save(row).Error; err != nil {
		return fmt.Errorf("failed to close subscription row: %w", err)
	}
	*changes = append(*changes, &changeRecord{before: &before, after: row, reason: draft.Reason, extra: draft.Extra})
	return nil
}

// recomputeAccessFlag rebuilds the denormalized access boolean from the
// ledger inside the caller's transaction.
func (s *Service) recomputeAccessFlag(ctx context.Context, tx *gorm.DB, userID string) error {
	var count int64
	now := time.Now()
	if err := tx.WithContext(ctx).Model(&models.UserSubscription{}).
		Where("user_id = ? AND status = ? AND end_date > ?", userID, types.SubscriptionStatusActive, now).
		Count(&count).Error; err != nil {
		return fmt.Errorf("failed to count active subscriptions: %w", err)
	}

	var flag models.UserAccessFlag
	err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&flag).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to load access flag: %w", err)
	}
	if flag.ID == "" {
		flag.ID = tool.GenerateUUIDV7()
		flag.UserID = userID
	}
	flag.HasActiveSubscription = count > 0
	flag.RecomputedAt = now
	if err := tx.WithContext(ctx).Save(&flag).Error; err != nil {
		return fmt.Errorf("failed to save access flag: %w", err)
	}
	return nil
}

// writeLogs persists audit rows asynchronously; failures are logged, never
// surfaced to the flow that caused the change.
func (s *Service) writeLogs(ctx context.Context, userID string, changes []*changeRecord) {
	for _, c := range changes {
		extra := datatypes.JSONMap{}
		for k, v := range c.extra {
			extra[k] = v
		}
		entry := &models.SubscriptionLog{
			ID:     tool.GenerateUUIDV7(),
			UserID: userID,
			Reason: c.reason,
			Before: datatypes.NewJSONType(c.before),
			After:  datatypes.NewJSONType(c.after),
			Extra:  extra,
		}
		if err := s.db.Save(entry).Error; err != nil {
			logctx.FromCtx(ctx, s.log).Errorf("failed to save subscription log: %v", err)
		}
	}
}
