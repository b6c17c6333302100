package reward

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prepmed/billing/internal/app/service/ledger"
	"github.com/prepmed/billing/internal/models"
	"github.com/prepmed/billing/internal/platform/notify"
	"github.com/prepmed/billing/pkg/apperr"
	"github.com/prepmed/billing/pkg/config"
	"github.com/prepmed/billing/pkg/logctx"
	"github.com/prepmed/billing/pkg/metrics"
	"github.com/prepmed/billing/pkg/tool"
	"github.com/prepmed/billing/pkg/types"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Service scores daily-quiz submissions and turns accumulated points into
// free subscription grants. Points only ever accrue to registered users;
// guests play for the streak, not the ledger.
type Service struct {
	cfg      *config.Config
	db       *gorm.DB
	log      *zap.SugaredLogger
	ledger   *ledger.Service
	notifier notify.Notifier
}

func NewService(cfg *config.Config, db *gorm.DB, log *zap.SugaredLogger, ledgerSvc *ledger.Service, notifier notify.Notifier) *Service {
	return &Service{cfg: cfg, db: db, log: log, ledger: ledgerSvc, notifier: notifier}
}

type SubmitRequest struct {
	QuestionID     string `json:"daily_question_id"`
	SelectedOption int    `json:"selected_option" binding:"min=0"`
	// UserID is set by the handler from the authenticated session; guests
	// submit name and email instead.
	UserID     string `json:"-"`
	GuestName  string `json:"guest_name"`
	GuestEmail string `json:"guest_email"`
}

type SubmitResult struct {
	Correct          bool  `json:"is_correct"`
	PointsAwarded    int64 `json:"points_awarded"`
	TotalPoints      int64 `json:"total_points"`
	AlreadySubmitted bool  `json:"already_submitted"`
	GrantIssued      bool  `json:"free_month_awarded"`
}

// QuestionForDate returns the published question for the given day, or nil.
func (s *Service) QuestionForDate(ctx context.Context, day time.Time) (*models.DailyQuestion, error) {
	var q models.DailyQuestion
	err := s.db.WithContext(ctx).
		Where("publish_on = ?", day.Format(time.DateOnly)).
		First(&q).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load daily question: %w", err)
	}
	return &q, nil
}

// SubmitAnswer scores one submission. The unique (question, identity) row is
// the idempotency boundary: a repeated submission surfaces the original
// result and never re-awards points, so double-clicks and retries are safe.
func (s *Service) SubmitAnswer(ctx context.Context, req *SubmitRequest) (*SubmitResult, error) {
	question, identityKey, err := s.resolveSubmission(ctx, req)
	if err != nil {
		return nil, err
	}

	correct := question.CorrectOption == req.SelectedOption
	var points int64
	if correct && req.UserID != "" {
		points = question.Points
		if points <= 0 {
			points = s.cfg.Reward.PointsPerCorrect
		}
	}

	submission := &models.DailySubmission{
		ID:              tool.GenerateUUIDV7(),
		DailyQuestionID: question.ID,
		IdentityKey:     identityKey,
		GuestName:       req.GuestName,
		GuestEmail:      req.GuestEmail,
		SelectedOption:  req.SelectedOption,
		IsCorrect:       correct,
		PointsAwarded:   points,
	}
	if req.UserID != "" {
		submission.UserID = &req.UserID
	}

	var result SubmitResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		insert := tx.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(submission)
		if insert.Error != nil {
			return fmt.Errorf("failed to insert submission: %w", insert.Error)
		}
		if insert.RowsAffected == 0 {
			// Lost the race (or a plain repeat): report the stored outcome.
			var prior models.DailySubmission
			if err := tx.WithContext(ctx).
				Where("daily_question_id = ? AND identity_key = ?", question.ID, identityKey).
				First(&prior).Error; err != nil {
				return fmt.Errorf("failed to load prior submission: %w", err)
			}
			result = SubmitResult{
				Correct:          prior.IsCorrect,
				PointsAwarded:    0,
				AlreadySubmitted: true,
			}
			return nil
		}

		result = SubmitResult{Correct: correct, PointsAwarded: points}
		if points > 0 {
			total, err := s.addPoints(ctx, tx, req.UserID, points)
			if err != nil {
				return err
			}
			result.TotalPoints = total
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit answer: %w", err)
	}

	if result.AlreadySubmitted || points == 0 {
		if req.UserID != "" {
			if total, err := s.TotalPoints(ctx, req.UserID); err == nil {
				result.TotalPoints = total
			}
		}
		return &result, nil
	}

	// Threshold check runs after the submission transaction committed, so a
	// grant failure never takes the scored answer down with it.
	granted, err := s.maybeGrant(ctx, req.UserID)
	if err != nil {
		logctx.FromCtx(ctx, s.log).Errorf("failed to issue reward grant for user %s: %v", req.UserID, err)
	}
	result.GrantIssued = granted
	return &result, nil
}

func (s *Service) resolveSubmission(ctx context.Context, req *SubmitRequest) (*models.DailyQuestion, string, error) {
	var question *models.DailyQuestion
	var err error
	if req.QuestionID != "" {
		var q models.DailyQuestion
		err = s.db.WithContext(ctx).Where("id = ?", req.QuestionID).First(&q).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", fmt.Errorf("%w: unknown question %q", apperr.ErrValidation, req.QuestionID)
		}
		if err != nil {
			return nil, "", fmt.Errorf("failed to load question: %w", err)
		}
		question = &q
	} else {
		question, err = s.QuestionForDate(ctx, time.Now())
		if err != nil {
			return nil, "", err
		}
		if question == nil {
			return nil, "", fmt.Errorf("%w: no question published today", apperr.ErrValidation)
		}
	}

	if req.UserID != "" {
		return question, models.UserIdentityKey(req.UserID), nil
	}
	if req.GuestEmail == "" {
		return nil, "", fmt.Errorf("%w: guest submissions require an email", apperr.ErrValidation)
	}
	return question, models.GuestIdentityKey(req.GuestEmail), nil
}

// addPoints bumps the user's running total inside the submission transaction.
// The increment is a single UPDATE so concurrent submissions to different
// questions cannot lose points.
func (s *Service) addPoints(ctx context.Context, tx *gorm.DB, userID string, points int64) (int64, error) {
	seed := &models.RewardLedger{ID: tool.GenerateUUIDV7(), UserID: userID}
	if err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(seed).Error; err != nil {
		return 0, fmt.Errorf("failed to seed reward ledger: %w", err)
	}

	if err := tx.WithContext(ctx).Model(&models.RewardLedger{}).
		Where("user_id = ?", userID).
		UpdateColumn("total_points", gorm.Expr("total_points + ?", points)).Error; err != nil {
		return 0, fmt.Errorf("failed to add points: %w", err)
	}

	var row models.RewardLedger
	if err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error; err != nil {
		return 0, fmt.Errorf("failed to reload reward ledger: %w", err)
	}
	return row.TotalPoints, nil
}

// TotalPoints returns the user's accumulated points.
func (s *Service) TotalPoints(ctx context.Context, userID string) (int64, error) {
	var row models.RewardLedger
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load reward ledger: %w", err)
	}
	return row.TotalPoints, nil
}

// maybeGrant issues a free subscription when the total crossed the threshold
// and the cooldown allows it. A grant that is suppressed because a longer paid
// subscription is running does NOT consume the cooldown; the user keeps the
// credit for when the paid period lapses.
func (s *Service) maybeGrant(ctx context.Context, userID string) (bool, error) {
	threshold := s.cfg.Reward.ThresholdPoints
	if threshold <= 0 || s.cfg.Reward.FreeTierID == "" {
		return false, nil
	}
	tier := s.cfg.GetTierByID(s.cfg.Reward.FreeTierID)
	if tier == nil {
		return false, fmt.Errorf("reward free tier %q is not in the catalog", s.cfg.Reward.FreeTierID)
	}

	var row models.RewardLedger
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error; err != nil {
		return false, fmt.Errorf("failed to load reward ledger: %w", err)
	}
	now := time.Now()
	cutoff := now.Add(-time.Duration(s.cfg.Reward.AwardCooldownDays) * 24 * time.Hour)
	if row.TotalPoints < threshold {
		return false, nil
	}
	if row.LastAwardAt != nil && row.LastAwardAt.After(cutoff) {
		return false, nil
	}

	grantEnd := now.AddDate(0, tier.DurationMonths, 0)
	if !s.cfg.Reward.ReplacePaid {
		active, err := s.ledger.GetActiveSubscription(ctx, userID, now)
		if err != nil {
			return false, err
		}
		if active != nil && active.Paid() && active.EndDate.After(grantEnd) {
			metrics.IncBillingEvent("reward_grant", "suppressed")
			logctx.FromCtx(ctx, s.log).Infof("reward grant suppressed by longer paid subscription, user_id=%s", userID)
			return false, nil
		}
	}

	// Claim the cooldown before granting. The guarded UPDATE is the arbiter
	// between concurrent qualifying submissions: only one of them moves
	// last_award_at forward, the rest bail out here.
	claim := s.db.WithContext(ctx).Model(&models.RewardLedger{}).
		Where("user_id = ? AND total_points >= ? AND (last_award_at IS NULL OR last_award_at <= ?)", userID, threshold, cutoff).
		UpdateColumn("last_award_at", now)
	if claim.Error != nil {
		return false, fmt.Errorf("failed to claim award cooldown: %w", claim.Error)
	}
	if claim.RowsAffected == 0 {
		return false, nil
	}

	if _, err := s.ledger.ApplyTransition(ctx, &ledger.TransitionDraft{
		UserID:       userID,
		TierID:       tier.ID,
		Status:       types.SubscriptionStatusActive,
		ProviderKind: types.ProviderKindNone,
		StartDate:    now,
		EndDate:      grantEnd,
		Reason:       types.SubscriptionChangeReasonRewardGrant,
		Extra:        map[string]interface{}{"trigger": "reward_threshold", "total_points": row.TotalPoints},
	}); err != nil {
		// The grant never landed; hand the claim back so the next submission
		// retries instead of waiting out a cooldown for nothing.
		if relErr := s.db.WithContext(ctx).Model(&models.RewardLedger{}).
			Where("user_id = ? AND last_award_at = ?", userID, now).
			UpdateColumn("last_award_at", row.LastAwardAt).Error; relErr != nil {
			logctx.FromCtx(ctx, s.log).Errorf("failed to release award cooldown for user %s: %v", userID, relErr)
		}
		return false, err
	}

	metrics.IncBillingEvent("reward_grant", "issued")
	if err := s.notifier.Publish(ctx, notify.KeyRewardGranted, map[string]interface{}{
		"user_id":      userID,
		"tier_id":      tier.ID,
		"total_points": row.TotalPoints,
	}); err != nil {
		logctx.FromCtx(ctx, s.log).Errorf("failed to publish reward grant event: %v", err)
	}
	return true, nil
}
