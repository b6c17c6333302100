package statistics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prepmed/billing/internal/models"
	"github.com/prepmed/billing/pkg/config"
	"github.com/prepmed/billing/pkg/tool"
	"github.com/prepmed/billing/pkg/types"

	"github.com/samber/lo"
	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type StatisticType string

const (
	// Daily series
	StatisticTypeDailyNewSubscriptionCount    StatisticType = "daily_new_subscription_count"
	StatisticTypeDailyActiveSubscriptionCount StatisticType = "daily_active_subscription_count"
	StatisticTypeDailyRevenueCents            StatisticType = "daily_revenue_cents"

	// Point-in-time
	StatisticTypeTotalActiveSubscriptionCount StatisticType = "total_active_subscription_count"
	StatisticTypeProviderBreakdown            StatisticType = "provider_breakdown"
	StatisticTypeRewardGrantCount             StatisticType = "reward_grant_count"
)

type StatisticDataItem struct {
	ID StatisticType `json:"id"`
}

type StatisticRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	DataItems []*StatisticDataItem  `json:"data_items"`
}

func (r *StatisticRequest) where(q *gorm.DB) *gorm.DB {
	for _, f := range r.Filters {
		q = q.Where(f)
	}
	return q
}

type StatisticResponseDataItem struct {
	Date  string `json:"date,omitempty"`
	Label string `json:"label,omitempty"`
	Value int64  `json:"value"`
}

type StatisticResponse struct {
	DataItems map[StatisticType][]StatisticResponseDataItem `json:"data_items"`
}

// Service answers the admin statistics queries over the subscription ledger
// and the nightly snapshots.
type Service struct {
	cfg *config.Config
	db  *gorm.DB
}

func New(cfg *config.Config, db *gorm.DB) *Service { return &Service{cfg: cfg, db: db} }

// WriteDailySnapshot persists the per-day aggregate for the given day. Safe to
// re-run: the snapshot for a day is overwritten, not duplicated.
func (s *Service) WriteDailySnapshot(ctx context.Context, day time.Time) error {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)

	var activeCount int64
	if err := s.db.WithContext(ctx).Model(&models.UserSubscription{}).
		Where("status = ? AND end_date > ?", types.SubscriptionStatusActive, dayStart).
		Count(&activeCount).Error; err != nil {
		return fmt.Errorf("failed to count active subscriptions: %w", err)
	}

	var newCount int64
	if err := s.db.WithContext(ctx).Model(&models.UserSubscription{}).
		Where("start_date >= ? AND start_date < ?", dayStart, dayEnd).
		Count(&newCount).Error; err != nil {
		return fmt.Errorf("failed to count new subscriptions: %w", err)
	}

	snap := &models.SubscriptionDailySnapshot{
		ID:           tool.GenerateUUIDV7(),
		SnapshotDate: dayStart.Format(time.DateOnly),
		ActiveCount:  activeCount,
		NewCount:     newCount,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "snapshot_date"}},
			DoUpdates: clause.AssignmentColumns([]string{"active_count", "new_count", "updated_at"}),
		}).
		Create(snap).Error
}

func (s *Service) getDailyNewSubscriptionCount(ctx context.Context, request *StatisticRequest) ([]StatisticResponseDataItem, error) {
	var results []StatisticResponseDataItem
	q := s.db.WithContext(ctx).Table((models.UserSubscription{}).TableName()).
		Select("DATE(start_date) as date, count(*) as value").
		Group("DATE(start_date)").
		Order("date")
	if err := request.where(q).Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getDailyActiveSubscriptionCount(ctx context.Context, request *StatisticRequest) ([]StatisticResponseDataItem, error) {
	var results []StatisticResponseDataItem
	q := s.db.WithContext(ctx).Table((models.SubscriptionDailySnapshot{}).TableName()).
		Select("snapshot_date as date, active_count as value").
		Order("snapshot_date")
	if err := request.where(q).Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// getDailyRevenueCents prices each purchase from the config-resident catalog;
// the ledger stores no amounts.
func (s *Service) getDailyRevenueCents(ctx context.Context, request *StatisticRequest) ([]StatisticResponseDataItem, error) {
	type tierCount struct {
		Date   string
		TierID string
		Value  int64
	}
	var rows []tierCount
	q := s.db.WithContext(ctx).Table((models.UserSubscription{}).TableName()).
		Select("DATE(start_date) as date, tier_id, count(*) as value").
		Where("provider_kind != ?", types.ProviderKindNone).
		Group("DATE(start_date)").
		Group("tier_id").
		Order("date")
	if err := request.where(q).Find(&rows).Error; err != nil {
		return nil, err
	}

	byDate := lo.GroupBy(rows, func(r tierCount) string { return r.Date })
	dates := lo.Keys(byDate)
	sort.Strings(dates)
	results := make([]StatisticResponseDataItem, 0, len(dates))
	for _, date := range dates {
		var cents int64
		for _, r := range byDate[date] {
			if tier := s.cfg.GetTierByID(r.TierID); tier != nil {
				cents += tier.PriceCents * r.Value
			}
		}
		results = append(results, StatisticResponseDataItem{Date: date, Value: cents})
	}
	return results, nil
}

func (s *Service) getTotalActiveSubscriptionCount(ctx context.Context, request *StatisticRequest) ([]StatisticResponseDataItem, error) {
	var count int64
	q := s.db.WithContext(ctx).Model(&models.UserSubscription{}).
		Where("status = ? AND end_date > ?", types.SubscriptionStatusActive, time.Now())
	if err := request.where(q).Count(&count).Error; err != nil {
		return nil, err
	}
	return []StatisticResponseDataItem{{Value: count}}, nil
}

func (s *Service) getProviderBreakdown(ctx context.Context, request *StatisticRequest) ([]StatisticResponseDataItem, error) {
	var results []StatisticResponseDataItem
	q := s.db.WithContext(ctx).Table((models.UserSubscription{}).TableName()).
		Select("provider_kind as label, count(*) as value").
		Group("provider_kind").
		Order("label")
	if err := request.where(q).Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getRewardGrantCount(ctx context.Context, request *StatisticRequest) ([]StatisticResponseDataItem, error) {
	var results []StatisticResponseDataItem
	q := s.db.WithContext(ctx).Table((models.UserSubscription{}).TableName()).
		Select("DATE(start_date) as date, count(*) as value").
		Where("provider_kind = ?", types.ProviderKindNone).
		Group("DATE(start_date)").
		Order("date")
	if err := request.where(q).Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getStatistic(ctx context.Context, request *StatisticRequest, item *StatisticDataItem) ([]StatisticResponseDataItem, error) {
	switch item.ID {
	case StatisticTypeDailyNewSubscriptionCount:
		return s.getDailyNewSubscriptionCount(ctx, request)
	case StatisticTypeDailyActiveSubscriptionCount:
		return s.getDailyActiveSubscriptionCount(ctx, request)
	case StatisticTypeDailyRevenueCents:
		return s.getDailyRevenueCents(ctx, request)
	case StatisticTypeTotalActiveSubscriptionCount:
		return s.getTotalActiveSubscriptionCount(ctx, request)
	case StatisticTypeProviderBreakdown:
		return s.getProviderBreakdown(ctx, request)
	case StatisticTypeRewardGrantCount:
		return s.getRewardGrantCount(ctx, request)
	default:
		return nil, fmt.Errorf("invalid data item id: %s", item.ID)
	}
}

// GetSubscriptionStatistic fans the requested series out concurrently and
// collects them into one response.
func (s *Service) GetSubscriptionStatistic(ctx context.Context, request *StatisticRequest) (*StatisticResponse, error) {
	if len(request.DataItems) == 0 {
		return nil, errors.New("no data items requested")
	}

	var wg sync.WaitGroup
	errChan := make(chan error, len(request.DataItems))
	resChan := make(chan *lo.Entry[StatisticType, []StatisticResponseDataItem], len(request.DataItems))

	for _, item := range request.DataItems {
		wg.Add(1)
		go func(di *StatisticDataItem) {
			defer wg.Done()
			res, err := s.getStatistic(ctx, request, di)
			if err != nil {
				errChan <- err
				return
			}
			resChan <- &lo.Entry[StatisticType, []StatisticResponseDataItem]{Key: di.ID, Value: res}
		}(item)
	}

	go func() { wg.Wait(); close(errChan); close(resChan) }()

	results := make(map[StatisticType][]StatisticResponseDataItem)
	for entry := range resChan {
		results[entry.Key] = entry.Value
	}
	if err := <-errChan; err != nil {
		return nil, err
	}
	return &StatisticResponse{DataItems: results}, nil
}

var Module = fx.Options(
	fx.Provide(New),
)
