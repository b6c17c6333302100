package eventlog

import (
	"context"
	"time"

	"github.com/prepmed/billing/internal/models"
	"github.com/prepmed/billing/pkg/logctx"
	"github.com/prepmed/billing/pkg/tool"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func New(db *gorm.DB, log *zap.SugaredLogger) *Service { return &Service{db: db, log: log} }

// Record persists the received webhook delivery synchronously, so a rejected
// or crashing delivery still leaves a row behind.
func (s *Service) Record(ctx context.Context, entry *models.WebhookEventLog) *models.WebhookEventLog {
	if entry.ID == "" {
		entry.ID = tool.GenerateUUIDV7()
	}
	if entry.ReceivedAt.IsZero() {
		entry.ReceivedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Save(entry).Error; err != nil {
		logctx.FromCtx(ctx, s.log).Errorf("failed to save webhook event log: %v", err)
	}
	return entry
}

// Finish asynchronously updates the row with the handling outcome.
func (s *Service) Finish(ctx context.Context, entry *models.WebhookEventLog, status models.WebhookEventLogStatus, result map[string]interface{}) {
	go func() {
		if entry == nil || entry.ID == "" {
			return
		}
		entry.Status = status
		if result != nil {
			raw, err := datatypes.JSONMap(result).MarshalJSON()
			if err == nil {
				data := datatypes.JSON(raw)
				entry.Result = &data
			}
		}
		if err := s.db.Save(entry).Error; err != nil {
			logctx.FromCtx(ctx, s.log).Errorf("failed to update webhook event log: %v", err)
		}
	}()
}

var Module = fx.Options(
	fx.Provide(New),
)
