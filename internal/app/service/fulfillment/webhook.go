package fulfillment

import (
	"context"
	"errors"

	"github.com/prepmed/billing/internal/models"
	"github.com/prepmed/billing/pkg/apperr"
	"github.com/prepmed/billing/pkg/logctx"
	"github.com/prepmed/billing/pkg/metrics"

	"gorm.io/datatypes"

	"github.com/prepmed/billing/pkg/types"
)

// HandleWebhook processes one provider delivery. Every delivery leaves an
// event-log row whatever happens to it; the returned error decides the HTTP
// status, and anything other than success makes the provider redeliver, which
// is safe because the ledger folds repeats into the same row.
func (s *Service) HandleWebhook(ctx context.Context, kind types.ProviderKind, body []byte, signature, traceID string) error {
	entry := s.events.Record(ctx, &models.WebhookEventLog{
		ProviderKind: kind,
		TraceID:      traceID,
		Data:         datatypes.JSON(body),
		Status:       models.WebhookEventLogStatusReceived,
	})

	adapter, err := s.providers.Get(kind)
	if err != nil {
		s.events.Finish(ctx, entry, models.WebhookEventLogStatusRejected, map[string]interface{}{"error": err.Error()})
		return err
	}

	event, err := adapter.ParseWebhook(ctx, body, signature)
	if err != nil {
		if errors.Is(err, apperr.ErrAuthenticity) {
			metrics.IncBillingEvent("webhook", "rejected")
			logctx.FromCtx(ctx, s.log).Warnf("rejected %s webhook: %v", kind, err)
			s.events.Finish(ctx, entry, models.WebhookEventLogStatusRejected, map[string]interface{}{"error": err.Error()})
			return err
		}
		metrics.IncBillingEvent("webhook", "failed")
		s.events.Finish(ctx, entry, models.WebhookEventLogStatusHandleFailed, map[string]interface{}{"error": err.Error()})
		return err
	}
	if event == nil {
		// Verified but not an event kind this engine consumes.
		s.events.Finish(ctx, entry, models.WebhookEventLogStatusHandled, map[string]interface{}{"ignored": true})
		return nil
	}

	entry.EventKind = string(event.Kind)
	entry.UserID = &event.UserID
	entry.ProviderSubscriptionID = event.ProviderSubscriptionID

	sub, err := s.applyEvent(ctx, event, "webhook")
	if err != nil {
		s.events.Finish(ctx, entry, models.WebhookEventLogStatusHandleFailed, map[string]interface{}{"error": err.Error()})
		return err
	}

	metrics.IncBillingEvent("webhook", "handled")
	result := map[string]interface{}{"event_kind": event.Kind}
	if sub != nil {
		result["subscription_id"] = sub.ID
	}
	s.events.Finish(ctx, entry, models.WebhookEventLogStatusHandled, result)
	return nil
}
