package retryqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/BillFox/app/models"
	"github.com/ManuelReschke/BillFox/app/repository"
)

// WebhookProcessor re-runs event processing for a deferred webhook. The
// billing service implements it; the indirection keeps this package free of
// a billing import.
type WebhookProcessor interface {
	ProcessEvent(ctx context.Context, event *models.BillingEvent) error
}

// EmailSender delivers one mail. Satisfied by mail.Mailer.
type EmailSender interface {
	Send(to string, subject string, body string) error
}

// NewSendEmailHandler builds the handler for deferred admin notifications.
func NewSendEmailHandler(mailer EmailSender) Handler {
	return func(ctx context.Context, item *models.RetryQueueItem) error {
		_ = ctx
		payload, err := SendEmailPayloadFromJSON(item.PayloadJSON)
		if err != nil {
			return fmt.Errorf("decode send_email payload: %w", err)
		}
		return mailer.Send(payload.To, payload.Subject, payload.Body)
	}
}

// NewProcessWebhookHandler builds the handler that retries a failed webhook
// event. Events processed in the meantime are a no-op, so a late retry
// never double-applies. Each attempt writes its outcome and attempt number
// back to the originating delivery record.
func NewProcessWebhookHandler(
	processor WebhookProcessor,
	events repository.BillingEventRepository,
	deliveries repository.WebhookDeliveryRepository,
) Handler {
	return func(ctx context.Context, item *models.RetryQueueItem) error {
		payload, err := ProcessWebhookPayloadFromJSON(item.PayloadJSON)
		if err != nil {
			return fmt.Errorf("decode process_webhook payload: %w", err)
		}
		event, err := events.GetByProviderEventID(payload.ProviderEventID)
		if err != nil {
			return fmt.Errorf("load event %s: %w", payload.ProviderEventID, err)
		}

		perr := processor.ProcessEvent(ctx, event)

		if deliveries != nil && payload.DeliveryID != 0 {
			attempt := item.RetryCount + 1
			status, msg := models.DeliveryStatusDelivered, ""
			if perr != nil {
				status, msg = models.DeliveryStatusFailed, perr.Error()
			}
			if uerr := deliveries.UpdateStatus(payload.DeliveryID, status, attempt, msg); uerr != nil {
				log.Errorf("[RetryQueue] Update delivery %d failed: %v", payload.DeliveryID, uerr)
			}
		}
		return perr
	}
}

// NewUpdateRecordHandler builds the handler that replays a subscriber field
// update whose original write failed. Updates for since-deleted subscribers
// are dropped instead of retried to exhaustion.
func NewUpdateRecordHandler(users repository.UserRepository) Handler {
	return func(ctx context.Context, item *models.RetryQueueItem) error {
		_ = ctx
		payload, err := UpdateRecordPayloadFromJSON(item.PayloadJSON)
		if err != nil {
			return fmt.Errorf("decode update_record payload: %w", err)
		}
		if len(payload.Fields) == 0 {
			return nil
		}
		if _, err := users.GetByID(payload.UserID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				log.Warnf("[RetryQueue] Dropping update for deleted subscriber %d", payload.UserID)
				return nil
			}
			return fmt.Errorf("load subscriber %d: %w", payload.UserID, err)
		}
		return users.UpdateBillingFields(payload.UserID, payload.Fields)
	}
}
