package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/BillFox/app/models"
	"github.com/ManuelReschke/BillFox/app/repository"
	"github.com/ManuelReschke/BillFox/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/BillFox/internal/pkg/provider"
)

// Service reconciles provider subscription state into the local ledger and
// records provider events idempotently.
type Service struct {
	users      repository.UserRepository
	events     repository.BillingEventRepository
	deliveries repository.WebhookDeliveryRepository
	planMap    *PlanMap
	counters   *counter.Counters
}

// NewService creates a billing service from injected repositories.
func NewService(
	users repository.UserRepository,
	events repository.BillingEventRepository,
	deliveries repository.WebhookDeliveryRepository,
	planMap *PlanMap,
	counters *counter.Counters,
) *Service {
	if planMap == nil {
		planMap = DefaultPlanMap()
	}
	return &Service{
		users:      users,
		events:     events,
		deliveries: deliveries,
		planMap:    planMap,
		counters:   counters,
	}
}

// EventInput is the normalized input for provider event persistence.
type EventInput struct {
	ProviderEventID string
	EventType       string
	PayloadJSON     string
}

// DeliveryResult reports how an inbound webhook delivery was handled.
// ProcessErr is non-nil when the event was recorded but processing failed;
// the caller defers it to the retry queue.
type DeliveryResult struct {
	Delivery   *models.WebhookDelivery
	Event      *models.BillingEvent
	Duplicate  bool
	ProcessErr error
}

// eventPayload is the provider event envelope as consumed here.
type eventPayload struct {
	Data struct {
		Subscription *provider.Subscription `json:"subscription"`
		Customer     *provider.Customer     `json:"customer"`
	} `json:"data"`
}

// RecordEvent persists a provider event idempotently. Events without an id
// are keyed by a payload hash so replays still dedupe.
func (s *Service) RecordEvent(ctx context.Context, in EventInput) (bool, *models.BillingEvent, error) {
	_ = ctx
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.BillingEvent{
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
	}
	return s.events.CreateIfNotExists(event)
}

// ProcessEvent applies a recorded event to the subscriber it references.
// Already-processed events are a no-op: the provider event id is the
// idempotency key.
func (s *Service) ProcessEvent(ctx context.Context, event *models.BillingEvent) error {
	if event == nil {
		return errors.New("event is required")
	}
	if event.Processed {
		return nil
	}

	if err := s.applyEvent(ctx, event); err != nil {
		if rerr := s.events.RecordFailure(event.ID, err.Error()); rerr != nil {
			return fmt.Errorf("record event failure: %v (original: %w)", rerr, err)
		}
		return err
	}

	return s.events.MarkProcessed(event.ID)
}

func (s *Service) applyEvent(ctx context.Context, event *models.BillingEvent) error {
	var payload eventPayload
	if err := json.Unmarshal([]byte(event.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("malformed event payload: %w", err)
	}

	sub := payload.Data.Subscription
	if sub == nil || strings.TrimSpace(sub.CustomerID) == "" {
		return errors.New("event payload missing subscription or customer reference")
	}

	user, err := s.users.GetByProviderCustomerID(sub.CustomerID)
	if err != nil {
		return fmt.Errorf("resolve customer %s: %w", sub.CustomerID, err)
	}

	return s.ApplyToUser(ctx, user, sub, payload.Data.Customer)
}

// HandleDelivery records an inbound webhook delivery attempt and processes
// the event inline. Store-level errors are returned; processing errors are
// reported in the result so the caller can defer them to the retry queue.
func (s *Service) HandleDelivery(ctx context.Context, in EventInput) (*DeliveryResult, error) {
	created, event, err := s.RecordEvent(ctx, in)
	if err != nil {
		return nil, err
	}

	delivery := &models.WebhookDelivery{
		BillingEventID:  event.ID,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.EventType,
		Status:          models.DeliveryStatusPending,
	}
	if err := s.deliveries.Create(delivery); err != nil {
		return nil, err
	}

	result := &DeliveryResult{Delivery: delivery, Event: event, Duplicate: !created}

	if !created && event.Processed {
		// Replay of an already-applied event: acknowledge without side effects.
		if err := s.deliveries.UpdateStatus(delivery.ID, models.DeliveryStatusDelivered, delivery.RetryCount, ""); err != nil {
			return nil, err
		}
		return result, nil
	}

	if perr := s.ProcessEvent(ctx, event); perr != nil {
		result.ProcessErr = perr
		if err := s.deliveries.UpdateStatus(delivery.ID, models.DeliveryStatusFailed, delivery.RetryCount, perr.Error()); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := s.deliveries.UpdateStatus(delivery.ID, models.DeliveryStatusDelivered, delivery.RetryCount, ""); err != nil {
		return nil, err
	}
	return result, nil
}

// ResolvePlan maps a provider price id to an internal plan name. Unmapped
// ids fall back to the default plan and bump the unmapped counter.
func (s *Service) ResolvePlan(priceID string) string {
	plan, mapped := s.planMap.Resolve(priceID)
	if !mapped && strings.TrimSpace(priceID) != "" {
		// Metrics are advisory; the fallback policy applies either way.
		_ = s.counters.AddUnmappedPlanRef(priceID)
	}
	return string(plan)
}

// BillingFields builds the column map a reconciled subscription writes to
// the subscriber record, including the last_synced_at stamp.
func (s *Service) BillingFields(sub *provider.Subscription, cust *provider.Customer) map[string]interface{} {
	start, end := sub.PeriodBounds()
	now := time.Now()
	fields := map[string]interface{}{
		"plan":                 s.ResolvePlan(sub.PriceID),
		"subscription_status":  NormalizeSubscriptionStatus(sub.Status),
		"current_period_start": start,
		"current_period_end":   end,
		"cancel_at_period_end": sub.CancelAtPeriodEnd,
		"last_synced_at":       &now,
	}
	if id := strings.TrimSpace(sub.CustomerID); id != "" {
		fields["provider_customer_id"] = id
	}
	if cust != nil && strings.TrimSpace(cust.Email) != "" {
		fields["billing_email"] = strings.TrimSpace(cust.Email)
	}
	return fields
}

// ApplyToUser writes the reconciled provider fields back to the subscriber
// record and stamps last_synced_at.
func (s *Service) ApplyToUser(ctx context.Context, user *models.User, sub *provider.Subscription, cust *provider.Customer) error {
	_ = ctx
	if user == nil || sub == nil {
		return errors.New("user and subscription are required")
	}
	return s.users.UpdateBillingFields(user.ID, s.BillingFields(sub, cust))
}

// NormalizeSubscriptionStatus maps provider status strings onto the local
// enum, defaulting to incomplete for anything unrecognized.
func NormalizeSubscriptionStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case models.BillingStatusActive:
		return models.BillingStatusActive
	case models.BillingStatusTrialing:
		return models.BillingStatusTrialing
	case models.BillingStatusPastDue:
		return models.BillingStatusPastDue
	case models.BillingStatusCanceled:
		return models.BillingStatusCanceled
	case models.BillingStatusPaused:
		return models.BillingStatusPaused
	default:
		return models.BillingStatusIncomplete
	}
}
