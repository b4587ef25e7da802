package health

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/BillFox/app/repository"
	"github.com/ManuelReschke/BillFox/internal/pkg/alerts"
)

// Config carries the detection windows for the billing health checks.
type Config struct {
	// PendingEventWindow bounds how far back unprocessed provider events
	// count against health.
	PendingEventWindow time.Duration
	// FailedWebhookWindow bounds how far back failed deliveries count.
	FailedWebhookWindow time.Duration
	// StaleSubscriberAge is how long a subscriber may go without a
	// successful sync before it is flagged.
	StaleSubscriberAge time.Duration
	// AlertSensitivity is the count a degraded metric must exceed before
	// an alert is raised. Zero alerts on any non-zero count.
	AlertSensitivity int64
}

// DefaultConfig returns the standard detection windows.
func DefaultConfig() Config {
	return Config{
		PendingEventWindow:  24 * time.Hour,
		FailedWebhookWindow: 24 * time.Hour,
		StaleSubscriberAge:  48 * time.Hour,
	}
}

// ConfigFromEnv reads window overrides (in hours) from the environment,
// falling back to the defaults.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if h := envHours("HEALTH_PENDING_EVENT_WINDOW_HOURS"); h > 0 {
		cfg.PendingEventWindow = h
	}
	if h := envHours("HEALTH_FAILED_WEBHOOK_WINDOW_HOURS"); h > 0 {
		cfg.FailedWebhookWindow = h
	}
	if h := envHours("HEALTH_STALE_SUBSCRIBER_AGE_HOURS"); h > 0 {
		cfg.StaleSubscriberAge = h
	}
	if raw := os.Getenv("HEALTH_ALERT_SENSITIVITY"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			log.Warnf("[Health] Invalid HEALTH_ALERT_SENSITIVITY value %q, using 0", raw)
		} else {
			cfg.AlertSensitivity = n
		}
	}
	return cfg
}

func envHours(key string) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return 0
	}
	hours, err := strconv.Atoi(raw)
	if err != nil || hours <= 0 {
		log.Warnf("[Health] Invalid %s value %q, using default", key, raw)
		return 0
	}
	return time.Duration(hours) * time.Hour
}

// Prober is the provider reachability probe the monitor runs.
type Prober interface {
	Ping(ctx context.Context) error
}

// Snapshot is one health evaluation of the billing pipeline.
type Snapshot struct {
	PendingEventCount    int64     `json:"pending_event_count"`
	FailedWebhookCount   int64     `json:"failed_webhook_count"`
	StaleSubscriberCount int64     `json:"stale_subscriber_count"`
	ProviderReachable    bool      `json:"provider_reachable"`
	CheckedAt            time.Time `json:"checked_at"`
}

// Healthy reports whether every metric is clean.
func (s Snapshot) Healthy() bool {
	return s.PendingEventCount == 0 &&
		s.FailedWebhookCount == 0 &&
		s.StaleSubscriberCount == 0 &&
		s.ProviderReachable
}

// Monitor evaluates billing pipeline health and raises operator alerts.
type Monitor struct {
	cfg      Config
	events   repository.BillingEventRepository
	webhooks repository.WebhookDeliveryRepository
	users    repository.UserRepository
	prober   Prober
	notifier alerts.Notifier
}

// NewMonitor creates a monitor from injected collaborators. prober and
// notifier may be nil; the matching checks are then skipped.
func NewMonitor(
	cfg Config,
	events repository.BillingEventRepository,
	webhooks repository.WebhookDeliveryRepository,
	users repository.UserRepository,
	prober Prober,
	notifier alerts.Notifier,
) *Monitor {
	def := DefaultConfig()
	if cfg.PendingEventWindow <= 0 {
		cfg.PendingEventWindow = def.PendingEventWindow
	}
	if cfg.FailedWebhookWindow <= 0 {
		cfg.FailedWebhookWindow = def.FailedWebhookWindow
	}
	if cfg.StaleSubscriberAge <= 0 {
		cfg.StaleSubscriberAge = def.StaleSubscriberAge
	}
	if cfg.AlertSensitivity < 0 {
		cfg.AlertSensitivity = 0
	}
	return &Monitor{
		cfg:      cfg,
		events:   events,
		webhooks: webhooks,
		users:    users,
		prober:   prober,
		notifier: notifier,
	}
}

// ComputeHealth gathers the current counts. A missing prober counts as
// reachable so purely store-backed deployments stay green.
func (m *Monitor) ComputeHealth(ctx context.Context) (Snapshot, error) {
	now := time.Now()
	snapshot := Snapshot{ProviderReachable: true, CheckedAt: now}

	pending, err := m.events.CountPendingSince(now.Add(-m.cfg.PendingEventWindow))
	if err != nil {
		return snapshot, fmt.Errorf("count pending events: %w", err)
	}
	snapshot.PendingEventCount = pending

	failed, err := m.webhooks.CountFailedSince(now.Add(-m.cfg.FailedWebhookWindow))
	if err != nil {
		return snapshot, fmt.Errorf("count failed webhooks: %w", err)
	}
	snapshot.FailedWebhookCount = failed

	stale, err := m.users.CountStale(now.Add(-m.cfg.StaleSubscriberAge))
	if err != nil {
		return snapshot, fmt.Errorf("count stale subscribers: %w", err)
	}
	snapshot.StaleSubscriberCount = stale

	if m.prober != nil {
		if err := m.prober.Ping(ctx); err != nil {
			log.Warnf("[Health] Provider probe failed: %v", err)
			snapshot.ProviderReachable = false
		}
	}

	return snapshot, nil
}

// CheckAndAlert computes a snapshot and raises one alert per degraded
// metric, each naming the metric and its count. A metric alerts only when
// its count exceeds the configured sensitivity.
func (m *Monitor) CheckAndAlert(ctx context.Context) (Snapshot, error) {
	snapshot, err := m.ComputeHealth(ctx)
	if err != nil {
		return snapshot, err
	}

	if snapshot.PendingEventCount > m.cfg.AlertSensitivity {
		m.alert(fmt.Sprintf("pending billing events: %d", snapshot.PendingEventCount),
			fmt.Sprintf("%d provider events received in the last %s are still unprocessed.",
				snapshot.PendingEventCount, m.cfg.PendingEventWindow))
	}
	if snapshot.FailedWebhookCount > m.cfg.AlertSensitivity {
		m.alert(fmt.Sprintf("failed webhook deliveries: %d", snapshot.FailedWebhookCount),
			fmt.Sprintf("%d webhook deliveries failed in the last %s.",
				snapshot.FailedWebhookCount, m.cfg.FailedWebhookWindow))
	}
	if snapshot.StaleSubscriberCount > m.cfg.AlertSensitivity {
		m.alert(fmt.Sprintf("stale subscribers: %d", snapshot.StaleSubscriberCount),
			fmt.Sprintf("%d subscribers have not synced successfully in over %s.",
				snapshot.StaleSubscriberCount, m.cfg.StaleSubscriberAge))
	}
	if !snapshot.ProviderReachable {
		m.alert("billing provider unreachable",
			"The billing provider API probe failed. Sync runs and webhook retries will degrade until it recovers.")
	}

	if snapshot.Healthy() {
		log.Debug("[Health] All billing health checks passed")
	}
	return snapshot, nil
}

func (m *Monitor) alert(subject, body string) {
	log.Warnf("[Health] %s", subject)
	if m.notifier == nil {
		return
	}
	if err := m.notifier.NotifyAdmins("[BillFox Health] "+subject, body); err != nil {
		log.Errorf("[Health] Alert delivery failed: %v", err)
	}
}
