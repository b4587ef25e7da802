package syncer

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/ManuelReschke/BillFox/app/models"
	"github.com/ManuelReschke/BillFox/app/repository"
	"github.com/ManuelReschke/BillFox/internal/pkg/alerts"
	"github.com/ManuelReschke/BillFox/internal/pkg/billing"
	"github.com/ManuelReschke/BillFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/BillFox/internal/pkg/health"
	"github.com/ManuelReschke/BillFox/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/BillFox/internal/pkg/provider"
	"github.com/ManuelReschke/BillFox/internal/pkg/retryqueue"
)

// DefaultWorkerCount bounds concurrent provider fetches during a run.
const DefaultWorkerCount = 10

// ProviderAPI is the slice of the provider client a sync run needs.
type ProviderAPI interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*provider.Subscription, error)
	GetCustomer(ctx context.Context, customerID string) (*provider.Customer, error)
}

// HealthChecker runs the aggregate billing health checks at the end of a
// run. The health monitor implements it; a nil checker skips the step.
type HealthChecker interface {
	CheckAndAlert(ctx context.Context) (health.Snapshot, error)
}

// Config carries sync run tuning.
type Config struct {
	WorkerCount int
}

// ConfigFromEnv reads SYNC_WORKER_COUNT, falling back to the default.
func ConfigFromEnv() Config {
	cfg := Config{WorkerCount: DefaultWorkerCount}
	if raw := os.Getenv("SYNC_WORKER_COUNT"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			log.Warnf("[Sync] Invalid SYNC_WORKER_COUNT value %q, using %d", raw, DefaultWorkerCount)
		} else {
			cfg.WorkerCount = n
		}
	}
	return cfg
}

// Coordinator reconciles every subscribed account against the provider and
// records each run as an append-only report.
type Coordinator struct {
	cfg      Config
	users    repository.UserRepository
	reports  repository.SyncReportRepository
	queue    repository.RetryQueueRepository
	billing  *billing.Service
	client   ProviderAPI
	notifier alerts.Notifier
	checker  HealthChecker
	counters *counter.Counters
}

// NewCoordinator creates a coordinator from injected collaborators.
// notifier may be nil (run alerts are then log-only), as may checker
// (no end-of-run health check).
func NewCoordinator(
	cfg Config,
	users repository.UserRepository,
	reports repository.SyncReportRepository,
	queue repository.RetryQueueRepository,
	billingSvc *billing.Service,
	client ProviderAPI,
	notifier alerts.Notifier,
	checker HealthChecker,
	counters *counter.Counters,
) *Coordinator {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = DefaultWorkerCount
	}
	return &Coordinator{
		cfg:      cfg,
		users:    users,
		reports:  reports,
		queue:    queue,
		billing:  billingSvc,
		client:   client,
		notifier: notifier,
		checker:  checker,
		counters: counters,
	}
}

// RunSync reconciles all subscribed accounts. The returned report carries
// the run outcome; the error is non-nil only when the run could not execute
// at all (per-subscriber failures are report details, not errors).
func (c *Coordinator) RunSync(ctx context.Context, trigger string) (*models.SyncReport, error) {
	report := &models.SyncReport{
		RunID:     uuid.NewString(),
		Trigger:   trigger,
		Status:    models.SyncStatusRunning,
		StartedAt: time.Now(),
	}
	if err := c.reports.Create(report); err != nil {
		return nil, fmt.Errorf("create sync report: %w", err)
	}
	log.Infof("[Sync] Run %s started (trigger=%s)", report.RunID, trigger)

	subscribers, err := c.users.ListWithSubscription()
	if err != nil {
		c.failRun(report, fmt.Errorf("list subscribers: %w", err))
		return report, err
	}

	var (
		mu        sync.Mutex
		processed int
		details   []models.SyncErrorDetail
	)

	jobs := make(chan models.User)
	var wg sync.WaitGroup
	for i := 0; i < c.cfg.WorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for user := range jobs {
				err := c.syncUser(ctx, &user)
				mu.Lock()
				if err != nil {
					details = append(details, models.SyncErrorDetail{
						UserID:     user.ID,
						Message:    err.Error(),
						OccurredAt: time.Now(),
					})
				} else {
					processed++
				}
				mu.Unlock()
			}
		}()
	}

	for _, user := range subscribers {
		select {
		case <-ctx.Done():
			// Stop feeding; in-flight subscribers finish, the rest are
			// picked up by the next run.
			log.Warnf("[Sync] Run %s interrupted: %v", report.RunID, ctx.Err())
		case jobs <- user:
			continue
		}
		break
	}
	close(jobs)
	wg.Wait()

	if err := report.Finalize(processed, details, time.Now()); err != nil {
		c.failRun(report, fmt.Errorf("finalize report: %w", err))
		return report, err
	}
	if err := c.reports.Update(report); err != nil {
		log.Errorf("[Sync] Run %s report update failed: %v", report.RunID, err)
	}
	_ = c.counters.AddSyncOutcome(report.Status)

	log.Infof("[Sync] Run %s finished: status=%s processed=%d errors=%d",
		report.RunID, report.Status, report.UsersProcessed, report.ErrorsEncountered)

	if report.ErrorsEncountered > 0 {
		c.alert(
			fmt.Sprintf("sync run %s: %d errors", report.RunID, report.ErrorsEncountered),
			fmt.Sprintf("Sync run %s (trigger %s) finished with status %s: %d subscribers synced, %d errors.",
				report.RunID, report.Trigger, report.Status, report.UsersProcessed, report.ErrorsEncountered),
		)
	}

	// A second round of aggregate health checks closes the run: problems a
	// clean run cannot see (failed deliveries, stale subscribers, a dead
	// provider) alert here instead of waiting for the next health tick.
	if c.checker != nil {
		if _, err := c.checker.CheckAndAlert(ctx); err != nil {
			log.Errorf("[Sync] Run %s end-of-run health check failed: %v", report.RunID, err)
		}
	}
	return report, nil
}

// syncUser reconciles one subscriber. Provider fetch failures surface as
// run errors; a failed ledger write is additionally deferred to the retry
// queue so the fetched state is not lost.
func (c *Coordinator) syncUser(ctx context.Context, user *models.User) error {
	sub, err := c.client.GetSubscription(ctx, user.ProviderSubscriptionID)
	if err != nil {
		return fmt.Errorf("fetch subscription %s: %w", user.ProviderSubscriptionID, err)
	}

	var cust *provider.Customer
	if sub.CustomerID != "" {
		cust, err = c.client.GetCustomer(ctx, sub.CustomerID)
		if err != nil {
			// Customer data only refines billing_email; sync the
			// subscription state without it.
			log.Warnf("[Sync] Customer %s fetch failed for user %d: %v", sub.CustomerID, user.ID, err)
			cust = nil
		}
	}

	if err := c.billing.ApplyToUser(ctx, user, sub, cust); err != nil {
		c.deferUpdate(user.ID, c.billing.BillingFields(sub, cust))
		return fmt.Errorf("update subscriber %d: %w", user.ID, err)
	}

	c.notifyLapse(user, sub)
	return nil
}

// notifyLapse queues a notification mail when a paying subscriber loses
// entitlement during reconciliation. Delivery goes through the retry queue
// so a flaky SMTP server cannot slow the run down.
func (c *Coordinator) notifyLapse(user *models.User, sub *provider.Subscription) {
	wasEntitled := entitlements.Rank(entitlements.Normalize(user.Plan)) > 0 &&
		entitlements.IsEntitlingStatus(user.SubscriptionStatus)
	if !wasEntitled || entitlements.IsEntitlingStatus(sub.Status) {
		return
	}

	to := user.BillingEmail
	if to == "" {
		to = user.Email
	}
	if to == "" {
		return
	}

	payload, err := retryqueue.SendEmailPayload{
		To:      to,
		Subject: "Your subscription has lapsed",
		Body: fmt.Sprintf("Your %s subscription is now %s. Renew to keep plan access.",
			user.Plan, billing.NormalizeSubscriptionStatus(sub.Status)),
	}.ToJSON()
	if err != nil {
		log.Errorf("[Sync] Encode lapse notification for user %d failed: %v", user.ID, err)
		return
	}
	item := &models.RetryQueueItem{
		Operation:   models.RetryOpSendEmail,
		PayloadJSON: payload,
	}
	if err := c.queue.Enqueue(item); err != nil {
		log.Errorf("[Sync] Enqueue lapse notification for user %d failed: %v", user.ID, err)
		return
	}
	log.Infof("[Sync] Queued lapse notification for subscriber %d", user.ID)
}

func (c *Coordinator) deferUpdate(userID uint, fields map[string]interface{}) {
	payload, err := retryqueue.UpdateRecordPayload{UserID: userID, Fields: fields}.ToJSON()
	if err != nil {
		log.Errorf("[Sync] Encode deferred update for user %d failed: %v", userID, err)
		return
	}
	item := &models.RetryQueueItem{
		Operation:   models.RetryOpUpdateRecord,
		PayloadJSON: payload,
	}
	if err := c.queue.Enqueue(item); err != nil {
		log.Errorf("[Sync] Enqueue deferred update for user %d failed: %v", userID, err)
		return
	}
	log.Infof("[Sync] Deferred subscriber %d update to retry queue item %s", userID, item.PublicID)
}

func (c *Coordinator) failRun(report *models.SyncReport, cause error) {
	log.Errorf("[Sync] Run %s failed: %v", report.RunID, cause)
	report.MarkFailed(time.Now())
	if err := c.reports.Update(report); err != nil {
		log.Errorf("[Sync] Run %s failure update failed: %v", report.RunID, err)
	}
	_ = c.counters.AddSyncOutcome(models.SyncStatusFailure)
	c.alert(
		fmt.Sprintf("sync run %s failed", report.RunID),
		fmt.Sprintf("Sync run %s (trigger %s) aborted: %v", report.RunID, report.Trigger, cause),
	)
}

func (c *Coordinator) alert(subject, body string) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.NotifyAdmins("[BillFox Sync] "+subject, body); err != nil {
		log.Errorf("[Sync] Alert delivery failed: %v", err)
	}
}
