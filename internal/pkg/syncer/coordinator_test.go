package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/BillFox/app/models"
	"github.com/ManuelReschke/BillFox/app/repository"
	"github.com/ManuelReschke/BillFox/internal/pkg/billing"
	"github.com/ManuelReschke/BillFox/internal/pkg/health"
	"github.com/ManuelReschke/BillFox/internal/pkg/provider"
	"github.com/ManuelReschke/BillFox/internal/pkg/retryqueue"
)

type syncUserRepo struct {
	repository.UserRepository
	list    []models.User
	listErr error
	updErr  error

	mu      sync.Mutex
	updates map[uint]map[string]interface{}
}

func (r *syncUserRepo) ListWithSubscription() ([]models.User, error) {
	return r.list, r.listErr
}

func (r *syncUserRepo) CountStale(olderThan time.Time) (int64, error) { return 0, nil }

func (r *syncUserRepo) UpdateBillingFields(userID uint, fields map[string]interface{}) error {
	if r.updErr != nil {
		return r.updErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updates == nil {
		r.updates = map[uint]map[string]interface{}{}
	}
	r.updates[userID] = fields
	return nil
}

type syncReportRepo struct {
	repository.SyncReportRepository
	mu      sync.Mutex
	reports []*models.SyncReport
}

func (r *syncReportRepo) Create(report *models.SyncReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	report.ID = uint(len(r.reports) + 1)
	r.reports = append(r.reports, report)
	return nil
}

func (r *syncReportRepo) Update(report *models.SyncReport) error { return nil }

type syncQueueRepo struct {
	repository.RetryQueueRepository
	mu    sync.Mutex
	items []*models.RetryQueueItem
}

func (r *syncQueueRepo) Enqueue(item *models.RetryQueueItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, item)
	return nil
}

type fakeProvider struct {
	subs     map[string]*provider.Subscription
	subErr   error
	custErr  error
	mu       sync.Mutex
	fetched  []string
}

func (p *fakeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*provider.Subscription, error) {
	p.mu.Lock()
	p.fetched = append(p.fetched, subscriptionID)
	p.mu.Unlock()
	if p.subErr != nil {
		return nil, p.subErr
	}
	sub, ok := p.subs[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("subscription %s not found", subscriptionID)
	}
	return sub, nil
}

func (p *fakeProvider) GetCustomer(ctx context.Context, customerID string) (*provider.Customer, error) {
	if p.custErr != nil {
		return nil, p.custErr
	}
	return &provider.Customer{ID: customerID, Email: customerID + "@example.com"}, nil
}

type syncSpyNotifier struct {
	mu       sync.Mutex
	subjects []string
}

func (n *syncSpyNotifier) NotifyAdmins(subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subjects = append(n.subjects, subject)
	return nil
}

func testSubscribers(n int) []models.User {
	users := make([]models.User, n)
	for i := range users {
		id := uint(i + 1)
		users[i] = models.User{
			ID:                     id,
			ProviderCustomerID:     fmt.Sprintf("cus_%d", id),
			ProviderSubscriptionID: fmt.Sprintf("sub_%d", id),
		}
	}
	return users
}

func testProviderFor(users []models.User) *fakeProvider {
	subs := map[string]*provider.Subscription{}
	for _, u := range users {
		subs[u.ProviderSubscriptionID] = &provider.Subscription{
			ID:                 u.ProviderSubscriptionID,
			CustomerID:         u.ProviderCustomerID,
			Status:             "active",
			PriceID:            "price_premium_month",
			CurrentPeriodStart: time.Now().Add(-time.Hour).Unix(),
			CurrentPeriodEnd:   time.Now().Add(720 * time.Hour).Unix(),
		}
	}
	return &fakeProvider{subs: subs}
}

func newTestCoordinator(users *syncUserRepo, reports *syncReportRepo, queue *syncQueueRepo, client ProviderAPI, notifier *syncSpyNotifier) *Coordinator {
	billingSvc := billing.NewService(users, nil, nil, billing.DefaultPlanMap(), nil)
	return NewCoordinator(Config{WorkerCount: 4}, users, reports, queue, billingSvc, client, notifier, nil, nil)
}

func TestRunSyncSuccess(t *testing.T) {
	subscribers := testSubscribers(3)
	users := &syncUserRepo{list: subscribers}
	reports := &syncReportRepo{}
	queue := &syncQueueRepo{}
	notifier := &syncSpyNotifier{}

	coordinator := newTestCoordinator(users, reports, queue, testProviderFor(subscribers), notifier)

	report, err := coordinator.RunSync(context.Background(), models.SyncTriggerScheduled)
	require.NoError(t, err)

	assert.Equal(t, models.SyncStatusSuccess, report.Status)
	assert.Equal(t, 3, report.UsersProcessed)
	assert.Equal(t, 0, report.ErrorsEncountered)
	assert.NotNil(t, report.CompletedAt)
	assert.NotEmpty(t, report.RunID)

	require.Len(t, users.updates, 3)
	for _, fields := range users.updates {
		assert.Equal(t, "premium", fields["plan"])
		assert.Equal(t, models.BillingStatusActive, fields["subscription_status"])
		assert.NotNil(t, fields["last_synced_at"], "every synced user must be stamped")
	}
	assert.Empty(t, notifier.subjects, "clean run must not alert")
	assert.Empty(t, queue.items)
}

func TestRunSyncFetchFailuresProduceDetails(t *testing.T) {
	subscribers := testSubscribers(2)
	users := &syncUserRepo{list: subscribers}
	reports := &syncReportRepo{}
	queue := &syncQueueRepo{}
	notifier := &syncSpyNotifier{}

	client := testProviderFor(subscribers)
	delete(client.subs, "sub_2") // provider lost one subscription

	coordinator := newTestCoordinator(users, reports, queue, client, notifier)

	report, err := coordinator.RunSync(context.Background(), models.SyncTriggerManual)
	require.NoError(t, err, "per-subscriber failures are details, not run errors")

	// 1 error out of 2 is a 50% error rate: failure, not partial.
	assert.Equal(t, models.SyncStatusFailure, report.Status)
	assert.Equal(t, 1, report.UsersProcessed)
	assert.Equal(t, 1, report.ErrorsEncountered)

	details, derr := report.ErrorDetails()
	require.NoError(t, derr)
	require.Len(t, details, 1)
	assert.Equal(t, uint(2), details[0].UserID)
	assert.Contains(t, details[0].Message, "sub_2")

	require.Len(t, notifier.subjects, 1)
	assert.Contains(t, notifier.subjects[0], "1 errors")
}

func TestRunSyncPartialUnderThreshold(t *testing.T) {
	subscribers := testSubscribers(20)
	users := &syncUserRepo{list: subscribers}
	reports := &syncReportRepo{}
	queue := &syncQueueRepo{}
	notifier := &syncSpyNotifier{}

	client := testProviderFor(subscribers)
	delete(client.subs, "sub_20") // 1 of 20: 5% error rate

	coordinator := newTestCoordinator(users, reports, queue, client, notifier)

	report, err := coordinator.RunSync(context.Background(), models.SyncTriggerScheduled)
	require.NoError(t, err)

	assert.Equal(t, models.SyncStatusPartial, report.Status)
	assert.Equal(t, 19, report.UsersProcessed)
	assert.Equal(t, 1, report.ErrorsEncountered)
}

func TestRunSyncStoreFailureDefersUpdate(t *testing.T) {
	subscribers := testSubscribers(1)
	users := &syncUserRepo{list: subscribers, updErr: errors.New("deadlock found")}
	reports := &syncReportRepo{}
	queue := &syncQueueRepo{}
	notifier := &syncSpyNotifier{}

	coordinator := newTestCoordinator(users, reports, queue, testProviderFor(subscribers), notifier)

	report, err := coordinator.RunSync(context.Background(), models.SyncTriggerScheduled)
	require.NoError(t, err)

	assert.Equal(t, 1, report.ErrorsEncountered)

	require.Len(t, queue.items, 1)
	item := queue.items[0]
	assert.Equal(t, models.RetryOpUpdateRecord, item.Operation)

	payload, perr := retryqueue.UpdateRecordPayloadFromJSON(item.PayloadJSON)
	require.NoError(t, perr)
	assert.Equal(t, uint(1), payload.UserID)
	assert.Equal(t, "premium", payload.Fields["plan"])
}

func TestRunSyncListFailureAbortsRun(t *testing.T) {
	users := &syncUserRepo{listErr: errors.New("connection refused")}
	reports := &syncReportRepo{}
	queue := &syncQueueRepo{}
	notifier := &syncSpyNotifier{}

	coordinator := newTestCoordinator(users, reports, queue, &fakeProvider{}, notifier)

	report, err := coordinator.RunSync(context.Background(), models.SyncTriggerScheduled)
	require.Error(t, err)
	require.NotNil(t, report)

	assert.Equal(t, models.SyncStatusFailure, report.Status)
	assert.NotNil(t, report.CompletedAt)

	require.Len(t, notifier.subjects, 1)
	assert.Contains(t, notifier.subjects[0], "failed")
}

func TestRunSyncQueuesLapseNotification(t *testing.T) {
	subscribers := testSubscribers(2)
	subscribers[0].Plan = "premium"
	subscribers[0].SubscriptionStatus = models.BillingStatusActive
	subscribers[0].Email = "alice@example.com"
	subscribers[1].Plan = "free"

	users := &syncUserRepo{list: subscribers}
	reports := &syncReportRepo{}
	queue := &syncQueueRepo{}
	notifier := &syncSpyNotifier{}

	client := testProviderFor(subscribers)
	client.subs["sub_1"].Status = "canceled"
	client.subs["sub_2"].Status = "canceled"

	coordinator := newTestCoordinator(users, reports, queue, client, notifier)

	report, err := coordinator.RunSync(context.Background(), models.SyncTriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSuccess, report.Status)

	// Only the formerly entitled subscriber is notified; the free one
	// never had access to lose.
	require.Len(t, queue.items, 1)
	item := queue.items[0]
	assert.Equal(t, models.RetryOpSendEmail, item.Operation)

	payload, perr := retryqueue.SendEmailPayloadFromJSON(item.PayloadJSON)
	require.NoError(t, perr)
	assert.Equal(t, "alice@example.com", payload.To)
	assert.Contains(t, payload.Subject, "lapsed")
	assert.Contains(t, payload.Body, models.BillingStatusCanceled)
}

func TestRunSyncNoLapseNotificationWhileEntitled(t *testing.T) {
	subscribers := testSubscribers(1)
	subscribers[0].Plan = "premium"
	subscribers[0].SubscriptionStatus = models.BillingStatusActive

	users := &syncUserRepo{list: subscribers}
	queue := &syncQueueRepo{}

	client := testProviderFor(subscribers)
	client.subs["sub_1"].Status = "past_due" // dunning window keeps access

	coordinator := newTestCoordinator(users, &syncReportRepo{}, queue, client, &syncSpyNotifier{})

	_, err := coordinator.RunSync(context.Background(), models.SyncTriggerScheduled)
	require.NoError(t, err)
	assert.Empty(t, queue.items, "past_due keeps entitlement and must not notify")
}

type healthEventRepo struct {
	repository.BillingEventRepository
}

func (r healthEventRepo) CountPendingSince(since time.Time) (int64, error) { return 0, nil }

type healthDeliveryRepo struct {
	repository.WebhookDeliveryRepository
	failed int64
}

func (r healthDeliveryRepo) CountFailedSince(since time.Time) (int64, error) { return r.failed, nil }

func TestRunSyncEndOfRunHealthCheckAlerts(t *testing.T) {
	subscribers := testSubscribers(2)
	users := &syncUserRepo{list: subscribers}
	reports := &syncReportRepo{}
	queue := &syncQueueRepo{}
	notifier := &syncSpyNotifier{}

	// The run itself is clean, but the store holds a failed webhook
	// delivery. The end-of-run health check must surface it.
	monitor := health.NewMonitor(
		health.DefaultConfig(),
		healthEventRepo{},
		healthDeliveryRepo{failed: 1},
		users,
		nil,
		notifier,
	)
	billingSvc := billing.NewService(users, nil, nil, billing.DefaultPlanMap(), nil)
	coordinator := NewCoordinator(
		Config{WorkerCount: 2},
		users, reports, queue,
		billingSvc, testProviderFor(subscribers),
		notifier, monitor, nil,
	)

	report, err := coordinator.RunSync(context.Background(), models.SyncTriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSuccess, report.Status)
	assert.Equal(t, 0, report.ErrorsEncountered)

	require.Len(t, notifier.subjects, 1, "a clean run with degraded store health must still alert")
	assert.Contains(t, notifier.subjects[0], "failed webhook deliveries: 1")
}

func TestRunSyncCustomerFetchFailureStillSyncs(t *testing.T) {
	subscribers := testSubscribers(1)
	users := &syncUserRepo{list: subscribers}
	reports := &syncReportRepo{}
	queue := &syncQueueRepo{}
	notifier := &syncSpyNotifier{}

	client := testProviderFor(subscribers)
	client.custErr = errors.New("customer endpoint down")

	coordinator := newTestCoordinator(users, reports, queue, client, notifier)

	report, err := coordinator.RunSync(context.Background(), models.SyncTriggerScheduled)
	require.NoError(t, err)

	assert.Equal(t, models.SyncStatusSuccess, report.Status)
	require.Len(t, users.updates, 1)
	_, hasEmail := users.updates[1]["billing_email"]
	assert.False(t, hasEmail, "billing email must be skipped when the customer fetch fails")
}
