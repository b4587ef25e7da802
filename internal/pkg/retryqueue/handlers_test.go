package retryqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/BillFox/app/models"
	"github.com/ManuelReschke/BillFox/app/repository"
)

type recordingSender struct {
	to, subject, body string
	err               error
}

func (s *recordingSender) Send(to, subject, body string) error {
	s.to, s.subject, s.body = to, subject, body
	return s.err
}

type stubEventRepo struct {
	repository.BillingEventRepository
	event *models.BillingEvent
	err   error
}

func (r stubEventRepo) GetByProviderEventID(id string) (*models.BillingEvent, error) {
	return r.event, r.err
}

type stubProcessor struct {
	processed *models.BillingEvent
	err       error
}

func (p *stubProcessor) ProcessEvent(ctx context.Context, event *models.BillingEvent) error {
	p.processed = event
	return p.err
}

type stubUserUpdater struct {
	repository.UserRepository
	userID uint
	fields map[string]interface{}
	getErr error
	err    error
}

func (r *stubUserUpdater) GetByID(id uint) (*models.User, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	return &models.User{ID: id}, nil
}

func (r *stubUserUpdater) UpdateBillingFields(userID uint, fields map[string]interface{}) error {
	r.userID = userID
	r.fields = fields
	return r.err
}

type stubDeliveryRepo struct {
	repository.WebhookDeliveryRepository
	id         uint
	status     string
	retryCount int
	errMsg     string
}

func (r *stubDeliveryRepo) UpdateStatus(id uint, status string, retryCount int, errMsg string) error {
	r.id, r.status, r.retryCount, r.errMsg = id, status, retryCount, errMsg
	return nil
}

func queueItem(t *testing.T, payload interface{ ToJSON() (string, error) }) *models.RetryQueueItem {
	t.Helper()
	data, err := payload.ToJSON()
	require.NoError(t, err)
	return &models.RetryQueueItem{PayloadJSON: data}
}

func TestSendEmailHandler(t *testing.T) {
	sender := &recordingSender{}
	handler := NewSendEmailHandler(sender)

	item := queueItem(t, SendEmailPayload{To: "ops@example.com", Subject: "alert", Body: "details"})
	require.NoError(t, handler(context.Background(), item))

	assert.Equal(t, "ops@example.com", sender.to)
	assert.Equal(t, "alert", sender.subject)
}

func TestSendEmailHandlerBadPayload(t *testing.T) {
	handler := NewSendEmailHandler(&recordingSender{})
	err := handler(context.Background(), &models.RetryQueueItem{PayloadJSON: "{broken"})
	require.Error(t, err)
}

func TestProcessWebhookHandler(t *testing.T) {
	event := &models.BillingEvent{ID: 9, ProviderEventID: "evt_9"}
	processor := &stubProcessor{}
	handler := NewProcessWebhookHandler(processor, stubEventRepo{event: event}, nil)

	item := queueItem(t, ProcessWebhookPayload{BillingEventID: 9, ProviderEventID: "evt_9"})
	require.NoError(t, handler(context.Background(), item))
	assert.Equal(t, event, processor.processed)
}

func TestProcessWebhookHandlerEventGone(t *testing.T) {
	handler := NewProcessWebhookHandler(&stubProcessor{}, stubEventRepo{err: errors.New("not found")}, nil)

	item := queueItem(t, ProcessWebhookPayload{ProviderEventID: "evt_gone"})
	err := handler(context.Background(), item)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "evt_gone")
}

func TestProcessWebhookHandlerUpdatesDeliveryAttempt(t *testing.T) {
	event := &models.BillingEvent{ID: 9, ProviderEventID: "evt_9"}
	deliveries := &stubDeliveryRepo{}
	processor := &stubProcessor{err: errors.New("customer gone")}
	handler := NewProcessWebhookHandler(processor, stubEventRepo{event: event}, deliveries)

	item := queueItem(t, ProcessWebhookPayload{BillingEventID: 9, ProviderEventID: "evt_9", DeliveryID: 4})
	item.RetryCount = 1 // second attempt

	require.Error(t, handler(context.Background(), item))
	assert.Equal(t, uint(4), deliveries.id)
	assert.Equal(t, models.DeliveryStatusFailed, deliveries.status)
	assert.Equal(t, 2, deliveries.retryCount, "the delivery must record the attempt number")
	assert.Contains(t, deliveries.errMsg, "customer gone")

	// The attempt that finally succeeds flips the delivery to delivered.
	processor.err = nil
	item.RetryCount = 2
	require.NoError(t, handler(context.Background(), item))
	assert.Equal(t, models.DeliveryStatusDelivered, deliveries.status)
	assert.Equal(t, 3, deliveries.retryCount)
	assert.Empty(t, deliveries.errMsg)
}

func TestUpdateRecordHandler(t *testing.T) {
	users := &stubUserUpdater{}
	handler := NewUpdateRecordHandler(users)

	now := time.Now().Format(time.RFC3339)
	item := queueItem(t, UpdateRecordPayload{
		UserID: 3,
		Fields: map[string]interface{}{"plan": "premium", "last_synced_at": now},
	})
	require.NoError(t, handler(context.Background(), item))

	assert.Equal(t, uint(3), users.userID)
	assert.Equal(t, "premium", users.fields["plan"])
}

func TestUpdateRecordHandlerEmptyFieldsIsNoOp(t *testing.T) {
	users := &stubUserUpdater{err: errors.New("must not be called")}
	handler := NewUpdateRecordHandler(users)

	item := queueItem(t, UpdateRecordPayload{UserID: 3})
	require.NoError(t, handler(context.Background(), item))
	assert.Zero(t, users.userID)
}

func TestUpdateRecordHandlerDropsDeletedSubscriber(t *testing.T) {
	users := &stubUserUpdater{getErr: gorm.ErrRecordNotFound, err: errors.New("must not be called")}
	handler := NewUpdateRecordHandler(users)

	item := queueItem(t, UpdateRecordPayload{
		UserID: 3,
		Fields: map[string]interface{}{"plan": "premium"},
	})
	require.NoError(t, handler(context.Background(), item), "a deleted subscriber must not retry to exhaustion")
	assert.Zero(t, users.userID)
}
