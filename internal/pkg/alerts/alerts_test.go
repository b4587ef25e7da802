package alerts

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/BillFox/app/models"
	"github.com/ManuelReschke/BillFox/app/repository"
	"github.com/ManuelReschke/BillFox/internal/pkg/retryqueue"
)

type stubAdminRepo struct {
	repository.UserRepository
	admins []models.User
	err    error
}

func (r stubAdminRepo) ListAdmins() ([]models.User, error) { return r.admins, r.err }

type stubQueue struct {
	repository.RetryQueueRepository
	items []*models.RetryQueueItem
	err   error
}

func (q *stubQueue) Enqueue(item *models.RetryQueueItem) error {
	if q.err != nil {
		return q.err
	}
	q.items = append(q.items, item)
	return nil
}

type stubSender struct {
	sent []string
	err  error
}

func (s *stubSender) Send(to, subject, body string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, to)
	return nil
}

func TestNotifyAdminsSendsToAll(t *testing.T) {
	sender := &stubSender{}
	queue := &stubQueue{}
	notifier := NewMailNotifier(sender, stubAdminRepo{admins: []models.User{
		{ID: 1, Email: "ops@example.com"},
		{ID: 2, Email: "admin@example.com"},
	}}, queue)

	require.NoError(t, notifier.NotifyAdmins("subject", "body"))
	assert.Equal(t, []string{"ops@example.com", "admin@example.com"}, sender.sent)
	assert.Empty(t, queue.items)
}

func TestNotifyAdminsNoAdminsDropsAlert(t *testing.T) {
	sender := &stubSender{}
	notifier := NewMailNotifier(sender, stubAdminRepo{}, &stubQueue{})

	require.NoError(t, notifier.NotifyAdmins("subject", "body"))
	assert.Empty(t, sender.sent)
}

func TestNotifyAdminsSendFailureDefersToQueue(t *testing.T) {
	sender := &stubSender{err: errors.New("smtp down")}
	queue := &stubQueue{}
	notifier := NewMailNotifier(sender, stubAdminRepo{admins: []models.User{
		{ID: 1, Email: "ops@example.com"},
	}}, queue)

	require.NoError(t, notifier.NotifyAdmins("queue full", "details"))

	require.Len(t, queue.items, 1)
	item := queue.items[0]
	assert.Equal(t, models.RetryOpSendEmail, item.Operation)
	assert.Equal(t, 10, item.Priority)

	payload, err := retryqueue.SendEmailPayloadFromJSON(item.PayloadJSON)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", payload.To)
	assert.Equal(t, "queue full", payload.Subject)
}

func TestNotifyAdminsListFailure(t *testing.T) {
	notifier := NewMailNotifier(&stubSender{}, stubAdminRepo{err: errors.New("db gone")}, &stubQueue{})
	err := notifier.NotifyAdmins("subject", "body")
	require.Error(t, err)
}
