package alerts

import (
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/BillFox/app/models"
	"github.com/ManuelReschke/BillFox/app/repository"
	"github.com/ManuelReschke/BillFox/internal/pkg/retryqueue"
)

// Notifier delivers operator alerts. Alerting is advisory: a failed alert
// never blocks the run that raised it.
type Notifier interface {
	NotifyAdmins(subject, body string) error
}

// Sender delivers one mail. Satisfied by mail.Mailer.
type Sender interface {
	Send(to string, subject string, body string) error
}

// MailNotifier emails every active admin account. Sends that fail are
// deferred to the retry queue instead of being dropped.
type MailNotifier struct {
	mailer Sender
	users  repository.UserRepository
	queue  repository.RetryQueueRepository
}

// NewMailNotifier creates a notifier from injected collaborators.
func NewMailNotifier(mailer Sender, users repository.UserRepository, queue repository.RetryQueueRepository) *MailNotifier {
	return &MailNotifier{
		mailer: mailer,
		users:  users,
		queue:  queue,
	}
}

// NotifyAdmins sends the alert to all operator accounts.
func (n *MailNotifier) NotifyAdmins(subject, body string) error {
	admins, err := n.users.ListAdmins()
	if err != nil {
		return fmt.Errorf("list alert recipients: %w", err)
	}
	if len(admins) == 0 {
		log.Warnf("[Alerts] No active admin accounts, dropping alert: %s", subject)
		return nil
	}

	for _, admin := range admins {
		if err := n.mailer.Send(admin.Email, subject, body); err != nil {
			log.Errorf("[Alerts] Send to %s failed, deferring to retry queue: %v", admin.Email, err)
			if qerr := n.enqueueRetry(admin.Email, subject, body); qerr != nil {
				return fmt.Errorf("defer alert for %s: %w", admin.Email, qerr)
			}
		}
	}
	return nil
}

func (n *MailNotifier) enqueueRetry(to, subject, body string) error {
	if n.queue == nil {
		return fmt.Errorf("no retry queue configured")
	}
	payload, err := retryqueue.SendEmailPayload{To: to, Subject: subject, Body: body}.ToJSON()
	if err != nil {
		return err
	}
	return n.queue.Enqueue(&models.RetryQueueItem{
		Operation:   models.RetryOpSendEmail,
		PayloadJSON: payload,
		Priority:    10, // alerts ahead of routine work
	})
}
