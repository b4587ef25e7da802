package apiv1

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/BillFox/app/models"
	"github.com/ManuelReschke/BillFox/app/repository"
	"github.com/ManuelReschke/BillFox/internal/pkg/billing"
	"github.com/ManuelReschke/BillFox/internal/pkg/health"
	"github.com/ManuelReschke/BillFox/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/BillFox/internal/pkg/retryqueue"
	"github.com/ManuelReschke/BillFox/internal/pkg/syncer"
)

// SignatureHeader carries the webhook HMAC from the billing provider.
const SignatureHeader = "X-Billing-Signature"

// Pong is the ping endpoint response
type Pong struct {
	Ping string `json:"ping"`
}

// webhookEnvelope is the outer shape of an inbound provider event.
type webhookEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// APIServer implements the ServerInterface
type APIServer struct {
	billing       *billing.Service
	coordinator   *syncer.Coordinator
	monitor       *health.Monitor
	processor     *retryqueue.Processor
	queue         repository.RetryQueueRepository
	reports       repository.SyncReportRepository
	adminActions  repository.AdminActionRepository
	counters      *counter.Counters
	webhookSecret string
}

// NewAPIServer creates a new API server instance from injected components.
func NewAPIServer(
	billingSvc *billing.Service,
	coordinator *syncer.Coordinator,
	monitor *health.Monitor,
	processor *retryqueue.Processor,
	queue repository.RetryQueueRepository,
	reports repository.SyncReportRepository,
	adminActions repository.AdminActionRepository,
	counters *counter.Counters,
	webhookSecret string,
) *APIServer {
	return &APIServer{
		billing:       billingSvc,
		coordinator:   coordinator,
		monitor:       monitor,
		processor:     processor,
		queue:         queue,
		reports:       reports,
		adminActions:  adminActions,
		counters:      counters,
		webhookSecret: webhookSecret,
	}
}

// RegisterHandlers attaches the v1 routes to the given router group.
func RegisterHandlers(router fiber.Router, s *APIServer) {
	router.Get("/ping", s.GetPing)
	router.Post("/webhooks/billing", s.PostBillingWebhook)

	admin := router.Group("/admin")
	admin.Post("/sync", s.PostAdminSync)
	admin.Get("/health", s.GetAdminHealth)
	admin.Get("/queue/stats", s.GetAdminQueueStats)
	admin.Get("/reports", s.GetAdminReports)
	admin.Get("/reports/:run_id", s.GetAdminReport)
	admin.Get("/actions", s.GetAdminActions)
	admin.Get("/metrics", s.GetAdminMetrics)
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	response := Pong{
		Ping: "pong",
	}

	return c.Status(fiber.StatusOK).JSON(response)
}

// PostBillingWebhook ingests a provider event. The raw body is the
// idempotent event payload; a processing failure still acknowledges the
// delivery and defers the event to the retry queue so the provider does
// not redeliver forever.
func (s *APIServer) PostBillingWebhook(c *fiber.Ctx) error {
	body := c.Body()

	if s.webhookSecret != "" {
		signature := c.Get(SignatureHeader)
		if !billing.VerifyWebhookSignature(body, signature, s.webhookSecret) {
			log.Warn("[API] Webhook rejected: invalid signature")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "invalid webhook signature",
			})
		}
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "bad_request",
			"message": "malformed event payload",
		})
	}

	result, err := s.billing.HandleDelivery(c.Context(), billing.EventInput{
		ProviderEventID: envelope.ID,
		EventType:       envelope.Type,
		PayloadJSON:     string(body),
	})
	if err != nil {
		log.Errorf("[API] Webhook persistence failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "internal_error",
			"message": "event could not be recorded",
		})
	}

	if result.ProcessErr != nil {
		s.deferWebhook(result)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"received":  true,
		"event_id":  result.Event.ProviderEventID,
		"duplicate": result.Duplicate,
		"processed": result.ProcessErr == nil,
	})
}

// deferWebhook queues a failed webhook event for backoff retries.
func (s *APIServer) deferWebhook(result *billing.DeliveryResult) {
	payload, err := retryqueue.ProcessWebhookPayload{
		BillingEventID:  result.Event.ID,
		ProviderEventID: result.Event.ProviderEventID,
		DeliveryID:      result.Delivery.ID,
	}.ToJSON()
	if err != nil {
		log.Errorf("[API] Encode webhook retry payload failed: %v", err)
		return
	}
	item := &models.RetryQueueItem{
		Operation:   models.RetryOpProcessWebhook,
		PayloadJSON: payload,
		Priority:    5,
	}
	if err := s.queue.Enqueue(item); err != nil {
		log.Errorf("[API] Enqueue webhook retry failed: %v", err)
		return
	}
	log.Infof("[API] Deferred event %s to retry queue item %s: %v",
		result.Event.ProviderEventID, item.PublicID, result.ProcessErr)
}

// PostAdminSync triggers a manual sync run. The run executes inline so the
// caller gets the final report.
func (s *APIServer) PostAdminSync(c *fiber.Ctx) error {
	report, err := s.coordinator.RunSync(c.Context(), models.SyncTriggerManual)
	s.audit(c, "manual_sync", reportRunID(report))
	if err != nil {
		status := fiber.StatusInternalServerError
		resp := fiber.Map{
			"success": false,
			"message": fmt.Sprintf("sync run failed: %v", err),
		}
		if report != nil {
			resp["run_id"] = report.RunID
			resp["status"] = report.Status
		}
		return c.Status(status).JSON(resp)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": true,
		"run_id":  report.RunID,
		"status":  report.Status,
		"synced":  report.UsersProcessed,
		"errors":  report.ErrorsEncountered,
	})
}

// GetAdminHealth returns the current billing health snapshot without
// raising alerts.
func (s *APIServer) GetAdminHealth(c *fiber.Ctx) error {
	snapshot, err := s.monitor.ComputeHealth(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"healthy":  snapshot.Healthy(),
		"snapshot": snapshot,
	})
}

// GetAdminQueueStats returns retry queue item counts grouped by status.
func (s *APIServer) GetAdminQueueStats(c *fiber.Ctx) error {
	stats, err := s.processor.Stats()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"stats": stats,
	})
}

// GetAdminReports lists recent sync runs, newest first.
func (s *APIServer) GetAdminReports(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	reports, err := s.reports.ListRecent(limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"reports": reports,
	})
}

// GetAdminReport returns one sync run by its public run id.
func (s *APIServer) GetAdminReport(c *fiber.Ctx) error {
	report, err := s.reports.GetByRunID(c.Params("run_id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error":   "not_found",
				"message": "unknown run id",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"report": report,
	})
}

// GetAdminActions lists the most recent audit trail entries.
func (s *APIServer) GetAdminActions(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	actions, err := s.adminActions.ListRecent(limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"actions": actions,
	})
}

// GetAdminMetrics returns the Redis-backed operational counters.
func (s *APIServer) GetAdminMetrics(c *fiber.Ctx) error {
	unmapped, err := s.counters.SnapshotUnmappedPlanRefs()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
	syncOutcomes, err := s.counters.SnapshotSyncOutcomes()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
	queueOutcomes, err := s.counters.SnapshotQueueOutcomes()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"unmapped_plan_refs": unmapped,
		"sync_outcomes":      syncOutcomes,
		"queue_outcomes":     queueOutcomes,
	})
}

func (s *APIServer) audit(c *fiber.Ctx, action, details string) {
	if s.adminActions == nil {
		return
	}
	// The basicauth middleware stores the acting admin id when it can
	// resolve one; system-level calls audit as user 0.
	var userID uint
	if v, ok := c.Locals("admin_user_id").(uint); ok {
		userID = v
	}
	entry := &models.AdminAction{
		UserID:  userID,
		Action:  action,
		Details: details,
	}
	if err := s.adminActions.Create(entry); err != nil {
		log.Errorf("[API] Audit entry for %s failed: %v", action, err)
	}
}

func reportRunID(report *models.SyncReport) string {
	if report == nil {
		return ""
	}
	return report.RunID
}
