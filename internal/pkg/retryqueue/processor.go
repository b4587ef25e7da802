package retryqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/BillFox/app/models"
	"github.com/ManuelReschke/BillFox/app/repository"
	"github.com/ManuelReschke/BillFox/internal/pkg/metrics/counter"
)

// DefaultLeaseExpiry is how long an item may sit in processing before the
// reclaim sweep hands it back to pending (crashed or killed worker).
const DefaultLeaseExpiry = 30 * time.Minute

// Handler executes one operation kind. Handler errors are retried with
// backoff until the item's max retries are exhausted.
type Handler func(ctx context.Context, item *models.RetryQueueItem) error

// BatchResult summarizes one ProcessBatch call.
type BatchResult struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Processor drains due retry queue items. Multiple processors may run
// concurrently: the pending->processing lease in the repository guarantees
// each item is executed at most once per attempt.
type Processor struct {
	repo     repository.RetryQueueRepository
	handlers map[models.RetryOperation]Handler
	counters *counter.Counters
}

// NewProcessor creates a processor with no handlers registered.
func NewProcessor(repo repository.RetryQueueRepository, counters *counter.Counters) *Processor {
	return &Processor{
		repo:     repo,
		handlers: make(map[models.RetryOperation]Handler),
		counters: counters,
	}
}

// RegisterHandler wires a handler for one operation kind.
func (p *Processor) RegisterHandler(op models.RetryOperation, h Handler) {
	p.handlers[op] = h
}

// ProcessBatch fetches up to limit due items (priority descending, FIFO
// within a tier) and executes them. One item's failure never aborts the
// batch; only an unreachable queue store fails the call itself.
func (p *Processor) ProcessBatch(ctx context.Context, limit int) (BatchResult, error) {
	var result BatchResult
	if limit <= 0 {
		limit = 50
	}

	now := time.Now()
	items, err := p.repo.DueItems(now, limit)
	if err != nil {
		return result, fmt.Errorf("fetch due items: %w", err)
	}

	for i := range items {
		item := &items[i]

		claimed, err := p.repo.Claim(item.ID, time.Now())
		if err != nil {
			log.Errorf("[RetryQueue] Claim failed for item %s: %v", item.PublicID, err)
			continue
		}
		if !claimed {
			// Lost the race against a concurrent processor.
			continue
		}

		result.Processed++
		if p.processItem(ctx, item) {
			result.Succeeded++
			_ = p.counters.AddQueueOutcome(string(models.RetryStatusSuccess))
		} else {
			result.Failed++
			_ = p.counters.AddQueueOutcome(string(models.RetryStatusFailed))
		}
	}

	return result, nil
}

// processItem runs the handler and applies the state machine:
// processing -> success, processing -> pending (backoff), or
// processing -> failed (terminal). Returns true on handler success.
func (p *Processor) processItem(ctx context.Context, item *models.RetryQueueItem) bool {
	handler, ok := p.handlers[item.Operation]

	var herr error
	if !ok {
		herr = fmt.Errorf("no handler registered for operation %s", item.Operation)
	} else {
		herr = handler(ctx, item)
	}

	if herr == nil {
		if err := p.repo.MarkSuccess(item.ID, time.Now()); err != nil {
			log.Errorf("[RetryQueue] Mark success failed for item %s: %v", item.PublicID, err)
		}
		return true
	}

	retryCount := item.RetryCount + 1
	if retryCount < item.MaxRetries {
		nextRetryAt := time.Now().Add(BackoffDelay(retryCount))
		log.Warnf("[RetryQueue] Item %s failed (attempt %d/%d), retrying at %s: %v",
			item.PublicID, retryCount, item.MaxRetries, nextRetryAt.Format(time.RFC3339), herr)
		if err := p.repo.Reschedule(item.ID, retryCount, nextRetryAt, herr.Error()); err != nil {
			log.Errorf("[RetryQueue] Reschedule failed for item %s: %v", item.PublicID, err)
		}
	} else {
		log.Errorf("[RetryQueue] Item %s permanently failed after %d retries: %v",
			item.PublicID, retryCount, herr)
		if err := p.repo.MarkFailed(item.ID, retryCount, herr.Error()); err != nil {
			log.Errorf("[RetryQueue] Mark failed failed for item %s: %v", item.PublicID, err)
		}
	}
	return false
}

// ReclaimStuck reverts items whose processing lease expired, so a killed
// worker cannot strand them. Returns the number of reclaimed items.
func (p *Processor) ReclaimStuck(leaseExpiry time.Duration) (int64, error) {
	if leaseExpiry <= 0 {
		leaseExpiry = DefaultLeaseExpiry
	}
	reclaimed, err := p.repo.ReclaimExpired(time.Now().Add(-leaseExpiry))
	if err != nil {
		return 0, fmt.Errorf("reclaim expired leases: %w", err)
	}
	if reclaimed > 0 {
		log.Warnf("[RetryQueue] Reclaimed %d items stuck in processing", reclaimed)
	}
	return reclaimed, nil
}

// Stats returns item counts grouped by status for the admin API.
func (p *Processor) Stats() (map[models.RetryStatus]int64, error) {
	return p.repo.CountByStatus()
}
