package counter

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	unmappedPlanRefsKey = "billing:counters:unmapped_plan_refs"
	syncOutcomesKey     = "billing:counters:sync_outcomes"
	queueOutcomesKey    = "billing:counters:queue_outcomes"
)

// Counters tracks operational metrics in Redis hashes. The unmapped plan ref
// counter exists so operators can tell a deliberate default-plan fallback
// apart from a billing misconfiguration.
type Counters struct {
	client *redis.Client
}

// New creates a counter set backed by the given Redis client
func New(client *redis.Client) *Counters {
	return &Counters{client: client}
}

// AddUnmappedPlanRef increments the counter for an unrecognized provider price id
func (c *Counters) AddUnmappedPlanRef(priceID string) error {
	if c == nil || c.client == nil || priceID == "" {
		return nil
	}
	return c.client.HIncrBy(context.Background(), unmappedPlanRefsKey, priceID, 1).Err()
}

// AddSyncOutcome increments the per-status counter for completed sync runs
func (c *Counters) AddSyncOutcome(status string) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.HIncrBy(context.Background(), syncOutcomesKey, status, 1).Err()
}

// AddQueueOutcome increments the per-result counter for processed queue items
func (c *Counters) AddQueueOutcome(result string) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.HIncrBy(context.Background(), queueOutcomesKey, result, 1).Err()
}

// SnapshotUnmappedPlanRefs returns the current unmapped price id counts
func (c *Counters) SnapshotUnmappedPlanRefs() (map[string]int64, error) {
	return c.snapshot(unmappedPlanRefsKey)
}

// SnapshotSyncOutcomes returns the current sync run outcome counts
func (c *Counters) SnapshotSyncOutcomes() (map[string]int64, error) {
	return c.snapshot(syncOutcomesKey)
}

// SnapshotQueueOutcomes returns the current queue item outcome counts
func (c *Counters) SnapshotQueueOutcomes() (map[string]int64, error) {
	return c.snapshot(queueOutcomesKey)
}

func (c *Counters) snapshot(key string) (map[string]int64, error) {
	if c == nil || c.client == nil {
		return map[string]int64{}, nil
	}
	data, err := c.client.HGetAll(context.Background(), key).Result()
	if err != nil {
		return nil, err
	}

	result := make(map[string]int64, len(data))
	for field, value := range data {
		if count, perr := strconv.ParseInt(value, 10, 64); perr == nil {
			result[field] = count
		}
	}
	return result, nil
}
