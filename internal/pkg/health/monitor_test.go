package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/BillFox/app/repository"
)

// Stubs override only the count methods the monitor calls; the embedded
// interface panics on anything else.

type stubEvents struct {
	repository.BillingEventRepository
	pending int64
	err     error
}

func (s stubEvents) CountPendingSince(since time.Time) (int64, error) { return s.pending, s.err }

type stubWebhooks struct {
	repository.WebhookDeliveryRepository
	failed int64
	err    error
}

func (s stubWebhooks) CountFailedSince(since time.Time) (int64, error) { return s.failed, s.err }

type stubUsers struct {
	repository.UserRepository
	stale int64
	err   error
}

func (s stubUsers) CountStale(olderThan time.Time) (int64, error) { return s.stale, s.err }

type stubProber struct {
	err error
}

func (s stubProber) Ping(ctx context.Context) error { return s.err }

type spyNotifier struct {
	subjects []string
}

func (s *spyNotifier) NotifyAdmins(subject, body string) error {
	s.subjects = append(s.subjects, subject)
	return nil
}

func TestCheckAndAlertAllHealthy(t *testing.T) {
	notifier := &spyNotifier{}
	monitor := NewMonitor(DefaultConfig(), stubEvents{}, stubWebhooks{}, stubUsers{}, stubProber{}, notifier)

	snapshot, err := monitor.CheckAndAlert(context.Background())
	require.NoError(t, err)

	assert.True(t, snapshot.Healthy())
	assert.Empty(t, notifier.subjects, "healthy system must not alert")
}

func TestCheckAndAlertOneAlertPerMetric(t *testing.T) {
	notifier := &spyNotifier{}
	monitor := NewMonitor(
		DefaultConfig(),
		stubEvents{pending: 3},
		stubWebhooks{failed: 1},
		stubUsers{stale: 7},
		stubProber{},
		notifier,
	)

	snapshot, err := monitor.CheckAndAlert(context.Background())
	require.NoError(t, err)

	assert.False(t, snapshot.Healthy())
	require.Len(t, notifier.subjects, 3)
	assert.Contains(t, notifier.subjects[0], "pending billing events: 3")
	assert.Contains(t, notifier.subjects[1], "failed webhook deliveries: 1")
	assert.Contains(t, notifier.subjects[2], "stale subscribers: 7")
}

func TestCheckAndAlertSingleDegradedMetric(t *testing.T) {
	notifier := &spyNotifier{}
	monitor := NewMonitor(
		DefaultConfig(),
		stubEvents{},
		stubWebhooks{failed: 2},
		stubUsers{},
		stubProber{},
		notifier,
	)

	_, err := monitor.CheckAndAlert(context.Background())
	require.NoError(t, err)

	require.Len(t, notifier.subjects, 1)
	assert.Contains(t, notifier.subjects[0], "failed webhook deliveries: 2")
}

func TestCheckAndAlertRespectsSensitivity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AlertSensitivity = 2

	notifier := &spyNotifier{}
	monitor := NewMonitor(
		cfg,
		stubEvents{pending: 2},
		stubWebhooks{failed: 2},
		stubUsers{stale: 3},
		stubProber{},
		notifier,
	)

	snapshot, err := monitor.CheckAndAlert(context.Background())
	require.NoError(t, err)

	assert.False(t, snapshot.Healthy(), "the snapshot reports raw counts regardless of sensitivity")
	require.Len(t, notifier.subjects, 1, "counts at or below the sensitivity must not alert")
	assert.Contains(t, notifier.subjects[0], "stale subscribers: 3")
}

func TestCheckAndAlertProviderProbeFailure(t *testing.T) {
	notifier := &spyNotifier{}
	monitor := NewMonitor(
		DefaultConfig(),
		stubEvents{},
		stubWebhooks{},
		stubUsers{},
		stubProber{err: errors.New("dial tcp: connection refused")},
		notifier,
	)

	snapshot, err := monitor.CheckAndAlert(context.Background())
	require.NoError(t, err)

	assert.False(t, snapshot.ProviderReachable)
	require.Len(t, notifier.subjects, 1)
	assert.Contains(t, notifier.subjects[0], "billing provider unreachable")
}

func TestComputeHealthStoreError(t *testing.T) {
	monitor := NewMonitor(
		DefaultConfig(),
		stubEvents{err: errors.New("table gone")},
		stubWebhooks{},
		stubUsers{},
		nil,
		nil,
	)

	_, err := monitor.ComputeHealth(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count pending events")
}

func TestComputeHealthWithoutProber(t *testing.T) {
	monitor := NewMonitor(DefaultConfig(), stubEvents{}, stubWebhooks{}, stubUsers{}, nil, nil)

	snapshot, err := monitor.ComputeHealth(context.Background())
	require.NoError(t, err)
	assert.True(t, snapshot.ProviderReachable, "missing prober counts as reachable")
}
