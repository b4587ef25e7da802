package models

import (
	"testing"
	"time"
)

func TestRetryQueueItemHasRetriesLeft(t *testing.T) {
	item := &RetryQueueItem{RetryCount: 0, MaxRetries: DefaultMaxRetries}

	for i := 0; i < DefaultMaxRetries; i++ {
		if !item.HasRetriesLeft() {
			t.Fatalf("expected retries left at count %d", item.RetryCount)
		}
		item.RetryCount++
	}

	if item.HasRetriesLeft() {
		t.Errorf("expected no retries left at count %d", item.RetryCount)
	}
}

func TestRetryQueueItemIsDue(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	tests := []struct {
		name string
		item RetryQueueItem
		want bool
	}{
		{"pending without schedule", RetryQueueItem{Status: RetryStatusPending}, true},
		{"pending schedule reached", RetryQueueItem{Status: RetryStatusPending, NextRetryAt: &past}, true},
		{"pending schedule in future", RetryQueueItem{Status: RetryStatusPending, NextRetryAt: &future}, false},
		{"processing never due", RetryQueueItem{Status: RetryStatusProcessing, NextRetryAt: &past}, false},
		{"failed never due", RetryQueueItem{Status: RetryStatusFailed}, false},
	}

	for _, tt := range tests {
		if got := tt.item.IsDue(now); got != tt.want {
			t.Errorf("%s: IsDue = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestUserIsStale(t *testing.T) {
	now := time.Now()
	recent := now.Add(-time.Hour)
	old := now.Add(-72 * time.Hour)
	threshold := 48 * time.Hour

	noSub := &User{}
	if noSub.IsStale(threshold, now) {
		t.Error("user without subscription must never be stale")
	}

	neverSynced := &User{ProviderSubscriptionID: "sub_1"}
	if !neverSynced.IsStale(threshold, now) {
		t.Error("subscribed user without last_synced_at must be stale")
	}

	fresh := &User{ProviderSubscriptionID: "sub_2", LastSyncedAt: &recent}
	if fresh.IsStale(threshold, now) {
		t.Error("recently synced user must not be stale")
	}

	drifted := &User{ProviderSubscriptionID: "sub_3", LastSyncedAt: &old}
	if !drifted.IsStale(threshold, now) {
		t.Error("user past the threshold must be stale")
	}
}
