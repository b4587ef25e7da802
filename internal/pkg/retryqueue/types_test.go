package retryqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDelay(t *testing.T) {
	assert.Equal(t, 10*time.Minute, BackoffDelay(1))
	assert.Equal(t, 20*time.Minute, BackoffDelay(2))
	assert.Equal(t, 40*time.Minute, BackoffDelay(3))
}

func TestBackoffDelayClampsLowCounts(t *testing.T) {
	// Counts below 1 cannot occur after an increment, but must not
	// produce a zero or negative delay.
	assert.Equal(t, BackoffDelay(1), BackoffDelay(0))
	assert.Equal(t, BackoffDelay(1), BackoffDelay(-5))
}

func TestUpdateRecordPayloadRoundTrip(t *testing.T) {
	payload := UpdateRecordPayload{
		UserID: 42,
		Fields: map[string]interface{}{
			"plan":                "premium",
			"subscription_status": "active",
		},
	}

	data, err := payload.ToJSON()
	require.NoError(t, err)

	decoded, err := UpdateRecordPayloadFromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, uint(42), decoded.UserID)
	assert.Equal(t, "premium", decoded.Fields["plan"])
	assert.Equal(t, "active", decoded.Fields["subscription_status"])
}
