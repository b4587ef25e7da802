package retryqueue

import (
	"encoding/json"
	"time"
)

// BaseRetryDelay is the backoff unit: the Nth retry waits 2^N times this.
const BaseRetryDelay = 5 * time.Minute

// BackoffDelay returns the wait before the given retry attempt.
// retryCount is the already-incremented attempt number: retry 1 waits 10
// minutes, retry 2 waits 20, retry 3 waits 40.
func BackoffDelay(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	return time.Duration(1<<uint(retryCount)) * BaseRetryDelay
}

// SendEmailPayload contains the payload for send_email operations
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// ToJSON serializes the payload for queue storage
func (p SendEmailPayload) ToJSON() (string, error) {
	data, err := json.Marshal(p)
	return string(data), err
}

// SendEmailPayloadFromJSON creates a payload from stored JSON
func SendEmailPayloadFromJSON(data string) (*SendEmailPayload, error) {
	var payload SendEmailPayload
	err := json.Unmarshal([]byte(data), &payload)
	return &payload, err
}

// ProcessWebhookPayload contains the payload for process_webhook operations.
// DeliveryID links back to the delivery attempt record so retries can keep
// its status and retry count current.
type ProcessWebhookPayload struct {
	BillingEventID  uint   `json:"billing_event_id"`
	ProviderEventID string `json:"provider_event_id"`
	DeliveryID      uint   `json:"delivery_id,omitempty"`
}

// ToJSON serializes the payload for queue storage
func (p ProcessWebhookPayload) ToJSON() (string, error) {
	data, err := json.Marshal(p)
	return string(data), err
}

// ProcessWebhookPayloadFromJSON creates a payload from stored JSON
func ProcessWebhookPayloadFromJSON(data string) (*ProcessWebhookPayload, error) {
	var payload ProcessWebhookPayload
	err := json.Unmarshal([]byte(data), &payload)
	return &payload, err
}

// UpdateRecordPayload contains the payload for update_record operations:
// a previously-failed subscriber mutation to re-apply.
type UpdateRecordPayload struct {
	UserID uint                   `json:"user_id"`
	Fields map[string]interface{} `json:"fields"`
}

// ToJSON serializes the payload for queue storage
func (p UpdateRecordPayload) ToJSON() (string, error) {
	data, err := json.Marshal(p)
	return string(data), err
}

// UpdateRecordPayloadFromJSON creates a payload from stored JSON
func UpdateRecordPayloadFromJSON(data string) (*UpdateRecordPayload, error) {
	var payload UpdateRecordPayload
	err := json.Unmarshal([]byte(data), &payload)
	return &payload, err
}
