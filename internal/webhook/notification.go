package webhook

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/apperrors"
)

// Lifecycle events Graph sends on the lifecycle notification URL.
const (
	LifecycleReauthorizationRequired = "reauthorizationRequired"
	LifecycleSubscriptionRemoved     = "subscriptionRemoved"
	LifecycleMissed                  = "missed"
)

// Notification is one change notification out of a webhook batch.
type Notification struct {
	SubscriptionID                 string         `json:"subscriptionId"`
	SubscriptionExpirationDateTime string         `json:"subscriptionExpirationDateTime,omitempty"`
	ChangeType                     string         `json:"changeType"`
	Resource                       string         `json:"resource"`
	ResourceData                   map[string]any `json:"resourceData,omitempty"`
	ClientState                    string         `json:"clientState,omitempty"`
	TenantID                       string         `json:"tenantId,omitempty"`
	LifecycleEvent                 string         `json:"lifecycleEvent,omitempty"`

	// Raw is the notification exactly as received.
	Raw json.RawMessage `json:"-"`
}

// ResourceDataString returns a string field of resourceData, or "".
func (n Notification) ResourceDataString(key string) string {
	if n.ResourceData == nil {
		return ""
	}
	s, _ := n.ResourceData[key].(string)
	return s
}

// DecodeBatch parses a {"value": [...]} webhook body. Entries that are not
// objects are skipped; a body that is not a batch is a ValidationError.
func DecodeBatch(body []byte) ([]Notification, error) {
	if len(body) == 0 {
		return nil, &apperrors.ValidationError{Field: "body", Err: errors.New("empty")}
	}

	var envelope struct {
		Value []json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &apperrors.ValidationError{Field: "body", Err: err}
	}
	if envelope.Value == nil {
		return nil, &apperrors.ValidationError{Field: "value", Err: errors.New("missing")}
	}

	out := make([]Notification, 0, len(envelope.Value))
	var bad int
	for _, raw := range envelope.Value {
		var n Notification
		if err := json.Unmarshal(raw, &n); err != nil {
			bad++
			continue
		}
		n.Raw = raw
		out = append(out, n)
	}
	if bad > 0 && len(out) == 0 {
		return nil, &apperrors.ValidationError{Field: "value", Err: fmt.Errorf("%d malformed notifications", bad)}
	}
	return out, nil
}
