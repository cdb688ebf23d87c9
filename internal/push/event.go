package push

import "time"

// TypeConnected is the sentinel event sent once to every new connection.
const TypeConnected = "connected"

// Event is one message on the push channel.
type Event struct {
	Type           string `json:"type"`
	ChangeType     string `json:"changeType,omitempty"`
	SubscriptionID string `json:"subscriptionId,omitempty"`
	ResourcePath   string `json:"resourcePath,omitempty"`
	ReceivedAt     string `json:"receivedAt,omitempty"`
	Data           any    `json:"data,omitempty"`
}

// Timestamp formats t the way events carry times.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
