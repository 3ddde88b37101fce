package dispatch

import (
	"fmt"
	"time"

	"sensorpush/internal/push"
)

// AlertThresholdC is the temperature (Celsius) a reading must strictly exceed
// to trigger a broadcast.
const AlertThresholdC = 30.0

// Config controls delivery behavior. Zero values mean defaults.
type Config struct {
	// Timeout bounds a single delivery attempt.
	Timeout time.Duration
	// RatePerSec caps delivery attempts across all broadcasts; <=0 is unlimited.
	RatePerSec int
	// MaxConcurrency caps in-flight deliveries per broadcast; <=0 is one per subscriber.
	MaxConcurrency int
	// HistorySize bounds the in-memory broadcast summaries.
	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 50
	}
	return c
}

// Registry is the slice of the subscription registry the dispatcher needs.
type Registry interface {
	Snapshot() []push.Subscription
	Remove(endpoint string) bool
}

// Summary describes one finished broadcast.
type Summary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Total     int       `json:"total"`
	Delivered int       `json:"delivered"`
	Gone      int       `json:"gone"`
	Failed    int       `json:"failed"`
	Pruned    []string  `json:"pruned,omitempty"`
	StartedAt time.Time `json:"started_at"`
	DoneAt    time.Time `json:"done_at"`
}

// DeliveryEvent is published on the bus for every delivery attempt.
type DeliveryEvent struct {
	BroadcastID string `json:"broadcast_id,omitempty"`
	Endpoint    string `json:"endpoint"`
	Outcome     string `json:"outcome"`
	StatusCode  int    `json:"status_code,omitempty"`
	Error       string `json:"error,omitempty"`
}

// AlertEvent is published when a reading crosses the threshold.
type AlertEvent struct {
	Temperature float64      `json:"temperature"`
	Device      string       `json:"device"`
	Payload     push.Payload `json:"payload"`
	At          time.Time    `json:"at"`
}

// WelcomePayload is sent once to every newly registered subscription.
func WelcomePayload() push.Payload {
	return push.Payload{
		Title: "Welcome! 👋",
		Body:  "Notifications are now enabled.",
		URL:   "/",
	}
}

// AlertPayload is broadcast when a reading crosses the threshold.
func AlertPayload(temperature float64, deviceLabel string) push.Payload {
	return push.Payload{
		Title: "Sensor Alert! 🚨",
		Body:  fmt.Sprintf("Abnormally high temperature: %.1f°C\nDevice: %s", temperature, deviceLabel),
		URL:   "/#history",
	}
}

// ExceedsThreshold reports whether temperature triggers an alert.
func ExceedsThreshold(temperature float64) bool {
	return temperature > AlertThresholdC
}

func shortEndpoint(ep string) string {
	if len(ep) <= 60 {
		return ep
	}
	return ep[:57] + "..."
}
