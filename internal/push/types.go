// Package push models browser push subscriptions and delivers payloads to them.
//
// A Transport only reports what happened to one delivery attempt. It never
// decides what to do about it; pruning dead subscriptions is the caller's job.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Keys is the encryption material a browser hands out with its subscription.
// Core code treats it as opaque and passes it through to the transport.
type Keys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Subscription is one browser's push destination. Endpoint is its identity.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     Keys   `json:"keys"`
}

// Validate rejects subscriptions that cannot be keyed or delivered to.
func (s Subscription) Validate() error {
	if strings.TrimSpace(s.Endpoint) == "" {
		return fmt.Errorf("subscription: endpoint is required")
	}
	return nil
}

// Payload is one message as the service worker expects it.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// Encode serializes p. Callers encode once per broadcast so every recipient
// gets identical bytes.
func (p Payload) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// Transport attempts a single delivery.
type Transport interface {
	Deliver(ctx context.Context, sub Subscription, payload []byte) Result
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, sub Subscription, payload []byte) Result

func (f TransportFunc) Deliver(ctx context.Context, sub Subscription, payload []byte) Result {
	return f(ctx, sub, payload)
}
