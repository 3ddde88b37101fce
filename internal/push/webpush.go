package push

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// VAPIDConfig identifies this application server to push services.
type VAPIDConfig struct {
	PublicKey  string
	PrivateKey string
	// Subject is a contact URI: "mailto:ops@example.com" or an https URL.
	Subject string
	TTL     time.Duration
	Urgency string
}

// WebPush delivers payloads with RFC 8291 encryption and VAPID auth.
// It is safe for concurrent use.
type WebPush struct {
	mu     sync.RWMutex
	cfg    VAPIDConfig
	client *http.Client
}

func NewWebPush(cfg VAPIDConfig, client *http.Client) (*WebPush, error) {
	if err := validateVAPID(cfg); err != nil {
		return nil, err
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &WebPush{cfg: cfg, client: client}, nil
}

func validateVAPID(cfg VAPIDConfig) error {
	if strings.TrimSpace(cfg.PublicKey) == "" || strings.TrimSpace(cfg.PrivateKey) == "" {
		return errors.New("vapid: public and private keys are required")
	}
	if strings.TrimSpace(cfg.Subject) == "" {
		return errors.New("vapid: subject is required")
	}
	return nil
}

// PublicKey is the application server key browsers subscribe with.
func (w *WebPush) PublicKey() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg.PublicKey
}

// Apply swaps TTL/urgency. Key changes invalidate every existing browser
// subscription, so they are rejected here and need a restart.
func (w *WebPush) Apply(cfg VAPIDConfig) error {
	if err := validateVAPID(cfg); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if cfg.PublicKey != w.cfg.PublicKey || cfg.PrivateKey != w.cfg.PrivateKey {
		return errors.New("vapid: key change requires restart")
	}
	w.cfg = cfg
	return nil
}

func (w *WebPush) Deliver(ctx context.Context, sub Subscription, payload []byte) Result {
	w.mu.RLock()
	cfg := w.cfg
	w.mu.RUnlock()

	ttl := int(cfg.TTL / time.Second)
	if ttl <= 0 {
		ttl = 24 * 60 * 60
	}
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
	}, &webpush.Options{
		HTTPClient: w.client,
		// webpush-go prepends "mailto:" to anything that is not an https URL.
		Subscriber:      strings.TrimPrefix(cfg.Subject, "mailto:"),
		VAPIDPublicKey:  cfg.PublicKey,
		VAPIDPrivateKey: cfg.PrivateKey,
		TTL:             ttl,
		Urgency:         urgency(cfg.Urgency),
	})
	if err != nil {
		return ResultFor(0, err)
	}
	defer resp.Body.Close()

	res := ResultFor(resp.StatusCode, nil)
	if res.Outcome != Delivered {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		res.Err = &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return res
}

func urgency(s string) webpush.Urgency {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "very-low":
		return webpush.UrgencyVeryLow
	case "low":
		return webpush.UrgencyLow
	case "high":
		return webpush.UrgencyHigh
	default:
		return webpush.UrgencyNormal
	}
}

// GenerateVAPIDKeys returns a fresh (public, private) key pair, base64url encoded.
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	return publicKey, privateKey, err
}
