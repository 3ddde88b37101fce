package push

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func browserKeys(t *testing.T) Keys {
	t.Helper()
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	auth := make([]byte, 16)
	if _, err := rand.Read(auth); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return Keys{
		P256dh: base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()),
		Auth:   base64.RawURLEncoding.EncodeToString(auth),
	}
}

func newTestWebPush(t *testing.T) *WebPush {
	t.Helper()
	pub, priv, err := GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("GenerateVAPIDKeys: %v", err)
	}
	wp, err := NewWebPush(VAPIDConfig{
		PublicKey:  pub,
		PrivateKey: priv,
		Subject:    "mailto:ops@example.com",
		TTL:        time.Hour,
		Urgency:    "high",
	}, nil)
	if err != nil {
		t.Fatalf("NewWebPush: %v", err)
	}
	return wp
}

func TestWebPushDeliverClassifiesStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		status int
		want   Outcome
	}{
		{name: "created", status: http.StatusCreated, want: Delivered},
		{name: "not found", status: http.StatusNotFound, want: Gone},
		{name: "gone", status: http.StatusGone, want: Gone},
		{name: "rate limited", status: http.StatusTooManyRequests, want: TransientFailure},
		{name: "server error", status: http.StatusInternalServerError, want: TransientFailure},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				if r.Header.Get("Content-Encoding") != "aes128gcm" {
					t.Errorf("Content-Encoding = %q", r.Header.Get("Content-Encoding"))
				}
				if r.Header.Get("Urgency") != "high" {
					t.Errorf("Urgency = %q", r.Header.Get("Urgency"))
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			wp := newTestWebPush(t)
			sub := Subscription{Endpoint: srv.URL + "/push/abc", Keys: browserKeys(t)}
			body, _ := Payload{Title: "t", Body: "b", URL: "/"}.Encode()

			res := wp.Deliver(context.Background(), sub, body)
			if res.Outcome != tt.want {
				t.Fatalf("Outcome = %v, want %v (err=%v)", res.Outcome, tt.want, res.Err)
			}
			if res.StatusCode != tt.status {
				t.Fatalf("StatusCode = %d, want %d", res.StatusCode, tt.status)
			}
			if tt.want != Delivered {
				var se *StatusError
				if !errors.As(res.Err, &se) {
					t.Fatalf("expected *StatusError, got %v", res.Err)
				}
			}
			if hits.Load() != 1 {
				t.Fatalf("push service hit %d times, want 1", hits.Load())
			}
		})
	}
}

func TestWebPushDeliverNetworkErrorIsTransient(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	wp := newTestWebPush(t)
	res := wp.Deliver(context.Background(), Subscription{Endpoint: url, Keys: browserKeys(t)}, []byte(`{}`))
	if res.Outcome != TransientFailure {
		t.Fatalf("Outcome = %v, want transient", res.Outcome)
	}
	if res.StatusCode != 0 || res.Err == nil {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestNewWebPushRequiresKeys(t *testing.T) {
	t.Parallel()
	if _, err := NewWebPush(VAPIDConfig{Subject: "mailto:x@example.com"}, nil); err == nil {
		t.Fatal("expected error for missing keys")
	}
}

func TestApplyRejectsKeyChange(t *testing.T) {
	t.Parallel()
	wp := newTestWebPush(t)
	cfg := wp.cfg
	cfg.TTL = time.Minute
	if err := wp.Apply(cfg); err != nil {
		t.Fatalf("Apply TTL change: %v", err)
	}
	cfg.PublicKey = "other"
	if err := wp.Apply(cfg); err == nil {
		t.Fatal("expected key change to be rejected")
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	if got := Classify(201, nil); got != Delivered {
		t.Fatalf("201 = %v", got)
	}
	if got := Classify(410, nil); got != Gone {
		t.Fatalf("410 = %v", got)
	}
	if got := Classify(404, nil); got != Gone {
		t.Fatalf("404 = %v", got)
	}
	if got := Classify(400, nil); got != TransientFailure {
		t.Fatalf("400 = %v", got)
	}
	if got := Classify(201, errors.New("boom")); got != TransientFailure {
		t.Fatalf("err = %v", got)
	}
}
