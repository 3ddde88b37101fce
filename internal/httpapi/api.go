// Package httpapi is the HTTP surface: sensor ingestion, push subscription,
// dashboard queries, and the static client runtime.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"sensorpush/internal/dispatch"
	"sensorpush/internal/push"
	"sensorpush/internal/telemetry"
	logx "sensorpush/pkg/logx"
)

// Response bodies clients depend on.
const (
	msgInvalidAPIKey  = "Invalid API Key"
	msgMissingData    = "Missing required data."
	msgStorageFailed  = "Failed to log data to storage."
	msgQueryFailed    = "Failed to query data."
	msgLogged         = "Data logged and flushed."
	msgSubscribed     = "Subscribed"
	msgBadSubscribe   = "Invalid subscription."
	maxReadingBody    = 64 << 10
	maxSubscribeBody  = 16 << 10
	apiKeyHeader      = "api-key"
	defaultQueryLimit = telemetry.DefaultLimit
)

var ErrUnauthorized = errors.New("invalid api key")

type Subscriptions interface {
	Add(sub push.Subscription) bool
	Len() int
}

type Welcomer interface {
	SendWelcome(sub push.Subscription) error
}

type Ingester interface {
	Ingest(ctx context.Context, r telemetry.Reading) (dispatch.Summary, bool, error)
}

type Queries interface {
	Latest(ctx context.Context) (telemetry.Reading, bool, error)
	History(ctx context.Context, limit int) ([]telemetry.Reading, error)
	HourlyAverage(ctx context.Context, window time.Duration) ([]telemetry.Point, error)
}

type KeySource interface {
	PublicKey() string
}

// BroadcastLog exposes recent broadcast summaries for the status endpoint.
type BroadcastLog interface {
	Recent() []dispatch.Summary
	Totals() dispatch.Totals
}

type Deps struct {
	Subs       Subscriptions
	Welcomer   Welcomer
	Ingest     Ingester
	Queries    Queries
	Keys       KeySource
	Broadcasts BroadcastLog
	// Static serves the client runtime at "/". Nil disables it.
	Static fs.FS
	Log    logx.Logger
}

type API struct {
	d      Deps
	log    logx.Logger
	apiKey atomic.Pointer[string]
	now    func() time.Time
}

func New(d Deps, apiKey string) *API {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &API{d: d, log: log, now: time.Now}
	a.SetAPIKey(apiKey)
	return a
}

// SetAPIKey swaps the sensor secret; safe during hot reload.
func (a *API) SetAPIKey(k string) {
	a.apiKey.Store(&k)
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/vapid-public-key", a.handleVAPIDKey)
	mux.HandleFunc("POST /api/subscribe", a.handleSubscribe)
	mux.HandleFunc("POST /api/sensorReading", a.handleSensorReading)

	mux.Handle("GET /api/readings/latest", gzhttp.GzipHandler(http.HandlerFunc(a.handleLatest)))
	mux.Handle("GET /api/readings/history", gzhttp.GzipHandler(http.HandlerFunc(a.handleHistory)))
	mux.Handle("GET /api/stats/hourly-average", gzhttp.GzipHandler(http.HandlerFunc(a.handleHourlyAverage)))

	mux.HandleFunc("GET /api/push/status", a.handlePushStatus)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	if a.d.Static != nil {
		mux.Handle("GET /", gzhttp.GzipHandler(http.FileServerFS(a.d.Static)))
	}
	return a.recoverer(mux)
}

// checkAPIKey compares in constant time; an unset key rejects everything.
func (a *API) checkAPIKey(r *http.Request) error {
	want := ""
	if p := a.apiKey.Load(); p != nil {
		want = *p
	}
	got := r.Header.Get(apiKeyHeader)
	if want == "" || got == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

func (a *API) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				a.log.Error("panic in http handler",
					logx.String("path", r.URL.Path),
					logx.Any("panic", rec),
					logx.Stack(string(debug.Stack())))
				writeError(w, http.StatusInternalServerError, "Internal server error.")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}
