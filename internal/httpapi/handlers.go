package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"sensorpush/internal/push"
	"sensorpush/internal/telemetry"
	logx "sensorpush/pkg/logx"
)

func (a *API) handleVAPIDKey(w http.ResponseWriter, r *http.Request) {
	key := ""
	if a.d.Keys != nil {
		key = a.d.Keys.PublicKey()
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(key))
}

func (a *API) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, maxSubscribeBody)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgBadSubscribe)
		return
	}
	var sub push.Subscription
	if err := json.Unmarshal(body, &sub); err != nil {
		writeError(w, http.StatusBadRequest, msgBadSubscribe)
		return
	}
	if err := sub.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, msgBadSubscribe)
		return
	}

	if a.d.Subs.Add(sub) {
		a.log.Info("new subscription received", logx.String("endpoint", sub.Endpoint))
		if a.d.Welcomer != nil {
			if err := a.d.Welcomer.SendWelcome(sub); err != nil {
				a.log.Warn("failed to prepare welcome notification",
					logx.String("endpoint", sub.Endpoint), logx.Err(err))
			}
		}
	} else {
		a.log.Info("subscription already exists", logx.String("endpoint", sub.Endpoint))
	}
	writeMessage(w, http.StatusCreated, msgSubscribed)
}

func (a *API) handleSensorReading(w http.ResponseWriter, r *http.Request) {
	if err := a.checkAPIKey(r); err != nil {
		writeError(w, http.StatusUnauthorized, msgInvalidAPIKey)
		return
	}

	body, err := readBody(w, r, maxReadingBody)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgMissingData)
		return
	}
	reading, err := telemetry.ParseReading(body, a.now())
	if err != nil {
		a.log.Debug("rejected sensor reading", logx.Err(err))
		writeError(w, http.StatusBadRequest, msgMissingData)
		return
	}

	_, alerted, err := a.d.Ingest.Ingest(r.Context(), reading)
	if err != nil {
		if !errors.Is(err, telemetry.ErrStorage) {
			a.log.Error("ingest failed", logx.Err(err))
		}
		writeError(w, http.StatusInternalServerError, msgStorageFailed)
		return
	}
	a.log.Info("write success",
		logx.String("device", reading.DeviceID),
		logx.Bool("alerted", alerted))
	writeMessage(w, http.StatusCreated, msgLogged)
}

func (a *API) handleLatest(w http.ResponseWriter, r *http.Request) {
	rd, ok, err := a.d.Queries.Latest(r.Context())
	if err != nil {
		a.queryFailed(w, "latest", err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, rd)
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	rs, err := a.d.Queries.History(r.Context(), defaultQueryLimit)
	if err != nil {
		a.queryFailed(w, "history", err)
		return
	}
	if rs == nil {
		rs = []telemetry.Reading{}
	}
	writeJSON(w, http.StatusOK, rs)
}

func (a *API) handleHourlyAverage(w http.ResponseWriter, r *http.Request) {
	ps, err := a.d.Queries.HourlyAverage(r.Context(), telemetry.DefaultWindow)
	if err != nil {
		a.queryFailed(w, "hourly-average", err)
		return
	}
	if ps == nil {
		ps = []telemetry.Point{}
	}
	writeJSON(w, http.StatusOK, ps)
}

func (a *API) queryFailed(w http.ResponseWriter, query string, err error) {
	a.log.Error("query failed", logx.String("query", query), logx.Err(err))
	writeError(w, http.StatusInternalServerError, msgQueryFailed)
}

type pushStatus struct {
	Subscribers int    `json:"subscribers"`
	Totals      any    `json:"totals,omitempty"`
	Recent      any    `json:"recent,omitempty"`
	VAPIDKey    string `json:"vapid_public_key,omitempty"`
}

func (a *API) handlePushStatus(w http.ResponseWriter, r *http.Request) {
	st := pushStatus{Subscribers: a.d.Subs.Len()}
	if a.d.Broadcasts != nil {
		st.Totals = a.d.Broadcasts.Totals()
		recent := a.d.Broadcasts.Recent()
		if len(recent) > 10 {
			recent = recent[:10]
		}
		st.Recent = recent
	}
	if a.d.Keys != nil {
		st.VAPIDKey = a.d.Keys.PublicKey()
	}
	writeJSON(w, http.StatusOK, st)
}
