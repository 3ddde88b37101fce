// Package ingest persists a sensor reading and then, if it is hot enough,
// broadcasts the alert before returning.
package ingest

import (
	"context"
	"fmt"
	"time"

	"sensorpush/internal/dispatch"
	"sensorpush/internal/telemetry"
	logx "sensorpush/pkg/logx"
)

// Writer is the storage side of ingestion.
type Writer interface {
	Write(ctx context.Context, r telemetry.Reading) error
}

// Broadcaster is the dispatch side of ingestion.
type Broadcaster interface {
	BroadcastIfThreshold(ctx context.Context, temperature float64, deviceLabel string) (dispatch.Summary, bool)
}

type Service struct {
	store Writer
	disp  Broadcaster
	log   logx.Logger
	now   func() time.Time
}

func New(store Writer, disp Broadcaster, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, disp: disp, log: log, now: time.Now}
}

// Ingest writes r and, once the write is durable, runs the threshold
// broadcast to completion. A write failure is returned wrapped in
// telemetry.ErrStorage and no broadcast happens. Delivery failures never
// surface as an error.
func (s *Service) Ingest(ctx context.Context, r telemetry.Reading) (dispatch.Summary, bool, error) {
	if r.At.IsZero() {
		r.At = s.now()
	}
	if err := s.store.Write(ctx, r); err != nil {
		s.log.Error("error writing reading",
			logx.String("device", r.DeviceID),
			logx.Err(err))
		return dispatch.Summary{}, false, fmt.Errorf("%w: %w", telemetry.ErrStorage, err)
	}
	s.log.Debug("reading stored",
		logx.String("device", r.DeviceID),
		logx.Float64("temperature", r.Temperature),
		logx.Float64("humidity", r.Humidity))

	if s.disp == nil {
		return dispatch.Summary{}, false, nil
	}
	sum, alerted := s.disp.BroadcastIfThreshold(ctx, r.Temperature, r.DeviceLabel())
	return sum, alerted, nil
}
