package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	logx "sensorpush/pkg/logx"
)

type influxStore struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
	query  api.QueryAPI
	bucket string
	log    logx.Logger
}

func openInflux(cfg InfluxConfig, log logx.Logger) (*influxStore, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("storage.influx.url is required for influx driver")
	}
	if strings.TrimSpace(cfg.Org) == "" || strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("storage.influx.org and storage.influx.bucket are required")
	}

	opts := influxdb2.DefaultOptions()
	if cfg.Timeout > 0 {
		opts.SetHTTPRequestTimeout(uint(cfg.Timeout / time.Second))
	}
	client := influxdb2.NewClientWithOptions(url, cfg.Token, opts)

	log.Debug("influx store ready", logx.String("url", url), logx.String("bucket", cfg.Bucket))
	return &influxStore{
		client: client,
		write:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		query:  client.QueryAPI(cfg.Org),
		bucket: cfg.Bucket,
		log:    log,
	}, nil
}

// Write uses the blocking API so the point is flushed before it returns.
func (s *influxStore) Write(ctx context.Context, r Reading) error {
	at := r.At
	if at.IsZero() {
		at = time.Now()
	}
	p := influxdb2.NewPoint(Measurement,
		map[string]string{
			"deviceId":   r.DeviceID,
			"deviceName": r.DeviceName,
			"location":   r.Location,
		},
		map[string]interface{}{
			"temperature": r.Temperature,
			"humidity":    r.Humidity,
		},
		at,
	)
	return s.write.WritePoint(ctx, p)
}

// readingsQuery pivots fields into columns so one record is one reading.
func (s *influxStore) readingsQuery(limit int) string {
	return fmt.Sprintf(`from(bucket: %q)
  |> range(start: -30d)
  |> filter(fn: (r) => r._measurement == %q)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> group()
  |> sort(columns: ["_time"], desc: true)
  |> limit(n: %d)`, s.bucket, Measurement, limit)
}

func (s *influxStore) readings(ctx context.Context, limit int) ([]Reading, error) {
	res, err := s.query.Query(ctx, s.readingsQuery(limit))
	if err != nil {
		return nil, err
	}
	defer res.Close()

	var out []Reading
	for res.Next() {
		rec := res.Record()
		out = append(out, Reading{
			DeviceID:    tagValue(rec.ValueByKey("deviceId")),
			DeviceName:  tagValue(rec.ValueByKey("deviceName")),
			Location:    tagValue(rec.ValueByKey("location")),
			Temperature: floatValue(rec.ValueByKey("temperature")),
			Humidity:    floatValue(rec.ValueByKey("humidity")),
			At:          rec.Time().UTC(),
		})
	}
	return out, res.Err()
}

func (s *influxStore) Latest(ctx context.Context) (Reading, bool, error) {
	rs, err := s.readings(ctx, 1)
	if err != nil || len(rs) == 0 {
		return Reading{}, false, err
	}
	return rs[0], true, nil
}

func (s *influxStore) History(ctx context.Context, limit int) ([]Reading, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return s.readings(ctx, limit)
}

func (s *influxStore) HourlyAverage(ctx context.Context, window time.Duration) ([]Point, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	q := fmt.Sprintf(`from(bucket: %q)
  |> range(start: -%ds)
  |> filter(fn: (r) => r._measurement == %q and r._field == "temperature")
  |> group()
  |> aggregateWindow(every: 1h, fn: mean, createEmpty: false)`,
		s.bucket, int64(window/time.Second), Measurement)

	res, err := s.query.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer res.Close()

	var out []Point
	for res.Next() {
		rec := res.Record()
		out = append(out, Point{Time: rec.Time().UTC(), Value: floatValue(rec.Value())})
	}
	return out, res.Err()
}

func (s *influxStore) Ping(ctx context.Context) error {
	ok, err := s.client.Ping(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("influx ping failed")
	}
	return nil
}

func (s *influxStore) Close() error {
	s.client.Close()
	return nil
}

func tagValue(v interface{}) string {
	s, _ := v.(string)
	return s
}

func floatValue(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	default:
		return 0
	}
}
