// Package telemetry stores sensor readings and answers the dashboard queries.
//
// Drivers:
//   - "influx": InfluxDB 2.x (the production time-series store)
//   - "sqlite": embedded database file, for single-box deployments
//   - "memory": process memory, for development and tests
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "sensorpush/pkg/logx"
)

// Measurement is the series name readings are written under.
const Measurement = "sensor_readings"

var (
	// ErrStorage wraps every failed write so HTTP can map it to 500.
	ErrStorage = errors.New("telemetry storage failure")
	ErrClosed  = errors.New("telemetry store closed")
)

// Point is one aggregate value (for example an hourly mean).
type Point struct {
	Time  time.Time `json:"_time"`
	Value float64   `json:"_value"`
}

// Store persists readings. Write returns only once the reading is durable
// (written and flushed).
type Store interface {
	Write(ctx context.Context, r Reading) error
	// Latest returns the newest reading in the last 30 days.
	Latest(ctx context.Context) (Reading, bool, error)
	// History returns up to limit readings from the last 30 days, newest first.
	History(ctx context.Context, limit int) ([]Reading, error)
	// HourlyAverage returns hourly mean temperature over the trailing window,
	// oldest first, stamped with each window's end.
	HourlyAverage(ctx context.Context, window time.Duration) ([]Point, error)
	Close() error
}

// Pruner is implemented by stores that manage their own retention.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Pinger is implemented by stores with a remote backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

const (
	queryRange    = 30 * 24 * time.Hour
	DefaultWindow = 24 * time.Hour
	DefaultLimit  = 20
)

// Config selects and configures a driver.
type Config struct {
	Driver      string
	Path        string        // sqlite
	BusyTimeout time.Duration // sqlite
	Influx      InfluxConfig
}

type InfluxConfig struct {
	URL     string
	Token   string
	Org     string
	Bucket  string
	Timeout time.Duration
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		st, err := openSQLite(cfg, log)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "influx", "influxdb":
		st, err := openInflux(cfg.Influx, log)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
}

func bucketStart(t time.Time) time.Time {
	return t.Truncate(time.Hour)
}
