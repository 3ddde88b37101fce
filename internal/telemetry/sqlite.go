package telemetry

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "sensorpush/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	now func() time.Time
}

func openSQLite(cfg Config, log logx.Logger) (*sqliteStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log, now: time.Now}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store ready", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Write(ctx context.Context, r Reading) error {
	if r.At.IsZero() {
		r.At = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO readings(at, device_id, device_name, location, temperature, humidity)
		 VALUES(?,?,?,?,?,?)`,
		r.At.UnixMilli(), r.DeviceID, r.DeviceName, r.Location, r.Temperature, r.Humidity,
	)
	return err
}

const readingCols = `at, device_id, device_name, location, temperature, humidity`

func scanReading(sc interface{ Scan(...any) error }) (Reading, error) {
	var (
		r  Reading
		ms int64
	)
	if err := sc.Scan(&ms, &r.DeviceID, &r.DeviceName, &r.Location, &r.Temperature, &r.Humidity); err != nil {
		return Reading{}, err
	}
	r.At = time.UnixMilli(ms).UTC()
	return r, nil
}

func (s *sqliteStore) Latest(ctx context.Context) (Reading, bool, error) {
	cutoff := s.now().Add(-queryRange).UnixMilli()
	row := s.db.QueryRowContext(ctx,
		`SELECT `+readingCols+` FROM readings WHERE at >= ? ORDER BY at DESC, id DESC LIMIT 1`, cutoff)
	r, err := scanReading(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Reading{}, false, nil
	}
	if err != nil {
		return Reading{}, false, err
	}
	return r, true, nil
}

func (s *sqliteStore) History(ctx context.Context, limit int) ([]Reading, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	cutoff := s.now().Add(-queryRange).UnixMilli()
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+readingCols+` FROM readings WHERE at >= ? ORDER BY at DESC, id DESC LIMIT ?`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Reading, 0, limit)
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) HourlyAverage(ctx context.Context, window time.Duration) ([]Point, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	const hourMS = int64(time.Hour / time.Millisecond)
	cutoff := s.now().Add(-window).UnixMilli()
	rows, err := s.db.QueryContext(ctx,
		`SELECT at / ? AS bucket, AVG(temperature) FROM readings
		 WHERE at >= ? GROUP BY bucket ORDER BY bucket`, hourMS, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Point
	for rows.Next() {
		var (
			bucket int64
			avg    float64
		)
		if err := rows.Scan(&bucket, &avg); err != nil {
			return nil, err
		}
		out = append(out, Point{Time: time.UnixMilli((bucket + 1) * hourMS).UTC(), Value: avg})
	}
	return out, rows.Err()
}

func (s *sqliteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM readings WHERE at < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
