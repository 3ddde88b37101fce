package telemetry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "sensorpush/pkg/logx"
)

// storeCase runs the shared Store behavior against one driver.
func storeCase(t *testing.T, st Store, setNow func(func() time.Time)) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	setNow(func() time.Time { return base })

	if _, ok, err := st.Latest(ctx); err != nil || ok {
		t.Fatalf("Latest on empty store: ok=%v err=%v", ok, err)
	}

	writes := []Reading{
		{DeviceID: "a", DeviceName: "A", Location: "L", Temperature: 20, Humidity: 40, At: base.Add(-150 * time.Minute)},
		{DeviceID: "a", DeviceName: "A", Location: "L", Temperature: 22, Humidity: 41, At: base.Add(-140 * time.Minute)},
		{DeviceID: "b", DeviceName: "B", Location: "L", Temperature: 30, Humidity: 50, At: base.Add(-30 * time.Minute)},
		{DeviceID: "old", DeviceName: "O", Location: "L", Temperature: 99, Humidity: 1, At: base.Add(-40 * 24 * time.Hour)},
	}
	for _, r := range writes {
		if err := st.Write(ctx, r); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	latest, ok, err := st.Latest(ctx)
	if err != nil || !ok {
		t.Fatalf("Latest: ok=%v err=%v", ok, err)
	}
	if latest.DeviceID != "b" || latest.Temperature != 30 || !latest.At.Equal(writes[2].At) {
		t.Fatalf("Latest = %+v", latest)
	}

	hist, err := st.History(ctx, 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 || hist[0].DeviceID != "b" || hist[1].Temperature != 22 {
		t.Fatalf("History = %+v", hist)
	}
	all, _ := st.History(ctx, 0)
	if len(all) != 3 {
		t.Fatalf("History outside 30d leaked: %d rows", len(all))
	}

	avg, err := st.HourlyAverage(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("HourlyAverage: %v", err)
	}
	if len(avg) != 2 {
		t.Fatalf("HourlyAverage = %+v", avg)
	}
	if avg[0].Value != 21 || !avg[0].Time.Equal(base.Add(-2*time.Hour)) {
		t.Fatalf("first bucket = %+v", avg[0])
	}
	if avg[1].Value != 30 || !avg[1].Time.Equal(base) {
		t.Fatalf("second bucket = %+v", avg[1])
	}

	if p, ok := st.(Pruner); ok {
		n, err := p.Prune(ctx, base.Add(-24*time.Hour))
		if err != nil || n != 1 {
			t.Fatalf("Prune: n=%d err=%v", n, err)
		}
	}
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	storeCase(t, m, func(f func() time.Time) { m.now = f })

	_ = m.Close()
	if err := m.Write(context.Background(), Reading{DeviceID: "x"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("write after close: %v", err)
	}
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "data", "readings.db")
	st, err := openSQLite(Config{Path: path, BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("openSQLite: %v", err)
	}
	defer st.Close()
	storeCase(t, st, func(f func() time.Time) { st.now = f })

	if err := st.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "r.db")
	ctx := context.Background()

	st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.Write(ctx, Reading{DeviceID: "d", Temperature: 25, Humidity: 30}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	_ = st.Close()

	st, err = Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	r, ok, err := st.Latest(ctx)
	if err != nil || !ok || r.DeviceID != "d" {
		t.Fatalf("Latest after reopen: %+v ok=%v err=%v", r, ok, err)
	}
}

func TestOpenRejectsBadConfig(t *testing.T) {
	t.Parallel()
	tests := []Config{
		{Driver: "cassandra"},
		{Driver: "sqlite"},
		{Driver: "influx"},
		{Driver: "influx", Influx: InfluxConfig{URL: "http://localhost:8086"}},
	}
	for _, cfg := range tests {
		st, err := Open(cfg, logx.Nop())
		if err == nil || st != nil {
			t.Fatalf("Open(%+v) = %v, %v; want error", cfg, st, err)
		}
	}
	st, err := Open(Config{}, logx.Nop())
	if err != nil {
		t.Fatalf("default driver: %v", err)
	}
	if _, ok := st.(*Memory); !ok {
		t.Fatalf("default driver = %T, want *Memory", st)
	}
}
