package telemetry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory keeps readings in process memory. Nothing survives a restart.
type Memory struct {
	mu       sync.Mutex
	readings []Reading
	closed   bool
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

func (m *Memory) Write(ctx context.Context, r Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if r.At.IsZero() {
		r.At = m.now()
	}
	m.readings = append(m.readings, r)
	return nil
}

// recentLocked returns readings inside the query range, newest first.
func (m *Memory) recentLocked() []Reading {
	cutoff := m.now().Add(-queryRange)
	out := make([]Reading, 0, len(m.readings))
	for _, r := range m.readings {
		if !r.At.Before(cutoff) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	return out
}

func (m *Memory) Latest(ctx context.Context) (Reading, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs := m.recentLocked()
	if len(rs) == 0 {
		return Reading{}, false, nil
	}
	return rs[0], true, nil
}

func (m *Memory) History(ctx context.Context, limit int) ([]Reading, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rs := m.recentLocked()
	if len(rs) > limit {
		rs = rs[:limit]
	}
	return rs, nil
}

func (m *Memory) HourlyAverage(ctx context.Context, window time.Duration) ([]Point, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-window)
	sums := map[time.Time]float64{}
	counts := map[time.Time]int{}
	for _, r := range m.readings {
		if r.At.Before(cutoff) {
			continue
		}
		b := bucketStart(r.At)
		sums[b] += r.Temperature
		counts[b]++
	}
	out := make([]Point, 0, len(sums))
	for b, sum := range sums {
		out = append(out, Point{Time: b.Add(time.Hour), Value: sum / float64(counts[b])})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

func (m *Memory) Prune(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.readings[:0]
	var n int64
	for _, r := range m.readings {
		if r.At.Before(before) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	m.readings = kept
	return n, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
