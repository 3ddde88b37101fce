package dispatch

func (d *Dispatcher) record(s Summary) {
	d.mu.Lock()
	limit := d.cfg.HistorySize
	d.mu.Unlock()

	d.hmu.Lock()
	d.history = append(d.history, s)
	if len(d.history) > limit {
		d.history = append([]Summary(nil), d.history[len(d.history)-limit:]...)
	}
	d.hmu.Unlock()
}

// Recent returns finished broadcasts, newest first.
func (d *Dispatcher) Recent() []Summary {
	d.hmu.Lock()
	defer d.hmu.Unlock()
	out := make([]Summary, 0, len(d.history))
	for i := len(d.history) - 1; i >= 0; i-- {
		s := d.history[i]
		s.Pruned = append([]string(nil), s.Pruned...)
		out = append(out, s)
	}
	return out
}

// Totals aggregates the retained history.
type Totals struct {
	Broadcasts int `json:"broadcasts"`
	Delivered  int `json:"delivered"`
	Gone       int `json:"gone"`
	Failed     int `json:"failed"`
}

func (d *Dispatcher) Totals() Totals {
	d.hmu.Lock()
	defer d.hmu.Unlock()
	var t Totals
	for _, s := range d.history {
		t.Broadcasts++
		t.Delivered += s.Delivered
		t.Gone += s.Gone
		t.Failed += s.Failed
	}
	return t
}
