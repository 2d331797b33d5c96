package ledger

import (
	"sort"
	"time"
)

type Mode int

const (
	Sliding Mode = iota
	Fixed
)

func ParseMode(s string) Mode {
	if s == "fixed" {
		return Fixed
	}
	return Sliding
}

// Window counts attempt timestamps inside a detection window. Sliding windows
// keep entries sorted and evict those older than the newest entry minus the
// duration; fixed windows restart once the duration has elapsed since the
// first entry.
type Window struct {
	duration time.Duration
	mode     Mode
	stamps   []time.Time
	head     int
	start    time.Time
}

func NewWindow(duration time.Duration, mode Mode) *Window {
	return &Window{
		duration: duration,
		mode:     mode,
		stamps:   make([]time.Time, 0, 16),
	}
}

func (w *Window) Add(ts time.Time) {
	switch w.mode {
	case Fixed:
		if w.start.IsZero() || ts.Sub(w.start) >= w.duration {
			w.Reset()
			w.start = ts
		}
	default:
		latest := ts
		if n := len(w.stamps); n > w.head && w.stamps[n-1].After(latest) {
			latest = w.stamps[n-1]
		}
		cutoff := latest.Add(-w.duration)
		w.Evict(cutoff)
		if ts.Before(cutoff) {
			return
		}
		// late attempts are inserted in order so Evict can stop at the first
		// in-window entry
		live := w.stamps[w.head:]
		i := sort.Search(len(live), func(i int) bool { return live[i].After(ts) })
		w.stamps = append(w.stamps, time.Time{})
		copy(w.stamps[w.head+i+1:], w.stamps[w.head+i:])
		w.stamps[w.head+i] = ts
		return
	}
	w.stamps = append(w.stamps, ts)
}

func (w *Window) Evict(cutoff time.Time) {
	for w.head < len(w.stamps) {
		if !w.stamps[w.head].Before(cutoff) {
			break
		}
		w.head++
	}
	if w.head > 0 && w.head*2 >= len(w.stamps) {
		w.stamps = append([]time.Time{}, w.stamps[w.head:]...)
		w.head = 0
	}
}

func (w *Window) Count() int {
	return len(w.stamps) - w.head
}

func (w *Window) Reset() {
	w.stamps = w.stamps[:0]
	w.head = 0
	w.start = time.Time{}
}

func (w *Window) reconfigure(duration time.Duration, mode Mode) {
	if w.mode != mode {
		w.Reset()
	}
	w.duration = duration
	w.mode = mode
}
