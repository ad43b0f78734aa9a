package metrics

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"har-capturer/capture"
)

// Snapshot is a point-in-time copy of the run statistics
type Snapshot struct {
	StartTime      time.Time      `json:"start_time"`
	EndTime        time.Time      `json:"end_time,omitzero"`
	PagesLoaded    int            `json:"pages_loaded"`
	PagesDone      int            `json:"pages_done"`
	PagesFailed    int            `json:"pages_failed"`
	Entries        int            `json:"entries"`
	FailuresByKind map[string]int `json:"failures_by_kind"`
	AvgLoadTimeMs  float64        `json:"avg_load_time_ms"`
}

// Tracker accumulates statistics from capture events
type Tracker struct {
	mu            sync.Mutex
	data          Snapshot
	totalLoadTime float64
	loadCount     int
}

// NewTracker creates a new metrics tracker
func NewTracker() *Tracker {
	return &Tracker{
		data: Snapshot{
			StartTime:      time.Now(),
			FailuresByKind: make(map[string]int),
		},
	}
}

// Observe updates the counters from a capture event
func (t *Tracker) Observe(ev capture.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Kind {
	case capture.EventLoad:
		t.data.PagesLoaded++
	case capture.EventDone:
		t.data.PagesDone++
	case capture.EventFail:
		t.data.PagesFailed++
		kind := capture.KindOf(ev.Err).String()
		if capture.KindOf(ev.Err) == 0 {
			kind = "Other"
		}
		t.data.FailuresByKind[kind]++
	case capture.EventTraceReady:
		if ev.Trace == nil || ev.Trace.Log == nil {
			return
		}
		t.data.Entries = len(ev.Trace.Log.Entries)
		for _, p := range ev.Trace.Log.Pages {
			if p.PageTimings != nil && p.PageTimings.OnLoad > 0 {
				t.totalLoadTime += p.PageTimings.OnLoad
				t.loadCount++
			}
		}
	}
}

// GetSnapshot returns a copy of current metrics
func (t *Tracker) GetSnapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot()
}

func (t *Tracker) snapshot() Snapshot {
	s := t.data
	s.FailuresByKind = make(map[string]int, len(t.data.FailuresByKind))
	for k, v := range t.data.FailuresByKind {
		s.FailuresByKind[k] = v
	}
	if t.loadCount > 0 {
		s.AvgLoadTimeMs = t.totalLoadTime / float64(t.loadCount)
	}
	return s
}

// WriteToFile exports metrics to a JSON file
func (t *Tracker) WriteToFile(path string) error {
	t.mu.Lock()
	t.data.EndTime = time.Now()
	s := t.snapshot()
	t.mu.Unlock()

	data, err := json.Marshal(s, jsontext.WithIndent("  "), json.Deterministic(true))
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	return nil
}

// LogProgress returns a one line summary of the metrics
func (t *Tracker) LogProgress() string {
	s := t.GetSnapshot()
	return fmt.Sprintf("Pages: %d loaded, %d done, %d failed | Entries: %d | Avg load: %.0fms",
		s.PagesLoaded, s.PagesDone, s.PagesFailed, s.Entries, s.AvgLoadTimeMs)
}
