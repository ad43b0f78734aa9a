package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chromedp/cdproto/har"
	"github.com/go-json-experiment/json"

	"har-capturer/capture"
)

func TestTrackerObserve(t *testing.T) {
	tr := NewTracker()

	timeout := &capture.CaptureError{Kind: capture.KindTimeout, Err: errors.New("slow")}
	events := []capture.Event{
		{Kind: capture.EventLoad, URL: "https://a.example/"},
		{Kind: capture.EventDone, URL: "https://a.example/"},
		{Kind: capture.EventFail, URL: "https://b.example/", Err: timeout},
		{Kind: capture.EventFail, Err: errors.New("interrupted")},
		{Kind: capture.EventTraceReady, Trace: &har.HAR{Log: &har.Log{
			Pages: []*har.Page{
				{PageTimings: &har.PageTimings{OnLoad: 100}},
				{PageTimings: &har.PageTimings{OnLoad: 300}},
				{PageTimings: &har.PageTimings{OnLoad: -1}},
			},
			Entries: []*har.Entry{{}, {}, {}},
		}}},
	}
	for _, ev := range events {
		tr.Observe(ev)
	}

	s := tr.GetSnapshot()
	if s.PagesLoaded != 1 || s.PagesDone != 1 || s.PagesFailed != 2 {
		t.Errorf("unexpected page counters %+v", s)
	}
	if s.FailuresByKind["TimeoutError"] != 1 || s.FailuresByKind["Other"] != 1 {
		t.Errorf("unexpected failures by kind %v", s.FailuresByKind)
	}
	if s.Entries != 3 {
		t.Errorf("expected 3 entries, got %d", s.Entries)
	}
	if s.AvgLoadTimeMs != 200 {
		t.Errorf("expected average load time 200ms, got %v", s.AvgLoadTimeMs)
	}

	if line := tr.LogProgress(); !strings.Contains(line, "1 done, 2 failed") {
		t.Errorf("unexpected progress line %q", line)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker()
	s := tr.GetSnapshot()
	s.FailuresByKind["HookError"] = 5

	if tr.GetSnapshot().FailuresByKind["HookError"] != 0 {
		t.Error("snapshot shares state with the tracker")
	}
}

func TestWriteToFile(t *testing.T) {
	tr := NewTracker()
	tr.Observe(capture.Event{Kind: capture.EventDone})

	path := filepath.Join(t.TempDir(), "metrics.json")
	if err := tr.WriteToFile(path); err != nil {
		t.Fatalf("WriteToFile failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("invalid metrics file: %v", err)
	}
	if s.PagesDone != 1 || s.EndTime.IsZero() {
		t.Errorf("unexpected metrics %+v", s)
	}
}
