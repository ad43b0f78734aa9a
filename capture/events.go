package capture

import (
	"context"

	"github.com/chromedp/cdproto/har"
)

// EventKind enumerates the notifications a run emits.
type EventKind int

const (
	// EventLoad is emitted when a page's load event has been observed.
	EventLoad EventKind = iota + 1
	// EventDone is emitted when a capture completes successfully.
	EventDone
	// EventFail is emitted when a capture fails; Err carries the reason.
	EventFail
	// EventTraceReady is emitted once per run with the assembled trace.
	EventTraceReady
)

func (k EventKind) String() string {
	switch k {
	case EventLoad:
		return "load"
	case EventDone:
		return "done"
	case EventFail:
		return "fail"
	case EventTraceReady:
		return "trace-ready"
	}
	return "unknown"
}

// Event is a lifecycle notification. URL and Index identify the capture for
// all kinds but EventTraceReady, which carries Trace instead.
type Event struct {
	Kind  EventKind
	URL   string
	Index int
	Err   error
	Trace *har.HAR
}

// reporter delivers events to a single channel in emission order.
type reporter struct {
	ch chan<- Event
}

func (r reporter) emit(ctx context.Context, ev Event) {
	if r.ch == nil {
		return
	}
	// A ready receiver or buffer slot always wins over a finished ctx.
	select {
	case r.ch <- ev:
		return
	default:
	}
	select {
	case r.ch <- ev:
	case <-ctx.Done():
	}
}
