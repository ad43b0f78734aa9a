package capture

import (
	"time"

	"github.com/chromedp/cdproto/network"
)

// State is a capture session state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StatePreHook
	StateNavigating
	StateAwaitingLoad
	StatePostHook
	StateFinalizing
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateIdle:         "idle",
	StateConnecting:   "connecting",
	StatePreHook:      "pre-hook",
	StateNavigating:   "navigating",
	StateAwaitingLoad: "awaiting-load",
	StatePostHook:     "post-hook",
	StateFinalizing:   "finalizing",
	StateDone:         "done",
	StateFailed:       "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether s is Done or Failed.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Task is the capture of a single URL.
type Task struct {
	URL       string
	State     State
	StartedAt time.Time
	Entries   []*Entry
	Err       error

	// Page timings in milliseconds from the first request, -1 if unseen.
	OnContentLoad float64
	OnLoad        float64
}

func newTask(url string) *Task {
	return &Task{
		URL:           url,
		OnContentLoad: -1,
		OnLoad:        -1,
	}
}

// Entry is one network exchange observed during a capture. It is built up
// as protocol events for its request id arrive.
type Entry struct {
	RequestID network.RequestID
	URL       string
	Method    string

	RequestHeaders network.Headers
	PostData       []byte

	Status            int64
	StatusText        string
	ResponseHeaders   network.Headers
	MimeType          string
	Protocol          string
	RemoteIPAddress   string
	ConnectionID      float64
	EncodedDataLength float64

	Body    []byte
	BodyErr error

	// Failure holds the loading failure reported by the browser, if any.
	Failure string

	Timings Timings

	finished bool
}

// Finished reports whether the browser reported completion (or failure) of
// the request.
func (e *Entry) Finished() bool {
	return e.finished
}

// Timings holds the timing marks of an entry. Every mark is a millisecond
// offset from the request start; -1 means not applicable.
type Timings struct {
	Start time.Time

	DNSStart          float64
	DNSEnd            float64
	ConnectStart      float64
	ConnectEnd        float64
	SSLStart          float64
	SSLEnd            float64
	SendStart         float64
	SendEnd           float64
	ReceiveHeadersEnd float64
	ReceiveEnd        float64

	// TimedOut is set on requests still in flight when the capture ended.
	TimedOut bool

	// base is the monotonic protocol time (seconds) the marks are relative to.
	base float64
}

func newTimings(start time.Time, base float64) Timings {
	return Timings{
		Start:             start,
		DNSStart:          -1,
		DNSEnd:            -1,
		ConnectStart:      -1,
		ConnectEnd:        -1,
		SSLStart:          -1,
		SSLEnd:            -1,
		SendStart:         -1,
		SendEnd:           -1,
		ReceiveHeadersEnd: -1,
		ReceiveEnd:        -1,
		base:              base,
	}
}
