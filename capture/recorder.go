package capture

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/sirupsen/logrus"
)

// recorder correlates the protocol events of one page load into entries.
// All of its state is owned by the goroutine running run; callers read it
// only after done is closed.
type recorder struct {
	url         string
	session     Session
	requests    []RequestFunc
	captureBody bool
	log         logrus.FieldLogger

	entries []*Entry
	byID    map[network.RequestID]*Entry

	// Monotonic protocol times in seconds, -1 until seen. seenAt is the
	// local clock reading when lastSeen was observed.
	pageBase float64
	lastSeen float64
	seenAt   time.Time

	onContentLoad float64
	onLoad        float64

	// The load event carries no loader id, so a load is credited to every
	// main frame document committed before it. The navigation is loaded once
	// its own loader has been credited.
	navigation  chan cdp.LoaderID
	loader      cdp.LoaderID
	loaderKnown bool
	committed   map[cdp.LoaderID]bool
	loadTimes   map[cdp.LoaderID]float64

	loaded   chan struct{}
	loadSeen bool
	done     chan struct{}
}

func newRecorder(url string, session Session, requests []RequestFunc, captureBody bool, log logrus.FieldLogger) *recorder {
	return &recorder{
		url:           url,
		session:       session,
		requests:      requests,
		captureBody:   captureBody,
		log:           log,
		byID:          make(map[network.RequestID]*Entry),
		pageBase:      -1,
		lastSeen:      -1,
		onContentLoad: -1,
		onLoad:        -1,
		navigation:    make(chan cdp.LoaderID, 1),
		committed:     make(map[cdp.LoaderID]bool),
		loadTimes:     make(map[cdp.LoaderID]float64),
		loaded:        make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// run consumes events until ctx is cancelled or the stream ends.
func (r *recorder) run(ctx context.Context, events <-chan any) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-r.navigation:
			r.expect(id)
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.handle(ctx, ev)
		}
	}
}

// navigated tells the recorder which loader the navigation was issued
// under. It must be called at most once.
func (r *recorder) navigated(id cdp.LoaderID) {
	r.navigation <- id
}

func (r *recorder) expect(id cdp.LoaderID) {
	r.loader = id
	r.loaderKnown = true
	// Same document navigations have no loader and fire no load event.
	if id == "" {
		r.markLoaded(-1)
		return
	}
	if mono, ok := r.loadTimes[id]; ok {
		r.markLoaded(mono)
	}
}

func (r *recorder) markLoaded(mono float64) {
	if r.loadSeen {
		return
	}
	if r.pageBase >= 0 && mono >= 0 {
		r.onLoad = (mono - r.pageBase) * 1000
	}
	r.loadSeen = true
	close(r.loaded)
}

func (r *recorder) handle(ctx context.Context, ev any) {
	switch ev := ev.(type) {
	case *network.EventRequestWillBeSent:
		r.requestWillBeSent(ev)
	case *network.EventResponseReceived:
		r.see(ev.Timestamp)
		if e := r.byID[ev.RequestID]; e != nil && ev.Response != nil {
			applyResponse(e, ev.Response)
		}
	case *network.EventDataReceived:
		r.see(ev.Timestamp)
	case *network.EventLoadingFinished:
		mono := r.see(ev.Timestamp)
		e := r.byID[ev.RequestID]
		if e == nil || e.finished {
			return
		}
		e.EncodedDataLength = ev.EncodedDataLength
		e.Timings.ReceiveEnd = e.Timings.offset(mono)
		e.finished = true
		if r.captureBody {
			r.fetchBody(ctx, e)
		}
	case *network.EventLoadingFailed:
		mono := r.see(ev.Timestamp)
		e := r.byID[ev.RequestID]
		if e == nil || e.finished {
			return
		}
		e.Failure = ev.ErrorText
		if ev.Canceled && e.Failure == "" {
			e.Failure = "canceled"
		}
		e.Timings.ReceiveEnd = e.Timings.offset(mono)
		e.finished = true
	case *page.EventDomContentEventFired:
		mono := r.see(ev.Timestamp)
		if r.pageBase >= 0 && mono >= 0 {
			r.onContentLoad = (mono - r.pageBase) * 1000
		}
	case *page.EventFrameNavigated:
		if f := ev.Frame; f != nil && f.ParentID == "" && f.LoaderID != "" {
			r.committed[f.LoaderID] = true
		}
	case *page.EventLoadEventFired:
		mono := r.see(ev.Timestamp)
		for id := range r.committed {
			if _, ok := r.loadTimes[id]; !ok {
				r.loadTimes[id] = mono
			}
		}
		if r.loaderKnown {
			if mono, ok := r.loadTimes[r.loader]; ok {
				r.markLoaded(mono)
			}
		}
	}
}

func (r *recorder) requestWillBeSent(ev *network.EventRequestWillBeSent) {
	mono := r.see(ev.Timestamp)
	if ev.Request == nil {
		return
	}
	if r.pageBase < 0 {
		r.pageBase = mono
	}

	// A redirect reuses the request id: the previous hop ends here.
	if prev := r.byID[ev.RequestID]; prev != nil && !prev.finished {
		if ev.RedirectResponse != nil {
			applyResponse(prev, ev.RedirectResponse)
		}
		prev.Timings.ReceiveEnd = prev.Timings.offset(mono)
		prev.finished = true
	}

	for _, fn := range r.requests {
		fn(ev.Request)
	}

	start := time.Now()
	if ev.WallTime != nil {
		start = ev.WallTime.Time()
	}
	e := &Entry{
		RequestID:      ev.RequestID,
		URL:            ev.Request.URL,
		Method:         ev.Request.Method,
		RequestHeaders: copyHeaders(ev.Request.Headers),
		PostData:       postData(ev.Request),
		Timings:        newTimings(start, mono),
	}
	r.entries = append(r.entries, e)
	r.byID[ev.RequestID] = e
}

func (r *recorder) fetchBody(ctx context.Context, e *Entry) {
	body, err := r.session.ResponseBody(ctx, e.RequestID)
	if err != nil {
		e.BodyErr = newError(KindBodyFetch, e.URL, err)
		r.log.WithFields(logrus.Fields{"url": r.url, "request": e.URL}).
			Warnf("Failed to fetch response body: %v", err)
		return
	}
	e.Body = body
}

// finalize marks requests still in flight as timed out, ending them at now.
// The protocol clock is extrapolated from the last event seen.
func (r *recorder) finalize(now time.Time) {
	end := r.lastSeen
	if end >= 0 && !r.seenAt.IsZero() {
		end += now.Sub(r.seenAt).Seconds()
	}
	for _, e := range r.entries {
		if e.finished {
			continue
		}
		e.Timings.TimedOut = true
		e.Timings.ReceiveEnd = e.Timings.offset(end)
	}
}

// see records t as the latest protocol time and returns it in seconds.
func (r *recorder) see(t *cdp.MonotonicTime) float64 {
	mono := monoSeconds(t)
	if mono >= 0 && mono >= r.lastSeen {
		r.lastSeen = mono
		r.seenAt = time.Now()
	}
	return mono
}

func applyResponse(e *Entry, resp *network.Response) {
	e.Status = resp.Status
	e.StatusText = resp.StatusText
	e.ResponseHeaders = copyHeaders(resp.Headers)
	e.MimeType = resp.MimeType
	e.Protocol = resp.Protocol
	e.RemoteIPAddress = resp.RemoteIPAddress
	e.ConnectionID = resp.ConnectionID
	if rt := resp.Timing; rt != nil {
		t := &e.Timings
		t.base = rt.RequestTime
		t.DNSStart, t.DNSEnd = rt.DNSStart, rt.DNSEnd
		t.ConnectStart, t.ConnectEnd = rt.ConnectStart, rt.ConnectEnd
		t.SSLStart, t.SSLEnd = rt.SslStart, rt.SslEnd
		t.SendStart, t.SendEnd = rt.SendStart, rt.SendEnd
		t.ReceiveHeadersEnd = rt.ReceiveHeadersEnd
	}
}

// offset converts a monotonic time in seconds to milliseconds from the
// request start.
func (t *Timings) offset(mono float64) float64 {
	if mono < 0 || t.base < 0 {
		return -1
	}
	d := (mono - t.base) * 1000
	if d < 0 {
		return 0
	}
	return d
}

func monoSeconds(t *cdp.MonotonicTime) float64 {
	if t == nil || cdp.MonotonicTimeEpoch == nil {
		return -1
	}
	return float64(t.Time().Sub(*cdp.MonotonicTimeEpoch)) / float64(time.Second)
}

func copyHeaders(h network.Headers) network.Headers {
	if h == nil {
		return nil
	}
	out := make(network.Headers, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

func postData(req *network.Request) []byte {
	if !req.HasPostData || len(req.PostDataEntries) == 0 {
		return nil
	}
	var data []byte
	for _, entry := range req.PostDataEntries {
		if entry == nil || entry.Bytes == "" {
			continue
		}
		b, err := base64.StdEncoding.DecodeString(entry.Bytes)
		if err != nil {
			continue
		}
		data = append(data, b...)
	}
	return data
}
