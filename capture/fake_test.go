package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// testLoader is the loader every scripted cross document navigation runs
// under.
const testLoader cdp.LoaderID = "loader-1"

// fakePage scripts what the browser does when a URL is navigated to.
type fakePage struct {
	events       []any
	navErr       error
	sameDocument bool
	delay        time.Duration
	bodies       map[network.RequestID][]byte
	bodyErrs     map[network.RequestID]error
}

// fakeConnector hands out fakeSessions and keeps count of them.
type fakeConnector struct {
	pages   map[string]*fakePage
	openErr error
	runErr  error

	mu          sync.Mutex
	opened      int
	closed      int
	active      int
	maxActive   int
	actions     int
	navigations int
	sessions    []*fakeSession
}

func newFakeConnector(pages map[string]*fakePage) *fakeConnector {
	if pages == nil {
		pages = make(map[string]*fakePage)
	}
	return &fakeConnector{pages: pages}
}

func (c *fakeConnector) Open(ctx context.Context) (Session, error) {
	if c.openErr != nil {
		return nil, c.openErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opened++
	c.active++
	c.maxActive = max(c.maxActive, c.active)
	s := &fakeSession{
		connector: c,
		events:    make(chan any, 64),
		closing:   make(chan struct{}),
	}
	c.sessions = append(c.sessions, s)
	return s, nil
}

func (c *fakeConnector) stats() (opened, closed, maxActive int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened, c.closed, c.maxActive
}

func (c *fakeConnector) navigationCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.navigations
}

type fakeSession struct {
	connector *fakeConnector
	events    chan any
	closing   chan struct{}
	once      sync.Once

	mu   sync.Mutex
	page *fakePage
}

func (s *fakeSession) Run(ctx context.Context, actions ...chromedp.Action) error {
	s.connector.mu.Lock()
	s.connector.actions += len(actions)
	s.connector.mu.Unlock()
	return s.connector.runErr
}

func (s *fakeSession) Navigate(ctx context.Context, url string) (cdp.LoaderID, error) {
	s.connector.mu.Lock()
	s.connector.navigations++
	s.connector.mu.Unlock()

	p := s.connector.pages[url]
	if p == nil {
		p = simplePage(url)
	}
	if p.navErr != nil {
		return "", p.navErr
	}
	s.mu.Lock()
	s.page = p
	s.mu.Unlock()

	go func() {
		if p.delay > 0 {
			select {
			case <-time.After(p.delay):
			case <-s.closing:
				return
			}
		}
		for _, ev := range p.events {
			select {
			case s.events <- ev:
			case <-s.closing:
				return
			}
		}
	}()
	if p.sameDocument {
		return "", nil
	}
	return testLoader, nil
}

func (s *fakeSession) Events() <-chan any {
	return s.events
}

func (s *fakeSession) ResponseBody(ctx context.Context, id network.RequestID) ([]byte, error) {
	s.mu.Lock()
	p := s.page
	s.mu.Unlock()
	if err := p.bodyErrs[id]; err != nil {
		return nil, err
	}
	if body, ok := p.bodies[id]; ok {
		return body, nil
	}
	return nil, errors.New("no resource with given identifier found")
}

func (s *fakeSession) Close() error {
	s.once.Do(func() {
		close(s.closing)
		s.connector.mu.Lock()
		s.connector.closed++
		s.connector.active--
		s.connector.mu.Unlock()
	})
	return nil
}

// simplePage is a document loaded with a single request.
func simplePage(url string) *fakePage {
	return &fakePage{events: []any{
		request("1", url, 0),
		response("1", 200, 10, nil),
		navigated(testLoader),
		finished("1", 20, 512),
		domContent(30),
		loadFired(40),
	}}
}

// Protocol times are offsets in milliseconds from an arbitrary origin an
// hour past the monotonic epoch.
func mono(ms float64) *cdp.MonotonicTime {
	t := cdp.MonotonicTime(cdp.MonotonicTimeEpoch.Add(time.Hour + time.Duration(ms*float64(time.Millisecond))))
	return &t
}

var wallOrigin = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

func wall(ms float64) *cdp.TimeSinceEpoch {
	t := cdp.TimeSinceEpoch(wallOrigin.Add(time.Duration(ms * float64(time.Millisecond))))
	return &t
}

func request(id, url string, at float64) *network.EventRequestWillBeSent {
	return &network.EventRequestWillBeSent{
		RequestID: network.RequestID(id),
		Request: &network.Request{
			URL:     url,
			Method:  "GET",
			Headers: network.Headers{"Accept": "*/*"},
		},
		Timestamp: mono(at),
		WallTime:  wall(at),
	}
}

func response(id string, status int64, at float64, headers network.Headers) *network.EventResponseReceived {
	return &network.EventResponseReceived{
		RequestID: network.RequestID(id),
		Timestamp: mono(at),
		Response: &network.Response{
			Status:     status,
			StatusText: "OK",
			Headers:    headers,
			MimeType:   "text/html",
			Protocol:   "http/1.1",
		},
	}
}

func finished(id string, at, size float64) *network.EventLoadingFinished {
	return &network.EventLoadingFinished{
		RequestID:         network.RequestID(id),
		Timestamp:         mono(at),
		EncodedDataLength: size,
	}
}

func failed(id string, at float64, text string) *network.EventLoadingFailed {
	return &network.EventLoadingFailed{
		RequestID: network.RequestID(id),
		Timestamp: mono(at),
		ErrorText: text,
	}
}

// navigated commits a main frame document.
func navigated(loader cdp.LoaderID) *page.EventFrameNavigated {
	return &page.EventFrameNavigated{Frame: &cdp.Frame{ID: "main", LoaderID: loader}}
}

func domContent(at float64) *page.EventDomContentEventFired {
	return &page.EventDomContentEventFired{Timestamp: mono(at)}
}

func loadFired(at float64) *page.EventLoadEventFired {
	return &page.EventLoadEventFired{Timestamp: mono(at)}
}
