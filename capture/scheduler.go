package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/har"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Config is the immutable configuration of a run.
type Config struct {
	Host        string
	Port        int
	Width       int
	Height      int
	CaptureBody bool
	// Timeout bounds each capture from the moment it starts connecting.
	// Zero means no limit.
	Timeout time.Duration
	// Concurrency is the number of captures in flight. Values below one
	// mean one.
	Concurrency int
	PreHook     Hook
	PostHook    Hook
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger used for capture diagnostics.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Scheduler) {
		if log != nil {
			s.log = log
		}
	}
}

// WithCreator sets the creator recorded in the trace.
func WithCreator(name, version string) Option {
	return func(s *Scheduler) {
		s.creator = har.Creator{Name: name, Version: version}
	}
}

// Scheduler runs captures under a concurrency bound and assembles their
// results into a single trace.
type Scheduler struct {
	connector Connector
	cfg       Config
	log       logrus.FieldLogger
	creator   har.Creator
}

// NewScheduler creates a scheduler opening sessions through connector.
func NewScheduler(connector Connector, cfg Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		connector: connector,
		cfg:       cfg,
		log:       logrus.StandardLogger(),
		creator:   DefaultCreator,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run captures every URL and returns the trace once all captures have
// finished. Individual capture failures are reported through events and in
// the trace; Run itself only fails when there is nothing to capture.
//
// If events is not nil, lifecycle events are sent on it; the caller must
// keep receiving until Run returns.
func (s *Scheduler) Run(ctx context.Context, urls []string, events chan<- Event) (*har.HAR, error) {
	if len(urls) == 0 {
		return nil, ErrNoURLs
	}
	report := reporter{ch: events}

	concurrency := s.cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	tasks := make([]*Task, len(urls))
	for i, url := range urls {
		tasks[i] = newTask(url)
	}

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, task := range tasks {
		session := &captureSession{
			index:     i,
			task:      task,
			cfg:       s.cfg,
			connector: s.connector,
			report:    report,
			log:       s.log.WithFields(logrus.Fields{"url": task.URL, "domain": Domain(task.URL), "index": i}),
		}
		// Go blocks while all slots are taken, so a queued capture does not
		// start its clock before it can run.
		g.Go(func() error {
			session.run(ctx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}

	trace := Assemble(tasks, s.creator)
	report.emit(ctx, Event{Kind: EventTraceReady, Trace: trace})
	return trace, nil
}

// Stream runs the capture in the background and returns its events. The
// channel is closed after the EventTraceReady event, or right away with a
// single EventFail when there is nothing to capture.
func (s *Scheduler) Stream(ctx context.Context, urls []string) <-chan Event {
	// Every capture emits at most two events, plus the final trace.
	ch := make(chan Event, 2*len(urls)+1)
	go func() {
		defer close(ch)
		if _, err := s.Run(ctx, urls, ch); err != nil {
			ch <- Event{Kind: EventFail, Err: err}
		}
	}()
	return ch
}
