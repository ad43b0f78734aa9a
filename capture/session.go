package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// captureSession drives the capture of one URL through its states. It only
// touches its own task.
type captureSession struct {
	index     int
	task      *Task
	cfg       Config
	connector Connector
	report    reporter
	log       logrus.FieldLogger
}

func (s *captureSession) run(ctx context.Context) {
	s.task.StartedAt = time.Now()
	sctx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	err := s.capture(sctx)
	if err != nil {
		s.task.Err = err
		s.setState(StateFailed)
		s.log.WithError(err).Debug("Capture failed")
		s.report.emit(ctx, Event{Kind: EventFail, URL: s.task.URL, Index: s.index, Err: err})
		return
	}
	s.setState(StateDone)
	s.report.emit(ctx, Event{Kind: EventDone, URL: s.task.URL, Index: s.index})
}

func (s *captureSession) capture(ctx context.Context) error {
	url := s.task.URL

	s.setState(StateConnecting)
	sess, err := s.connector.Open(ctx)
	if err != nil {
		s.setState(StateFinalizing)
		return classify(ctx, KindConnection, url, err)
	}
	defer func() {
		s.setState(StateFinalizing)
		if err := sess.Close(); err != nil {
			s.log.WithError(err).Warn("Failed to close debugging session")
		}
	}()

	s.setState(StatePreHook)
	client := &hookClient{session: sess}
	if err := callHook(ctx, s.cfg.PreHook, url, client); err != nil {
		return classify(ctx, KindHook, url, fmt.Errorf("pre hook: %w", err))
	}

	s.setState(StateNavigating)
	rec := newRecorder(url, sess, client.requests, s.cfg.CaptureBody, s.log)
	rctx, stop := context.WithCancel(ctx)
	go rec.run(rctx, sess.Events())
	defer func() {
		s.setState(StateFinalizing)
		stop()
		<-rec.done
		rec.finalize(time.Now())
		s.task.Entries = rec.entries
		s.task.OnContentLoad = rec.onContentLoad
		s.task.OnLoad = rec.onLoad
	}()

	loaderID, err := sess.Navigate(ctx, url)
	if err != nil {
		return classify(ctx, KindNavigation, url, err)
	}
	rec.navigated(loaderID)

	s.setState(StateAwaitingLoad)
	select {
	case <-rec.loaded:
	case <-rec.done:
		if ctx.Err() != nil {
			return classify(ctx, KindNavigation, url, ctx.Err())
		}
		return classify(ctx, KindConnection, url, errors.New("event stream closed before the page loaded"))
	case <-ctx.Done():
		return classify(ctx, KindNavigation, url, ctx.Err())
	}
	s.report.emit(ctx, Event{Kind: EventLoad, URL: url, Index: s.index})

	s.setState(StatePostHook)
	if err := callHook(ctx, s.cfg.PostHook, url, client); err != nil {
		return classify(ctx, KindHook, url, fmt.Errorf("post hook: %w", err))
	}
	return nil
}

func (s *captureSession) setState(st State) {
	if s.task.State == st {
		return
	}
	s.task.State = st
	s.log.WithField("state", st).Debug("Capture state changed")
}

// callHook runs h but gives up when ctx ends, so a hook that ignores its
// context cannot hold the session past its deadline.
func callHook(ctx context.Context, h Hook, url string, client Client) error {
	if h == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- runHook(ctx, h, url, client) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
