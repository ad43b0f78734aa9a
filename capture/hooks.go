package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// Client is the protocol handle given to hooks.
type Client interface {
	// Run executes protocol commands against the session's tab.
	Run(ctx context.Context, actions ...chromedp.Action) error
	// OnRequest registers fn to be called with every request before it is
	// recorded. fn may mutate the request headers.
	OnRequest(fn RequestFunc)
}

// RequestFunc observes or mutates an outgoing request.
type RequestFunc func(req *network.Request)

// Hook is a caller supplied extension point run before navigation (pre) or
// after the load event (post).
type Hook func(ctx context.Context, url string, client Client) error

// hookClient is the Client handed to hooks. Registered request funcs are
// applied by the recorder in registration order.
type hookClient struct {
	session  Session
	requests []RequestFunc
}

func (c *hookClient) Run(ctx context.Context, actions ...chromedp.Action) error {
	return c.session.Run(ctx, actions...)
}

func (c *hookClient) OnRequest(fn RequestFunc) {
	if fn != nil {
		c.requests = append(c.requests, fn)
	}
}

// runHook calls h and converts a panic into an error.
func runHook(ctx context.Context, h Hook, url string, client Client) (err error) {
	if h == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panicked: %v", r)
		}
	}()
	return h(ctx, url, client)
}

// Chain runs hooks in order and stops at the first error.
func Chain(hooks ...Hook) Hook {
	return func(ctx context.Context, url string, client Client) error {
		for _, h := range hooks {
			if h == nil {
				continue
			}
			if err := h(ctx, url, client); err != nil {
				return err
			}
		}
		return nil
	}
}

// EnableDomains enables the network and page domains.
func EnableDomains() Hook {
	return func(ctx context.Context, url string, client Client) error {
		if err := client.Run(ctx, network.Enable(), page.Enable()); err != nil {
			return fmt.Errorf("enable domains: %w", err)
		}
		return nil
	}
}

// UserAgent overrides the browser user agent.
func UserAgent(ua string) Hook {
	return func(ctx context.Context, url string, client Client) error {
		if ua == "" {
			return nil
		}
		if err := client.Run(ctx, emulation.SetUserAgentOverride(ua)); err != nil {
			return fmt.Errorf("set user agent: %w", err)
		}
		return nil
	}
}

// DeviceMetrics emulates a screen of the given size.
func DeviceMetrics(width, height int, scale float64, mobile bool) Hook {
	return func(ctx context.Context, url string, client Client) error {
		if width <= 0 || height <= 0 {
			return nil
		}
		if scale <= 0 {
			scale = 1
		}
		action := emulation.SetDeviceMetricsOverride(int64(width), int64(height), scale, mobile)
		if err := client.Run(ctx, action); err != nil {
			return fmt.Errorf("set device metrics: %w", err)
		}
		return nil
	}
}

// ExtraHeaders sends headers with every request and makes the recorded
// requests reflect them.
func ExtraHeaders(headers map[string]string) Hook {
	return func(ctx context.Context, url string, client Client) error {
		if len(headers) == 0 {
			return nil
		}
		extra := make(network.Headers, len(headers))
		for k, v := range headers {
			extra[k] = v
		}
		client.OnRequest(func(req *network.Request) {
			if req.Headers == nil {
				req.Headers = make(network.Headers, len(extra))
			}
			for k, v := range extra {
				req.Headers[k] = v
			}
		})
		if err := client.Run(ctx, network.SetExtraHTTPHeaders(extra)); err != nil {
			return fmt.Errorf("set extra headers: %w", err)
		}
		return nil
	}
}

// Grace waits d before letting the capture finalize, so that requests started
// around the load event can complete.
func Grace(d time.Duration) Hook {
	return func(ctx context.Context, url string, client Client) error {
		if d <= 0 {
			return nil
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
