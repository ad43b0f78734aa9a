package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"
)

// DefaultConnectTimeout bounds how long opening a session may take. It is
// independent of the per-URL capture timeout.
const DefaultConnectTimeout = 10 * time.Second

// Connector opens debugging sessions, one browser tab each.
type Connector interface {
	Open(ctx context.Context) (Session, error)
}

// Session is a debugging connection to a single tab.
type Session interface {
	// Run executes protocol commands against the tab.
	Run(ctx context.Context, actions ...chromedp.Action) error
	// Navigate loads url in the tab and returns the loader of the new
	// document, empty for a same document navigation.
	Navigate(ctx context.Context, url string) (cdp.LoaderID, error)
	// Events streams the tab's protocol events in arrival order.
	Events() <-chan any
	// ResponseBody fetches the body of a finished request.
	ResponseBody(ctx context.Context, id network.RequestID) ([]byte, error)
	// Close releases the tab and its transport. It is idempotent.
	Close() error
}

// ChromeOption configures a ChromeConnector.
type ChromeOption func(*ChromeConnector)

// WithLaunch makes the connector start a local headless Chrome instead of
// attaching to host:port. An empty execPath looks the executable up.
func WithLaunch(execPath string) ChromeOption {
	return func(c *ChromeConnector) {
		c.launch = true
		c.execPath = execPath
	}
}

// WithConnectTimeout overrides DefaultConnectTimeout.
func WithConnectTimeout(d time.Duration) ChromeOption {
	return func(c *ChromeConnector) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// WithWindowSize sets the window size of a launched browser.
func WithWindowSize(width, height int) ChromeOption {
	return func(c *ChromeConnector) {
		c.width = width
		c.height = height
	}
}

// WithConnectorLogger routes connector and chromedp logs to log.
func WithConnectorLogger(log logrus.FieldLogger) ChromeOption {
	return func(c *ChromeConnector) {
		if log != nil {
			c.log = log
		}
	}
}

// ChromeConnector opens tabs on a Chrome reachable over the DevTools
// protocol.
type ChromeConnector struct {
	host           string
	port           int
	launch         bool
	execPath       string
	width          int
	height         int
	connectTimeout time.Duration
	log            logrus.FieldLogger

	// Launched browser, shared by all tabs.
	mu            sync.Mutex
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
}

// NewChromeConnector creates a connector for the browser at host:port.
func NewChromeConnector(host string, port int, opts ...ChromeOption) *ChromeConnector {
	c := &ChromeConnector{
		host:           host,
		port:           port,
		connectTimeout: DefaultConnectTimeout,
		log:            logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Open opens a new tab. A tab on a remote browser gets its own websocket
// connection; launched browsers share one.
func (c *ChromeConnector) Open(ctx context.Context) (Session, error) {
	var (
		tabCtx   context.Context
		release  []context.CancelFunc
		ctxOpts  = []chromedp.ContextOption{chromedp.WithLogf(c.log.Debugf), chromedp.WithErrorf(c.log.Errorf)}
		endpoint string
	)

	if c.launch {
		browserCtx, err := c.ensureBrowser()
		if err != nil {
			return nil, newError(KindConnection, "", err)
		}
		var cancelTab context.CancelFunc
		tabCtx, cancelTab = chromedp.NewContext(browserCtx, ctxOpts...)
		release = append(release, cancelTab)
		endpoint = "launched browser"
	} else {
		endpoint = fmt.Sprintf("http://%s:%d", c.host, c.port)
		allocCtx, cancelAlloc := chromedp.NewRemoteAllocator(ctx, endpoint)
		var cancelTab context.CancelFunc
		tabCtx, cancelTab = chromedp.NewContext(allocCtx, ctxOpts...)
		release = append(release, cancelTab, cancelAlloc)
	}

	s := &chromeSession{
		tabCtx:  tabCtx,
		queue:   newEventQueue(),
		release: release,
	}
	// Listeners registered before the target exists are attached to it on
	// creation, so no event of the new tab is missed.
	chromedp.ListenTarget(tabCtx, s.queue.push)

	if err := c.handshake(ctx, tabCtx); err != nil {
		s.Close()
		return nil, newError(KindConnection, "", fmt.Errorf("connect to %s: %w", endpoint, err))
	}
	c.log.WithField("endpoint", endpoint).Debug("Opened debugging session")
	return s, nil
}

// handshake allocates the tab, bounded by the connect timeout. The first Run
// on a chromedp context ties the allocation to that context, so the bound is
// enforced from outside rather than through a derived context.
func (c *ChromeConnector) handshake(ctx, tabCtx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(tabCtx) }()

	timer := time.NewTimer(c.connectTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("handshake not completed within %v", c.connectTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ensureBrowser starts the local browser once.
func (c *ChromeConnector) ensureBrowser() (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.browserCtx != nil {
		return c.browserCtx, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.DisableGPU,
		chromedp.NoSandbox,
		chromedp.Headless,
	)
	if c.width > 0 && c.height > 0 {
		opts = append(opts, chromedp.WindowSize(c.width, c.height))
	}

	execPath := c.execPath
	if execPath == "" {
		if found, err := findChromeExecutable(); err == nil {
			execPath = found
		} else {
			c.log.Warnf("Local Chrome not found, relying on chromedp defaults: %v", err)
		}
	}
	if execPath != "" {
		c.log.Infof("Using local Chrome executable at: %s", execPath)
		opts = append(opts, chromedp.ExecPath(execPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(c.log.Debugf), chromedp.WithErrorf(c.log.Errorf))

	if err := c.handshake(context.Background(), browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	c.browserCtx = browserCtx
	c.cancelBrowser = cancelBrowser
	c.cancelAlloc = cancelAlloc
	return browserCtx, nil
}

// Close shuts down a launched browser. Tabs must be closed first.
func (c *ChromeConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.browserCtx == nil {
		return nil
	}
	c.cancelBrowser()
	c.cancelAlloc()
	c.browserCtx = nil
	return nil
}

type chromeSession struct {
	tabCtx  context.Context
	queue   *eventQueue
	release []context.CancelFunc
	once    sync.Once
}

func (s *chromeSession) executor(ctx context.Context) (context.Context, error) {
	c := chromedp.FromContext(s.tabCtx)
	if c == nil || c.Target == nil {
		return nil, errors.New("session has no attached target")
	}
	return cdp.WithExecutor(ctx, c.Target), nil
}

func (s *chromeSession) Run(ctx context.Context, actions ...chromedp.Action) error {
	tctx, err := s.executor(ctx)
	if err != nil {
		return err
	}
	return chromedp.Tasks(actions).Do(tctx)
}

func (s *chromeSession) Navigate(ctx context.Context, url string) (cdp.LoaderID, error) {
	tctx, err := s.executor(ctx)
	if err != nil {
		return "", err
	}
	_, loaderID, errorText, _, err := page.Navigate(url).Do(tctx)
	if err != nil {
		return "", err
	}
	if errorText != "" {
		return "", newError(KindNavigation, url, errors.New(errorText))
	}
	return loaderID, nil
}

func (s *chromeSession) Events() <-chan any {
	return s.queue.events()
}

func (s *chromeSession) ResponseBody(ctx context.Context, id network.RequestID) ([]byte, error) {
	tctx, err := s.executor(ctx)
	if err != nil {
		return nil, err
	}
	return network.GetResponseBody(id).Do(tctx)
}

func (s *chromeSession) Close() error {
	s.once.Do(func() {
		s.queue.close()
		for _, cancel := range s.release {
			cancel()
		}
	})
	return nil
}

// findChromeExecutable attempts to locate the Chrome executable on the system
func findChromeExecutable() (string, error) {
	// Check for environment variable first
	if envPath := os.Getenv("CHROME_PATH"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath, nil
		}
	}

	var paths []string
	switch runtime.GOOS {
	case "darwin":
		paths = []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Google Chrome Canary.app/Contents/MacOS/Google Chrome Canary",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
		}
	case "windows":
		paths = []string{
			filepath.Join(os.Getenv("ProgramFiles"), "Google/Chrome/Application/chrome.exe"),
			filepath.Join(os.Getenv("ProgramFiles(x86)"), "Google/Chrome/Application/chrome.exe"),
			filepath.Join(os.Getenv("LocalAppData"), "Google/Chrome/Application/chrome.exe"),
		}
	case "linux":
		paths = []string{
			"/usr/bin/google-chrome",
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
			"/usr/bin/headless-shell",
			"/snap/bin/chromium",
		}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "headless-shell"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("could not find Chrome executable")
}
