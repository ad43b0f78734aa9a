package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chromedp/cdproto/har"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"har-capturer/capture"
	"har-capturer/config"
	"har-capturer/metrics"
)

const version = "0.1.0"

var (
	configPath string
	verbose    bool
	flags      config.Config
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "har-capturer [flags] URL...",
		Short: "Capture HAR files from a remote-debuggable Chrome",
		Long: `har-capturer loads each URL in a fresh tab of a Chrome instance reachable
over the DevTools protocol and records every network exchange of the page
load as an HTTP Archive (HAR 1.2) written to stdout or a file.

Examples:
  # Chrome started with --remote-debugging-port=9222
  har-capturer https://example.com

  # Four URLs at a time, 10s budget each, bodies included
  har-capturer -l 4 -u 10000 -c -o out.har https://a.example https://b.example

  # Emulate a phone and add a request header
  har-capturer -a nexus6p -H "X-Trace: 1" https://example.com`,
		Version:       version,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	f := rootCmd.Flags()
	f.StringVarP(&flags.Host, "host", "t", config.DefaultHost, "Chrome Debugging Protocol host")
	f.IntVarP(&flags.Port, "port", "p", config.DefaultPort, "Chrome Debugging Protocol port")
	f.IntVarP(&flags.Width, "width", "x", 0, "frame width in DIP")
	f.IntVarP(&flags.Height, "height", "y", 0, "frame height in DIP")
	f.StringVarP(&flags.Output, "output", "o", "", "write to file instead of stdout")
	f.BoolVarP(&flags.Content, "content", "c", false, "also capture the requests body")
	f.StringVarP(&flags.Agent, "agent", "a", "", "user agent override or device preset (nexus6p, iphone6p)")
	f.IntVarP(&flags.Grace, "grace", "g", 0, "time to wait after the load event (ms)")
	f.IntVarP(&flags.Timeout, "timeout", "u", 0, "time to wait before giving up with a URL (ms)")
	f.IntVarP(&flags.Parallel, "parallel", "l", config.DefaultParallel, "load <n> URLs in parallel")
	f.StringArrayVarP(&flags.Headers, "header", "H", nil, "add request header (Name: value), repeatable")
	f.BoolVar(&flags.Launch, "launch", false, "start a local headless Chrome instead of connecting to host:port")
	f.StringVar(&flags.ChromePath, "chrome-path", "", "Chrome executable used with --launch")
	f.StringVar(&flags.MetricsPath, "metrics", "", "write run metrics as JSON to this file")
	f.StringVar(&configPath, "config", "", "JSON configuration file (flags take precedence)")
	f.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	return rootCmd
}

func run(cmd *cobra.Command, urls []string) error {
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.SetLevel(logrus.InfoLevel)
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	mergeFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Create context with cancel for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connOpts := []capture.ChromeOption{capture.WithConnectorLogger(logrus.StandardLogger())}
	if cfg.Launch {
		connOpts = append(connOpts,
			capture.WithLaunch(cfg.ChromePath),
			capture.WithWindowSize(cfg.Width, cfg.Height))
	}
	connector := capture.NewChromeConnector(cfg.Host, cfg.Port, connOpts...)
	defer connector.Close()

	scheduler := capture.NewScheduler(connector, captureConfig(cfg),
		capture.WithCreator(capture.DefaultCreator.Name, version))

	tracker := metrics.NewTracker()
	startTime := time.Now()
	parallel := cfg.Parallel > 1
	loaded := make(map[int]bool)

	var trace *har.HAR
	for ev := range scheduler.Stream(ctx, urls) {
		tracker.Observe(ev)
		switch ev.Kind {
		case capture.EventLoad:
			loaded[ev.Index] = true
			logProgress("- %s ", ev.URL)
			if parallel {
				logProgress("…\n")
			}
		case capture.EventDone:
			if parallel {
				logProgress("- %s ", ev.URL)
			}
			logProgress("✓\n")
		case capture.EventFail:
			if ev.URL == "" {
				return ev.Err
			}
			if parallel || !loaded[ev.Index] {
				logProgress("- %s ", ev.URL)
			}
			logProgress("✗\n  %v\n", ev.Err)
		case capture.EventTraceReady:
			trace = ev.Trace
		}
	}
	if trace == nil {
		return fmt.Errorf("capture interrupted: %w", context.Cause(ctx))
	}

	logrus.Infof("Capture completed in %v: %s", time.Since(startTime), tracker.LogProgress())
	if cfg.MetricsPath != "" {
		if err := tracker.WriteToFile(cfg.MetricsPath); err != nil {
			logrus.Errorf("Failed to write metrics: %v", err)
		}
	}
	return writeTrace(cfg.Output, trace)
}

// mergeFlags copies the flags given on the command line over the file
// configuration.
func mergeFlags(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("host") || cfg.Host == "" {
		cfg.Host = flags.Host
	}
	if changed("port") || cfg.Port == 0 {
		cfg.Port = flags.Port
	}
	if changed("width") {
		cfg.Width = flags.Width
	}
	if changed("height") {
		cfg.Height = flags.Height
	}
	if changed("output") {
		cfg.Output = flags.Output
	}
	if changed("content") {
		cfg.Content = flags.Content
	}
	if changed("agent") {
		cfg.Agent = flags.Agent
	}
	if changed("grace") {
		cfg.Grace = flags.Grace
	}
	if changed("timeout") {
		cfg.Timeout = flags.Timeout
	}
	if changed("parallel") || cfg.Parallel == 0 {
		cfg.Parallel = flags.Parallel
	}
	if changed("header") {
		cfg.Headers = append(cfg.Headers, flags.Headers...)
	}
	if changed("launch") {
		cfg.Launch = flags.Launch
	}
	if changed("chrome-path") {
		cfg.ChromePath = flags.ChromePath
	}
	if changed("metrics") {
		cfg.MetricsPath = flags.MetricsPath
	}
}

// captureConfig builds the capture configuration and its hooks.
func captureConfig(cfg *config.Config) capture.Config {
	device := cfg.Emulation()
	pre := capture.Chain(
		capture.EnableDomains(),
		capture.UserAgent(device.UserAgent),
		capture.DeviceMetrics(device.Width, device.Height, device.ScaleFactor, device.Mobile),
		capture.ExtraHeaders(capture.ParseHeaders(cfg.Headers)),
	)
	return capture.Config{
		Host:        cfg.Host,
		Port:        cfg.Port,
		Width:       cfg.Width,
		Height:      cfg.Height,
		CaptureBody: cfg.Content,
		Timeout:     cfg.TimeoutDuration(),
		Concurrency: cfg.Parallel,
		PreHook:     pre,
		PostHook:    capture.Grace(cfg.GraceDuration()),
	}
}

func writeTrace(path string, trace *har.HAR) error {
	var out io.Writer = os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}
	return capture.Encode(out, trace)
}

func logProgress(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format, args...)
}
