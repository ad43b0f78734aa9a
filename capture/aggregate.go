package capture

import (
	"encoding/base64"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/chromedp/cdproto/har"
	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// HARVersion is the HTTP Archive format version produced.
const HARVersion = "1.2"

// DefaultCreator identifies this tool in traces.
var DefaultCreator = har.Creator{Name: "har-capturer", Version: "0.1.0"}

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// Assemble merges the tasks into one trace. Pages follow the order of tasks
// and entries are grouped by page in the order they were first seen. The
// same tasks always yield the same structure.
func Assemble(tasks []*Task, creator har.Creator) *har.HAR {
	log := &har.Log{
		Version: HARVersion,
		Creator: &creator,
		Pages:   make([]*har.Page, 0, len(tasks)),
		Entries: []*har.Entry{},
	}
	for i, t := range tasks {
		id := fmt.Sprintf("page_%d", i+1)
		log.Pages = append(log.Pages, buildPage(id, t))
		for _, e := range t.Entries {
			log.Entries = append(log.Entries, buildEntry(id, e))
		}
	}
	return &har.HAR{Log: log}
}

// Encode writes the trace as indented JSON followed by a newline.
func Encode(w io.Writer, trace *har.HAR) error {
	if err := json.MarshalWrite(w, trace, jsontext.WithIndent("    "), json.Deterministic(true)); err != nil {
		return fmt.Errorf("encode trace: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func buildPage(id string, t *Task) *har.Page {
	started := t.StartedAt
	if len(t.Entries) > 0 {
		started = t.Entries[0].Timings.Start
	}
	p := &har.Page{
		StartedDateTime: formatTime(started),
		ID:              id,
		Title:           t.URL,
		PageTimings: &har.PageTimings{
			OnContentLoad: round(t.OnContentLoad),
			OnLoad:        round(t.OnLoad),
		},
	}
	if t.Err != nil {
		p.Comment = t.Err.Error()
	}
	return p
}

func buildEntry(pageref string, e *Entry) *har.Entry {
	timings := buildTimings(e.Timings)
	version := httpVersion(e.Protocol)

	bodySize := int64(-1)
	if e.EncodedDataLength > 0 {
		bodySize = int64(e.EncodedDataLength)
	}

	entry := &har.Entry{
		Pageref:         pageref,
		StartedDateTime: formatTime(e.Timings.Start),
		Time:            totalTime(timings),
		Request: &har.Request{
			Method:      e.Method,
			URL:         e.URL,
			HTTPVersion: version,
			Cookies:     []*har.Cookie{},
			Headers:     nameValues(e.RequestHeaders),
			QueryString: queryString(e.URL),
			PostData:    buildPostData(e),
			HeadersSize: -1,
			BodySize:    int64(len(e.PostData)),
		},
		Response: &har.Response{
			Status:      e.Status,
			StatusText:  e.StatusText,
			HTTPVersion: version,
			Cookies:     []*har.Cookie{},
			Headers:     nameValues(e.ResponseHeaders),
			Content:     buildContent(e),
			RedirectURL: headerValue(e.ResponseHeaders, "Location"),
			HeadersSize: -1,
			BodySize:    bodySize,
		},
		Cache:           &har.Cache{},
		Timings:         timings,
		ServerIPAddress: e.RemoteIPAddress,
	}
	if e.ConnectionID > 0 {
		entry.Connection = strconv.FormatFloat(e.ConnectionID, 'f', -1, 64)
	}
	switch {
	case e.Timings.TimedOut:
		entry.Comment = "request still in flight when the capture ended"
	case e.Failure != "":
		entry.Comment = e.Failure
	}
	return entry
}

// buildTimings derives the HAR phases from the timing marks. Without
// detailed network timing (cache hits, data URLs, unanswered requests) the
// whole duration is reported as wait.
func buildTimings(t Timings) *har.Timings {
	out := &har.Timings{Blocked: -1, DNS: -1, Connect: -1, Ssl: -1}
	if t.SendStart < 0 {
		out.Wait = round(math.Max(t.ReceiveEnd, 0))
		return out
	}

	out.Blocked = round(firstNonNegative(t.DNSStart, t.ConnectStart, t.SendStart))
	if t.DNSStart >= 0 {
		out.DNS = round(t.DNSEnd - t.DNSStart)
	}
	if t.ConnectStart >= 0 {
		out.Connect = round(t.ConnectEnd - t.ConnectStart)
	}
	if t.SSLStart >= 0 {
		out.Ssl = round(t.SSLEnd - t.SSLStart)
	}
	out.Send = round(t.SendEnd - t.SendStart)
	if t.ReceiveHeadersEnd >= 0 {
		out.Wait = round(math.Max(t.ReceiveHeadersEnd-t.SendEnd, 0))
		if t.ReceiveEnd >= 0 {
			out.Receive = round(math.Max(t.ReceiveEnd-t.ReceiveHeadersEnd, 0))
		}
	}
	return out
}

// totalTime sums the phases that apply; ssl is already part of connect.
func totalTime(t *har.Timings) float64 {
	var total float64
	for _, v := range []float64{t.Blocked, t.DNS, t.Connect, t.Send, t.Wait, t.Receive} {
		if v > 0 {
			total += v
		}
	}
	return round(total)
}

func buildContent(e *Entry) *har.Content {
	c := &har.Content{
		Size:     int64(len(e.Body)),
		MimeType: e.MimeType,
	}
	if c.MimeType == "" {
		c.MimeType = "x-unknown"
	}
	if len(e.Body) > 0 {
		if utf8.Valid(e.Body) {
			c.Text = string(e.Body)
		} else {
			c.Text = base64.StdEncoding.EncodeToString(e.Body)
			c.Encoding = "base64"
		}
	}
	if e.BodyErr != nil {
		c.Comment = e.BodyErr.Error()
	}
	return c
}

func buildPostData(e *Entry) *har.PostData {
	if len(e.PostData) == 0 {
		return nil
	}
	mimeType := headerValue(e.RequestHeaders, "Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return &har.PostData{
		MimeType: mimeType,
		Params:   []*har.Param{},
		Text:     string(e.PostData),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func firstNonNegative(values ...float64) float64 {
	for _, v := range values {
		if v >= 0 {
			return v
		}
	}
	return -1
}

func round(v float64) float64 {
	if v < 0 {
		return -1
	}
	return math.Round(v*1000) / 1000
}
