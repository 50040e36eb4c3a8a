// Package dql implements the record source: a client for the two-step
// remote DQL protocol (execute a query job, then poll for its result).
package dql

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/pattonfu/central-production-meeting/internal/report"
)

// Wire field names of a raw record.
const (
	fieldApp        = "app"
	fieldMessage    = "span.events.exception.message"
	fieldStackTrace = "span.events.exception.stack_trace"
	fieldCount      = "count()"
)

// stateSucceeded is the poll state signalling the query job finished.
const stateSucceeded = "SUCCEEDED"

// timeframeFormat is the wire layout of timeframe bounds.
const timeframeFormat = "2006-01-02T15:04:05.000"

// pollRequestTimeoutMS is the server-side long-poll timeout per request.
const pollRequestTimeoutMS = 30000

// hoursPerDay bounds one fetch to a single calendar day.
const hoursPerDay = 24

// Sentinel errors for the fetch protocol.
var (
	// ErrMissingRequestToken indicates the execute response carried no token.
	ErrMissingRequestToken = errors.New("execute response has no requestToken")
	// ErrPollTimeout indicates the query job did not succeed within the deadline.
	ErrPollTimeout = errors.New("query poll timed out")
	// ErrNegativeCount indicates a record carried a negative occurrence count.
	ErrNegativeCount = errors.New("record has a negative count")
)

// userAgents is rotated across execute requests.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 14_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.0 Mobile/15E148 Safari/604.1",
}

// Config holds the client's endpoint and fetch tuning.
type Config struct {
	BaseURL        string
	PollInterval   time.Duration
	PollTimeout    time.Duration
	MaxResultBytes int
	Timezone       string
	DayStartHour   int
}

// Credentials authenticate requests against the remote source.
type Credentials struct {
	Cookie    string
	CSRFToken string
}

// Client fetches one day's raw records per call.
type Client struct {
	httpClient *http.Client
	cfg        Config
	creds      Credentials
	logger     *slog.Logger
	location   *time.Location
}

// NewClient creates a DQL client. An empty timezone uses the local one.
func NewClient(cfg Config, creds Credentials, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	location := time.Local

	if cfg.Timezone != "" {
		loaded, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone %s: %w", cfg.Timezone, err)
		}

		location = loaded
	}

	return &Client{
		httpClient: &http.Client{},
		cfg:        cfg,
		creds:      creds,
		logger:     logger,
		location:   location,
	}, nil
}

// executeRequest is the execute call's JSON body.
type executeRequest struct {
	Query                      string `json:"query"`
	DefaultTimeframeStart      string `json:"defaultTimeframeStart"`
	DefaultTimeframeEnd        string `json:"defaultTimeframeEnd"`
	RequestTimeoutMilliseconds int    `json:"requestTimeoutMilliseconds"`
	MaxResultBytes             int    `json:"maxResultBytes"`
	Timezone                   string `json:"timezone"`
}

// executeResponse carries the token used to poll the query job.
type executeResponse struct {
	RequestToken string `json:"requestToken"`
}

// pollResponse is the poll call's JSON body.
type pollResponse struct {
	State  string `json:"state"`
	Result struct {
		Records  []map[string]any `json:"records"`
		Metadata struct {
			Grail struct {
				ExecutionTimeMilliseconds int64 `json:"executionTimeMilliseconds"`
				ScannedBytes              int64 `json:"scannedBytes"`
			} `json:"grail"`
		} `json:"metadata"`
	} `json:"result"`
}

// FetchDay runs the query for one calendar day and returns its records.
// The day spans [date@startHour, date+1d@startHour) in the configured
// timezone. The call blocks through the poll loop, bounded by the
// configured poll timeout and the caller's context.
func (c *Client) FetchDay(ctx context.Context, query string, date time.Time) ([]report.RawRecord, error) {
	start := time.Date(date.Year(), date.Month(), date.Day(), c.cfg.DayStartHour, 0, 0, 0, c.location)
	end := start.Add(hoursPerDay * time.Hour)

	token, err := c.execute(ctx, query, start, end)
	if err != nil {
		return nil, err
	}

	return c.poll(ctx, token)
}

func (c *Client) execute(ctx context.Context, query string, start, end time.Time) (string, error) {
	body := executeRequest{
		Query:                      query,
		DefaultTimeframeStart:      start.Format(timeframeFormat),
		DefaultTimeframeEnd:        end.Format(timeframeFormat),
		RequestTimeoutMilliseconds: 1,
		MaxResultBytes:             c.cfg.MaxResultBytes,
		Timezone:                   c.cfg.Timezone,
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode execute request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/query:execute", bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("build execute request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	c.setAuthHeaders(req)

	var decoded executeResponse

	err = c.doJSON(req, &decoded)
	if err != nil {
		return "", fmt.Errorf("execute query: %w", err)
	}

	if decoded.RequestToken == "" {
		return "", ErrMissingRequestToken
	}

	c.logger.Debug("query job started", "request_token", decoded.RequestToken)

	return decoded.RequestToken, nil
}

func (c *Client) poll(ctx context.Context, token string) ([]report.RawRecord, error) {
	query := url.Values{}
	query.Set("request-token", token)
	query.Set("request-timeout-milliseconds", strconv.Itoa(pollRequestTimeoutMS))
	pollURL := c.cfg.BaseURL + "/query:poll?" + query.Encode()

	deadline := time.Now().Add(c.cfg.PollTimeout)

	for {
		decoded, err := c.pollOnce(ctx, pollURL)

		switch {
		case err != nil:
			// Transient poll failures are retried until the deadline.
			c.logger.Warn("query poll failed", "error", err)
		case decoded.State == stateSucceeded:
			c.logResultMetadata(decoded)

			return decodeRecords(decoded.Result.Records)
		default:
			c.logger.Debug("query still running", "state", decoded.State)
		}

		if time.Now().Add(c.cfg.PollInterval).After(deadline) {
			return nil, fmt.Errorf("after %s: %w", c.cfg.PollTimeout, ErrPollTimeout)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("query poll: %w", ctx.Err())
		case <-time.After(c.cfg.PollInterval):
		}
	}
}

func (c *Client) pollOnce(ctx context.Context, pollURL string) (*pollResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pollURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build poll request: %w", err)
	}

	c.setAuthHeaders(req)

	var decoded pollResponse

	err = c.doJSON(req, &decoded)
	if err != nil {
		return nil, err
	}

	return &decoded, nil
}

func (c *Client) setAuthHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgents[rand.Intn(len(userAgents))])
	req.Header.Set("x-csrftoken", c.creds.CSRFToken)
	req.Header.Set("Cookie", c.creds.Cookie)
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		return fmt.Errorf("%s %s: unexpected status %d: %s", req.Method, req.URL.Path, resp.StatusCode, bytes.TrimSpace(body))
	}

	err = json.NewDecoder(resp.Body).Decode(out)
	if err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}

	return nil
}

func (c *Client) logResultMetadata(decoded *pollResponse) {
	grail := decoded.Result.Metadata.Grail

	attrs := []any{"records", len(decoded.Result.Records)}
	if grail.ExecutionTimeMilliseconds > 0 {
		attrs = append(attrs, "execution_time", time.Duration(grail.ExecutionTimeMilliseconds)*time.Millisecond)
	}

	if grail.ScannedBytes > 0 {
		attrs = append(attrs, "scanned", humanize.IBytes(uint64(grail.ScannedBytes)))
	}

	c.logger.Info("query job succeeded", attrs...)
}

// decodeRecords maps wire records to the core data model. Absent fields
// take their sentinel defaults; a present-but-null message decodes to the
// empty string so the aggregator can flag the corruption.
func decodeRecords(wire []map[string]any) ([]report.RawRecord, error) {
	records := make([]report.RawRecord, 0, len(wire))

	for i, fields := range wire {
		count, err := parseCount(fields[fieldCount])
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}

		records = append(records, report.RawRecord{
			App:        stringField(fields, fieldApp, report.UnknownApp),
			Message:    stringField(fields, fieldMessage, report.NoMessage),
			StackTrace: stringField(fields, fieldStackTrace, report.NoStackTrace),
			Count:      count,
		})
	}

	return records, nil
}

func stringField(fields map[string]any, key, absentDefault string) string {
	value, ok := fields[key]
	if !ok {
		return absentDefault
	}

	text, ok := value.(string)
	if !ok {
		return ""
	}

	return text
}

// parseCount accepts numeric or string counts; absence defaults to 0.
func parseCount(value any) (int, error) {
	var count int

	switch typed := value.(type) {
	case nil:
		return 0, nil
	case float64:
		count = int(typed)
	case int:
		count = typed
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(typed))
		if err != nil {
			return 0, fmt.Errorf("parse count %q: %w", typed, err)
		}

		count = parsed
	default:
		return 0, fmt.Errorf("parse count: unsupported type %T", value)
	}

	if count < 0 {
		return 0, fmt.Errorf("%w: %d", ErrNegativeCount, count)
	}

	return count, nil
}
