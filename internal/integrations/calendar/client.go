// Package calendar is a small Google Calendar v3 client covering the three
// calls booking needs: free/busy lookup, event insert and event delete.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"

	"voice-booking/internal/domain"
)

const (
	defaultBaseURL  = "https://www.googleapis.com/calendar/v3"
	defaultTimeZone = "America/Phoenix"

	// Scope grants read/write access to the agent's calendar.
	Scope = "https://www.googleapis.com/auth/calendar"
)

// Getter reads a secret by name, e.g. from SSM Parameter Store.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Observer receives per-call outcomes, e.g. for latency metrics.
type Observer interface {
	ObserveCalendar(op, result string, elapsed time.Duration)
}

type freeBusyRequest struct {
	TimeMin  string         `json:"timeMin"`
	TimeMax  string         `json:"timeMax"`
	TimeZone string         `json:"timeZone,omitempty"`
	Items    []freeBusyItem `json:"items"`
}

type freeBusyItem struct {
	ID string `json:"id"`
}

type freeBusyResponse struct {
	Calendars map[string]struct {
		Busy []struct {
			Start string `json:"start"`
			End   string `json:"end"`
		} `json:"busy"`
		Errors []struct {
			Domain string `json:"domain"`
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"calendars"`
}

type eventTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone,omitempty"`
}

type attendee struct {
	Email string `json:"email"`
}

type eventRequest struct {
	Summary     string     `json:"summary"`
	Description string     `json:"description,omitempty"`
	Start       eventTime  `json:"start"`
	End         eventTime  `json:"end"`
	Attendees   []attendee `json:"attendees,omitempty"`
}

type eventResponse struct {
	ID string `json:"id"`
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("calendar: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client talks to one calendar, identified by the agent's calendar id (usually
// their email address).
type Client struct {
	baseURL    string
	httpClient *http.Client
	calendarID string
	timeZone   string
	limiter    *rate.Limiter
	observer   Observer
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

// WithHTTPClient sets the authorized HTTP client, normally the one returned by
// NewServiceAccountHTTPClient.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeZone sets the IANA zone sent with free/busy queries and events.
func WithTimeZone(name string) Option {
	return func(c *Client) {
		if name = strings.TrimSpace(name); name != "" {
			c.timeZone = name
		}
	}
}

// WithRateLimit caps outbound requests per second; rps <= 0 disables the limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

func WithObserver(o Observer) Option {
	return func(c *Client) {
		c.observer = o
	}
}

func NewClient(calendarID string, opts ...Option) (*Client, error) {
	calendarID = strings.TrimSpace(calendarID)
	if calendarID == "" {
		return nil, errors.New("calendar: calendar id must not be empty")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		calendarID: calendarID,
		timeZone:   defaultTimeZone,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewServiceAccountHTTPClient builds an OAuth2 client from service-account
// JSON stored under paramName. ctx governs token refreshes for the client's
// lifetime, so pass a process-scoped context.
func NewServiceAccountHTTPClient(ctx context.Context, getter Getter, paramName string, timeout time.Duration) (*http.Client, error) {
	if getter == nil {
		return nil, errors.New("calendar: paramstore getter must not be nil")
	}
	raw, err := getter.GetParameter(ctx, paramName)
	if err != nil {
		return nil, fmt.Errorf("calendar: fetch service account: %w", err)
	}
	cfg, err := google.JWTConfigFromJSON([]byte(raw), Scope)
	if err != nil {
		return nil, fmt.Errorf("calendar: parse service account: %w", err)
	}
	hc := cfg.Client(ctx)
	hc.Timeout = timeout
	return hc, nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (c *Client) endpoint(parts ...string) string {
	base := strings.TrimRight(c.baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	for _, p := range parts {
		base += "/" + url.PathEscape(p)
	}
	return base
}

// BusyIntervals returns the calendar's busy periods between from and to.
func (c *Client) BusyIntervals(ctx context.Context, from, to time.Time) (out []domain.BusyInterval, err error) {
	if !to.After(from) {
		return nil, errors.New("calendar: time range end must be after start")
	}
	defer c.observe("freebusy", time.Now(), &err)

	body, err := json.Marshal(freeBusyRequest{
		TimeMin:  from.Format(time.RFC3339),
		TimeMax:  to.Format(time.RFC3339),
		TimeZone: c.timeZone,
		Items:    []freeBusyItem{{ID: c.calendarID}},
	})
	if err != nil {
		return nil, fmt.Errorf("calendar: marshal freebusy request: %w", err)
	}

	endpoint := c.endpoint("freeBusy")
	raw, err := c.do(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("calendar: freebusy request failed: %w", err)
	}

	var payload freeBusyResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("calendar: decode freebusy response: %w", err)
	}
	cal, ok := payload.Calendars[c.calendarID]
	if !ok {
		return nil, fmt.Errorf("calendar: freebusy response missing calendar %q", c.calendarID)
	}
	if len(cal.Errors) > 0 {
		return nil, fmt.Errorf("calendar: freebusy %s: %s", cal.Errors[0].Domain, cal.Errors[0].Reason)
	}

	out = make([]domain.BusyInterval, 0, len(cal.Busy))
	for _, b := range cal.Busy {
		start, err := time.Parse(time.RFC3339, b.Start)
		if err != nil {
			return nil, fmt.Errorf("calendar: parse busy start %q: %w", b.Start, err)
		}
		end, err := time.Parse(time.RFC3339, b.End)
		if err != nil {
			return nil, fmt.Errorf("calendar: parse busy end %q: %w", b.End, err)
		}
		out = append(out, domain.BusyInterval{Start: start, End: end})
	}
	return out, nil
}

// CreateEvent inserts an event and returns its id. It is not idempotent: a
// timeout after the provider accepted the request may still leave an event.
func (c *Client) CreateEvent(ctx context.Context, req domain.EventRequest) (id string, err error) {
	if strings.TrimSpace(req.Summary) == "" {
		return "", errors.New("calendar: event summary must not be empty")
	}
	if !req.End.After(req.Start) {
		return "", errors.New("calendar: event end must be after start")
	}
	defer c.observe("create", time.Now(), &err)

	ev := eventRequest{
		Summary:     req.Summary,
		Description: req.Description,
		Start:       eventTime{DateTime: req.Start.Format(time.RFC3339), TimeZone: c.timeZone},
		End:         eventTime{DateTime: req.End.Format(time.RFC3339), TimeZone: c.timeZone},
	}
	for _, email := range req.Attendees {
		ev.Attendees = append(ev.Attendees, attendee{Email: email})
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("calendar: marshal event: %w", err)
	}

	endpoint := c.endpoint("calendars", c.calendarID, "events")
	raw, err := c.do(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", fmt.Errorf("calendar: create event failed: %w", err)
	}

	var payload eventResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("calendar: decode event response: %w", err)
	}
	if payload.ID == "" {
		return "", errors.New("calendar: event response has no id")
	}
	return payload.ID, nil
}

// DeleteEvent removes an event. An event that is already gone counts as deleted.
func (c *Client) DeleteEvent(ctx context.Context, eventID string) (err error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return errors.New("calendar: event id must not be empty")
	}
	defer c.observe("delete", time.Now(), &err)

	endpoint := c.endpoint("calendars", c.calendarID, "events", eventID)
	_, err = c.do(ctx, http.MethodDelete, endpoint, nil)
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) && (statusErr.StatusCode == http.StatusNotFound || statusErr.StatusCode == http.StatusGone) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("calendar: delete event failed: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.doJSONRequest(req, endpoint)
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

func (c *Client) observe(op string, start time.Time, errp *error) {
	if c.observer == nil {
		return
	}
	result := "ok"
	if *errp != nil {
		result = "error"
	}
	c.observer.ObserveCalendar(op, result, time.Since(start))
}
