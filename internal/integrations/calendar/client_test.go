package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"voice-booking/internal/domain"
)

const testCalendar = "agent@example.com"

type fakeGetter struct {
	val string
	err error
}

func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	return f.val, f.err
}

type observation struct {
	op, result string
}

type fakeObserver struct {
	mu  sync.Mutex
	got []observation
}

func (f *fakeObserver) ObserveCalendar(op, result string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, observation{op, result})
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	opts = append([]Option{WithBaseURL(srv.URL), WithHTTPClient(srv.Client())}, opts...)
	c, err := NewClient(testCalendar, opts...)
	require.NoError(t, err)
	return c
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(" " + testCalendar + " ")
	require.NoError(t, err)
	require.Equal(t, defaultBaseURL, c.baseURL)
	require.Equal(t, testCalendar, c.calendarID)
	require.Equal(t, defaultTimeZone, c.timeZone)
	require.Nil(t, c.limiter)
}

func TestNewClient_EmptyCalendarID(t *testing.T) {
	_, err := NewClient("  ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be empty")
}

func TestEndpoint_EscapesSegments(t *testing.T) {
	c, err := NewClient(testCalendar, WithBaseURL("https://example.test/v3/"))
	require.NoError(t, err)
	require.Equal(t, "https://example.test/v3/calendars/agent@example.com/events/a%2Fb", c.endpoint("calendars", testCalendar, "events", "a/b"))
}

func TestBusyIntervals_HappyPath(t *testing.T) {
	var got freeBusyRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/freeBusy", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"calendars":{"agent@example.com":{"busy":[
			{"start":"2026-01-15T15:00:00-07:00","end":"2026-01-15T16:00:00-07:00"},
			{"start":"2026-01-16T17:00:00Z","end":"2026-01-16T17:30:00Z"}
		]}}}`)
	})

	from := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	to := from.Add(48 * time.Hour)
	busy, err := c.BusyIntervals(context.Background(), from, to)
	require.NoError(t, err)
	require.Len(t, busy, 2)
	require.True(t, busy[0].Start.Equal(time.Date(2026, 1, 15, 22, 0, 0, 0, time.UTC)))
	require.True(t, busy[1].End.Equal(time.Date(2026, 1, 16, 17, 30, 0, 0, time.UTC)))

	require.Equal(t, "2026-01-15T00:00:00Z", got.TimeMin)
	require.Equal(t, "2026-01-17T00:00:00Z", got.TimeMax)
	require.Equal(t, "America/Phoenix", got.TimeZone)
	require.Equal(t, []freeBusyItem{{ID: testCalendar}}, got.Items)
}

func TestBusyIntervals_CalendarError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"calendars":{"agent@example.com":{"errors":[{"domain":"global","reason":"notFound"}]}}}`)
	})
	_, err := c.BusyIntervals(context.Background(), time.Now(), time.Now().Add(time.Hour))
	require.Error(t, err)
	require.Contains(t, err.Error(), "notFound")
}

func TestBusyIntervals_MissingCalendar(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"calendars":{}}`)
	})
	_, err := c.BusyIntervals(context.Background(), time.Now(), time.Now().Add(time.Hour))
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing calendar")
}

func TestBusyIntervals_InvalidRange(t *testing.T) {
	c, err := NewClient(testCalendar)
	require.NoError(t, err)
	now := time.Now()
	_, err = c.BusyIntervals(context.Background(), now, now)
	require.Error(t, err)
}

func TestBusyIntervals_HTTPStatusError(t *testing.T) {
	obs := &fakeObserver{}
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error":"forbidden"}`)
	}, WithObserver(obs))
	_, err := c.BusyIntervals(context.Background(), time.Now(), time.Now().Add(time.Hour))
	require.Error(t, err)

	var statusErr *HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusForbidden, statusErr.HTTPStatusCode())
	require.Contains(t, statusErr.Body, "forbidden")
	require.Equal(t, []observation{{"freebusy", "error"}}, obs.got)
}

func TestCreateEvent_HappyPath(t *testing.T) {
	var got eventRequest
	obs := &fakeObserver{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/calendars/agent@example.com/events", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, `{"id":"evt-123"}`)
	}, WithObserver(obs))

	start := time.Date(2026, 1, 15, 22, 0, 0, 0, time.UTC)
	id, err := c.CreateEvent(context.Background(), domain.EventRequest{
		Summary:     "Tour: Ana",
		Start:       start,
		End:         start.Add(30 * time.Minute),
		Attendees:   []string{"ana@example.com"},
		Description: "Phone: 555",
	})
	require.NoError(t, err)
	require.Equal(t, "evt-123", id)
	require.Equal(t, "Tour: Ana", got.Summary)
	require.Equal(t, "2026-01-15T22:00:00Z", got.Start.DateTime)
	require.Equal(t, "2026-01-15T22:30:00Z", got.End.DateTime)
	require.Equal(t, []attendee{{Email: "ana@example.com"}}, got.Attendees)
	require.Equal(t, []observation{{"create", "ok"}}, obs.got)
}

func TestCreateEvent_Validation(t *testing.T) {
	c, err := NewClient(testCalendar)
	require.NoError(t, err)
	start := time.Now()

	_, err = c.CreateEvent(context.Background(), domain.EventRequest{Start: start, End: start.Add(time.Minute)})
	require.Error(t, err)
	_, err = c.CreateEvent(context.Background(), domain.EventRequest{Summary: "x", Start: start, End: start})
	require.Error(t, err)
}

func TestCreateEvent_NoID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	})
	start := time.Now()
	_, err := c.CreateEvent(context.Background(), domain.EventRequest{Summary: "x", Start: start, End: start.Add(time.Minute)})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no id")
}

func TestCreateEvent_ServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	start := time.Now()
	_, err := c.CreateEvent(context.Background(), domain.EventRequest{Summary: "x", Start: start, End: start.Add(time.Minute)})
	var statusErr *HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
}

func TestCreateEvent_ContextTimeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := c.CreateEvent(ctx, domain.EventRequest{Summary: "x", Start: start, End: start.Add(time.Minute)})
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDeleteEvent(t *testing.T) {
	cases := []struct {
		status  int
		wantErr bool
	}{
		{http.StatusNoContent, false},
		{http.StatusOK, false},
		{http.StatusNotFound, false},
		{http.StatusGone, false},
		{http.StatusInternalServerError, true},
	}
	for _, tc := range cases {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodDelete, r.Method)
			require.Equal(t, "/calendars/agent@example.com/events/evt-1", r.URL.Path)
			w.WriteHeader(tc.status)
		})
		err := c.DeleteEvent(context.Background(), "evt-1")
		if tc.wantErr {
			require.Error(t, err, "status=%d", tc.status)
		} else {
			require.NoError(t, err, "status=%d", tc.status)
		}
	}
}

func TestDeleteEvent_EmptyID(t *testing.T) {
	c, err := NewClient(testCalendar)
	require.NoError(t, err)
	require.Error(t, c.DeleteEvent(context.Background(), " "))
}

func TestRateLimit_WaitHonorsContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}, WithRateLimit(0.001, 1))
	require.NoError(t, c.DeleteEvent(context.Background(), "evt-1"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := c.DeleteEvent(ctx, "evt-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "rate limit")
}

func TestNewServiceAccountHTTPClient_Errors(t *testing.T) {
	_, err := NewServiceAccountHTTPClient(context.Background(), nil, "p", time.Second)
	require.Error(t, err)

	_, err = NewServiceAccountHTTPClient(context.Background(), &fakeGetter{err: errors.New("boom")}, "p", time.Second)
	require.ErrorContains(t, err, "boom")

	_, err = NewServiceAccountHTTPClient(context.Background(), &fakeGetter{val: "not json"}, "p", time.Second)
	require.ErrorContains(t, err, "parse service account")
}
