package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattiianni/Pdf50/internal/job"
	"github.com/mattiianni/Pdf50/internal/observability"
)

func newStreamServer(t *testing.T) (*job.Registry, *httptest.Server) {
	t.Helper()

	registry := job.NewRegistry(0, 0)
	h := NewStreamHandler(observability.DefaultLogger(), registry)
	h.heartbeat = 15 * time.Millisecond

	r := chi.NewRouter()
	r.Get("/api/v1/jobs/{jobID}/events", h.Events)
	r.Get("/api/v1/jobs/{jobID}/ws", h.WebSocket)

	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return registry, ts
}

func finishedJob(t *testing.T, registry *job.Registry, lines int) *job.Job {
	t.Helper()
	j := registry.Create(job.CreateParams{Mode: job.ModeUnified, SourcePath: "/a", OutputPath: "/o"})
	for i := 0; i < lines; i++ {
		j.Log.Append(job.Event{Type: job.EventLogLine, Message: fmt.Sprintf("line %d", i)})
	}
	j.MarkDone()
	j.Log.Finish()
	return j
}

// parseSSE splits an event-stream body into decoded events and heartbeat
// comment count.
func parseSSE(t *testing.T, body string) ([]job.Event, int) {
	t.Helper()
	var events []job.Event
	pings := 0
	for _, line := range strings.Split(body, "\n") {
		switch {
		case strings.HasPrefix(line, "data: "):
			var ev job.Event
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
			events = append(events, ev)
		case strings.HasPrefix(line, ":"):
			pings++
		}
	}
	return events, pings
}

func getSSE(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestStreamHandler_Events_ReplaysFinishedLog(t *testing.T) {
	registry, ts := newStreamServer(t)
	j := finishedJob(t, registry, 3)

	status, body := getSSE(t, ts.URL+"/api/v1/jobs/"+j.ID+"/events")
	require.Equal(t, http.StatusOK, status)

	events, _ := parseSSE(t, body)
	require.Len(t, events, 4)
	for i, ev := range events {
		assert.Equal(t, i, ev.Index)
	}
	assert.Equal(t, job.EventEndOfStream, events[3].Type)
	assert.Equal(t, j.Log.Snapshot(0), events)
}

func TestStreamHandler_Events_ResumesFromCursor(t *testing.T) {
	registry, ts := newStreamServer(t)
	j := finishedJob(t, registry, 5)

	status, body := getSSE(t, ts.URL+"/api/v1/jobs/"+j.ID+"/events?cursor=3")
	require.Equal(t, http.StatusOK, status)

	events, _ := parseSSE(t, body)
	require.Len(t, events, 3)
	assert.Equal(t, 3, events[0].Index)
	assert.Equal(t, j.Log.Snapshot(3), events)

	// A cursor already past end-of-stream yields an empty replay.
	status, body = getSSE(t, ts.URL+"/api/v1/jobs/"+j.ID+"/events?cursor=6")
	require.Equal(t, http.StatusOK, status)
	events, _ = parseSSE(t, body)
	assert.Empty(t, events)
}

func TestStreamHandler_Events_StreamsLiveAppends(t *testing.T) {
	registry, ts := newStreamServer(t)
	j := registry.Create(job.CreateParams{Mode: job.ModeUnified, SourcePath: "/a", OutputPath: "/o"})

	go func() {
		for i := 0; i < 3; i++ {
			time.Sleep(40 * time.Millisecond)
			j.Log.Append(job.Event{Type: job.EventLogLine, Message: fmt.Sprintf("line %d", i)})
		}
		time.Sleep(40 * time.Millisecond)
		j.MarkDone()
		j.Log.Finish()
	}()

	status, body := getSSE(t, ts.URL+"/api/v1/jobs/"+j.ID+"/events")
	require.Equal(t, http.StatusOK, status)

	events, pings := parseSSE(t, body)
	require.Len(t, events, 4)
	assert.Equal(t, job.EventEndOfStream, events[3].Type)
	assert.Equal(t, j.Log.Snapshot(0), events)
	// Idle gaps between appends produce keepalive comments.
	assert.Greater(t, pings, 0)
}

func TestStreamHandler_Events_UnknownJobIsNotFound(t *testing.T) {
	_, ts := newStreamServer(t)

	status, _ := getSSE(t, ts.URL+"/api/v1/jobs/ghost/events")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestStreamHandler_Events_RejectsBadCursor(t *testing.T) {
	registry, ts := newStreamServer(t)
	j := finishedJob(t, registry, 1)

	for _, cursor := range []string{"-1", "abc"} {
		status, _ := getSSE(t, ts.URL+"/api/v1/jobs/"+j.ID+"/events?cursor="+cursor)
		assert.Equal(t, http.StatusBadRequest, status)
	}
}

func dialWS(t *testing.T, ts *httptest.Server, path string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	return websocket.DefaultDialer.Dial(url, nil)
}

// readWS drains events until the server closes the connection and reports
// whether the closure was normal.
func readWS(t *testing.T, conn *websocket.Conn) ([]job.Event, bool) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	var events []job.Event
	for {
		var ev job.Event
		if err := conn.ReadJSON(&ev); err != nil {
			return events, websocket.IsCloseError(err, websocket.CloseNormalClosure)
		}
		events = append(events, ev)
	}
}

func TestStreamHandler_WebSocket_ReplaysAndCloses(t *testing.T) {
	registry, ts := newStreamServer(t)
	j := finishedJob(t, registry, 3)

	conn, _, err := dialWS(t, ts, "/api/v1/jobs/"+j.ID+"/ws")
	require.NoError(t, err)
	defer conn.Close()

	events, normal := readWS(t, conn)
	require.Len(t, events, 4)
	assert.Equal(t, job.EventEndOfStream, events[3].Type)
	assert.Equal(t, j.Log.Snapshot(0), events)
	assert.True(t, normal, "server should close with a normal closure")
}

func TestStreamHandler_WebSocket_ResumesFromCursor(t *testing.T) {
	registry, ts := newStreamServer(t)
	j := finishedJob(t, registry, 5)

	conn, _, err := dialWS(t, ts, "/api/v1/jobs/"+j.ID+"/ws?cursor=4")
	require.NoError(t, err)
	defer conn.Close()

	events, _ := readWS(t, conn)
	require.Len(t, events, 2)
	assert.Equal(t, 4, events[0].Index)
	assert.Equal(t, j.Log.Snapshot(4), events)
}

func TestStreamHandler_WebSocket_StreamsLiveAppends(t *testing.T) {
	registry, ts := newStreamServer(t)
	j := registry.Create(job.CreateParams{Mode: job.ModeUnified, SourcePath: "/a", OutputPath: "/o"})

	go func() {
		for i := 0; i < 3; i++ {
			time.Sleep(40 * time.Millisecond)
			j.Log.Append(job.Event{Type: job.EventLogLine, Message: fmt.Sprintf("line %d", i)})
		}
		j.MarkDone()
		j.Log.Finish()
	}()

	conn, _, err := dialWS(t, ts, "/api/v1/jobs/"+j.ID+"/ws")
	require.NoError(t, err)
	defer conn.Close()

	events, normal := readWS(t, conn)
	require.Len(t, events, 4)
	assert.Equal(t, job.EventEndOfStream, events[3].Type)
	assert.True(t, normal)
}

func TestStreamHandler_WebSocket_UnknownJobIsNotFound(t *testing.T) {
	_, ts := newStreamServer(t)

	conn, resp, err := dialWS(t, ts, "/api/v1/jobs/ghost/ws")
	require.Error(t, err)
	if conn != nil {
		conn.Close()
	}
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
