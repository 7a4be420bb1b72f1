package rpc

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattiianni/Pdf50/internal/job"
	"github.com/mattiianni/Pdf50/internal/observability"
)

// fakeStarter records started jobs and optionally drives a scripted
// pipeline on a background goroutine.
type fakeStarter struct {
	mu      sync.Mutex
	started []*job.Job
	script  func(j *job.Job)
}

func (f *fakeStarter) Start(j *job.Job) {
	f.mu.Lock()
	f.started = append(f.started, j)
	f.mu.Unlock()
	if f.script != nil {
		go f.script(j)
	}
}

func (f *fakeStarter) startedJobs() []*job.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*job.Job(nil), f.started...)
}

type testService struct {
	registry *job.Registry
	starter  *fakeStarter
	server   *httptest.Server
}

func newTestService(t *testing.T) *testService {
	t.Helper()
	ts := &testService{
		registry: job.NewRegistry(0, 0),
		starter:  &fakeStarter{},
	}
	svc := NewJobService(observability.DefaultLogger(), ts.registry, ts.starter)
	path, handler := NewJobServiceHandler(svc)
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	ts.server = httptest.NewServer(mux)
	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testService) startClient() *connect.Client[StartJobRequest, StartJobResponse] {
	return connect.NewClient[StartJobRequest, StartJobResponse](
		ts.server.Client(), ts.server.URL+StartJobProcedure, connect.WithCodec(jsonCodec{}))
}

func (ts *testService) getClient() *connect.Client[GetJobRequest, GetJobResponse] {
	return connect.NewClient[GetJobRequest, GetJobResponse](
		ts.server.Client(), ts.server.URL+GetJobProcedure, connect.WithCodec(jsonCodec{}))
}

func (ts *testService) cancelClient() *connect.Client[CancelJobRequest, CancelJobResponse] {
	return connect.NewClient[CancelJobRequest, CancelJobResponse](
		ts.server.Client(), ts.server.URL+CancelJobProcedure, connect.WithCodec(jsonCodec{}))
}

// collectStream drains a StreamEvents call and returns everything received.
func collectStream(t *testing.T, ts *testService, req *StreamEventsRequest) ([]job.Event, error) {
	t.Helper()
	client := connect.NewClient[StreamEventsRequest, job.Event](
		ts.server.Client(), ts.server.URL+StreamEventsProcedure, connect.WithCodec(jsonCodec{}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := client.CallServerStream(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var evs []job.Event
	for stream.Receive() {
		evs = append(evs, *stream.Msg())
	}
	return evs, stream.Err()
}

func TestJobService_StartJob_CreatesAndStartsAJob(t *testing.T) {
	ts := newTestService(t)
	src := t.TempDir()

	resp, err := ts.startClient().CallUnary(context.Background(), connect.NewRequest(&StartJobRequest{
		SourcePath:  src,
		OutputPath:  filepath.Join(src, "out"),
		Mode:        "unified",
		DisplayName: "Pratica",
	}))
	require.NoError(t, err)
	require.NotEmpty(t, resp.Msg.JobID)

	j, ok := ts.registry.Get(resp.Msg.JobID)
	require.True(t, ok)
	assert.Equal(t, job.ModeUnified, j.Mode)
	assert.Equal(t, "Pratica", j.DisplayName)
	assert.Equal(t, job.StatusRunning, j.Status())

	started := ts.starter.startedJobs()
	require.Len(t, started, 1)
	assert.Equal(t, resp.Msg.JobID, started[0].ID)
}

func TestJobService_StartJob_DefaultsDisplayNameToSourceFolder(t *testing.T) {
	ts := newTestService(t)
	src := filepath.Join(t.TempDir(), "Fatture 2024")
	require.NoError(t, os.Mkdir(src, 0o755))

	resp, err := ts.startClient().CallUnary(context.Background(), connect.NewRequest(&StartJobRequest{
		SourcePath:   src,
		OutputPath:   filepath.Join(src, "out"),
		Mode:         "per_folder",
		SourceIsTemp: true,
	}))
	require.NoError(t, err)

	j, ok := ts.registry.Get(resp.Msg.JobID)
	require.True(t, ok)
	assert.Equal(t, "Fatture 2024", j.DisplayName)
	assert.True(t, j.TransientSource)
}

func TestJobService_StartJob_RejectsInvalidRequests(t *testing.T) {
	ts := newTestService(t)
	src := t.TempDir()
	file := filepath.Join(src, "doc.pdf")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	tests := []struct {
		name string
		req  *StartJobRequest
	}{
		{"missing source", &StartJobRequest{SourcePath: filepath.Join(src, "nope"), OutputPath: "/tmp/out", Mode: "unified"}},
		{"source is a file", &StartJobRequest{SourcePath: file, OutputPath: "/tmp/out", Mode: "unified"}},
		{"blank output", &StartJobRequest{SourcePath: src, OutputPath: "   ", Mode: "unified"}},
		{"unknown mode", &StartJobRequest{SourcePath: src, OutputPath: "/tmp/out", Mode: "zip_everything"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ts.startClient().CallUnary(context.Background(), connect.NewRequest(tt.req))
			require.Error(t, err)
			assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
		})
	}

	// Rejected requests never register a job.
	assert.Equal(t, 0, ts.registry.Len())
	assert.Empty(t, ts.starter.startedJobs())
}

func TestJobService_GetJob_ReturnsSnapshot(t *testing.T) {
	ts := newTestService(t)
	j := ts.registry.Create(job.CreateParams{
		Mode:        job.ModePerFolder,
		SourcePath:  "/data/in",
		OutputPath:  "/data/out",
		DisplayName: "Archivio",
	})
	j.Log.Append(job.Event{Type: job.EventStageStarted, Stage: "scan", Message: "Scanning files"})
	j.Log.Append(job.Event{Type: job.EventLogLine, Message: "scanning /data/in"})

	resp, err := ts.getClient().CallUnary(context.Background(), connect.NewRequest(&GetJobRequest{JobID: j.ID}))
	require.NoError(t, err)

	msg := resp.Msg
	assert.Equal(t, j.ID, msg.JobID)
	assert.Equal(t, "running", msg.Status)
	assert.False(t, msg.Cancelled)
	assert.Equal(t, "per_folder", msg.Mode)
	assert.Equal(t, "Archivio", msg.DisplayName)
	assert.Equal(t, "/data/in", msg.SourcePath)
	assert.Equal(t, "/data/out", msg.OutputPath)
	assert.Equal(t, 2, msg.Events)

	created, err := time.Parse(time.RFC3339, msg.CreatedAt)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), created, time.Minute)
}

func TestJobService_GetJob_UnknownJobIsNotFound(t *testing.T) {
	ts := newTestService(t)

	_, err := ts.getClient().CallUnary(context.Background(), connect.NewRequest(&GetJobRequest{JobID: "ghost"}))
	require.Error(t, err)
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))

	_, err = ts.getClient().CallUnary(context.Background(), connect.NewRequest(&GetJobRequest{}))
	require.Error(t, err)
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestJobService_CancelJob_IsIdempotent(t *testing.T) {
	ts := newTestService(t)
	j := ts.registry.Create(job.CreateParams{Mode: job.ModeUnified, SourcePath: "/in", OutputPath: "/out"})

	resp, err := ts.cancelClient().CallUnary(context.Background(), connect.NewRequest(&CancelJobRequest{JobID: j.ID}))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Msg.Status)
	assert.True(t, j.Cancelled())

	// Repeats and unknown ids succeed the same way.
	resp, err = ts.cancelClient().CallUnary(context.Background(), connect.NewRequest(&CancelJobRequest{JobID: j.ID}))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Msg.Status)

	resp, err = ts.cancelClient().CallUnary(context.Background(), connect.NewRequest(&CancelJobRequest{JobID: "ghost"}))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Msg.Status)
}

func TestJobService_StreamEvents_ReplaysFinishedLog(t *testing.T) {
	ts := newTestService(t)
	j := ts.registry.Create(job.CreateParams{Mode: job.ModeUnified, SourcePath: "/in", OutputPath: "/out"})
	j.Log.Append(job.Event{Type: job.EventStageStarted, Stage: "scan", Message: "Scanning files"})
	j.Log.Append(job.Event{Type: job.EventLogLine, Message: "found 2 supported files"})
	j.Log.Append(job.Event{Type: job.EventPipelineDone})
	j.MarkDone()
	j.Log.Finish()

	evs, err := collectStream(t, ts, &StreamEventsRequest{JobID: j.ID})
	require.NoError(t, err)

	require.Len(t, evs, 4)
	for i, ev := range evs {
		assert.Equal(t, i, ev.Index)
	}
	assert.Equal(t, job.EventEndOfStream, evs[3].Type)
	assert.Equal(t, j.Log.Snapshot(0), evs)
}

func TestJobService_StreamEvents_ResumesFromCursor(t *testing.T) {
	ts := newTestService(t)
	j := ts.registry.Create(job.CreateParams{Mode: job.ModeUnified, SourcePath: "/in", OutputPath: "/out"})
	for i := 0; i < 5; i++ {
		j.Log.Append(job.Event{Type: job.EventLogLine, Message: fmt.Sprintf("line %d", i)})
	}
	j.MarkDone()
	j.Log.Finish()

	evs, err := collectStream(t, ts, &StreamEventsRequest{JobID: j.ID, Cursor: 2})
	require.NoError(t, err)
	require.NotEmpty(t, evs)
	assert.Equal(t, 2, evs[0].Index)
	assert.Equal(t, j.Log.Snapshot(2), evs)

	// A cursor at the end of a finished log ends immediately.
	evs, err = collectStream(t, ts, &StreamEventsRequest{JobID: j.ID, Cursor: j.Log.Len()})
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestJobService_StreamEvents_DeliversLiveAppends(t *testing.T) {
	ts := newTestService(t)
	ts.starter.script = func(j *job.Job) {
		for i := 0; i < 5; i++ {
			j.Log.Append(job.Event{Type: job.EventLogLine, Message: fmt.Sprintf("line %d", i)})
			time.Sleep(5 * time.Millisecond)
		}
		j.Log.Append(job.Event{Type: job.EventPipelineDone})
		j.MarkDone()
		j.Log.Finish()
	}

	src := t.TempDir()
	resp, err := ts.startClient().CallUnary(context.Background(), connect.NewRequest(&StartJobRequest{
		SourcePath: src,
		OutputPath: filepath.Join(src, "out"),
		Mode:       "unified",
	}))
	require.NoError(t, err)

	evs, err := collectStream(t, ts, &StreamEventsRequest{JobID: resp.Msg.JobID})
	require.NoError(t, err)

	j, ok := ts.registry.Get(resp.Msg.JobID)
	require.True(t, ok)
	assert.Equal(t, j.Log.Snapshot(0), evs)
	require.NotEmpty(t, evs)
	assert.Equal(t, job.EventEndOfStream, evs[len(evs)-1].Type)
	assert.Equal(t, job.StatusDone, j.Status())
}

func TestJobService_StreamEvents_UnknownJobIsNotFound(t *testing.T) {
	ts := newTestService(t)

	_, err := collectStream(t, ts, &StreamEventsRequest{JobID: "ghost"})
	require.Error(t, err)
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))
}

func TestJobService_StreamEvents_NegativeCursorIsInvalid(t *testing.T) {
	ts := newTestService(t)
	j := ts.registry.Create(job.CreateParams{Mode: job.ModeUnified, SourcePath: "/in", OutputPath: "/out"})

	_, err := collectStream(t, ts, &StreamEventsRequest{JobID: j.ID, Cursor: -1})
	require.Error(t, err)
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}
