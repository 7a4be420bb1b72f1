// Package rpc provides the Connect JobService, the RPC face of the job
// engine. Procedures use hand-written request/response types over a JSON
// codec, so no protobuf toolchain is involved.
package rpc

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"connectrpc.com/connect"

	"github.com/mattiianni/Pdf50/internal/job"
	"github.com/mattiianni/Pdf50/internal/observability"
)

// Procedure routes, in the shape Connect expects.
const (
	// JobServicePath is the base route all procedures share.
	JobServicePath = "/pdf50.v1.JobService/"

	StartJobProcedure     = JobServicePath + "StartJob"
	GetJobProcedure       = JobServicePath + "GetJob"
	CancelJobProcedure    = JobServicePath + "CancelJob"
	StreamEventsProcedure = JobServicePath + "StreamEvents"
)

// Starter launches the pipeline for a freshly created job.
type Starter interface {
	Start(j *job.Job)
}

// JobService implements the Connect job service.
type JobService struct {
	logger   *observability.Logger
	registry *job.Registry
	starter  Starter
}

// NewJobService creates a new job service.
func NewJobService(logger *observability.Logger, registry *job.Registry, starter Starter) *JobService {
	return &JobService{
		logger:   logger,
		registry: registry,
		starter:  starter,
	}
}

// StartJobRequest carries the inputs for a new job. SourceIsTemp marks the
// source directory as an upload staging area to be deleted once the job
// finishes.
type StartJobRequest struct {
	SourcePath   string `json:"source_path"`
	OutputPath   string `json:"output_path"`
	Mode         string `json:"mode"`
	DisplayName  string `json:"display_name,omitempty"`
	SourceIsTemp bool   `json:"source_is_temp,omitempty"`
}

// StartJobResponse identifies the accepted job.
type StartJobResponse struct {
	JobID string `json:"job_id"`
}

// GetJobRequest selects a job by id.
type GetJobRequest struct {
	JobID string `json:"job_id"`
}

// GetJobResponse is a point-in-time view of a job. Events are replayed
// through StreamEvents, not here.
type GetJobResponse struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	Cancelled   bool   `json:"cancelled"`
	Mode        string `json:"mode"`
	DisplayName string `json:"display_name,omitempty"`
	SourcePath  string `json:"source_path"`
	OutputPath  string `json:"output_path"`
	CreatedAt   string `json:"created_at"`
	Events      int    `json:"events"`
}

// CancelJobRequest selects a job by id.
type CancelJobRequest struct {
	JobID string `json:"job_id"`
}

// CancelJobResponse acknowledges a cancellation request.
type CancelJobResponse struct {
	Status string `json:"status"`
}

// StreamEventsRequest attaches to a job's event stream from a cursor.
type StreamEventsRequest struct {
	JobID  string `json:"job_id"`
	Cursor int    `json:"cursor,omitempty"`
}

// StartJob validates the request, registers the job and launches its
// pipeline. The response returns before any work has happened; progress is
// observed through StreamEvents.
func (s *JobService) StartJob(ctx context.Context, req *connect.Request[StartJobRequest]) (*connect.Response[StartJobResponse], error) {
	msg := req.Msg

	info, err := os.Stat(msg.SourcePath)
	if err != nil || !info.IsDir() {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("source_path is not a directory"))
	}
	if strings.TrimSpace(msg.OutputPath) == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("output_path is required"))
	}
	mode, err := job.ParseMode(msg.Mode)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	name := strings.TrimSpace(msg.DisplayName)
	if name == "" {
		name = filepath.Base(filepath.Clean(msg.SourcePath))
	}

	j := s.registry.Create(job.CreateParams{
		Mode:            mode,
		SourcePath:      msg.SourcePath,
		OutputPath:      msg.OutputPath,
		DisplayName:     name,
		TransientSource: msg.SourceIsTemp,
	})
	s.starter.Start(j)

	s.logger.Info().Str("job_id", j.ID).Str("mode", string(mode)).Msg("Job accepted")
	return connect.NewResponse(&StartJobResponse{JobID: j.ID}), nil
}

// GetJob returns the current snapshot of a job.
func (s *JobService) GetJob(ctx context.Context, req *connect.Request[GetJobRequest]) (*connect.Response[GetJobResponse], error) {
	if req.Msg.JobID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("job_id is required"))
	}
	j, ok := s.registry.Get(req.Msg.JobID)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, errors.New("job not found"))
	}

	snap := j.Snapshot()
	return connect.NewResponse(&GetJobResponse{
		JobID:       snap.ID,
		Status:      string(snap.Status),
		Cancelled:   snap.Cancelled,
		Mode:        string(snap.Mode),
		DisplayName: snap.DisplayName,
		SourcePath:  snap.SourcePath,
		OutputPath:  snap.OutputPath,
		CreatedAt:   snap.CreatedAt.Format(time.RFC3339),
		Events:      snap.Events,
	}), nil
}

// CancelJob requests cooperative cancellation. Cancelling is idempotent and
// never fails, unknown ids included; the job still runs to its next
// checkpoint before winding down.
func (s *JobService) CancelJob(ctx context.Context, req *connect.Request[CancelJobRequest]) (*connect.Response[CancelJobResponse], error) {
	if req.Msg.JobID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("job_id is required"))
	}
	s.registry.Cancel(req.Msg.JobID)
	s.logger.Info().Str("job_id", req.Msg.JobID).Msg("Cancellation requested")
	return connect.NewResponse(&CancelJobResponse{Status: "ok"}), nil
}

// StreamEvents sends every event with index >= cursor, in order, then every
// event appended while the job runs, and ends after end-of-stream. Resuming
// with a later cursor replays the identical suffix.
func (s *JobService) StreamEvents(ctx context.Context, req *connect.Request[StreamEventsRequest], stream *connect.ServerStream[job.Event]) error {
	msg := req.Msg
	if msg.JobID == "" {
		return connect.NewError(connect.CodeInvalidArgument, errors.New("job_id is required"))
	}
	if msg.Cursor < 0 {
		return connect.NewError(connect.CodeInvalidArgument, errors.New("cursor must be non-negative"))
	}
	j, ok := s.registry.Get(msg.JobID)
	if !ok {
		return connect.NewError(connect.CodeNotFound, errors.New("job not found"))
	}

	s.logger.Debug().Str("job_id", msg.JobID).Int("cursor", msg.Cursor).Msg("Event stream attached")

	cursor := msg.Cursor
	for {
		evs, finished, err := j.Log.Wait(ctx, cursor)
		if err != nil {
			return err
		}
		for i := range evs {
			if err := stream.Send(&evs[i]); err != nil {
				return err
			}
		}
		cursor += len(evs)
		if finished {
			return nil
		}
	}
}

// NewJobServiceHandler exposes the service over the Connect protocol. The
// returned path is the base route to mount the handler on.
func NewJobServiceHandler(svc *JobService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	startJob := connect.NewUnaryHandler(StartJobProcedure, svc.StartJob, opts...)
	getJob := connect.NewUnaryHandler(GetJobProcedure, svc.GetJob, opts...)
	cancelJob := connect.NewUnaryHandler(CancelJobProcedure, svc.CancelJob, opts...)
	streamEvents := connect.NewServerStreamHandler(StreamEventsProcedure, svc.StreamEvents, opts...)

	return JobServicePath, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case StartJobProcedure:
			startJob.ServeHTTP(w, r)
		case GetJobProcedure:
			getJob.ServeHTTP(w, r)
		case CancelJobProcedure:
			cancelJob.ServeHTTP(w, r)
		case StreamEventsProcedure:
			streamEvents.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}
