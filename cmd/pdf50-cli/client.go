package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mattiianni/Pdf50/internal/config"
	"github.com/mattiianni/Pdf50/internal/job"
)

// apiClient talks to a pdf50 server. Plain requests get a bounded client;
// event streams get one without a timeout, they stay open for the whole
// job.
type apiClient struct {
	baseURL string
	http    *http.Client
	stream  *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		stream:  &http.Client{},
	}
}

// resolveServer picks the server base URL from the --server flag or the
// configured host and port. A wildcard bind address is dialed as
// localhost.
func resolveServer(cfg *config.Config) string {
	if serverURL != "" {
		return serverURL
	}
	host := cfg.Server.Host
	if host == "0.0.0.0" || host == "::" || host == "" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, cfg.Server.Port)
}

type startJobRequest struct {
	SourcePath  string `json:"source_path"`
	OutputPath  string `json:"output_path"`
	Mode        string `json:"mode,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

type jobCreated struct {
	JobID string `json:"job_id"`
	Mode  string `json:"mode"`
}

type apiErrorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

func (c *apiClient) startJob(ctx context.Context, req startJobRequest) (*jobCreated, error) {
	var out jobCreated
	if err := c.postJSON(ctx, "/api/v1/jobs", req, &out, http.StatusAccepted); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) getJob(ctx context.Context, id string) (*job.Snapshot, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/jobs/"+id, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("contact server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.asError(resp)
	}
	var snap job.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &snap, nil
}

func (c *apiClient) cancelJob(ctx context.Context, id string) error {
	return c.postJSON(ctx, "/api/v1/jobs/"+id+"/cancel", struct{}{}, nil, http.StatusOK)
}

// streamEvents attaches to the job's SSE stream from cursor and hands each
// event to fn. It returns nil when the server closes the stream, which
// happens after the end-of-stream event, and fn's error when fn fails.
func (c *apiClient) streamEvents(ctx context.Context, id string, cursor int, fn func(job.Event) error) error {
	url := fmt.Sprintf("%s/api/v1/jobs/%s/events?cursor=%d", c.baseURL, id, cursor)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("attach stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.asError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue // comments and blank keepalive lines
		}
		var ev job.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

func (c *apiClient) postJSON(ctx context.Context, path string, body, out any, wantStatus int) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("contact server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return c.asError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *apiClient) asError(resp *http.Response) error {
	var body apiErrorBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		if body.Detail != "" {
			return fmt.Errorf("server: %s (%s)", body.Error, body.Detail)
		}
		return fmt.Errorf("server: %s", body.Error)
	}
	return fmt.Errorf("server returned %s", resp.Status)
}
