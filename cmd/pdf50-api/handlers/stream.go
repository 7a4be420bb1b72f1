package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/mattiianni/Pdf50/internal/job"
	"github.com/mattiianni/Pdf50/internal/observability"
)

// StreamHandler serves the push transports for job events. SSE and
// WebSocket replay the log from the requested cursor through the same wait
// loop, so a client sees identical frames on either transport.
type StreamHandler struct {
	logger    *observability.Logger
	registry  *job.Registry
	upgrader  websocket.Upgrader
	heartbeat time.Duration
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(logger *observability.Logger, registry *job.Registry) *StreamHandler {
	return &StreamHandler{
		logger:   logger,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		heartbeat: 15 * time.Second,
	}
}

func parseCursor(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("cursor")
	if raw == "" {
		return 0, nil
	}
	cursor, err := strconv.Atoi(raw)
	if err != nil || cursor < 0 {
		return 0, errors.New("cursor must be a non-negative integer")
	}
	return cursor, nil
}

// Events streams the job's event log as server-sent events. Every event
// with index >= cursor is sent in order as one "data:" frame, then the
// response ends after end-of-stream. Comment frames keep the connection
// alive through idle stretches.
func (h *StreamHandler) Events(w http.ResponseWriter, r *http.Request) {
	j, ok := h.registry.Get(chi.URLParam(r, "jobID"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found", "")
		return
	}
	cursor, err := parseCursor(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cursor", err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported", "")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	h.logger.Debug().Str("job_id", j.ID).Int("cursor", cursor).Msg("SSE stream attached")

	ctx := r.Context()
	for {
		waitCtx, cancel := context.WithTimeout(ctx, h.heartbeat)
		evs, finished, err := j.Log.Wait(waitCtx, cursor)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
			continue
		}

		for i := range evs {
			data, err := json.Marshal(&evs[i])
			if err != nil {
				h.logger.Error().Err(err).Str("job_id", j.ID).Msg("Failed to encode event")
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
		}
		flusher.Flush()
		cursor += len(evs)
		if finished {
			return
		}
	}
}

// WebSocket streams the job's event log over a websocket, one JSON text
// message per event, and closes with a normal closure after end-of-stream.
func (h *StreamHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	j, ok := h.registry.Get(chi.URLParam(r, "jobID"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found", "")
		return
	}
	cursor, err := parseCursor(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cursor", err.Error())
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("job_id", j.ID).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	h.logger.Debug().Str("job_id", j.ID).Int("cursor", cursor).Msg("WebSocket stream attached")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The client sends no application data; the read loop only notices
	// when the peer goes away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		waitCtx, waitCancel := context.WithTimeout(ctx, h.heartbeat)
		evs, finished, err := j.Log.Wait(waitCtx, cursor)
		waitCancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		}

		for i := range evs {
			if err := conn.WriteJSON(&evs[i]); err != nil {
				return
			}
		}
		cursor += len(evs)
		if finished {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "end of stream")
			_ = conn.WriteMessage(websocket.CloseMessage, msg)
			return
		}
	}
}
