package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/udown/udownd/internal/event"
	"github.com/udown/udownd/internal/job"
	"github.com/udown/udownd/internal/metrics"
)

// streamJob handles GET /stream/{job_id}: it drains the job's channel to the
// observer as Server-Sent Events, emitting keep-alive comments while idle,
// and removes the job from the registry once the stream ends for any reason.
func (s *Server) streamJob(w http.ResponseWriter, r *http.Request) {
	// Check the writer before touching the job: a failed attach attempt must
	// not consume the single observer slot.
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	jobID := chi.URLParam(r, "job_id")
	rec, ok := s.registry.Get(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if !rec.Channel.Attach() {
		writeError(w, http.StatusConflict, "job already has an observer")
		return
	}

	logger := s.logger.With(zap.String("job_id", jobID))
	metrics.IncActiveStreams()
	defer func() {
		metrics.DecActiveStreams()
		s.registry.Remove(jobID)
		logger.Info("stream closed")
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := s.cfg.KeepAlive()
	for {
		env, status := rec.Channel.Pop(keepAlive)
		switch status {
		case job.PopClosed:
			return
		case job.PopTimeout:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				logger.Debug("observer disconnected", zap.Error(err))
				return
			}
			flusher.Flush()
		case job.PopOK:
			if _, err := fmt.Fprint(w, sseFrame(env)); err != nil {
				logger.Debug("observer disconnected", zap.Error(err))
				return
			}
			flusher.Flush()
			if env.Kind == event.KindFinished {
				return
			}
		}
	}
}

// sseFrame encodes an envelope as one Server-Sent Events frame. Multi-line
// payloads become one data: line each, per the SSE framing rules.
func sseFrame(env event.Envelope) string {
	var b strings.Builder
	b.WriteString("event: ")
	b.WriteString(string(env.Kind))
	b.WriteByte('\n')
	lines := strings.Split(env.Payload, "\n")
	for _, line := range lines {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.String()
}
