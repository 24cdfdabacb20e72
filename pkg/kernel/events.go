package kernel

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/GedeBrawidya/convert-project/internal/core/domain"
	"github.com/GedeBrawidya/convert-project/internal/core/services"
)

// handleJobEvents streams status events of one job and ends once the job is terminal.
// GET /v1/jobs/{id}/events
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobIDParam(w, r)
	if !ok {
		return
	}

	// Subscribe before reading the record so the final event cannot slip between the two.
	ch, unsub := s.eventBus.Subscribe(string(id))
	defer unsub()

	job, err := s.repo.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			writeFailure(w, http.StatusNotFound, id, kindNotFound, "job not found")
			return
		}
		s.logger.Error("failed to get job", "job_id", id, "error", err)
		writeFailure(w, http.StatusInternalServerError, id, domain.KindInternal, "internal error")
		return
	}

	flusher, ok := startSSE(w)
	if !ok {
		return
	}

	if job.Terminal() {
		data, _ := json.Marshal(services.StatusPayload{
			Status:   job.Status,
			Progress: 100,
			Kind:     job.FailureKind,
			Message:  job.Error,
		})
		writeEvent(w, services.Event{JobID: string(id), Type: services.EventTypeStatus, Data: string(data)})
		flusher.Flush()
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, evt)
			flusher.Flush()
			if isTerminalEvent(evt) {
				return
			}
		}
	}
}

// handleBroadcastSSE streams events of every job until the client disconnects.
// GET /v1/events
func (s *Server) handleBroadcastSSE(w http.ResponseWriter, r *http.Request) {
	ch, unsub := s.eventBus.SubscribeGlobal()
	defer unsub()

	flusher, ok := startSSE(w)
	if !ok {
		return
	}

	keepAlive := time.NewTicker(30 * time.Second)
	defer keepAlive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case evt, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, evt)
			flusher.Flush()
		}
	}
}

func startSSE(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()
	return flusher, true
}

func writeEvent(w http.ResponseWriter, evt services.Event) {
	fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", evt.JobID, evt.Type, evt.Data)
}

func isTerminalEvent(evt services.Event) bool {
	if evt.Type != services.EventTypeStatus {
		return false
	}
	var p services.StatusPayload
	if err := json.Unmarshal([]byte(evt.Data), &p); err != nil {
		return false
	}
	return p.Status == domain.JobStatusCompleted || p.Status == domain.JobStatusFailed
}
