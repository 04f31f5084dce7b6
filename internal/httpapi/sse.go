package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/MimeLyc/webp-autogen/internal/jobs"
	"github.com/MimeLyc/webp-autogen/internal/library"
	"github.com/MimeLyc/webp-autogen/pkg/log"
)

const (
	streamInterval  = time.Second
	streamHeartbeat = 15
)

// uploadProgress is one "progress" event: the upload root status plus a
// summary of the upload queue and the jobs still in flight.
type uploadProgress struct {
	Stats          library.Stats         `json:"stats"`
	Pending        int                   `json:"pending"`
	Running        int                   `json:"running"`
	Succeeded      int                   `json:"succeeded"`
	Skipped        int                   `json:"skipped"`
	Failed         int                   `json:"failed"`
	ConvertedFiles int                   `json:"converted_files"`
	FailedFiles    int                   `json:"failed_files"`
	Active         []*jobs.ConversionJob `json:"active"`
}

func summarize(stats library.Stats, list []*jobs.ConversionJob) uploadProgress {
	ret := uploadProgress{Stats: stats, Active: make([]*jobs.ConversionJob, 0)}
	for _, job := range list {
		switch job.Status {
		case jobs.StatusPending:
			ret.Pending++
		case jobs.StatusRunning:
			ret.Running++
		case jobs.StatusSuccess:
			ret.Succeeded++
		case jobs.StatusSkipped:
			ret.Skipped++
		case jobs.StatusFailed:
			ret.Failed++
		}
		if !job.Status.Terminal() {
			ret.Active = append(ret.Active, job)
		}
		if job.Result != nil {
			ret.ConvertedFiles += job.Result.Converted
			ret.FailedFiles += job.Result.Failed
		}
	}
	return ret
}

// handleJobStream sends a progress event whenever the upload status or the
// queue changes, and a comment line every streamHeartbeat quiet ticks.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	queue := s.svc.Queue()
	if queue == nil {
		writeError(w, http.StatusNotImplemented, "upload queue is not configured")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var last []byte
	quiet := 0
	send := func(ctx context.Context) bool {
		stats, err := s.svc.Stats(ctx)
		if err != nil {
			log.Warn("Job stream stats: %v", err)
		}
		payload, err := json.Marshal(summarize(stats, queue.List()))
		if err != nil {
			return false
		}

		if bytes.Equal(payload, last) {
			quiet++
			if quiet < streamHeartbeat {
				return true
			}
			_, err = fmt.Fprint(w, ": ping\n\n")
		} else {
			_, err = fmt.Fprintf(w, "event: progress\ndata: %s\n\n", payload)
			last = payload
		}
		quiet = 0
		if err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send(r.Context()) {
		return
	}

	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if !send(r.Context()) {
				return
			}
		}
	}
}
