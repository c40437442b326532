package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/competency-import/internal/core"
	"github.com/JonMunkholm/competency-import/internal/logging"
)

// keepAliveInterval is how often an idle progress stream sends a comment line.
var keepAliveInterval = 15 * time.Second

// handleProgress streams run progress as Server-Sent Events.
//
// Each record produces a "progress" event whose id is the number of records
// processed, so a reconnecting client sending Last-Event-ID (or ?lastEventId=)
// skips what it already saw. A final "complete" event carries the result.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	lastID := -1
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		lastID, _ = strconv.Atoi(v)
	} else if v := r.URL.Query().Get("lastEventId"); v != "" {
		lastID, _ = strconv.Atoi(v)
	}

	// The controller sees through middleware wrappers via Unwrap.
	rc := http.NewResponseController(w)

	progressCh, err := s.deps.Service.Subscribe(runID)
	if err != nil {
		p, found := s.mirrored(r.Context(), runID)
		if !found {
			respondError(w, r, err)
			return
		}
		// Another instance owns the run; send its latest snapshot once.
		startStream(w)
		writeEvent(w, "progress", strconv.Itoa(p.Current), p)
		_ = rc.Flush()
		return
	}

	startStream(w)
	_ = rc.Flush()

	logger := logging.WithFields(r.Context(), "run_id", runID)
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case p, ok := <-progressCh:
			if !ok {
				res, _, err := s.deps.Service.Finished(runID)
				if err != nil {
					logger.Debug("result gone before stream end", "error", err)
					fmt.Fprint(w, "event: complete\ndata: {}\n\n")
				} else {
					writeEvent(w, "complete", "", res)
				}
				_ = rc.Flush()
				return
			}

			if p.Phase == core.PhaseImporting && p.Current <= lastID {
				continue
			}
			writeEvent(w, "progress", strconv.Itoa(p.Current), p)
			_ = rc.Flush()

		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			_ = rc.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

func startStream(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
}

func writeEvent(w http.ResponseWriter, event, id string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte("{}")
	}
	if id != "" {
		fmt.Fprintf(w, "id: %s\n", id)
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
