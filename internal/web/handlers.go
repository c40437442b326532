package web

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/competency-import/internal/core"
	"github.com/JonMunkholm/competency-import/internal/layout"
	"github.com/JonMunkholm/competency-import/internal/logging"
	"github.com/JonMunkholm/competency-import/internal/report"
)

// multipartMemory is how much of a form is held in memory before spilling to disk.
const multipartMemory = 8 << 20

// defaultSampleSize is the number of records a preview returns unless ?sample= is given.
const defaultSampleSize = 20

// healthTimeout bounds the database ping in /healthz.
const healthTimeout = 2 * time.Second

// readUpload reads the multipart "file" field and the layout and dry_run
// options into an Input.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (core.Input, error) {
	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			return core.Input{}, fmt.Errorf("%w: limit is %d bytes", core.ErrFileTooLarge, maxSize)
		}
		return core.Input{}, fmt.Errorf("%w: %v", core.ErrNoFile, err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return core.Input{}, core.ErrNoFile
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return core.Input{}, fmt.Errorf("read upload: %w", err)
	}

	kind, err := layout.ParseKind(r.FormValue("layout"))
	if err != nil {
		return core.Input{}, err
	}

	var dryRun bool
	if v := r.FormValue("dry_run"); v != "" {
		if dryRun, err = strconv.ParseBool(v); err != nil {
			return core.Input{}, fmt.Errorf("%w: dry_run must be true or false", core.ErrInvalidOption)
		}
	}

	return core.Input{
		FileName: header.Filename,
		Data:     data,
		Layout:   kind,
		DryRun:   dryRun,
	}, nil
}

// handleHealth reports liveness, database reachability and slot usage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if s.deps.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := s.deps.DB.Ping(ctx); err != nil {
			logging.FromContext(r.Context()).Warn("health check failed", "error", err)
			status, code = "degraded", http.StatusServiceUnavailable
		}
	}
	writeJSON(w, r, code, map[string]any{
		"status":  status,
		"imports": s.deps.Service.LimiterStatus(),
	})
}

// handleCompetencies lists the catalog.
func (s *Server) handleCompetencies(w http.ResponseWriter, r *http.Request) {
	defs, err := s.deps.Service.Catalog(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, defs)
}

// handlePreview decodes an upload and reports what an import would do.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	in, err := s.readUpload(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	preview, err := s.deps.Service.Preview(r.Context(), in)
	if err != nil {
		respondError(w, r, err)
		return
	}

	sample := defaultSampleSize
	if v, err := strconv.Atoi(r.URL.Query().Get("sample")); err == nil && v >= 0 {
		sample = v
	}
	if len(preview.Records) > sample {
		preview.Records = preview.Records[:sample]
	}

	writeJSON(w, r, http.StatusOK, preview)
}

// handleStartImport queues an import and returns its run id.
func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	in, err := s.readUpload(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	runID, err := s.deps.Service.StartImport(r.Context(), in)
	if err != nil {
		respondError(w, r, err)
		return
	}

	logging.WithFields(r.Context(), "run_id", runID).Info("import started",
		"file", in.FileName,
		"bytes", len(in.Data),
		"dry_run", in.DryRun,
	)
	w.Header().Set("Location", "/api/imports/"+runID)
	writeJSON(w, r, http.StatusAccepted, map[string]string{"runId": runID})
}

// handleResult returns the final result, or 202 with the latest progress
// while the run is still processing.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	res, done, err := s.deps.Service.Finished(runID)
	if err != nil {
		if p, ok := s.mirrored(r.Context(), runID); ok {
			writeJSON(w, r, http.StatusOK, map[string]any{"progress": p})
			return
		}
		respondError(w, r, err)
		return
	}
	if !done {
		p, err := s.deps.Service.Progress(runID)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusAccepted, map[string]any{"progress": p})
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// handleCancel asks a run to stop after the current record.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if err := s.deps.Service.Cancel(runID); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// handleErrorReport downloads the failed records of a finished run as XLSX.
func (s *Server) handleErrorReport(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	res, done, err := s.deps.Service.Finished(runID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if !done {
		respondError(w, r, core.ErrRunInProgress)
		return
	}

	// Buffer so a write failure can still be reported as JSON.
	var buf bytes.Buffer
	if err := report.WriteErrors(&buf, res); err != nil {
		respondError(w, r, err)
		return
	}

	filename := fmt.Sprintf("import_errors_%s.xlsx", time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	if _, err := buf.WriteTo(w); err != nil {
		logging.FromContext(r.Context()).Warn("error report write failed", "run_id", runID, "error", err)
	}
}

// handleReset deletes imported data. ?people=true also removes imported people.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if s.deps.Resetter == nil {
		http.NotFound(w, r)
		return
	}

	people, _ := strconv.ParseBool(r.URL.Query().Get("people"))
	counts, err := s.deps.Resetter.Reset(r.Context(), people)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, counts)
}

// mirrored looks a run up in the progress mirror, for runs owned by another instance.
func (s *Server) mirrored(ctx context.Context, runID string) (core.Progress, bool) {
	if s.deps.Mirror == nil {
		return core.Progress{}, false
	}
	p, ok, err := s.deps.Mirror.Get(ctx, runID)
	if err != nil {
		logging.FromContext(ctx).Warn("progress mirror lookup failed", "run_id", runID, "error", err)
		return core.Progress{}, false
	}
	return p, ok
}
