package http

import (
	"errors"
	"io/fs"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"bookinglens/internal/export"
	applog "bookinglens/internal/log"
	"bookinglens/internal/services"
)

// exportFile is one rendered file of an export job.
type exportFile struct {
	Name     string    `json:"name"`
	URL      string    `json:"url"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// Kilobytes rounds the size up for display.
func (f exportFile) Kilobytes() int { return int((f.Size + 1023) / 1024) }

type exportJobView struct {
	JobID  string       `json:"jobId"`
	Status string       `json:"status"`
	Files  []exportFile `json:"files"`
}

// jobDir resolves the directory of a job below the export dir. Job IDs are
// UUIDs, anything else is rejected.
func (s *Server) jobDir(job string) (id, dir string, err error) {
	if s.exportDir == "" {
		return "", "", services.ErrExportsDisabled
	}
	parsed, err := uuid.Parse(job)
	if err != nil {
		return "", "", badRequest("invalid export job id")
	}
	id = parsed.String()
	return id, filepath.Join(s.exportDir, id), nil
}

// listJobFiles returns the finished files of a job and how many are still
// being written. Temporary files of a running render start with a dot.
func listJobFiles(dir, job string) ([]exportFile, int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, 0, err
	}
	files := make([]exportFile, 0, len(entries))
	pending := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if strings.HasPrefix(e.Name(), ".") {
			pending++
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, exportFile{
			Name:     e.Name(),
			URL:      "/exports/" + job + "/" + url.PathEscape(e.Name()),
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, pending, nil
}

// handleExportJob reports the state of an export job and links its files.
// A job without a directory is still waiting for the worker.
func (s *Server) handleExportJob(w http.ResponseWriter, r *http.Request) {
	id, dir, err := s.jobDir(chi.URLParam(r, "job"))
	if err != nil {
		s.respondError(w, r, applog.OpDownload, err)
		return
	}

	view := exportJobView{JobID: id, Status: "queued", Files: []exportFile{}}
	files, pending, err := listJobFiles(dir, view.JobID)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		s.respondError(w, r, applog.OpDownload, err)
		return
	case pending == 0 && len(files) > 0:
		view.Status = "ready"
		view.Files = files
	default:
		view.Status = "running"
		view.Files = files
	}

	if wantsJSON(r) {
		NewResponse().JSON(view).Write(w)
		return
	}
	if s.templates == nil {
		http.Error(w, "templates not loaded", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, "export_job.html", view); err != nil {
		s.logger.ErrorContext(r.Context(), "Export job template execution failed", "error", err, "template", "export_job.html")
	}
}

// handleExportFile serves one finished file of an export job as a download.
func (s *Server) handleExportFile(w http.ResponseWriter, r *http.Request) {
	_, dir, err := s.jobDir(chi.URLParam(r, "job"))
	if err != nil {
		s.respondError(w, r, applog.OpDownload, err)
		return
	}
	name := chi.URLParam(r, "file")
	if name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		s.respondError(w, r, applog.OpDownload, badRequest("invalid file name"))
		return
	}
	f, err := export.ParseFormat(strings.TrimPrefix(filepath.Ext(name), "."))
	if err != nil {
		s.respondError(w, r, applog.OpDownload, badRequest("%v", err))
		return
	}

	file, err := os.Open(filepath.Join(dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		ErrorResponse(r, http.StatusNotFound, "Exportdatei nicht gefunden").Write(w)
		return
	}
	if err != nil {
		s.respondError(w, r, applog.OpDownload, err)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil || !info.Mode().IsRegular() {
		ErrorResponse(r, http.StatusNotFound, "Exportdatei nicht gefunden").Write(w)
		return
	}

	w.Header().Set("Content-Type", f.ContentType())
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	http.ServeContent(w, r, name, info.ModTime(), file)
}
