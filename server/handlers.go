package server

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	analyst "github.com/nevindra/analyst"
	"github.com/nevindra/analyst/report"
)

// startResponse is the body of a successful POST /api/sessions.
type startResponse struct {
	SessionID string `json:"session_id"`
	EventsURL string `json:"events_url"`
}

// fetchResponse is the body of GET /api/sessions/{id}/report.
type fetchResponse struct {
	Report     string                  `json:"report"`
	ReportHTML string                  `json:"report_html,omitempty"`
	Title      string                  `json:"title,omitempty"`
	Images     []string                `json:"images,omitempty"`
	Session    analyst.SessionSnapshot `json:"session"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		s.writeError(w, &analyst.ErrInvalidInput{Reason: "bad multipart body: " + err.Error()})
		return
	}

	request := strings.TrimSpace(r.FormValue("request"))
	strategy := r.FormValue("strategy")

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, &analyst.ErrInvalidInput{Reason: "missing dataset file"})
		return
	}
	defer file.Close()

	// Validate the extension before touching disk so unsupported uploads
	// never land.
	if _, err := analyst.ParseDatasetExt(header.Filename); err != nil {
		s.writeError(w, err)
		return
	}

	path, err := s.saveUpload(file, header.Filename)
	if err != nil {
		s.writeError(w, fmt.Errorf("save upload: %w", err))
		return
	}

	id, err := s.mgr.Start(analyst.StartRequest{
		DatasetPath: path,
		DatasetName: header.Filename,
		Request:     request,
		Strategy:    strategy,
	})
	if err != nil {
		os.Remove(path)
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, startResponse{
		SessionID: id,
		EventsURL: "/api/sessions/" + id + "/events",
	})
}

// saveUpload streams the uploaded file into the upload directory under a
// fresh name that keeps only the (already validated) extension.
func (s *Server) saveUpload(file io.Reader, filename string) (string, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", err
	}
	ext := strings.ToLower(filepath.Ext(filename))
	path := filepath.Join(s.uploadDir, "upload-"+analyst.NewID()+ext)
	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, file); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, dst.Close()
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.mgr.Stop(id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "stopping": true})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sub, err := s.mgr.Subscribe(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer sub.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, fmt.Errorf("streaming unsupported by connection"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Subscriber handshake precedes the replayed backlog.
	writeSSE(w, analyst.NewConnected(id))
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				if sub.Lagged() {
					writeSSE(w, analyst.NewSubscriberLagged(id))
					flusher.Flush()
				}
				return
			}
			writeSSE(w, ev)
			flusher.Flush()
		}
	}
}

// writeSSE frames one event as "event: <type>\ndata: <json>\n\n".
func writeSSE(w io.Writer, ev analyst.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := s.mgr.Fetch(id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := fetchResponse{
		Report:  res.Report,
		Title:   report.Title(res.Report),
		Session: res.Snapshot,
	}
	if res.Report != "" {
		if html, err := report.RenderHTML(res.Report); err == nil {
			resp.ReportHTML = html
		}
	}
	for _, img := range res.Images {
		resp.Images = append(resp.Images, base64.StdEncoding.EncodeToString(img))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	info := s.mgr.Health()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": info.ActiveSessions,
		"total_sessions":  info.TotalSessions,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, code := errorCode(err)
	if status >= 500 {
		s.logger.Error("request failed", "error", err)
	}
	s.writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  code,
	})
}
