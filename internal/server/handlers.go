package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/andresmejia3/rollcall/internal/attendance"
	"github.com/andresmejia3/rollcall/internal/frame"
	"github.com/andresmejia3/rollcall/internal/liveness"
	"github.com/andresmejia3/rollcall/internal/logger"
	"github.com/andresmejia3/rollcall/internal/recognizer"
	"github.com/andresmejia3/rollcall/internal/types"
)

const sessionHeader = "X-Session-ID"

var allowedExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

type faceResponse struct {
	Name     string            `json:"name"`
	Box      types.BoundingBox `json:"box"`
	Distance *float64          `json:"distance,omitempty"`
	Matched  bool              `json:"matched"`
}

type uploadResponse struct {
	SessionID string            `json:"session_id"`
	Faces     []faceResponse    `json:"faces"`
	Liveness  *liveness.Verdict `json:"liveness,omitempty"`
	Recorded  []string          `json:"recorded"`
}

type attendanceResponse struct {
	Date    string              `json:"date"`
	Records []attendance.Record `json:"records"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	// Allow a little room for the multipart envelope around the image itself.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+64<<10)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			respondError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, hdr, err := r.FormFile("image")
	if err != nil {
		respondError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	if hdr.Size > s.cfg.MaxUploadBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	if !isAllowedImage(hdr.Filename, hdr.Header.Get("Content-Type")) {
		respondError(w, http.StatusBadRequest, "Images only (jpeg, jpg, png)")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	id := r.Header.Get(sessionHeader)
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set(sessionHeader, id)

	var res *recognizer.Result
	if r.URL.Query().Get("still") == "true" {
		res, err = s.pipeline.ProcessImage(r.Context(), data)
	} else {
		sess := s.sessions.get(id)
		sess.mu.Lock()
		res, err = s.pipeline.ProcessFrame(r.Context(), data, sess.state)
		sess.mu.Unlock()
	}
	if err != nil {
		if errors.Is(err, frame.ErrDecode) {
			respondError(w, http.StatusBadRequest, "could not decode image")
			return
		}
		logger.Error("recognition failed", logger.LoggerOptions{Key: "error", Data: err.Error()})
		respondError(w, http.StatusInternalServerError, "Server error during recognition")
		return
	}

	respondJSON(w, http.StatusOK, toUploadResponse(id, res))
}

func toUploadResponse(id string, res *recognizer.Result) uploadResponse {
	out := uploadResponse{
		SessionID: id,
		Faces:     make([]faceResponse, 0, len(res.Faces)),
		Liveness:  res.Liveness,
		Recorded:  res.Recorded,
	}
	for _, f := range res.Faces {
		fr := faceResponse{Name: f.Name, Box: f.Face.Box, Matched: f.Matched}
		if f.HasDistance {
			d := f.Distance
			fr.Distance = &d
		}
		out.Faces = append(out.Faces, fr)
	}
	if out.Recorded == nil {
		out.Recorded = []string{}
	}
	return out
}

// isAllowedImage checks both the file extension and, when present, the declared
// content type, the way the original upload filter did.
func isAllowedImage(filename, contentType string) bool {
	if !allowedExtensions[strings.ToLower(filepath.Ext(filename))] {
		return false
	}
	if contentType == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "image/jpeg" || mt == "image/jpg" || mt == "image/png"
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.drop(chi.URLParam(r, "id")) {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAttendance(w http.ResponseWriter, r *http.Request) {
	if s.attendance == nil {
		respondError(w, http.StatusNotImplemented, "attendance listing is not available")
		return
	}

	day := time.Now()
	if q := r.URL.Query().Get("date"); q != "" {
		parsed, err := time.ParseInLocation(attendance.DateLayout, q, time.Local)
		if err != nil {
			respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		day = parsed
	}

	records, err := s.attendance.List(r.Context(), day)
	if err != nil {
		logger.Error("listing attendance failed", logger.LoggerOptions{Key: "error", Data: err.Error()})
		respondError(w, http.StatusInternalServerError, "failed to list attendance")
		return
	}
	if records == nil {
		records = []attendance.Record{}
	}
	respondJSON(w, http.StatusOK, attendanceResponse{Date: day.Format(attendance.DateLayout), Records: records})
}
