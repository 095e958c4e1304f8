package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/clauselens/clauselens/internal/pipeline"
	"github.com/clauselens/clauselens/internal/report"
	"github.com/clauselens/clauselens/internal/types"
)

type artifactRequest struct {
	Kind   types.ArtifactKind `json:"kind"`
	Origin types.Origin       `json:"origin,omitempty"`
	Name   string             `json:"name,omitempty"`
	// Content is UTF-8 text; ContentBase64 carries binary artifacts.
	Content       string `json:"content,omitempty"`
	ContentBase64 string `json:"content_base64,omitempty"`
}

type submitRequest struct {
	Ref     pipeline.Ref     `json:"ref"`
	Options pipeline.Options `json:"options"`
}

type submitResponse struct {
	RunID    string `json:"run_id"`
	Identity string `json:"identity"`
}

type reportRequest struct {
	Sections []string `json:"sections,omitempty"`
	// Format is "json" (default) or "sarif".
	Format string `json:"format,omitempty"`
}

type eventsResponse struct {
	Events []pipeline.Event `json:"events"`
	Cursor int              `json:"cursor"`
	Done   bool             `json:"done"`
}

func (s *Server) putArtifact(w http.ResponseWriter, r *http.Request) {
	var req artifactRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	switch req.Kind {
	case types.KindSource, types.KindABI, types.KindBytecode, types.KindStandard:
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown artifact kind %q", req.Kind))
		return
	}
	if req.Origin == "" {
		req.Origin = types.OriginUploaded
	}
	if req.Origin != types.OriginUploaded && req.Origin != types.OriginFetched {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown origin %q", req.Origin))
		return
	}
	data := []byte(req.Content)
	if req.ContentBase64 != "" {
		var err error
		if data, err = base64.StdEncoding.DecodeString(req.ContentBase64); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("content_base64: %w", err))
			return
		}
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("artifact content is empty"))
		return
	}
	art, err := s.store.PutArtifact(r.Context(), data, req.Kind, req.Origin, req.Name)
	if err != nil {
		s.log.Error("put artifact", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, art)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	for _, id := range req.Ref.ArtifactIDs {
		if _, ok := s.store.Artifact(id); !ok {
			writeError(w, http.StatusBadRequest, fmt.Errorf("unknown artifact %s", id))
			return
		}
	}
	id, err := s.runs.Submit(r.Context(), req.Ref, req.Options)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{RunID: id, Identity: req.Ref.Identity()})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.runs.Runs())
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	st, err := s.runs.Status(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) results(w http.ResponseWriter, r *http.Request) {
	res, err := s.runs.Results(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.runs.Cancel(id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	st, err := s.runs.Status(id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, st)
}

// events serves the run's event log: a WebSocket feed when the request
// asks for an upgrade, otherwise the events after ?cursor= as JSON.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cursor, err := cursorParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if websocket.IsWebSocketUpgrade(r) {
		s.serveFeed(w, r, id, cursor)
		return
	}
	evs, done, err := s.runs.Events(id, cursor)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	next := cursor
	if len(evs) > 0 {
		next = evs[len(evs)-1].Seq
	}
	if evs == nil {
		evs = []pipeline.Event{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: evs, Cursor: next, Done: done})
}

func (s *Server) report(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if r.ContentLength != 0 {
		if err := s.decode(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	sections, err := report.ParseSections(req.Sections)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.runs.Results(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	switch req.Format {
	case "", "json":
		rep, err := report.Compose(res, sections, report.Options{Spans: s.store})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	case "sarif":
		w.Header().Set("Content-Type", "application/sarif+json")
		if err := report.WriteSARIF(w, res.RunID, res.Findings); err != nil {
			s.log.Error("write sarif", zap.Error(err))
		}
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown report format %q", req.Format))
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, s.maxUpload)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func cursorParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("cursor")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid cursor %q", raw)
	}
	return n, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
