package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ruslano69/whbridge/pkg/connection"
	"github.com/ruslano69/whbridge/pkg/engine"
	"github.com/ruslano69/whbridge/pkg/errs"
	"github.com/ruslano69/whbridge/pkg/plan"
)

type sessionResponse struct {
	ID          string             `json:"id"`
	State       connection.State   `json:"state"`
	Profile     connection.Profile `json:"profile"`
	ConnectedAt time.Time          `json:"connected_at"`
}

func sessionView(s *connection.Session) sessionResponse {
	return sessionResponse{ID: s.ID, State: s.State(), Profile: s.Profile, ConnectedAt: s.ConnectedAt}
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var p connection.Profile
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, err)
		return
	}
	sess, err := s.engine.Connect(r.Context(), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(sess))
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	sess := s.engine.CurrentSession()
	if sess == nil {
		writeError(w, errs.E(errs.KindNoSession, "session", "", errors.New("not connected")))
		return
	}
	writeJSON(w, http.StatusOK, sessionView(sess))
}

func (s *Server) handleDisconnect(w http.ResponseWriter, _ *http.Request) {
	s.engine.Disconnect()
	w.WriteHeader(http.StatusNoContent)
}

// sessionParam is the optional ?session_id=; empty means the live session.
func sessionParam(r *http.Request) string {
	return r.URL.Query().Get("session_id")
}

func refreshParam(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	return v
}

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := s.engine.ListTables(r.Context(), sessionParam(r), refreshParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": tables})
}

func (s *Server) handleDescribeTable(w http.ResponseWriter, r *http.Request) {
	ts, err := s.engine.DescribeTable(r.Context(), sessionParam(r), chi.URLParam(r, "name"), refreshParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

type joinRequest struct {
	Table string             `json:"table"`
	Kind  string             `json:"kind"`
	Keys  []plan.JoinKeyPair `json:"keys"`
}

type planRequest struct {
	SessionID string       `json:"session_id,omitempty"`
	Table     string       `json:"table"`
	Columns   []string     `json:"columns"`
	Join      *joinRequest `json:"join,omitempty"`
	Limit     int          `json:"limit,omitempty"`
}

func (s *Server) exportPlan(r *http.Request) (plan.TransferPlan, planRequest, error) {
	var req planRequest
	if err := decodeJSON(r, &req); err != nil {
		return plan.TransferPlan{}, req, err
	}
	var join *plan.JoinSpec
	if req.Join != nil {
		kind := plan.JoinInner
		if req.Join.Kind != "" {
			kind, _ = plan.ParseJoinKind(req.Join.Kind)
		}
		join = &plan.JoinSpec{Table: req.Join.Table, Kind: kind, Keys: req.Join.Keys}
	}
	p, err := s.engine.BuildExportPlan(r.Context(), req.SessionID, req.Table, req.Columns, join)
	return p, req, err
}

func (s *Server) handlePreviewExport(w http.ResponseWriter, r *http.Request) {
	p, req, err := s.exportPlan(r)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.engine.PreviewExport(r.Context(), p, req.Limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plan": p, "preview": res})
}

type importPreviewResponse struct {
	UploadID string `json:"upload_id"`
	engine.ImportPreview
}

func (s *Server) handlePreviewImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, errs.E(errs.KindValidation, "previewImport", "file", err))
		return
	}
	defer file.Close()

	id, src, err := s.uploads.save(header.Filename, file)
	if err != nil {
		writeError(w, errs.E(errs.KindEngine, "previewImport", header.Filename, err))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	ip, err := s.engine.PreviewImport(r.Context(), src, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, importPreviewResponse{UploadID: id, ImportPreview: ip})
}
