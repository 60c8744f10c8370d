package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ruslano69/whbridge/pkg/errs"
	"github.com/ruslano69/whbridge/pkg/transfer"
)

type startResponse struct {
	ID    string         `json:"id"`
	State transfer.State `json:"state"`
}

func (s *Server) handleStartExport(w http.ResponseWriter, r *http.Request) {
	p, _, err := s.exportPlan(r)
	if err != nil {
		writeError(w, err)
		return
	}
	h, err := s.engine.ExportToArtifact(r.Context(), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, startResponse{ID: h.ID(), State: h.State()})
}

type importRequest struct {
	SessionID string `json:"session_id,omitempty"`
	UploadID  string `json:"upload_id"`
	Table     string `json:"table"`
}

func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	src, ok := s.uploads.get(req.UploadID)
	if !ok {
		writeError(w, errs.E(errs.KindNotFound, "importFromFile", req.UploadID, errors.New("unknown upload")))
		return
	}
	h, err := s.engine.ImportFromFile(r.Context(), req.SessionID, src, req.Table)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, startResponse{ID: h.ID(), State: h.State()})
}

func (s *Server) handleListTransfers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"transfers": s.engine.Transfers()})
}

func (s *Server) snapshot(r *http.Request, id string) (transfer.Snapshot, error) {
	if h, ok := s.engine.Transfer(id); ok {
		return h.Snapshot(), nil
	}
	if s.lookup != nil {
		if snap, err := s.lookup.Lookup(r.Context(), id); err == nil {
			return snap, nil
		}
	}
	return transfer.Snapshot{}, errs.E(errs.KindNotFound, "transfer", id, errors.New("unknown transfer"))
}

func (s *Server) handleGetTransfer(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshot(r, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCancelTransfer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.Cancel(id); err != nil {
		writeError(w, err)
		return
	}
	resp := startResponse{ID: id}
	if h, ok := s.engine.Transfer(id); ok {
		resp.State = h.State()
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// handleTransferEvents streams progress as server-sent events and ends with
// one "result" event.
func (s *Server) handleTransferEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h, ok := s.engine.Transfer(id)
	if !ok {
		writeError(w, errs.E(errs.KindNotFound, "transfer", id, errors.New("unknown transfer")))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeMessage(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	ticks := h.Progress()
	for {
		select {
		case p, open := <-ticks:
			if !open {
				res, err := h.Result(ctx)
				if err != nil {
					return
				}
				writeEvent(w, "result", res)
				flusher.Flush()
				return
			}
			writeEvent(w, "progress", p)
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func writeEvent(w io.Writer, name string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}

// handleArtifact downloads a finished export.
func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshot(r, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if snap.Result == nil || snap.Result.Artifact == nil {
		writeMessage(w, http.StatusNotFound, "transfer has no artifact")
		return
	}
	info := snap.Result.Artifact
	name := filepath.Base(info.Path)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if info.Checksum != "" {
		w.Header().Set("X-Checksum-Xxh3", info.Checksum)
	}

	if !strings.HasPrefix(info.Location, "s3://") {
		http.ServeFile(w, r, info.Path)
		return
	}
	body, err := s.store.Open(r.Context(), info.Location)
	if err != nil {
		writeError(w, errs.E(errs.KindEngine, "artifact", info.Location, err))
		return
	}
	defer body.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.Copy(w, body); err != nil {
		s.log.Warn().Err(err).Str("location", info.Location).Msg("artifact download interrupted")
	}
}
