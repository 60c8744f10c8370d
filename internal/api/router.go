// Package api exposes the transfer engine over HTTP.
package api

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ruslano69/whbridge/pkg/artifact"
	"github.com/ruslano69/whbridge/pkg/engine"
	"github.com/ruslano69/whbridge/pkg/transfer"
)

// SnapshotLookup finds transfers the engine no longer retains.
type SnapshotLookup interface {
	Lookup(ctx context.Context, id string) (transfer.Snapshot, error)
}

// Options configure the router.
type Options struct {
	Engine *engine.Engine
	// Store opens artifacts that are not on local disk. Nil means local only.
	Store artifact.Store
	// Lookup is consulted for unknown transfer ids. May be nil.
	Lookup    SnapshotLookup
	UploadDir string
	// MaxUpload bounds a CSV upload in bytes.
	MaxUpload int64
	Logger    zerolog.Logger
}

// Server holds the handler dependencies.
type Server struct {
	engine    *engine.Engine
	store     artifact.Store
	lookup    SnapshotLookup
	uploads   *uploads
	maxUpload int64
	log       zerolog.Logger
}

// New prepares the upload directory and returns a Server.
func New(opts Options) (*Server, error) {
	if opts.UploadDir == "" {
		opts.UploadDir = filepath.Join(os.TempDir(), "whbridge-uploads")
	}
	if opts.MaxUpload <= 0 {
		opts.MaxUpload = 1 << 30
	}
	if opts.Store == nil {
		opts.Store = artifact.LocalStore{}
	}
	up, err := newUploads(opts.UploadDir)
	if err != nil {
		return nil, err
	}
	return &Server{
		engine:    opts.Engine,
		store:     opts.Store,
		lookup:    opts.Lookup,
		uploads:   up,
		maxUpload: opts.MaxUpload,
		log:       opts.Logger,
	}, nil
}

// Close removes uploaded files.
func (s *Server) Close() error { return s.uploads.Close() }

// Router wires every route.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(zerologMiddleware(s.log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		// streams and uploads run without a deadline
		r.Get("/transfers/{id}/events", s.handleTransferEvents)
		r.Get("/transfers/{id}/artifact", s.handleArtifact)
		r.Post("/preview/import", s.handlePreviewImport)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Post("/connect", s.handleConnect)
			r.Get("/session", s.handleSession)
			r.Delete("/session", s.handleDisconnect)

			r.Get("/tables", s.handleListTables)
			r.Get("/tables/{name}", s.handleDescribeTable)

			r.Post("/preview/export", s.handlePreviewExport)

			r.Get("/transfers", s.handleListTransfers)
			r.Post("/transfers/export", s.handleStartExport)
			r.Post("/transfers/import", s.handleStartImport)
			r.Get("/transfers/{id}", s.handleGetTransfer)
			r.Delete("/transfers/{id}", s.handleCancelTransfer)
		})
	})
	return r
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz pings the warehouse when a session is live.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"warehouse": "not connected"}
	status := http.StatusOK
	if s.engine.CurrentSession() != nil {
		checks["warehouse"] = "ok"
		if err := s.engine.Ping(r.Context()); err != nil {
			checks["warehouse"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, checks)
}
