// Package api exposes the HTTP surface of the hub: spreadsheet upload,
// read-only queries over roster, state and events, backup export, reset
// and the static station pages. It carries no business logic beyond
// translating HTTP to component calls.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"

	"scanhub/internal/ingest"
	"scanhub/internal/roster"
	"scanhub/internal/store"
	"scanhub/pkg/types"
)

// Registry is the read-only registry view the API needs.
type Registry interface {
	Nodes() []types.NodeInfo
	Stats() map[string]int
}

// Broadcaster pushes messages to connected stations.
type Broadcaster interface {
	Broadcast(v any, roles []types.Role) int
}

// Server routes HTTP requests to the hub components.
type Server struct {
	roster      *roster.Cache
	store       *store.Store
	registry    Registry
	broadcaster Broadcaster
	wsHandler   http.HandlerFunc
	staticDir   string
	logger      *slog.Logger
	router      *httprouter.Router
}

// maxUploadSize bounds spreadsheet uploads (16 MiB).
const maxUploadSize = 16 << 20

// NewServer wires the HTTP routes.
func NewServer(rosterCache *roster.Cache, st *store.Store, registry Registry, broadcaster Broadcaster, wsHandler http.HandlerFunc, staticDir string, logger *slog.Logger) *Server {
	s := &Server{
		roster:      rosterCache,
		store:       st,
		registry:    registry,
		broadcaster: broadcaster,
		wsHandler:   wsHandler,
		staticDir:   staticDir,
		logger:      logger,
		router:      httprouter.New(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.POST("/api/upload", s.handleUpload)
	s.router.GET("/api/cache", s.handleCache)
	s.router.GET("/api/state", s.handleState)
	s.router.GET("/api/events", s.handleEvents)
	s.router.GET("/api/events_json", s.handleEventsJSON)
	s.router.GET("/api/nodes", s.handleNodes)
	s.router.GET("/api/backup/:format", s.handleBackup)
	s.router.POST("/api/reset", s.handleReset)
	s.router.GET("/health", s.handleHealth)

	if s.wsHandler != nil {
		s.router.HandlerFunc(http.MethodGet, "/ws", s.wsHandler)
	}

	if s.staticDir != "" {
		s.router.GET("/", s.staticPage("manager.html"))
		s.router.GET("/firstscan", s.staticPage("first.html"))
		s.router.GET("/lastscan", s.staticPage("last.html"))
		s.router.ServeFiles("/static/*filepath", http.Dir(s.staticDir))
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type uploadResponse struct {
	Version       int      `json:"version"`
	StudentsCount int      `json:"studentsCount"`
	Errors        []string `json:"errors,omitempty"`
}

// handleUpload ingests a spreadsheet, replaces the roster wholesale and
// pushes a cache_update to first_scan stations. A file without a usable
// Student ID column is rejected and the roster version is unchanged.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "File is required")
		return
	}
	defer file.Close()

	result, err := ingest.ParseFile(header.Filename, file)
	switch {
	case err == nil:
	case err == ingest.ErrMissingIDColumn, err == ingest.ErrUnsupportedFormat:
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case err == ingest.ErrNoValidRows:
		s.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   err.Error(),
			"details": result.RowErrors,
		})
		return
	default:
		s.logger.Error("upload parsing failed", "file", header.Filename, "error", err)
		s.writeError(w, http.StatusBadRequest, "Failed to process spreadsheet")
		return
	}

	snapshot, err := s.roster.Replace(result.Rows)
	if err != nil {
		s.logger.Error("failed to persist roster", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to store roster")
		return
	}

	s.broadcaster.Broadcast(types.NewCacheUpdate(snapshot), []types.Role{types.RoleFirstScan})
	s.logger.Info("spreadsheet processed",
		"file", header.Filename,
		"validRows", len(result.Rows),
		"droppedRows", len(result.RowErrors),
		"cacheVersion", snapshot.Version,
	)

	s.writeJSON(w, http.StatusOK, uploadResponse{
		Version:       snapshot.Version,
		StudentsCount: len(snapshot.Students),
		Errors:        result.RowErrors,
	})
}

func (s *Server) handleCache(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	s.writeJSON(w, http.StatusOK, s.roster.CurrentSnapshot())
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	state, err := s.store.LoadState()
	if err != nil {
		s.logger.Error("failed to load state", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to load state")
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

// handleEvents streams the raw newline-delimited event log.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	path := s.store.EventsPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	http.ServeFile(w, r, path)
}

func (s *Server) handleEventsJSON(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	since := r.URL.Query().Get("since")
	events, err := s.store.LoadEvents(since)
	if err != nil {
		s.logger.Error("failed to load events", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to load events")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleNodes(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	s.writeJSON(w, http.StatusOK, map[string]any{"nodes": s.registry.Nodes()})
}

// handleBackup exports the latest-state table as json, csv or excel.
func (s *Server) handleBackup(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	state, err := s.store.LoadState()
	if err != nil {
		s.logger.Error("failed to load state for backup", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to create backup")
		return
	}

	timestamp := strings.NewReplacer(":", "-", ".", "-").Replace(time.Now().UTC().Format(time.RFC3339))
	format := ps.ByName("format")

	var data []byte
	var contentType, ext string
	switch format {
	case "json":
		data, err = ingest.ExportStateJSON(state)
		contentType, ext = "application/json", "json"
	case "csv":
		data, err = ingest.ExportStateCSV(state)
		contentType, ext = "text/csv", "csv"
	case "excel":
		data, err = ingest.ExportStateWorkbook(state)
		contentType, ext = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "xlsx"
	default:
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Unsupported format: %s", format))
		return
	}
	if err != nil {
		s.logger.Error("backup export failed", "format", format, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to create backup")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="student-data-%s.%s"`, timestamp, ext))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
	s.logger.Info("backup created", "format", format)
}

// handleReset clears the roster, latest state and event log, then tells
// every connected station.
func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	if err := s.roster.Reset(); err != nil {
		s.logger.Error("roster reset failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to reset system")
		return
	}
	if err := s.store.Reset(); err != nil {
		s.logger.Error("store reset failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to reset system")
		return
	}

	s.broadcaster.Broadcast(types.NewSystemReset(), nil)
	s.logger.Info("system reset performed")
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":       "healthy",
		"timestamp":    types.NowISO(),
		"cacheVersion": s.roster.CurrentSnapshot().Version,
		"connections":  s.registry.Stats(),
	})
}

func (s *Server) staticPage(name string) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		http.ServeFile(w, r, filepath.Join(s.staticDir, name))
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, message string) {
	s.writeJSON(w, code, map[string]string{"error": message})
}
