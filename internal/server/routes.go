package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket routes
	mux.HandleFunc("/ws", s.app.WSHandler.HandleSocket)
	mux.HandleFunc("/ws/", s.app.WSHandler.HandleJobSocket) // /ws/{jobId}

	// API routes - Jobs
	mux.HandleFunc("/api/jobs", s.app.JobHandler.SubmitImageHandler)       // POST - submit image job
	mux.HandleFunc("/api/jobs/", s.app.JobHandler.GetJobHandler)           // GET /{id}
	mux.HandleFunc("/api/video-jobs", s.app.JobHandler.SubmitVideoHandler) // POST - submit video job
	mux.HandleFunc("/api/video-jobs/", s.app.JobHandler.GetJobHandler)     // GET /{id}

	// Generated artifacts
	prefix := s.app.Config.Outputs.URLPrefix
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	mux.Handle(prefix, http.StripPrefix(prefix, http.FileServer(http.Dir(s.app.Config.Outputs.Dir))))

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}
