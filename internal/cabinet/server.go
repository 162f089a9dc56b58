package cabinet

import (
	"log/slog"
	"net/http"
)

// Server handles HTTP requests for the cabinet
type Server struct {
	service *Service
	metrics http.Handler
	mux     *http.ServeMux
}

// NewServer creates a new Server with default mux. metrics may be nil.
func NewServer(service *Service, metrics http.Handler) *Server {
	return NewServerWithMux(service, metrics, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, metrics http.Handler, mux *http.ServeMux) *Server {
	s := &Server{
		service: service,
		metrics: metrics,
		mux:     mux,
	}
	s.registerRoutes()
	return s
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// registerRoutes registers all API routes on the server's mux
// Routes must be registered from most specific to least specific to avoid conflicts
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/ingest", s.handleIngest)
	s.mux.HandleFunc("POST /api/dupcheck", s.handleDupCheck)

	s.mux.HandleFunc("GET /api/records/export", s.handleExportRecords)
	s.mux.HandleFunc("POST /api/records/confirm", s.handleConfirmRecord)
	s.mux.HandleFunc("PATCH /api/records/{id}/status", s.handleSetRecordStatus)
	s.mux.HandleFunc("DELETE /api/records/{id}", s.handleDeleteRecord)
	s.mux.HandleFunc("GET /api/records", s.handleListRecords)

	s.mux.HandleFunc("DELETE /api/extractions/{id}", s.handleDeleteExtraction)

	s.mux.HandleFunc("GET /api/documents/{id}/file", s.handleGetDocumentFile)
	s.mux.HandleFunc("DELETE /api/documents/{id}", s.handleDeleteDocument)

	s.mux.HandleFunc("POST /api/ap/bills/mark-paid", s.handleMarkPaid)
	s.mux.HandleFunc("GET /api/ap/bills", s.handleListBills)

	s.mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
}

// Handler returns the mux wrapped with CORS handling
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.mux)
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}
