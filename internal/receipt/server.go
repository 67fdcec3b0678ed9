package receipt

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tabsplit/internal/auth"
)

// Server handles HTTP requests for receipts
type Server struct {
	service *Service
	tokens  *auth.JWTManager
	mux     *http.ServeMux
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, tokens *auth.JWTManager) *Server {
	return NewServerWithMux(service, tokens, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, tokens *auth.JWTManager, mux *http.ServeMux) *Server {
	s := &Server{
		service: service,
		tokens:  tokens,
		mux:     mux,
	}
	s.registerRoutes()
	return s
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// requireAuth rejects requests without a valid bearer token and records the
// caller on the request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.tokens.FromAuthorizationHeader(r.Header.Get("Authorization"))
		if err != nil {
			setCORSHeaders(w)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(auth.ContextWithUser(r.Context(), claims)))
	}
}

// optionalAuth records the caller when a valid bearer token is present and
// otherwise lets the request through as a guest.
func (s *Server) optionalAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if header := r.Header.Get("Authorization"); header != "" {
			if claims, err := s.tokens.FromAuthorizationHeader(header); err == nil {
				r = r.WithContext(auth.ContextWithUser(r.Context(), claims))
			}
		}
		next(w, r)
	}
}

// registerRoutes registers all API routes on the server's mux
// Routes must be registered from most specific to least specific to avoid conflicts
func (s *Server) registerRoutes() {
	s.mux.Handle("GET /metrics", promhttp.Handler())

	// Upload, manual entry and guest preview work with or without a token
	s.mux.HandleFunc("POST /api/receipts/manual", instrument("/api/receipts/manual", s.optionalAuth(s.handleCreateManual)))
	s.mux.HandleFunc("POST /api/split/preview", instrument("/api/split/preview", s.optionalAuth(s.handlePreviewSplit)))

	// Everything addressing a stored receipt requires ownership
	s.mux.HandleFunc("GET /api/receipts/{id}/image", instrument("/api/receipts/{id}/image", s.requireAuth(s.handleGetReceiptImage)))
	s.mux.HandleFunc("POST /api/receipts/{id}/items", instrument("/api/receipts/{id}/items", s.requireAuth(s.handleAddItem)))
	s.mux.HandleFunc("PATCH /api/receipts/{id}/items/{itemID}", instrument("/api/receipts/{id}/items/{itemID}", s.requireAuth(s.handleEditItem)))
	s.mux.HandleFunc("DELETE /api/receipts/{id}/items/{itemID}", instrument("/api/receipts/{id}/items/{itemID}", s.requireAuth(s.handleRemoveItem)))
	s.mux.HandleFunc("POST /api/receipts/{id}/members", instrument("/api/receipts/{id}/members", s.requireAuth(s.handleAddMember)))
	s.mux.HandleFunc("PATCH /api/receipts/{id}/members/{name}", instrument("/api/receipts/{id}/members/{name}", s.requireAuth(s.handleRenameMember)))
	s.mux.HandleFunc("DELETE /api/receipts/{id}/members/{name}", instrument("/api/receipts/{id}/members/{name}", s.requireAuth(s.handleRemoveMember)))
	s.mux.HandleFunc("POST /api/receipts/{id}/assignments/toggle", instrument("/api/receipts/{id}/assignments/toggle", s.requireAuth(s.handleToggleAssignment)))
	s.mux.HandleFunc("POST /api/receipts/{id}/assignments/member-all", instrument("/api/receipts/{id}/assignments/member-all", s.requireAuth(s.handleAssignAllForMember)))
	s.mux.HandleFunc("POST /api/receipts/{id}/assignments/item-all", instrument("/api/receipts/{id}/assignments/item-all", s.requireAuth(s.handleAssignAllForItem)))
	s.mux.HandleFunc("POST /api/receipts/{id}/finalize", instrument("/api/receipts/{id}/finalize", s.requireAuth(s.handleFinalize)))
	s.mux.HandleFunc("GET /api/receipts/{id}", instrument("/api/receipts/{id}", s.requireAuth(s.handleGetReceipt)))
	s.mux.HandleFunc("PATCH /api/receipts/{id}", instrument("/api/receipts/{id}", s.requireAuth(s.handleAdjustments)))
	s.mux.HandleFunc("DELETE /api/receipts/{id}", instrument("/api/receipts/{id}", s.requireAuth(s.handleDeleteReceipt)))
	s.mux.HandleFunc("GET /api/receipts", instrument("/api/receipts", s.requireAuth(s.handleListReceipts)))
	s.mux.HandleFunc("POST /api/receipts", instrument("/api/receipts", s.optionalAuth(s.handleUploadReceipt)))

	// Static HTML interface (register last as it's the catch-all)
	s.mux.HandleFunc("GET /index.html", s.handleIndex)
	s.mux.HandleFunc("GET /", s.handleIndex)
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	// Wrap the mux with CORS middleware to handle all requests including OPTIONS
	return http.ListenAndServe(addr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
			s.mux.ServeHTTP(w, r)
		})(w, r)
	}))
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
