// Package server exposes documents over HTTP: patch requests, whole-document
// reads and writes, braid-style subscriptions and a websocket feed.
package server

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"gihan9a/docpatch/internal/config"
	"gihan9a/docpatch/internal/coordinator"
)

// Server serves documents held by a Coordinator.
type Server struct {
	config        *config.Config
	coord         *coordinator.Coordinator
	log           *slog.Logger
	subscriptions map[string]map[string]*Subscription
	reverseProxy  *httputil.ReverseProxy
	upgrader      websocket.Upgrader
	mu            sync.RWMutex
	watcher       *fsnotify.Watcher

	importMu sync.Mutex
	imported map[string]string // file path to checksum of the last import
}

// New creates a Server and registers it for commit notifications.
func New(cfg *config.Config, coord *coordinator.Coordinator, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		config:        cfg,
		coord:         coord,
		log:           log.With("component", "server"),
		subscriptions: make(map[string]map[string]*Subscription),
		imported:      make(map[string]string),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	// Configure reverse proxy if URL is provided
	if cfg.ProxyURL != nil {
		s.setupProxy()
	}

	if cfg.RootDir != "" && cfg.Watch {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("failed to create file watcher: %w", err)
		}
		s.watcher = watcher
		go s.watchFiles()
	}

	coord.OnCommit(s.onCommit)
	return s, nil
}

// setupProxy configures the reverse proxy
func (s *Server) setupProxy() {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if s.config.InsecureProxy {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	target := s.config.ProxyURL
	s.reverseProxy = &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = target.Scheme
			req.URL.Host = target.Host
			req.Host = target.Host

			if target.RawQuery != "" {
				if req.URL.RawQuery == "" {
					req.URL.RawQuery = target.RawQuery
				} else {
					req.URL.RawQuery = target.RawQuery + "&" + req.URL.RawQuery
				}
			}
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			s.log.Error("proxy request failed", "path", r.URL.Path, "err", err)
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
		},
	}

	s.log.Info("proxy mode enabled", "upstream", target.String())
	if s.config.InsecureProxy {
		s.log.Warn("certificate verification disabled for proxy requests")
	}
}

// Close stops the file watcher and ends all subscriptions.
func (s *Server) Close() {
	if s.watcher != nil {
		s.watcher.Close()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, subs := range s.subscriptions {
		for _, sub := range subs {
			sub.close()
		}
		delete(s.subscriptions, id)
	}
}

// SetupRoutes configures the HTTP routes for the server
func (s *Server) SetupRoutes() http.Handler {
	router := mux.NewRouter()
	if s.config.CORS.Enabled {
		router.Use(s.corsMiddleware)
		router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	}

	router.HandleFunc("/patch-requests", s.handlePatchRequest).Methods(http.MethodPost)
	router.HandleFunc("/documents/{id:.+}/ws", s.handleWebsocket).Methods(http.MethodGet)
	router.HandleFunc("/documents/{id:.+}", s.handleGet).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/documents/{id:.+}", s.handlePut).Methods(http.MethodPut)
	router.HandleFunc("/documents/{id:.+}", s.handlePatch).Methods(http.MethodPatch)

	if s.reverseProxy != nil {
		router.NotFoundHandler = http.HandlerFunc(s.proxyRequest)
	}
	return router
}

// corsMiddleware adds CORS headers to every response
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cors := s.config.CORS
		w.Header().Set("Access-Control-Allow-Origin", cors.AllowOrigins)
		w.Header().Set("Access-Control-Allow-Methods", cors.AllowMethods)
		w.Header().Set("Access-Control-Allow-Headers", cors.AllowHeaders)
		w.Header().Set("Access-Control-Expose-Headers", "Version, Parents, ETag")
		if cors.AllowCredentials {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		w.Header().Set("Access-Control-Max-Age", fmt.Sprintf("%d", cors.MaxAge))
		next.ServeHTTP(w, r)
	})
}
