package server

import (
	"net/http"
	"strings"
)

// proxyRequest forwards the request to the configured upstream
func (s *Server) proxyRequest(w http.ResponseWriter, r *http.Request) {
	if s.reverseProxy == nil {
		http.NotFound(w, r)
		return
	}
	s.log.Debug("forwarding to upstream", "method", r.Method, "path", r.URL.Path)
	s.reverseProxy.ServeHTTP(w, r)
}

// proxyDocument forwards a read of an unknown document upstream. It reports
// false when no upstream is configured or the request is not a read.
func (s *Server) proxyDocument(w http.ResponseWriter, r *http.Request) bool {
	if s.reverseProxy == nil || (r.Method != http.MethodGet && r.Method != http.MethodHead) {
		return false
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return false
	}
	s.log.Info("document not found locally, proxying", "path", r.URL.Path, "upstream", s.config.ProxyURL.String())
	s.reverseProxy.ServeHTTP(w, r)
	return true
}
