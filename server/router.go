package server

import "net/http"

// NewRouter registers the handler's routes.
func NewRouter(h *Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /delegate", h.Delegate)
	mux.HandleFunc("POST /upload/{platform}", h.Upload)
	mux.HandleFunc("GET /healthz", h.Health)
	return mux
}
