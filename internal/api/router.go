package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/igel-oss/rcar-du-vdrm/internal/auth"
)

// NewRouter creates and returns the main HTTP router.
func NewRouter(ctrl Controller, authSvc *auth.Service, bus EventBus) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware)
	r.Use(middleware.CleanPath)

	h := &Handlers{ctrl: ctrl, events: bus}

	r.Group(func(r chi.Router) {
		r.Use(authSvc.Middleware)

		// Layout
		r.Get("/api", h.getState)
		r.Get("/api/state", h.getState)
		r.Put("/api/state", h.commitState)

		// CRTCs
		r.Get("/api/crtcs", h.getCrtcs)
		r.Get("/api/crtcs/{cid}", h.getCrtc)
		r.Post("/api/crtcs/{cid}/flip", h.flip)
		r.Post("/api/crtcs/{cid}/dpms", h.dpms)
		r.Delete("/api/flips/{owner}", h.cancelFlips)

		// Planes
		r.Get("/api/planes", h.getPlanes)
		r.Patch("/api/planes/{pid}", h.setPlane)

		// Framebuffers
		r.Get("/api/framebuffers", h.getFramebuffers)
		r.Post("/api/framebuffers", h.createFramebuffer)
		r.Delete("/api/framebuffers/{fid}", h.deleteFramebuffer)
		r.Get("/api/formats", h.getFormats)

		// System
		r.Get("/api/info", h.getInfo)
		r.Post("/api/suspend", h.suspend)
		r.Post("/api/resume", h.resume)

		// SSE
		r.Get("/api/subscribe", h.sseEvents)
	})

	return r
}

// corsMiddleware adds permissive CORS headers for local network access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
