package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/igel-oss/rcar-du-vdrm/internal/models"
)

func (h *Handlers) getFramebuffers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"framebuffers": h.ctrl.Framebuffers()})
}

func (h *Handlers) createFramebuffer(w http.ResponseWriter, r *http.Request) {
	var req models.FramebufferCreate
	if appErr := decodeBody(r, &req); appErr != nil {
		writeError(w, appErr)
		return
	}
	fb, appErr := h.ctrl.CreateFramebuffer(req)
	if appErr != nil {
		writeError(w, appErr)
		return
	}
	writeJSON(w, http.StatusCreated, fb)
}

func (h *Handlers) deleteFramebuffer(w http.ResponseWriter, r *http.Request) {
	if appErr := h.ctrl.DeleteFramebuffer(chi.URLParam(r, "fid")); appErr != nil {
		writeError(w, appErr)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) getFormats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"formats": h.ctrl.Formats()})
}
