package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/igel-oss/rcar-du-vdrm/internal/models"
)

func (h *Handlers) getCrtcs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"crtcs": h.ctrl.Crtcs()})
}

func (h *Handlers) getCrtc(w http.ResponseWriter, r *http.Request) {
	id, err := intParam(r, "cid")
	if err != nil {
		writeError(w, err)
		return
	}
	st, appErr := h.ctrl.Crtc(id)
	if appErr != nil {
		writeError(w, appErr)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handlers) flip(w http.ResponseWriter, r *http.Request) {
	id, err := intParam(r, "cid")
	if err != nil {
		writeError(w, err)
		return
	}
	var req models.FlipRequest
	if appErr := decodeBody(r, &req); appErr != nil {
		writeError(w, appErr)
		return
	}
	res, appErr := h.ctrl.Flip(r.Context(), id, req)
	if appErr != nil {
		writeError(w, appErr)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) dpms(w http.ResponseWriter, r *http.Request) {
	id, err := intParam(r, "cid")
	if err != nil {
		writeError(w, err)
		return
	}
	var req models.DPMSRequest
	if appErr := decodeBody(r, &req); appErr != nil {
		writeError(w, appErr)
		return
	}
	c, appErr := h.ctrl.DPMS(id, req.On)
	if appErr != nil {
		writeError(w, appErr)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// cancelFlips drops the pending flip events of a client that is going away.
func (h *Handlers) cancelFlips(w http.ResponseWriter, r *http.Request) {
	n := h.ctrl.CancelFlips(chi.URLParam(r, "owner"))
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": n})
}
