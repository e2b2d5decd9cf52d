package api

import (
	"net/http"
)

func (h *Handlers) getInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Info())
}

func (h *Handlers) suspend(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Suspend())
}

func (h *Handlers) resume(w http.ResponseWriter, r *http.Request) {
	info, appErr := h.ctrl.Resume()
	if appErr != nil {
		writeError(w, appErr)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
