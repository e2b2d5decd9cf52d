package api

import (
	"net/http"

	"github.com/igel-oss/rcar-du-vdrm/internal/models"
)

func (h *Handlers) getState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.State())
}

// commitState applies a complete layout atomically. With ?async=1 the
// response is sent once the commit is queued; completion is reported as a
// commit_complete event.
func (h *Handlers) commitState(w http.ResponseWriter, r *http.Request) {
	var in models.State
	if appErr := decodeBody(r, &in); appErr != nil {
		writeError(w, appErr)
		return
	}
	async := boolQuery(r, "async")
	res, appErr := h.ctrl.Commit(r.Context(), in, async)
	if appErr != nil {
		writeError(w, appErr)
		return
	}
	status := http.StatusOK
	if async {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

func (h *Handlers) getPlanes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"planes": h.ctrl.State().Planes})
}

func (h *Handlers) setPlane(w http.ResponseWriter, r *http.Request) {
	id, err := intParam(r, "pid")
	if err != nil {
		writeError(w, err)
		return
	}
	var upd models.PlaneUpdate
	if appErr := decodeBody(r, &upd); appErr != nil {
		writeError(w, appErr)
		return
	}
	p, appErr := h.ctrl.SetPlane(id, upd)
	if appErr != nil {
		writeError(w, appErr)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
