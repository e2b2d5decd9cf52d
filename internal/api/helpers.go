// Package api implements the HTTP REST API of the display controller.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/igel-oss/rcar-du-vdrm/internal/events"
	"github.com/igel-oss/rcar-du-vdrm/internal/models"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	ctrl   Controller
	events EventBus
}

// Controller is the interface the handlers use to drive the display.
type Controller interface {
	State() models.State
	Commit(ctx context.Context, in models.State, async bool) (models.CommitResult, *models.AppError)
	Crtcs() []models.CrtcStatus
	Crtc(id int) (models.CrtcStatus, *models.AppError)
	Flip(ctx context.Context, crtcID int, req models.FlipRequest) (models.FlipResult, *models.AppError)
	CancelFlips(owner string) int
	DPMS(crtcID int, on bool) (models.Crtc, *models.AppError)
	SetPlane(id int, upd models.PlaneUpdate) (models.Plane, *models.AppError)
	Framebuffers() []models.Framebuffer
	CreateFramebuffer(req models.FramebufferCreate) (models.Framebuffer, *models.AppError)
	DeleteFramebuffer(id string) *models.AppError
	Formats() []models.FormatInfo
	Suspend() models.Info
	Resume() (models.Info, *models.AppError)
	Info() models.Info
}

// EventBus is the interface for subscribing to display events.
type EventBus interface {
	Subscribe(id string) <-chan events.Event
	Unsubscribe(id string)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an AppError as a JSON response.
func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	if appErr, ok := err.(*models.AppError); ok {
		w.WriteHeader(appErr.Status)
		_ = json.NewEncoder(w).Encode(appErr)
		return
	}
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(models.ErrInternal(err.Error()))
}

// decodeBody decodes a JSON request body into v.
func decodeBody(r *http.Request, v interface{}) *models.AppError {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return models.ErrBadRequest("invalid JSON: " + err.Error())
	}
	return nil
}

// intParam reads an integer path parameter by name.
func intParam(r *http.Request, name string) (int, error) {
	s := chi.URLParam(r, name)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, models.ErrBadRequest("invalid " + name + " parameter")
	}
	return n, nil
}

// boolQuery reports whether a query flag such as ?async=1 is set.
func boolQuery(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}
