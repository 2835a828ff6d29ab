package ops

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wharfd/wharfd/internal/logger"
	"github.com/wharfd/wharfd/pkg/models"
	"github.com/wharfd/wharfd/pkg/supervisor"
)

// adminHandler serves the session and listener control routes.
type adminHandler struct {
	control Controller
}

func newAdminHandler(control Controller) *adminHandler {
	return &adminHandler{control: control}
}

// ListSessions handles GET /sessions.
func (h *adminHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.control.ActiveSessions()
	writeResponse(w, http.StatusOK, Response{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Data: map[string]interface{}{
			"sessions": sessions,
			"count":    len(sessions),
		},
	})
}

// DisconnectSession handles DELETE /sessions/{id}. The transport is closed
// out from under the client; the session unregisters itself on the way out.
func (h *adminHandler) DisconnectSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.control.DisconnectSession(id) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	logger.Info("session disconnected via ops endpoint", logger.KeySessionID, id)
	w.WriteHeader(http.StatusNoContent)
}

// ListenerStatus handles GET /listeners/{id}.
func (h *adminHandler) ListenerStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeResponse(w, http.StatusOK, Response{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Data: map[string]interface{}{
			"listener_id": id,
			"running":     h.control.IsRunning(id),
		},
	})
}

// StartListener handles POST /listeners/{id}/start.
func (h *adminHandler) StartListener(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeListenerResult(w, id, "started", h.control.StartListener(r.Context(), id))
}

// StopListener handles POST /listeners/{id}/stop.
func (h *adminHandler) StopListener(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeListenerResult(w, id, "stopped", h.control.StopListener(id))
}

// RestartListener handles POST /listeners/{id}/restart. The listener comes
// back up from its current store row, so edits take effect here.
func (h *adminHandler) RestartListener(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeListenerResult(w, id, "restarted", h.control.RestartListener(r.Context(), id))
}

func writeListenerResult(w http.ResponseWriter, id, state string, err error) {
	switch {
	case err == nil:
		writeResponse(w, http.StatusOK, Response{
			Status:    "ok",
			Timestamp: time.Now().UTC(),
			Data: map[string]interface{}{
				"listener_id": id,
				"state":       state,
			},
		})
	case errors.Is(err, models.ErrListenerNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, supervisor.ErrAlreadyRunning),
		errors.Is(err, supervisor.ErrNotRunning),
		errors.Is(err, supervisor.ErrListenerDisabled):
		writeError(w, http.StatusConflict, err.Error())
	default:
		logger.Error("listener control failed",
			"listener_id", id,
			logger.KeyError, err.Error())
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
