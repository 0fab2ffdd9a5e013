package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/loxbridge/loxbridge/internal/loxone"
)

// controlView is the list/detail representation of a control, the
// registry entry plus its cached state when one is known.
type controlView struct {
	*loxone.Control
	Value any `json:"value,omitempty"`
}

// handleListControls returns the control registry, sorted by UUID.
// Optional room and category query parameters filter the result.
func (s *Server) handleListControls(w http.ResponseWriter, r *http.Request) {
	roomFilter := r.URL.Query().Get("room")
	categoryFilter := r.URL.Query().Get("category")

	controls := s.miniserver.Controls()
	views := make([]controlView, 0, len(controls))
	for _, ctrl := range controls {
		if roomFilter != "" && !strings.EqualFold(ctrl.Room, roomFilter) {
			continue
		}
		if categoryFilter != "" && !strings.EqualFold(ctrl.Category, categoryFilter) {
			continue
		}
		views = append(views, controlView{
			Control: ctrl,
			Value:   s.miniserver.GetState(ctrl.UUID),
		})
	}

	sort.Slice(views, func(i, j int) bool {
		return views[i].UUID < views[j].UUID
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"controls": views,
		"count":    len(views),
	})
}

// handleGetControl returns one control by UUID (possibly composite).
func (s *Server) handleGetControl(w http.ResponseWriter, r *http.Request) {
	uuid := wildcardParam(r)
	if uuid == "" {
		writeBadRequest(w, "control uuid is required")
		return
	}

	ctrl := s.miniserver.GetControl(uuid)
	if ctrl == nil {
		writeNotFound(w, "control not found: "+uuid)
		return
	}

	writeJSON(w, http.StatusOK, controlView{
		Control: ctrl,
		Value:   s.miniserver.GetState(uuid),
	})
}

// handleGetState returns the current value for a control.
//
// By default the cached value from the event stream is returned; with
// ?refresh=true the Miniserver is queried first.
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	uuid := wildcardParam(r)
	if uuid == "" {
		writeBadRequest(w, "control uuid is required")
		return
	}

	if s.miniserver.GetControl(uuid) == nil {
		writeNotFound(w, "control not found: "+uuid)
		return
	}

	var value any
	if r.URL.Query().Get("refresh") == "true" {
		value = s.miniserver.UpdateState(r.Context(), uuid)
	} else {
		value = s.miniserver.GetState(uuid)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"uuid":  uuid,
		"value": value,
	})
}

// handleGetHistory returns recent recorded state events for a control.
// The limit query parameter caps the result (store-side clamped).
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeNotFound(w, "history is disabled")
		return
	}

	uuid := wildcardParam(r)
	if uuid == "" {
		writeBadRequest(w, "control uuid is required")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	entries, err := s.history.Recent(r.Context(), uuid, limit)
	if err != nil {
		s.logger.Error("history query failed", "uuid", uuid, "error", err)
		writeInternalError(w, "history query failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"uuid":    uuid,
		"entries": entries,
		"count":   len(entries),
	})
}

// commandRequest is the POST /commands payload.
type commandRequest struct {
	UUID    string `json:"uuid"`
	Command string `json:"command"`
	Value   any    `json:"value,omitempty"`
}

// handleSendCommand forwards a command to the Miniserver.
func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.UUID == "" || req.Command == "" {
		writeBadRequest(w, "uuid and command are required")
		return
	}

	if err := s.miniserver.SendCommand(r.Context(), req.UUID, req.Command, req.Value); err != nil {
		s.logger.Error("command dispatch failed",
			"uuid", req.UUID,
			"command", req.Command,
			"error", err,
		)
		writeUpstreamError(w, "command dispatch failed")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"uuid":    req.UUID,
		"command": req.Command,
		"value":   s.miniserver.GetState(req.UUID),
	})
}

// handleRefreshStructure re-fetches the structure document and rebuilds
// the registry.
func (s *Server) handleRefreshStructure(w http.ResponseWriter, r *http.Request) {
	if err := s.miniserver.RefreshStructure(r.Context()); err != nil {
		s.logger.Error("structure refresh failed", "error", err)
		writeUpstreamError(w, "structure refresh failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"controls": len(s.miniserver.Controls()),
	})
}

// wildcardParam extracts the trailing wildcard path segment, which may
// itself contain slashes (composite control UUIDs).
func wildcardParam(r *http.Request) string {
	return strings.Trim(chi.URLParam(r, "*"), "/")
}
