package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"combatd/internal/combat"
)

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload createSessionRequest
	if err := decodeJSON(r, &payload, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.ChannelID) == "" || strings.TrimSpace(payload.DMUserID) == "" {
		writeError(w, http.StatusBadRequest, "channelId and dmUserId are required")
		return
	}

	session, err := s.combat.Create(r.Context(), payload.ChannelID, payload.DMUserID)
	if err != nil {
		s.writeServiceError(w, r, "create session", err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.combat.GetSession(r.Context(), r.PathValue("id"), true)
	if err != nil {
		s.writeServiceError(w, r, "get session", err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleActiveSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.combat.ActiveSession(r.Context(), r.PathValue("channelId"))
	if err != nil {
		s.writeServiceError(w, r, "active session", err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	var filter *combat.State
	if raw := r.URL.Query().Get("state"); raw != "" {
		state, ok := combat.ParseState(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "Invalid state filter. Use SETUP, RUNNING or ENDED.")
			return
		}
		filter = &state
	}

	sessions, err := s.combat.ListSessions(r.Context(), r.PathValue("channelId"), filter)
	if err != nil {
		s.writeServiceError(w, r, "list sessions", err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if err := decodeJSON(r, &patch, false); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be a JSON object")
		return
	}

	session, err := s.combat.UpdateSession(r.Context(), r.PathValue("id"), combat.SessionPatch(patch))
	if err != nil {
		s.writeServiceError(w, r, "update session", err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleStartCombat(w http.ResponseWriter, r *http.Request) {
	var payload startCombatRequest
	if err := decodeJSON(r, &payload, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(payload.TurnOrder) == 0 {
		writeError(w, http.StatusBadRequest, "turnOrder is required")
		return
	}

	sessionID := r.PathValue("id")
	session, err := s.combat.StartCombat(r.Context(), sessionID, payload.TurnOrder, s.readInitiatives(sessionID, payload.CombatantInitiatives))
	if err != nil {
		s.writeServiceError(w, r, "start combat", err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// readInitiatives converts raw initiative entries, dropping ones that are not
// objects. Entries with a non-string id or non-integer roll are passed on
// with those fields unset and skipped by the service.
func (s *Server) readInitiatives(sessionID string, raw []json.RawMessage) []combat.InitiativeRoll {
	rolls := make([]combat.InitiativeRoll, 0, len(raw))
	for _, item := range raw {
		var entry initiativeEntry
		if err := json.Unmarshal(item, &entry); err != nil {
			s.logger.Warn("skipping malformed initiative entry",
				slog.String("session", sessionID),
				slog.String("entry", string(item)))
			continue
		}
		var roll combat.InitiativeRoll
		roll.CombatantID, _ = entry.CombatantID.(string)
		if n, ok := entry.InitiativeRoll.(float64); ok && n == float64(int(n)) {
			v := int(n)
			roll.Roll = &v
		}
		rolls = append(rolls, roll)
	}
	return rolls
}

func (s *Server) handleAdvanceTurn(w http.ResponseWriter, r *http.Request) {
	session, err := s.combat.AdvanceTurn(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, "advance turn", err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleEndCombat(w http.ResponseWriter, r *http.Request) {
	var payload endCombatRequest
	if err := decodeJSON(r, &payload, true); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := s.combat.EndCombat(r.Context(), r.PathValue("id"), payload.Reason)
	if err != nil {
		s.writeServiceError(w, r, "end combat", err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleForceState(w http.ResponseWriter, r *http.Request) {
	var payload forceStateRequest
	if err := decodeJSON(r, &payload, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := s.combat.ForceState(r.Context(), r.PathValue("id"), combat.State(payload.State))
	if err != nil {
		s.writeServiceError(w, r, "force state", err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.combat.DeleteSession(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, "delete session", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
