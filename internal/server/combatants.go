package server

import (
	"encoding/json"
	"math"
	"net/http"

	"combatd/internal/combat"
)

func (s *Server) handleAddCombatant(w http.ResponseWriter, r *http.Request) {
	var payload addCombatantRequest
	if err := decodeJSON(r, &payload, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.SessionID == "" || payload.Type == "" || payload.Allegiance == "" || payload.Name == "" ||
		payload.MaxHP == nil || payload.CurrentHP == nil || payload.InitiativeBase == nil {
		writeError(w, http.StatusBadRequest, "Missing required fields: sessionId, type, allegiance, name, maxHP, currentHP, initiativeBase.")
		return
	}

	combatant, err := s.combat.AddCombatant(r.Context(), combat.CombatantSpec{
		SessionID:       payload.SessionID,
		Type:            combat.CombatantType(payload.Type),
		Allegiance:      combat.Allegiance(payload.Allegiance),
		Name:            payload.Name,
		PlayerID:        payload.PlayerID,
		MobDefinitionID: payload.MobDefinitionID,
		DiscordUserID:   payload.DiscordUserID,
		MaxHP:           *payload.MaxHP,
		CurrentHP:       *payload.CurrentHP,
		InitiativeBase:  *payload.InitiativeBase,
	})
	if err != nil {
		s.writeServiceError(w, r, "add combatant", err)
		return
	}
	writeJSON(w, http.StatusCreated, combatant)
}

func (s *Server) handleGetCombatant(w http.ResponseWriter, r *http.Request) {
	combatant, err := s.combat.GetCombatant(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, "get combatant", err)
		return
	}
	writeJSON(w, http.StatusOK, combatant)
}

func (s *Server) handleListCombatants(w http.ResponseWriter, r *http.Request) {
	combatants, err := s.combat.ListCombatants(r.Context(), r.PathValue("sessionId"))
	if err != nil {
		s.writeServiceError(w, r, "list combatants", err)
		return
	}
	writeJSON(w, http.StatusOK, combatants)
}

func (s *Server) handleCombatantByUser(w http.ResponseWriter, r *http.Request) {
	combatant, err := s.combat.CombatantByDiscordUser(r.Context(), r.PathValue("sessionId"), r.PathValue("discordUserId"))
	if err != nil {
		s.writeServiceError(w, r, "combatant by user", err)
		return
	}
	writeJSON(w, http.StatusOK, combatant)
}

func (s *Server) handleUpdateCombatantHP(w http.ResponseWriter, r *http.Request) {
	var payload updateCombatantRequest
	if err := decodeJSON(r, &payload, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	hp, ok := wholeNumber(payload.CurrentHP)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid or missing 'currentHP' in request body.")
		return
	}

	combatant, err := s.combat.UpdateCombatantHP(r.Context(), r.PathValue("id"), hp)
	if err != nil {
		s.writeServiceError(w, r, "update combatant hp", err)
		return
	}
	writeJSON(w, http.StatusOK, combatant)
}

func (s *Server) handleDeleteCombatant(w http.ResponseWriter, r *http.Request) {
	if err := s.combat.DeleteCombatant(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, "delete combatant", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// wholeNumber accepts a decoded JSON number with no fractional part, so 12
// and 12.0 are the same value.
func wholeNumber(value any) (int, bool) {
	number, ok := value.(json.Number)
	if !ok {
		return 0, false
	}
	if n, err := number.Int64(); err == nil && n >= math.MinInt32 && n <= math.MaxInt32 {
		return int(n), true
	}
	f, err := number.Float64()
	if err != nil || f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}
