package server

import "encoding/json"

type createSessionRequest struct {
	ChannelID string `json:"channelId"`
	DMUserID  string `json:"dmUserId"`
}

// initiativeEntry is one element of combatantInitiatives. Fields stay loosely
// typed so a malformed entry can be skipped without failing the request.
type initiativeEntry struct {
	CombatantID    any `json:"combatantId"`
	InitiativeRoll any `json:"initiativeRoll"`
}

type startCombatRequest struct {
	TurnOrder            []string          `json:"turnOrder"`
	CombatantInitiatives []json.RawMessage `json:"combatantInitiatives"`
}

type endCombatRequest struct {
	Reason string `json:"reason"`
}

type forceStateRequest struct {
	State string `json:"state"`
}

type addCombatantRequest struct {
	SessionID       string  `json:"sessionId"`
	Type            string  `json:"type"`
	Allegiance      string  `json:"allegiance"`
	Name            string  `json:"name"`
	PlayerID        *int64  `json:"playerId"`
	MobDefinitionID *int64  `json:"mobDefinitionId"`
	DiscordUserID   *string `json:"discordUserId"`
	MaxHP           *int    `json:"maxHP"`
	CurrentHP       *int    `json:"currentHP"`
	InitiativeBase  *int    `json:"initiativeBase"`
}

type updateCombatantRequest struct {
	CurrentHP any `json:"currentHP"`
}
