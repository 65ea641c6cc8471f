package combat

import (
	"strings"
	"time"
)

// State is the lifecycle state of a combat session.
type State string

const (
	StateSetup   State = "SETUP"
	StateRunning State = "RUNNING"
	StateEnded   State = "ENDED"
)

// ParseState returns the State named by raw, case-insensitively.
func ParseState(raw string) (State, bool) {
	switch State(strings.ToUpper(strings.TrimSpace(raw))) {
	case StateSetup:
		return StateSetup, true
	case StateRunning:
		return StateRunning, true
	case StateEnded:
		return StateEnded, true
	}
	return "", false
}

// Active reports whether the state still occupies its channel.
func (s State) Active() bool {
	return s == StateSetup || s == StateRunning
}

// CombatantType tells whether a combatant is backed by a player or an NPC template.
type CombatantType string

const (
	TypePlayer CombatantType = "PLAYER"
	TypeNPC    CombatantType = "NPC"
)

func (t CombatantType) valid() bool {
	return t == TypePlayer || t == TypeNPC
}

// Allegiance groups combatants into sides.
type Allegiance string

const (
	AllegiancePlayerSide Allegiance = "PLAYER_SIDE"
	AllegianceHostile    Allegiance = "HOSTILE"
)

func (a Allegiance) valid() bool {
	return a == AllegiancePlayerSide || a == AllegianceHostile
}

// Session is one combat encounter scoped to a chat channel.
type Session struct {
	ID               string       `json:"id"`
	ChannelID        string       `json:"channelId"`
	DMUserID         string       `json:"dmUserId"`
	State            State        `json:"state"`
	MessageID        *string      `json:"messageId"`
	CurrentTurnIndex int          `json:"currentTurnIndex"`
	TurnOrder        []string     `json:"turnOrder"`
	CombatLog        []string     `json:"combatLog"`
	Combatants       []*Combatant `json:"combatants"`
	CreatedAt        time.Time    `json:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}

// Combatant is one participant inside a session.
type Combatant struct {
	ID              string        `json:"id"`
	SessionID       string        `json:"sessionId"`
	Type            CombatantType `json:"type"`
	Allegiance      Allegiance    `json:"allegiance"`
	Name            string        `json:"name"`
	PlayerID        *int64        `json:"playerId"`
	MobDefinitionID *int64        `json:"mobDefinitionId"`
	DiscordUserID   *string       `json:"discordUserId"`
	MaxHP           int           `json:"maxHP"`
	CurrentHP       int           `json:"currentHP"`
	InitiativeBase  int           `json:"initiativeBase"`
	InitiativeRoll  *int          `json:"initiativeRoll"`
	IsActiveTurn    bool          `json:"isActiveTurn"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// CombatantSpec describes a combatant to admit during SETUP.
type CombatantSpec struct {
	SessionID       string
	Type            CombatantType
	Allegiance      Allegiance
	Name            string
	PlayerID        *int64
	MobDefinitionID *int64
	DiscordUserID   *string
	MaxHP           int
	CurrentHP       int
	InitiativeBase  int
}

// InitiativeRoll pairs a combatant with its rolled initiative.
type InitiativeRoll struct {
	CombatantID string
	Roll        *int
}

// SessionPatch is a partial session update keyed by field name, as decoded
// from a JSON object. Recognized keys: messageId, currentTurnIndex,
// combatLogEntry, state. Each is validated on its own.
type SessionPatch map[string]any

// ClampHP bounds hp into [0, max].
func ClampHP(hp, max int) int {
	if max < 0 {
		max = 0
	}
	if hp < 0 {
		return 0
	}
	if hp > max {
		return max
	}
	return hp
}
