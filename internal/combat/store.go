package combat

import (
	"context"
	"errors"
)

// ErrNoRecord is returned by Tx lookups when the requested row does not exist.
var ErrNoRecord = errors.New("record not found")

// Store is the persistence handle the state machine runs against. All reads
// and writes of one operation happen inside a single WithinTx call; the
// implementation must serialize concurrent transactions that write.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx exposes the session and combatant stores inside one transaction.
type Tx interface {
	InsertSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	FindActiveSession(ctx context.Context, channelID string) (*Session, error)
	ListSessions(ctx context.Context, channelID string, state *State) ([]*Session, error)
	// UpdateSession persists state, message id, turn index, turn order and updated_at.
	UpdateSession(ctx context.Context, session *Session) error
	// AppendLog adds entry to the end of the session log and drops the oldest
	// entries beyond keep.
	AppendLog(ctx context.Context, sessionID, entry string, keep int) error
	DeleteSession(ctx context.Context, id string) (bool, error)

	InsertCombatant(ctx context.Context, combatant *Combatant) error
	GetCombatant(ctx context.Context, id string) (*Combatant, error)
	ListCombatants(ctx context.Context, sessionID string) ([]*Combatant, error)
	FindCombatantByPlayer(ctx context.Context, sessionID string, playerID int64) (*Combatant, error)
	FindCombatantByDiscordUser(ctx context.Context, sessionID, discordUserID string) (*Combatant, error)
	// SetInitiativeRoll reports false when the combatant is not part of the session.
	SetInitiativeRoll(ctx context.Context, sessionID, combatantID string, roll int) (bool, error)
	// SetActiveTurn flags one combatant; it reports false when the combatant is not part of the session.
	SetActiveTurn(ctx context.Context, sessionID, combatantID string) (bool, error)
	// ClearActiveTurns unsets the active flag on every combatant of the session.
	ClearActiveTurns(ctx context.Context, sessionID string) (int64, error)
	UpdateCombatantHP(ctx context.Context, id string, hp int) error
	DeleteCombatant(ctx context.Context, id string) (bool, error)
	DeleteCombatantsBySession(ctx context.Context, sessionID string) (int64, error)
}
