package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"combatd/internal/combat"
)

const combatantColumns = `id, session_id, type, allegiance, name, player_id, mob_definition_id, discord_user_id,
	max_hp, current_hp, initiative_base, initiative_roll, is_active_turn, created_at, updated_at`

func scanCombatant(row rowScanner) (*combat.Combatant, error) {
	var (
		c              combat.Combatant
		kind           string
		allegiance     string
		playerID       sql.NullInt64
		mobID          sql.NullInt64
		discordUserID  sql.NullString
		initiativeRoll sql.NullInt64
		active         int
		createdAt      int64
		updatedAt      int64
	)
	if err := row.Scan(
		&c.ID,
		&c.SessionID,
		&kind,
		&allegiance,
		&c.Name,
		&playerID,
		&mobID,
		&discordUserID,
		&c.MaxHP,
		&c.CurrentHP,
		&c.InitiativeBase,
		&initiativeRoll,
		&active,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	c.Type = combat.CombatantType(kind)
	c.Allegiance = combat.Allegiance(allegiance)
	c.PlayerID = int64Ptr(playerID)
	c.MobDefinitionID = int64Ptr(mobID)
	c.DiscordUserID = stringPtr(discordUserID)
	c.InitiativeRoll = intPtr(initiativeRoll)
	c.IsActiveTurn = active != 0
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updatedAt)
	return &c, nil
}

func boolInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

// InsertCombatant stores a new combatant row.
func (t *txStore) InsertCombatant(ctx context.Context, c *combat.Combatant) error {
	var roll sql.NullInt64
	if c.InitiativeRoll != nil {
		roll = sql.NullInt64{Int64: int64(*c.InitiativeRoll), Valid: true}
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO combatants (`+combatantColumns+`, seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM combatants))`,
		c.ID,
		c.SessionID,
		string(c.Type),
		string(c.Allegiance),
		c.Name,
		nullInt64(c.PlayerID),
		nullInt64(c.MobDefinitionID),
		nullString(c.DiscordUserID),
		c.MaxHP,
		combat.ClampHP(c.CurrentHP, c.MaxHP),
		c.InitiativeBase,
		roll,
		boolInt(c.IsActiveTurn),
		toMillis(c.CreatedAt),
		toMillis(c.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return combat.NewConflict("This participant is already part of the combat session.", nil)
		}
		return fmt.Errorf("insert combatant: %w", err)
	}
	return nil
}

func (t *txStore) queryCombatant(ctx context.Context, op, where string, args ...any) (*combat.Combatant, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+combatantColumns+` FROM combatants WHERE `+where+` LIMIT 1`, args...)
	c, err := scanCombatant(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, combat.ErrNoRecord
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

// GetCombatant loads one combatant by id.
func (t *txStore) GetCombatant(ctx context.Context, id string) (*combat.Combatant, error) {
	return t.queryCombatant(ctx, "get combatant", `id = ?`, id)
}

// FindCombatantByPlayer looks up a player-backed combatant in a session.
func (t *txStore) FindCombatantByPlayer(ctx context.Context, sessionID string, playerID int64) (*combat.Combatant, error) {
	return t.queryCombatant(ctx, "find combatant by player", `session_id = ? AND player_id = ?`, sessionID, playerID)
}

// FindCombatantByDiscordUser looks up the combatant a chat user controls in a session.
func (t *txStore) FindCombatantByDiscordUser(ctx context.Context, sessionID, discordUserID string) (*combat.Combatant, error) {
	return t.queryCombatant(ctx, "find combatant by user", `session_id = ? AND discord_user_id = ?`, sessionID, discordUserID)
}

// ListCombatants returns the combatants of a session in insertion order.
func (t *txStore) ListCombatants(ctx context.Context, sessionID string) ([]*combat.Combatant, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+combatantColumns+` FROM combatants WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list combatants: %w", err)
	}
	defer rows.Close()

	combatants := []*combat.Combatant{}
	for rows.Next() {
		c, err := scanCombatant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan combatant: %w", err)
		}
		combatants = append(combatants, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list combatants: %w", err)
	}
	return combatants, nil
}

func (t *txStore) execAffected(ctx context.Context, op, query string, args ...any) (int64, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// SetInitiativeRoll records a combatant's rolled initiative.
func (t *txStore) SetInitiativeRoll(ctx context.Context, sessionID, combatantID string, roll int) (bool, error) {
	n, err := t.execAffected(ctx, "set initiative roll",
		`UPDATE combatants SET initiative_roll = ?, updated_at = ? WHERE id = ? AND session_id = ?`,
		roll, toMillis(time.Now()), combatantID, sessionID)
	return n > 0, err
}

// SetActiveTurn flags one combatant of the session as holding the turn.
func (t *txStore) SetActiveTurn(ctx context.Context, sessionID, combatantID string) (bool, error) {
	n, err := t.execAffected(ctx, "set active turn",
		`UPDATE combatants SET is_active_turn = 1, updated_at = ? WHERE id = ? AND session_id = ?`,
		toMillis(time.Now()), combatantID, sessionID)
	return n > 0, err
}

// ClearActiveTurns unsets the active flag on every flagged combatant of the session.
func (t *txStore) ClearActiveTurns(ctx context.Context, sessionID string) (int64, error) {
	return t.execAffected(ctx, "clear active turns",
		`UPDATE combatants SET is_active_turn = 0, updated_at = ? WHERE session_id = ? AND is_active_turn <> 0`,
		toMillis(time.Now()), sessionID)
}

// UpdateCombatantHP writes current HP, clamped against the stored max HP.
func (t *txStore) UpdateCombatantHP(ctx context.Context, id string, hp int) error {
	n, err := t.execAffected(ctx, "update combatant hp",
		`UPDATE combatants SET current_hp = MAX(0, MIN(max_hp, ?)), updated_at = ? WHERE id = ?`,
		hp, toMillis(time.Now()), id)
	if err != nil {
		return err
	}
	if n == 0 {
		return combat.ErrNoRecord
	}
	return nil
}

// DeleteCombatant removes one combatant.
func (t *txStore) DeleteCombatant(ctx context.Context, id string) (bool, error) {
	n, err := t.execAffected(ctx, "delete combatant", `DELETE FROM combatants WHERE id = ?`, id)
	return n > 0, err
}

// DeleteCombatantsBySession removes every combatant of a session.
func (t *txStore) DeleteCombatantsBySession(ctx context.Context, sessionID string) (int64, error) {
	return t.execAffected(ctx, "delete session combatants", `DELETE FROM combatants WHERE session_id = ?`, sessionID)
}
