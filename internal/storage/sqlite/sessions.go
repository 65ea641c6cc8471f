package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"combatd/internal/combat"
)

const sessionColumns = `id, channel_id, dm_user_id, state, message_id, current_turn_index, turn_order, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*combat.Session, error) {
	var (
		session   combat.Session
		state     string
		messageID sql.NullString
		turnOrder string
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(
		&session.ID,
		&session.ChannelID,
		&session.DMUserID,
		&state,
		&messageID,
		&session.CurrentTurnIndex,
		&turnOrder,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	session.State = combat.State(state)
	session.MessageID = stringPtr(messageID)
	session.CreatedAt = fromMillis(createdAt)
	session.UpdatedAt = fromMillis(updatedAt)
	session.TurnOrder = []string{}
	if turnOrder != "" {
		if err := json.Unmarshal([]byte(turnOrder), &session.TurnOrder); err != nil {
			return nil, fmt.Errorf("decode turn order for session %s: %w", session.ID, err)
		}
	}
	return &session, nil
}

func encodeTurnOrder(order []string) (string, error) {
	if order == nil {
		order = []string{}
	}
	raw, err := json.Marshal(order)
	if err != nil {
		return "", fmt.Errorf("encode turn order: %w", err)
	}
	return string(raw), nil
}

// InsertSession stores a new session row.
func (t *txStore) InsertSession(ctx context.Context, session *combat.Session) error {
	turnOrder, err := encodeTurnOrder(session.TurnOrder)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO combat_sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.ChannelID,
		session.DMUserID,
		string(session.State),
		nullString(session.MessageID),
		session.CurrentTurnIndex,
		turnOrder,
		toMillis(session.CreatedAt),
		toMillis(session.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return t.activeSessionConflict(ctx, session.ChannelID, session.ID)
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession loads one session with its log.
func (t *txStore) GetSession(ctx context.Context, id string) (*combat.Session, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM combat_sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, combat.ErrNoRecord
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session.CombatLog, err = t.loadLog(ctx, session.ID); err != nil {
		return nil, err
	}
	return session, nil
}

// FindActiveSession returns the SETUP or RUNNING session of a channel.
func (t *txStore) FindActiveSession(ctx context.Context, channelID string) (*combat.Session, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM combat_sessions
		 WHERE channel_id = ? AND state IN (?, ?)
		 ORDER BY created_at DESC LIMIT 1`,
		channelID, string(combat.StateSetup), string(combat.StateRunning),
	)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, combat.ErrNoRecord
		}
		return nil, fmt.Errorf("find active session: %w", err)
	}
	if session.CombatLog, err = t.loadLog(ctx, session.ID); err != nil {
		return nil, err
	}
	return session, nil
}

// ListSessions returns the sessions of a channel, newest first.
func (t *txStore) ListSessions(ctx context.Context, channelID string, state *combat.State) ([]*combat.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM combat_sessions WHERE channel_id = ?`
	args := []any{channelID}
	if state != nil {
		query += ` AND state = ?`
		args = append(args, string(*state))
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var sessions []*combat.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	rows.Close()

	for _, session := range sessions {
		if session.CombatLog, err = t.loadLog(ctx, session.ID); err != nil {
			return nil, err
		}
	}
	return sessions, nil
}

// UpdateSession writes the mutable session columns.
func (t *txStore) UpdateSession(ctx context.Context, session *combat.Session) error {
	turnOrder, err := encodeTurnOrder(session.TurnOrder)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE combat_sessions
		 SET state = ?, message_id = ?, current_turn_index = ?, turn_order = ?, updated_at = ?
		 WHERE id = ?`,
		string(session.State),
		nullString(session.MessageID),
		session.CurrentTurnIndex,
		turnOrder,
		toMillis(session.UpdatedAt),
		session.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return t.activeSessionConflict(ctx, session.ChannelID, session.ID)
		}
		return fmt.Errorf("update session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return combat.ErrNoRecord
	}
	return nil
}

// activeSessionConflict reports the SETUP or RUNNING session that already
// occupies channelID, other than self.
func (t *txStore) activeSessionConflict(ctx context.Context, channelID, self string) error {
	var existing string
	err := t.tx.QueryRowContext(ctx,
		`SELECT id FROM combat_sessions WHERE channel_id = ? AND state <> ? AND id <> ? LIMIT 1`,
		channelID, string(combat.StateEnded), self,
	).Scan(&existing)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return combat.NewConflict("An active combat session already exists in this channel.", nil)
		}
		return fmt.Errorf("find conflicting session: %w", err)
	}
	return combat.NewConflict(
		"An active combat session already exists in this channel (ID: "+existing+").",
		map[string]string{"sessionId": existing},
	)
}

// AppendLog inserts entry and trims the session log to the newest keep rows.
func (t *txStore) AppendLog(ctx context.Context, sessionID, entry string, keep int) error {
	if _, err := t.tx.ExecContext(ctx,
		`INSERT INTO combat_log_entries (session_id, entry, created_at) VALUES (?, ?, ?)`,
		sessionID, entry, toMillis(time.Now()),
	); err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	if keep <= 0 {
		return nil
	}
	if _, err := t.tx.ExecContext(ctx,
		`DELETE FROM combat_log_entries
		 WHERE session_id = ? AND id NOT IN (
		   SELECT id FROM combat_log_entries WHERE session_id = ? ORDER BY id DESC LIMIT ?
		 )`,
		sessionID, sessionID, keep,
	); err != nil {
		return fmt.Errorf("trim log: %w", err)
	}
	return nil
}

func (t *txStore) loadLog(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT entry FROM combat_log_entries WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load log: %w", err)
	}
	defer rows.Close()

	entries := []string{}
	for rows.Next() {
		var entry string
		if err := rows.Scan(&entry); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load log: %w", err)
	}
	return entries, nil
}

// DeleteSession removes a session and its log entries.
func (t *txStore) DeleteSession(ctx context.Context, id string) (bool, error) {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM combat_log_entries WHERE session_id = ?`, id); err != nil {
		return false, fmt.Errorf("delete session log: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, `DELETE FROM combat_sessions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	return n > 0, nil
}
