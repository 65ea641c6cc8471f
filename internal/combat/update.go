package combat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

const (
	fieldMessageID        = "messageId"
	fieldCurrentTurnIndex = "currentTurnIndex"
	fieldCombatLogEntry   = "combatLogEntry"
	fieldState            = "state"
)

// sessionChanges is the validated subset of a SessionPatch.
type sessionChanges struct {
	setMessageID bool
	messageID    *string
	turnIndex    *int
	logEntry     *string
	state        *State
}

func (c sessionChanges) empty() bool {
	return !c.setMessageID && c.turnIndex == nil && c.logEntry == nil && c.state == nil
}

// UpdateSession applies the valid fields of patch. Unknown or invalid fields
// are logged and skipped; the call fails only when nothing usable remains.
// No transition guard applies here: a state field overwrites the state
// directly and is audited the same way ForceState is.
func (s *Service) UpdateSession(ctx context.Context, sessionID string, patch SessionPatch) (_ *Session, err error) {
	ctx, span := s.startSpan(ctx, "UpdateSession", attribute.String("session.id", sessionID))
	defer func() { endSpan(span, err) }()

	var updated *Session
	err = s.store.WithinTx(ctx, func(tx Tx) error {
		session, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			if errors.Is(err, ErrNoRecord) {
				return notFoundf("Combat session not found.")
			}
			return err
		}

		changes := s.readPatch(session, patch)
		if changes.empty() {
			return validationf("No updatable fields provided in request body.")
		}

		if changes.setMessageID {
			session.MessageID = changes.messageID
		}
		if changes.turnIndex != nil {
			session.CurrentTurnIndex = *changes.turnIndex
		}
		previous := session.State
		if changes.state != nil {
			session.State = *changes.state
		}
		session.UpdatedAt = s.timestamp()
		if err := tx.UpdateSession(ctx, session); err != nil {
			return err
		}
		if changes.state != nil {
			if err := s.recordStateOverride(ctx, tx, sessionID, previous, session.State); err != nil {
				return err
			}
		}
		if changes.logEntry != nil {
			if err := tx.AppendLog(ctx, sessionID, *changes.logEntry, s.logRetention); err != nil {
				return err
			}
		}

		updated, err = loadSession(ctx, tx, sessionID, true)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) readPatch(session *Session, patch SessionPatch) sessionChanges {
	var changes sessionChanges

	keys := make([]string, 0, len(patch))
	for key := range patch {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := patch[key]
		var problem string
		switch key {
		case fieldMessageID:
			switch v := value.(type) {
			case nil:
				changes.setMessageID = true
			case string:
				changes.setMessageID = true
				changes.messageID = &v
			default:
				problem = "must be a string or null"
			}
		case fieldCurrentTurnIndex:
			idx, ok := asInt(value)
			switch {
			case !ok:
				problem = "must be an integer"
			case idx < -1:
				problem = "must be -1 or greater"
			case session.State == StateEnded:
				problem = "session has ended"
			default:
				changes.turnIndex = &idx
			}
		case fieldCombatLogEntry:
			entry, ok := value.(string)
			entry = strings.TrimSpace(entry)
			if !ok || entry == "" {
				problem = "must be a non-empty string"
			} else {
				changes.logEntry = &entry
			}
		case fieldState:
			raw, _ := value.(string)
			state, ok := ParseState(raw)
			if !ok {
				problem = "must be one of SETUP, RUNNING, ENDED"
			} else {
				changes.state = &state
			}
		default:
			problem = "unknown field"
		}
		if problem != "" {
			s.logger.Warn("ignoring session update field",
				slog.String("session", session.ID),
				slog.String("field", key),
				slog.String("reason", problem))
		}
	}
	return changes
}

// asInt accepts the integral numeric forms a decoded JSON value can take.
func asInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || v > math.MaxInt32 || v < math.MinInt32 {
			return 0, false
		}
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}

// ForceState overwrites a session's state without any transition guard. It is
// an operator correction tool, not part of normal play.
func (s *Service) ForceState(ctx context.Context, sessionID string, state State) (_ *Session, err error) {
	ctx, span := s.startSpan(ctx, "ForceState",
		attribute.String("session.id", sessionID),
		attribute.String("session.state", string(state)))
	defer func() { endSpan(span, err) }()

	parsed, ok := ParseState(string(state))
	if !ok {
		return nil, validationf("Invalid state %q.", state)
	}
	state = parsed

	var updated *Session
	err = s.store.WithinTx(ctx, func(tx Tx) error {
		session, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			if errors.Is(err, ErrNoRecord) {
				return notFoundf("Combat session not found.")
			}
			return err
		}
		previous := session.State
		session.State = state
		session.UpdatedAt = s.timestamp()
		if err := tx.UpdateSession(ctx, session); err != nil {
			return err
		}
		if err := s.recordStateOverride(ctx, tx, sessionID, previous, state); err != nil {
			return err
		}

		updated, err = loadSession(ctx, tx, sessionID, true)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// recordStateOverride audits an unguarded state write in the combat log. It
// runs inside the transaction that persisted the new state.
func (s *Service) recordStateOverride(ctx context.Context, tx Tx, sessionID string, from, to State) error {
	entry := fmt.Sprintf("--- State forced: %s -> %s ---", from, to)
	if err := tx.AppendLog(ctx, sessionID, entry, s.logRetention); err != nil {
		return err
	}
	s.logger.Warn("session state forced",
		slog.String("session", sessionID),
		slog.String("from", string(from)),
		slog.String("to", string(to)))
	return nil
}
