package combat

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// GetSession returns a session by id, optionally with its combatants.
func (s *Service) GetSession(ctx context.Context, sessionID string, withCombatants bool) (_ *Session, err error) {
	ctx, span := s.startSpan(ctx, "GetSession", attribute.String("session.id", sessionID))
	defer func() { endSpan(span, err) }()

	var session *Session
	err = s.store.WithinTx(ctx, func(tx Tx) error {
		session, err = loadSession(ctx, tx, sessionID, withCombatants)
		if errors.Is(err, ErrNoRecord) {
			return notFoundf("Combat session not found.")
		}
		return err
	})
	return session, err
}

// ActiveSession returns the SETUP or RUNNING session of a channel with its combatants.
func (s *Service) ActiveSession(ctx context.Context, channelID string) (_ *Session, err error) {
	ctx, span := s.startSpan(ctx, "ActiveSession", attribute.String("channel.id", channelID))
	defer func() { endSpan(span, err) }()

	var session *Session
	err = s.store.WithinTx(ctx, func(tx Tx) error {
		active, err := tx.FindActiveSession(ctx, strings.TrimSpace(channelID))
		if err != nil {
			if errors.Is(err, ErrNoRecord) {
				return notFoundf("No active combat session found for this channel.")
			}
			return err
		}
		session, err = loadSession(ctx, tx, active.ID, true)
		return err
	})
	return session, err
}

// ListSessions returns every session of a channel, newest first, optionally
// restricted to one state.
func (s *Service) ListSessions(ctx context.Context, channelID string, state *State) (_ []*Session, err error) {
	ctx, span := s.startSpan(ctx, "ListSessions", attribute.String("channel.id", channelID))
	defer func() { endSpan(span, err) }()

	sessions := []*Session{}
	err = s.store.WithinTx(ctx, func(tx Tx) error {
		found, err := tx.ListSessions(ctx, strings.TrimSpace(channelID), state)
		if err != nil {
			return err
		}
		for _, session := range found {
			combatants, err := tx.ListCombatants(ctx, session.ID)
			if err != nil {
				return err
			}
			session.Combatants = combatants
			sessions = append(sessions, session)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// ListCombatants returns the combatants of a session in creation order. An
// unknown session yields an empty list.
func (s *Service) ListCombatants(ctx context.Context, sessionID string) (_ []*Combatant, err error) {
	ctx, span := s.startSpan(ctx, "ListCombatants", attribute.String("session.id", sessionID))
	defer func() { endSpan(span, err) }()

	var combatants []*Combatant
	err = s.store.WithinTx(ctx, func(tx Tx) error {
		combatants, err = tx.ListCombatants(ctx, sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return combatants, nil
}

// GetCombatant returns one combatant by id.
func (s *Service) GetCombatant(ctx context.Context, combatantID string) (_ *Combatant, err error) {
	ctx, span := s.startSpan(ctx, "GetCombatant", attribute.String("combatant.id", combatantID))
	defer func() { endSpan(span, err) }()

	var combatant *Combatant
	err = s.store.WithinTx(ctx, func(tx Tx) error {
		combatant, err = tx.GetCombatant(ctx, combatantID)
		if errors.Is(err, ErrNoRecord) {
			return notFoundf("Combatant not found.")
		}
		return err
	})
	return combatant, err
}

// CombatantByDiscordUser returns the combatant a chat user controls in a session.
func (s *Service) CombatantByDiscordUser(ctx context.Context, sessionID, discordUserID string) (_ *Combatant, err error) {
	ctx, span := s.startSpan(ctx, "CombatantByDiscordUser", attribute.String("session.id", sessionID))
	defer func() { endSpan(span, err) }()

	var combatant *Combatant
	err = s.store.WithinTx(ctx, func(tx Tx) error {
		combatant, err = tx.FindCombatantByDiscordUser(ctx, sessionID, strings.TrimSpace(discordUserID))
		if errors.Is(err, ErrNoRecord) {
			return notFoundf("Combatant not found for this user in this session.")
		}
		return err
	})
	return combatant, err
}
