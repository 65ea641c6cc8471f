package combat

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
)

// AdvanceTurn moves a RUNNING session to the next combatant in its turn order,
// wrapping at the end. Combatants removed since the start are skipped. The
// index change, the active-turn flags and the log entry commit together.
func (s *Service) AdvanceTurn(ctx context.Context, sessionID string) (_ *Session, err error) {
	ctx, span := s.startSpan(ctx, "AdvanceTurn", attribute.String("session.id", sessionID))
	defer func() { endSpan(span, err) }()

	var advanced *Session
	err = s.store.WithinTx(ctx, func(tx Tx) error {
		session, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			if errors.Is(err, ErrNoRecord) {
				return notFoundf("Combat session not found.")
			}
			return err
		}
		if session.State != StateRunning {
			return invalidStatef("Turns can only advance during a running combat.")
		}
		if len(session.TurnOrder) == 0 {
			return invalidStatef("Combat session has no turn order.")
		}

		combatants, err := tx.ListCombatants(ctx, sessionID)
		if err != nil {
			return err
		}
		byID := make(map[string]*Combatant, len(combatants))
		for _, c := range combatants {
			byID[c.ID] = c
		}

		next, current := nextTurn(session.TurnOrder, session.CurrentTurnIndex, byID)
		if current == nil {
			return invalidStatef("No combatants in the turn order remain in this session.")
		}

		session.CurrentTurnIndex = next
		session.UpdatedAt = s.timestamp()
		if err := tx.UpdateSession(ctx, session); err != nil {
			return err
		}
		if _, err := tx.ClearActiveTurns(ctx, sessionID); err != nil {
			return err
		}
		if _, err := tx.SetActiveTurn(ctx, sessionID, current.ID); err != nil {
			return err
		}
		if err := tx.AppendLog(ctx, sessionID, "Turn: "+current.Name, s.logRetention); err != nil {
			return err
		}

		advanced, err = loadSession(ctx, tx, sessionID, true)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("turn advanced",
		slog.String("session", sessionID),
		slog.Int("turn", advanced.CurrentTurnIndex))
	return advanced, nil
}

// nextTurn returns the index after current whose combatant still exists.
// A negative or out-of-range current index restarts from the top.
func nextTurn(order []string, current int, present map[string]*Combatant) (int, *Combatant) {
	n := len(order)
	start := current + 1
	if current < 0 || current >= n {
		start = 0
	}
	for step := 0; step < n; step++ {
		idx := (start + step) % n
		if c, ok := present[order[idx]]; ok {
			return idx, c
		}
	}
	return -1, nil
}
