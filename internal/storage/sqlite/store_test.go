package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"combatd/internal/combat"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "combat.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newSession(id, channel string, state combat.State) *combat.Session {
	now := time.Now().UTC()
	return &combat.Session{
		ID:               id,
		ChannelID:        channel,
		DMUserID:         "dm",
		State:            state,
		CurrentTurnIndex: -1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func newNPC(id, sessionID string, mob int64) *combat.Combatant {
	now := time.Now().UTC()
	return &combat.Combatant{
		ID:              id,
		SessionID:       sessionID,
		Type:            combat.TypeNPC,
		Allegiance:      combat.AllegianceHostile,
		Name:            "Goblin " + id,
		MobDefinitionID: &mob,
		MaxHP:           10,
		CurrentHP:       10,
		InitiativeBase:  2,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func inTx(t *testing.T, store *Store, fn func(tx combat.Tx) error) {
	t.Helper()
	if err := store.WithinTx(context.Background(), fn); err != nil {
		t.Fatalf("tx: %v", err)
	}
}

func TestOpenAppliesMigrationsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "combat.db")
	for i := 0; i < 2; i++ {
		store, err := Open(context.Background(), path)
		if err != nil {
			t.Fatalf("open run %d: %v", i, err)
		}
		store.Close()
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestSessionRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	inTx(t, store, func(tx combat.Tx) error {
		s := newSession("s1", "C1", combat.StateSetup)
		if err := tx.InsertSession(ctx, s); err != nil {
			return err
		}
		msg := "m-1"
		s.MessageID = &msg
		s.State = combat.StateRunning
		s.TurnOrder = []string{"a", "b"}
		s.CurrentTurnIndex = 1
		return tx.UpdateSession(ctx, s)
	})

	inTx(t, store, func(tx combat.Tx) error {
		got, err := tx.GetSession(ctx, "s1")
		if err != nil {
			return err
		}
		if got.State != combat.StateRunning || got.CurrentTurnIndex != 1 {
			t.Fatalf("unexpected session: %+v", got)
		}
		if got.MessageID == nil || *got.MessageID != "m-1" {
			t.Fatalf("expected message id m-1, got %v", got.MessageID)
		}
		if len(got.TurnOrder) != 2 || got.TurnOrder[0] != "a" || got.TurnOrder[1] != "b" {
			t.Fatalf("unexpected turn order %v", got.TurnOrder)
		}
		if _, err := tx.GetSession(ctx, "missing"); !errors.Is(err, combat.ErrNoRecord) {
			t.Fatalf("expected ErrNoRecord, got %v", err)
		}
		return nil
	})
}

func TestActiveSessionUniquePerChannel(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	inTx(t, store, func(tx combat.Tx) error {
		return tx.InsertSession(ctx, newSession("s1", "C1", combat.StateSetup))
	})

	err := store.WithinTx(ctx, func(tx combat.Tx) error {
		return tx.InsertSession(ctx, newSession("s2", "C1", combat.StateSetup))
	})
	if !errors.Is(err, combat.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	var conflict *combat.Error
	if !errors.As(err, &conflict) || conflict.Metadata["sessionId"] != "s1" {
		t.Fatalf("expected conflict to name s1, got %v", err)
	}

	// ended sessions do not occupy the channel
	inTx(t, store, func(tx combat.Tx) error {
		return tx.InsertSession(ctx, newSession("s3", "C1", combat.StateEnded))
	})
	inTx(t, store, func(tx combat.Tx) error {
		active, err := tx.FindActiveSession(ctx, "C1")
		if err != nil {
			return err
		}
		if active.ID != "s1" {
			t.Fatalf("expected s1 active, got %s", active.ID)
		}
		ended := combat.StateEnded
		list, err := tx.ListSessions(ctx, "C1", &ended)
		if err != nil {
			return err
		}
		if len(list) != 1 || list[0].ID != "s3" {
			t.Fatalf("unexpected ended list: %v", list)
		}
		all, err := tx.ListSessions(ctx, "C1", nil)
		if err != nil {
			return err
		}
		if len(all) != 2 {
			t.Fatalf("expected 2 sessions, got %d", len(all))
		}
		return nil
	})
}

func TestAppendLogKeepsNewestEntries(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	inTx(t, store, func(tx combat.Tx) error {
		return tx.InsertSession(ctx, newSession("s1", "C1", combat.StateSetup))
	})
	for i := 0; i < 60; i++ {
		entry := fmt.Sprintf("entry %d", i)
		inTx(t, store, func(tx combat.Tx) error {
			return tx.AppendLog(ctx, "s1", entry, 50)
		})
	}

	inTx(t, store, func(tx combat.Tx) error {
		got, err := tx.GetSession(ctx, "s1")
		if err != nil {
			return err
		}
		if len(got.CombatLog) != 50 {
			t.Fatalf("expected 50 entries, got %d", len(got.CombatLog))
		}
		for i, entry := range got.CombatLog {
			if want := fmt.Sprintf("entry %d", i+10); entry != want {
				t.Fatalf("entry %d: expected %q, got %q", i, want, entry)
			}
		}
		return nil
	})
}

func TestCombatantQueriesAndFlags(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	inTx(t, store, func(tx combat.Tx) error {
		if err := tx.InsertSession(ctx, newSession("s1", "C1", combat.StateRunning)); err != nil {
			return err
		}
		if err := tx.InsertSession(ctx, newSession("s2", "C2", combat.StateRunning)); err != nil {
			return err
		}
		for _, c := range []*combat.Combatant{newNPC("a", "s1", 1), newNPC("b", "s1", 2), newNPC("x", "s2", 3)} {
			if err := tx.InsertCombatant(ctx, c); err != nil {
				return err
			}
		}
		return nil
	})

	inTx(t, store, func(tx combat.Tx) error {
		ok, err := tx.SetInitiativeRoll(ctx, "s1", "x", 18)
		if err != nil {
			return err
		}
		if ok {
			t.Fatal("expected initiative write for foreign combatant to be rejected")
		}
		if ok, err = tx.SetActiveTurn(ctx, "s1", "a"); err != nil || !ok {
			t.Fatalf("set active: ok=%v err=%v", ok, err)
		}
		if _, err := tx.SetActiveTurn(ctx, "s1", "b"); err != nil {
			return err
		}
		cleared, err := tx.ClearActiveTurns(ctx, "s1")
		if err != nil {
			return err
		}
		if cleared != 2 {
			t.Fatalf("expected 2 flags cleared, got %d", cleared)
		}
		if err := tx.UpdateCombatantHP(ctx, "a", 99); err != nil {
			return err
		}
		a, err := tx.GetCombatant(ctx, "a")
		if err != nil {
			return err
		}
		if a.CurrentHP != 10 {
			t.Fatalf("expected hp clamped to 10, got %d", a.CurrentHP)
		}
		list, err := tx.ListCombatants(ctx, "s1")
		if err != nil {
			return err
		}
		if len(list) != 2 {
			t.Fatalf("expected 2 combatants, got %d", len(list))
		}
		return nil
	})
}

func TestReopenConflictNamesActiveSession(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	inTx(t, store, func(tx combat.Tx) error {
		if err := tx.InsertSession(ctx, newSession("old", "C1", combat.StateEnded)); err != nil {
			return err
		}
		return tx.InsertSession(ctx, newSession("new", "C1", combat.StateSetup))
	})

	err := store.WithinTx(ctx, func(tx combat.Tx) error {
		s, err := tx.GetSession(ctx, "old")
		if err != nil {
			return err
		}
		s.State = combat.StateRunning
		return tx.UpdateSession(ctx, s)
	})
	var conflict *combat.Error
	if !errors.As(err, &conflict) || conflict.Kind != combat.KindConflict || conflict.Metadata["sessionId"] != "new" {
		t.Fatalf("expected conflict naming new, got %v", err)
	}
}

func TestListCombatantsKeepsInsertionOrder(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	stamp := time.UnixMilli(1_700_000_000_000).UTC()
	ids := []string{"f", "b", "e", "a", "d", "c"}

	inTx(t, store, func(tx combat.Tx) error {
		if err := tx.InsertSession(ctx, newSession("s1", "C1", combat.StateSetup)); err != nil {
			return err
		}
		for i, id := range ids {
			c := newNPC(id, "s1", int64(i))
			c.CreatedAt, c.UpdatedAt = stamp, stamp
			if err := tx.InsertCombatant(ctx, c); err != nil {
				return err
			}
		}
		return nil
	})

	inTx(t, store, func(tx combat.Tx) error {
		list, err := tx.ListCombatants(ctx, "s1")
		if err != nil {
			return err
		}
		if len(list) != len(ids) {
			t.Fatalf("expected %d combatants, got %d", len(ids), len(list))
		}
		for i, c := range list {
			if c.ID != ids[i] {
				t.Fatalf("position %d: expected %s, got %s", i, ids[i], c.ID)
			}
		}
		return nil
	})
}

func TestDuplicatePlayerRejectedByIndex(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	player := int64(7)
	user := "U7"

	inTx(t, store, func(tx combat.Tx) error {
		if err := tx.InsertSession(ctx, newSession("s1", "C1", combat.StateSetup)); err != nil {
			return err
		}
		c := newNPC("a", "s1", 1)
		c.Type, c.MobDefinitionID, c.PlayerID, c.DiscordUserID = combat.TypePlayer, nil, &player, &user
		return tx.InsertCombatant(ctx, c)
	})

	err := store.WithinTx(ctx, func(tx combat.Tx) error {
		c := newNPC("b", "s1", 1)
		c.Type, c.MobDefinitionID, c.PlayerID = combat.TypePlayer, nil, &player
		return tx.InsertCombatant(ctx, c)
	})
	if !errors.Is(err, combat.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestDeleteSessionRemovesChildren(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	inTx(t, store, func(tx combat.Tx) error {
		if err := tx.InsertSession(ctx, newSession("s1", "C1", combat.StateSetup)); err != nil {
			return err
		}
		if err := tx.AppendLog(ctx, "s1", "hello", 50); err != nil {
			return err
		}
		return tx.InsertCombatant(ctx, newNPC("a", "s1", 1))
	})

	inTx(t, store, func(tx combat.Tx) error {
		deleted, err := tx.DeleteSession(ctx, "s1")
		if err != nil {
			return err
		}
		if !deleted {
			t.Fatal("expected session deleted")
		}
		if _, err := tx.GetCombatant(ctx, "a"); !errors.Is(err, combat.ErrNoRecord) {
			t.Fatalf("expected combatant cascade-deleted, got %v", err)
		}
		deleted, err = tx.DeleteSession(ctx, "s1")
		if err != nil {
			return err
		}
		if deleted {
			t.Fatal("expected second delete to report nothing removed")
		}
		return nil
	})
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithinTx(ctx, func(tx combat.Tx) error {
		if err := tx.InsertSession(ctx, newSession("s1", "C1", combat.StateSetup)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	inTx(t, store, func(tx combat.Tx) error {
		if _, err := tx.GetSession(ctx, "s1"); !errors.Is(err, combat.ErrNoRecord) {
			t.Fatalf("expected rollback, got %v", err)
		}
		return nil
	})
}
