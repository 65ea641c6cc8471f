package combat

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestClampHP(t *testing.T) {
	tests := []struct {
		hp, max, want int
	}{
		{hp: -1, max: 10, want: 0},
		{hp: 0, max: 10, want: 0},
		{hp: 7, max: 10, want: 7},
		{hp: 10, max: 10, want: 10},
		{hp: 11, max: 10, want: 10},
		{hp: 5, max: -3, want: 0},
	}
	for _, tt := range tests {
		if got := ClampHP(tt.hp, tt.max); got != tt.want {
			t.Errorf("ClampHP(%d, %d) = %d, want %d", tt.hp, tt.max, got, tt.want)
		}
	}
}

func TestParseState(t *testing.T) {
	tests := []struct {
		raw  string
		want State
		ok   bool
	}{
		{raw: "SETUP", want: StateSetup, ok: true},
		{raw: " running ", want: StateRunning, ok: true},
		{raw: "Ended", want: StateEnded, ok: true},
		{raw: "PAUSED", ok: false},
		{raw: "", ok: false},
	}
	for _, tt := range tests {
		got, ok := ParseState(tt.raw)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseState(%q) = %q, %v; want %q, %v", tt.raw, got, ok, tt.want, tt.ok)
		}
	}
	if StateEnded.Active() || !StateSetup.Active() || !StateRunning.Active() {
		t.Fatal("unexpected Active result")
	}
}

func TestNextTurn(t *testing.T) {
	present := map[string]*Combatant{
		"a": {ID: "a"},
		"c": {ID: "c"},
	}
	order := []string{"a", "b", "c"}

	tests := []struct {
		name    string
		current int
		wantIdx int
		wantID  string
	}{
		{name: "from a skips removed b", current: 0, wantIdx: 2, wantID: "c"},
		{name: "wraps from last", current: 2, wantIdx: 0, wantID: "a"},
		{name: "unset index starts at top", current: -1, wantIdx: 0, wantID: "a"},
		{name: "out of range starts at top", current: 9, wantIdx: 0, wantID: "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, c := nextTurn(order, tt.current, present)
			if idx != tt.wantIdx || c == nil || c.ID != tt.wantID {
				t.Fatalf("got %d, %v; want %d, %s", idx, c, tt.wantIdx, tt.wantID)
			}
		})
	}

	if idx, c := nextTurn(order, 0, map[string]*Combatant{}); idx != -1 || c != nil {
		t.Fatalf("expected no next turn, got %d, %v", idx, c)
	}
}

func TestAsInt(t *testing.T) {
	tests := []struct {
		value any
		want  int
		ok    bool
	}{
		{value: 3, want: 3, ok: true},
		{value: int64(4), want: 4, ok: true},
		{value: float64(2), want: 2, ok: true},
		{value: json.Number("7"), want: 7, ok: true},
		{value: 1.5, ok: false},
		{value: json.Number("x"), ok: false},
		{value: "3", ok: false},
		{value: nil, ok: false},
		{value: 1e12, ok: false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v", tt.value), func(t *testing.T) {
			got, ok := asInt(tt.value)
			if ok != tt.ok || (ok && got != tt.want) {
				t.Fatalf("asInt(%v) = %d, %v; want %d, %v", tt.value, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewConflict("taken", map[string]string{"sessionId": "s1"}))
	if !errors.Is(err, ErrConflict) {
		t.Fatal("expected conflict to match sentinel")
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatal("conflict must not match not found")
	}
	if KindOf(err) != KindConflict {
		t.Fatalf("expected conflict kind, got %q", KindOf(err))
	}
	if KindOf(errors.New("disk full")) != "" {
		t.Fatal("expected empty kind for internal error")
	}
	if KindOf(validationf("bad %s", "input")) != KindValidation {
		t.Fatal("expected validation kind")
	}
}

func TestValidateSpecNormalizes(t *testing.T) {
	player, mob, user := int64(1), int64(2), "  U1 "
	spec := CombatantSpec{
		SessionID:       " s1 ",
		Type:            TypePlayer,
		Allegiance:      AllegiancePlayerSide,
		Name:            " Aria ",
		PlayerID:        &player,
		MobDefinitionID: &mob,
		DiscordUserID:   &user,
		MaxHP:           10,
	}
	if err := validateSpec(&spec); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if spec.SessionID != "s1" || spec.Name != "Aria" || *spec.DiscordUserID != "U1" {
		t.Fatalf("expected trimmed fields, got %+v", spec)
	}
	if spec.MobDefinitionID != nil {
		t.Fatal("player spec should drop mob definition")
	}

	spec.MaxHP = 0
	if err := validateSpec(&spec); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for zero max hp, got %v", err)
	}
}
