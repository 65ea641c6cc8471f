package combat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultLogRetention is the number of persisted log entries kept per session.
const DefaultLogRetention = 50

const (
	logCombatStarted = "--- Combat Started! ---"
	logCombatEnded   = "--- Combat Ended ---"
)

// ServiceConfig holds the dependencies of a Service.
type ServiceConfig struct {
	Store        Store // Required
	Logger       *slog.Logger
	LogRetention int
	Now          func() time.Time
}

// Service is the combat session state machine and its read-side queries.
type Service struct {
	store        Store
	logger       *slog.Logger
	logRetention int
	now          func() time.Time
	tracer       trace.Tracer
}

// NewService creates a Service. It panics when no store is configured.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Store == nil {
		panic("combat: store is required")
	}
	svc := &Service{
		store:        cfg.Store,
		logger:       cfg.Logger,
		logRetention: cfg.LogRetention,
		now:          cfg.Now,
		tracer:       otel.Tracer("combatd/internal/combat"),
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	if svc.logRetention <= 0 {
		svc.logRetention = DefaultLogRetention
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "combat."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC()
}

// Create opens a new SETUP session for channelID. Only one SETUP or RUNNING
// session may exist per channel.
func (s *Service) Create(ctx context.Context, channelID, dmUserID string) (_ *Session, err error) {
	ctx, span := s.startSpan(ctx, "Create", attribute.String("channel.id", channelID))
	defer func() { endSpan(span, err) }()

	channelID = strings.TrimSpace(channelID)
	dmUserID = strings.TrimSpace(dmUserID)
	if channelID == "" || dmUserID == "" {
		return nil, validationf("channelId and dmUserId are required")
	}

	var created *Session
	err = s.store.WithinTx(ctx, func(tx Tx) error {
		existing, err := tx.FindActiveSession(ctx, channelID)
		if err != nil && !errors.Is(err, ErrNoRecord) {
			return err
		}
		if existing != nil {
			return NewConflict(
				"An active combat session already exists in this channel (ID: "+existing.ID+").",
				map[string]string{"sessionId": existing.ID},
			)
		}

		now := s.timestamp()
		session := &Session{
			ID:               uuid.NewString(),
			ChannelID:        channelID,
			DMUserID:         dmUserID,
			State:            StateSetup,
			CurrentTurnIndex: -1,
			TurnOrder:        []string{},
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := tx.InsertSession(ctx, session); err != nil {
			return err
		}
		if err := tx.AppendLog(ctx, session.ID, "Combat setup initiated by DM "+dmUserID, s.logRetention); err != nil {
			return err
		}
		created, err = loadSession(ctx, tx, session.ID, true)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("combat session created",
		slog.String("session", created.ID),
		slog.String("channel", channelID),
		slog.String("dm", dmUserID))
	return created, nil
}

// AddCombatant admits a combatant to a session that is still in SETUP.
func (s *Service) AddCombatant(ctx context.Context, spec CombatantSpec) (_ *Combatant, err error) {
	ctx, span := s.startSpan(ctx, "AddCombatant", attribute.String("session.id", spec.SessionID))
	defer func() { endSpan(span, err) }()

	if err := validateSpec(&spec); err != nil {
		return nil, err
	}

	var created *Combatant
	err = s.store.WithinTx(ctx, func(tx Tx) error {
		session, err := tx.GetSession(ctx, spec.SessionID)
		if err != nil {
			if errors.Is(err, ErrNoRecord) {
				return notFoundf("Combat session with ID %s not found.", spec.SessionID)
			}
			return err
		}
		if session.State != StateSetup {
			return invalidStatef("Can only add combatants to sessions in SETUP state.")
		}

		if spec.PlayerID != nil {
			dup, err := tx.FindCombatantByPlayer(ctx, spec.SessionID, *spec.PlayerID)
			if err := duplicateCheck(dup, err); err != nil {
				return err
			}
		}
		if spec.DiscordUserID != nil {
			dup, err := tx.FindCombatantByDiscordUser(ctx, spec.SessionID, *spec.DiscordUserID)
			if err := duplicateCheck(dup, err); err != nil {
				return err
			}
		}

		now := s.timestamp()
		combatant := &Combatant{
			ID:              uuid.NewString(),
			SessionID:       spec.SessionID,
			Type:            spec.Type,
			Allegiance:      spec.Allegiance,
			Name:            spec.Name,
			PlayerID:        spec.PlayerID,
			MobDefinitionID: spec.MobDefinitionID,
			DiscordUserID:   spec.DiscordUserID,
			MaxHP:           spec.MaxHP,
			CurrentHP:       ClampHP(spec.CurrentHP, spec.MaxHP),
			InitiativeBase:  spec.InitiativeBase,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.InsertCombatant(ctx, combatant); err != nil {
			return err
		}
		created = combatant
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("combatant added",
		slog.String("session", created.SessionID),
		slog.String("combatant", created.ID),
		slog.String("type", string(created.Type)))
	return created, nil
}

func duplicateCheck(existing *Combatant, err error) error {
	if err != nil && !errors.Is(err, ErrNoRecord) {
		return err
	}
	if existing == nil {
		return nil
	}
	return NewConflict(
		"You already have a character ("+existing.Name+") participating in this combat session.",
		map[string]string{"combatantId": existing.ID},
	)
}

// validateSpec normalizes spec in place and rejects inconsistent input.
func validateSpec(spec *CombatantSpec) error {
	spec.SessionID = strings.TrimSpace(spec.SessionID)
	spec.Name = strings.TrimSpace(spec.Name)
	if spec.SessionID == "" {
		return validationf("sessionId is required")
	}
	if spec.Name == "" {
		return validationf("name is required")
	}
	if !spec.Type.valid() {
		return validationf("Invalid combatant type.")
	}
	if !spec.Allegiance.valid() {
		return validationf("Invalid combatant allegiance.")
	}
	if spec.MaxHP <= 0 {
		return validationf("maxHP must be positive")
	}

	switch spec.Type {
	case TypePlayer:
		if spec.DiscordUserID != nil {
			trimmed := strings.TrimSpace(*spec.DiscordUserID)
			spec.DiscordUserID = &trimmed
		}
		if spec.PlayerID == nil || spec.DiscordUserID == nil || *spec.DiscordUserID == "" {
			return validationf("playerId and discordUserId are required for PLAYER type combatants.")
		}
		spec.MobDefinitionID = nil
	case TypeNPC:
		if spec.MobDefinitionID == nil {
			return validationf("mobDefinitionId is required for NPC type combatants.")
		}
		spec.PlayerID = nil
		spec.DiscordUserID = nil
	}
	return nil
}

// StartCombat moves a SETUP session to RUNNING. The state flip, turn order,
// initiative rolls and the first active-turn flag commit together or not at all.
// Initiative entries that are malformed or name combatants outside the
// session are skipped.
func (s *Service) StartCombat(ctx context.Context, sessionID string, turnOrder []string, rolls []InitiativeRoll) (_ *Session, err error) {
	ctx, span := s.startSpan(ctx, "StartCombat", attribute.String("session.id", sessionID))
	defer func() { endSpan(span, err) }()

	var started *Session
	err = s.store.WithinTx(ctx, func(tx Tx) error {
		session, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			if errors.Is(err, ErrNoRecord) {
				return notFoundf("Combat session not found.")
			}
			return err
		}
		if session.State != StateSetup {
			return invalidStatef("Combat can only be started from SETUP state.")
		}

		combatants, err := tx.ListCombatants(ctx, sessionID)
		if err != nil {
			return err
		}
		if err := validateTurnOrder(turnOrder, combatants); err != nil {
			return err
		}

		session.State = StateRunning
		session.TurnOrder = append([]string(nil), turnOrder...)
		session.CurrentTurnIndex = 0
		session.UpdatedAt = s.timestamp()
		if err := tx.UpdateSession(ctx, session); err != nil {
			return err
		}
		if err := tx.AppendLog(ctx, sessionID, logCombatStarted, s.logRetention); err != nil {
			return err
		}

		for _, roll := range rolls {
			if strings.TrimSpace(roll.CombatantID) == "" || roll.Roll == nil {
				s.logger.Warn("skipping invalid initiative data",
					slog.String("session", sessionID),
					slog.String("combatant", roll.CombatantID))
				continue
			}
			ok, err := tx.SetInitiativeRoll(ctx, sessionID, roll.CombatantID, *roll.Roll)
			if err != nil {
				return err
			}
			if !ok {
				s.logger.Warn("skipping initiative for combatant outside session",
					slog.String("session", sessionID),
					slog.String("combatant", roll.CombatantID))
			}
		}

		if _, err := tx.ClearActiveTurns(ctx, sessionID); err != nil {
			return err
		}
		if _, err := tx.SetActiveTurn(ctx, sessionID, turnOrder[0]); err != nil {
			return err
		}

		started, err = loadSession(ctx, tx, sessionID, true)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("combat started",
		slog.String("session", sessionID),
		slog.Int("participants", len(turnOrder)))
	return started, nil
}

func validateTurnOrder(turnOrder []string, combatants []*Combatant) error {
	if len(turnOrder) < 2 {
		return validationf("Cannot start combat with fewer than two participants in turn order.")
	}
	members := make(map[string]struct{}, len(combatants))
	for _, c := range combatants {
		members[c.ID] = struct{}{}
	}
	seen := make(map[string]struct{}, len(turnOrder))
	for _, id := range turnOrder {
		if _, ok := members[id]; !ok {
			return validationf("turnOrder references unknown combatant %q", id)
		}
		if _, dup := seen[id]; dup {
			return validationf("turnOrder lists combatant %q more than once", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// EndCombat terminates a session that has not already ended and clears every
// active-turn flag in the same transaction.
func (s *Service) EndCombat(ctx context.Context, sessionID, reason string) (_ *Session, err error) {
	ctx, span := s.startSpan(ctx, "EndCombat", attribute.String("session.id", sessionID))
	defer func() { endSpan(span, err) }()

	var ended *Session
	err = s.store.WithinTx(ctx, func(tx Tx) error {
		session, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			if errors.Is(err, ErrNoRecord) {
				return notFoundf("Combat session not found.")
			}
			return err
		}
		if session.State == StateEnded {
			return invalidStatef("Combat session has already ended.")
		}

		session.State = StateEnded
		session.UpdatedAt = s.timestamp()
		if err := tx.UpdateSession(ctx, session); err != nil {
			return err
		}

		entry := logCombatEnded
		if reason = strings.TrimSpace(reason); reason != "" {
			entry = "--- Combat Ended: " + reason + " ---"
		}
		if err := tx.AppendLog(ctx, sessionID, entry, s.logRetention); err != nil {
			return err
		}
		if _, err := tx.ClearActiveTurns(ctx, sessionID); err != nil {
			return err
		}

		ended, err = loadSession(ctx, tx, sessionID, true)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("combat ended", slog.String("session", sessionID), slog.String("reason", reason))
	return ended, nil
}

// UpdateCombatantHP sets a combatant's HP, clamped to [0, maxHP]. The parent
// session must be RUNNING.
func (s *Service) UpdateCombatantHP(ctx context.Context, combatantID string, hp int) (_ *Combatant, err error) {
	ctx, span := s.startSpan(ctx, "UpdateCombatantHP", attribute.String("combatant.id", combatantID))
	defer func() { endSpan(span, err) }()

	var updated *Combatant
	err = s.store.WithinTx(ctx, func(tx Tx) error {
		combatant, err := tx.GetCombatant(ctx, combatantID)
		if err != nil {
			if errors.Is(err, ErrNoRecord) {
				return notFoundf("Combatant not found.")
			}
			return err
		}
		session, err := tx.GetSession(ctx, combatant.SessionID)
		if err != nil && !errors.Is(err, ErrNoRecord) {
			return err
		}
		if session == nil || session.State != StateRunning {
			return invalidStatef("Can only update combatant HP during a running combat.")
		}

		combatant.CurrentHP = ClampHP(hp, combatant.MaxHP)
		if err := tx.UpdateCombatantHP(ctx, combatant.ID, combatant.CurrentHP); err != nil {
			return err
		}
		updated, err = tx.GetCombatant(ctx, combatant.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteSession removes a session and all of its combatants regardless of state.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) (err error) {
	ctx, span := s.startSpan(ctx, "DeleteSession", attribute.String("session.id", sessionID))
	defer func() { endSpan(span, err) }()

	err = s.store.WithinTx(ctx, func(tx Tx) error {
		if _, err := tx.GetSession(ctx, sessionID); err != nil {
			if errors.Is(err, ErrNoRecord) {
				return notFoundf("Combat session not found.")
			}
			return err
		}
		if _, err := tx.DeleteCombatantsBySession(ctx, sessionID); err != nil {
			return err
		}
		deleted, err := tx.DeleteSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if !deleted {
			return notFoundf("Combat session not found or already deleted.")
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("combat session deleted", slog.String("session", sessionID))
	return nil
}

// DeleteCombatant removes one combatant.
func (s *Service) DeleteCombatant(ctx context.Context, combatantID string) (err error) {
	ctx, span := s.startSpan(ctx, "DeleteCombatant", attribute.String("combatant.id", combatantID))
	defer func() { endSpan(span, err) }()

	return s.store.WithinTx(ctx, func(tx Tx) error {
		deleted, err := tx.DeleteCombatant(ctx, combatantID)
		if err != nil {
			return err
		}
		if !deleted {
			return notFoundf("Combatant not found.")
		}
		return nil
	})
}

// loadSession reads a session with its log, and optionally its combatants.
func loadSession(ctx context.Context, tx Tx, id string, withCombatants bool) (*Session, error) {
	session, err := tx.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if withCombatants {
		combatants, err := tx.ListCombatants(ctx, id)
		if err != nil {
			return nil, err
		}
		session.Combatants = combatants
	}
	return session, nil
}
