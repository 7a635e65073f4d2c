package enforcement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/mnemolabs/recalld/internal/events"
	"github.com/mnemolabs/recalld/internal/tenant"
)

// pgBeginner is the subset of the pool the manager needs for control-plane
// transactions.
type pgBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ManagerConfig holds tunables for the phase store.
type ManagerConfig struct {
	// LockTimeout bounds the row lock wait during transitions so a stuck
	// admin session cannot wedge the rollout.
	LockTimeout time.Duration
}

// ApplyDefaults fills zero values.
func (c *ManagerConfig) ApplyDefaults() {
	if c.LockTimeout <= 0 {
		c.LockTimeout = 5 * time.Second
	}
}

// Manager reads and advances per-tenant enforcement phases.
//
// Phase reads used by the data plane go through PhaseOf with the caller's
// transaction, so an operation's phase is consistent with its data reads.
// Transitions open their own transaction and serialize on the tenant's
// enforcement row.
type Manager struct {
	pool   pgBeginner
	cfg    ManagerConfig
	logger *zap.Logger
	events *events.Publisher
}

// NewManager creates a phase manager.
func NewManager(pool pgBeginner, cfg ManagerConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	return &Manager{pool: pool, cfg: cfg, logger: logger}
}

// SetEvents wires an event publisher for transition notifications. Nil is
// fine; events are advisory.
func (m *Manager) SetEvents(p *events.Publisher) { m.events = p }

// querier is the row-reading subset shared by pgx.Tx and pgxpool.Pool.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PhaseOf returns the tenant's current phase using the caller's querier
// (usually the request transaction). A missing or unparsable row yields
// PhaseUnknown without error; callers treat unknown fail-closed for writes.
func (m *Manager) PhaseOf(ctx context.Context, q querier, id tenant.ID) (Phase, error) {
	var raw string
	err := q.QueryRow(ctx,
		`SELECT phase FROM tenant_enforcement WHERE tenant_id = $1`,
		string(id),
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		m.logger.Warn("tenant has no enforcement row, treating phase as unknown",
			zap.String("tenant", string(id)))
		return PhaseUnknown, nil
	}
	if err != nil {
		return PhaseUnknown, fmt.Errorf("read enforcement phase: %w", err)
	}

	phase, perr := ParsePhase(raw)
	if perr != nil {
		m.logger.Error("stored enforcement phase is unparsable",
			zap.String("tenant", string(id)), zap.String("phase", raw))
		return PhaseUnknown, nil
	}
	return phase, nil
}

// Advance moves the tenant one step forward in the rollout. Self
// transitions are accepted and return the current state without recording
// history. Invalid steps return ErrInvalidTransition.
func (m *Manager) Advance(ctx context.Context, id tenant.ID, to Phase, actor, reason string) (Transition, error) {
	return m.transition(ctx, id, to, actor, reason, false)
}

// ForceRollback moves the tenant backward, including straight to pending
// for emergency isolation disable. Reason is mandatory; rollbacks are
// recorded like any transition. The row lock wait is bounded by
// LockTimeout so a rollback can never hang behind a long-running query.
func (m *Manager) ForceRollback(ctx context.Context, id tenant.ID, to Phase, actor, reason string) (Transition, error) {
	if reason == "" {
		return Transition{}, fmt.Errorf("%w: rollback requires a reason", ErrInvalidTransition)
	}
	return m.transition(ctx, id, to, actor, reason, true)
}

func (m *Manager) transition(ctx context.Context, id tenant.ID, to Phase, actor, reason string, rollback bool) (Transition, error) {
	if !to.Known() {
		return Transition{}, fmt.Errorf("%w: target %q", ErrInvalidTransition, to)
	}

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return Transition{}, fmt.Errorf("begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	lockMillis := m.cfg.LockTimeout.Milliseconds()
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", lockMillis)); err != nil {
		return Transition{}, fmt.Errorf("set lock timeout: %w", err)
	}

	var raw string
	err = tx.QueryRow(ctx,
		`SELECT phase FROM tenant_enforcement WHERE tenant_id = $1 FOR UPDATE`,
		string(id),
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transition{}, fmt.Errorf("%w: %s", tenant.ErrUnknownTenant, id)
	}
	if err != nil {
		return Transition{}, fmt.Errorf("lock enforcement row: %w", err)
	}

	from, perr := ParsePhase(raw)
	if perr != nil {
		return Transition{}, fmt.Errorf("%w: stored phase %q is unparsable", ErrInvalidTransition, raw)
	}

	if from == to {
		// No-op; nothing recorded.
		return Transition{From: from, To: to, At: time.Now().UTC(), Actor: actor, Reason: reason}, tx.Commit(ctx)
	}

	allowed := CanTransition(from, to)
	if rollback {
		allowed = CanForceRollback(from, to)
	}
	if !allowed {
		return Transition{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx,
		`UPDATE tenant_enforcement SET phase = $2, updated_at = $3, updated_by = $4 WHERE tenant_id = $1`,
		string(id), string(to), now, actor,
	); err != nil {
		return Transition{}, fmt.Errorf("update enforcement phase: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO tenant_enforcement_history (tenant_id, from_phase, to_phase, actor, reason, at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		string(id), string(from), string(to), actor, reason, now,
	); err != nil {
		return Transition{}, fmt.Errorf("record transition: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Transition{}, fmt.Errorf("commit transition: %w", err)
	}

	tr := Transition{From: from, To: to, At: now, Actor: actor, Reason: reason}
	transitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	m.logger.Info("enforcement phase changed",
		zap.String("tenant", string(id)),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("actor", actor),
		zap.Bool("rollback", rollback))
	m.events.Publish(events.SubjectPhaseChanged, events.PhaseChanged{
		Tenant: string(id),
		From:   string(from),
		To:     string(to),
		Forced: rollback,
		Actor:  actor,
		Reason: reason,
		At:     now,
	})
	return tr, nil
}

// History returns the tenant's transitions, oldest first.
func (m *Manager) History(ctx context.Context, q querier, id tenant.ID) ([]Transition, error) {
	rows, err := q.Query(ctx,
		`SELECT from_phase, to_phase, actor, reason, at
		 FROM tenant_enforcement_history WHERE tenant_id = $1 ORDER BY at, id`,
		string(id),
	)
	if err != nil {
		return nil, fmt.Errorf("read transition history: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var tr Transition
		var from, to string
		if err := rows.Scan(&from, &to, &tr.Actor, &tr.Reason, &tr.At); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		tr.From, tr.To = Phase(from), Phase(to)
		out = append(out, tr)
	}
	return out, rows.Err()
}
